package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	api "github.com/skiff-browser/exthost/internal/api/http"
	"github.com/skiff-browser/exthost/internal/api/middleware"
	"github.com/skiff-browser/exthost/internal/archive"
	"github.com/skiff-browser/exthost/internal/catalog"
	"github.com/skiff-browser/exthost/internal/events"
	"github.com/skiff-browser/exthost/internal/infrastructure/config"
	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/infrastructure/tracing"
	"github.com/skiff-browser/exthost/internal/installer"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/manifest"
	"github.com/skiff-browser/exthost/internal/registry"
	"github.com/skiff-browser/exthost/internal/resources"
	"github.com/skiff-browser/exthost/internal/shim"
	"github.com/skiff-browser/exthost/internal/surface"
	"github.com/skiff-browser/exthost/internal/surface/webstorage"
	"github.com/skiff-browser/exthost/internal/ws"
)

// Server wraps the HTTP server and every host component behind it.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	registry *registry.Manager
	store    *registry.Store
	cache    *catalog.Cache
	surfaces *surface.Manager
	bus      *events.Bus
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer wires the host together: storage layout, registry, install
// pipeline, surfaces, catalog, and the HTTP API on top of them. The
// registry is reconciled and the sideload directory drained before the
// server accepts traffic.
func NewServer(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing extension host",
		zap.String("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("exthost", logger.Logger)

	// Filesystem layout. Everything lives under DataDir so a single
	// mount point carries the whole host state.
	stagingDir := filepath.Join(cfg.Storage.DataDir, "staging")
	extensionsDir := filepath.Join(cfg.Storage.DataDir, "extensions")
	webstorageDir := filepath.Join(cfg.Storage.DataDir, "webstorage")
	uploadsDir := filepath.Join(cfg.Storage.DataDir, "uploads")
	for _, dir := range []string{stagingDir, extensionsDir, webstorageDir, uploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	store, err := registry.OpenStore(filepath.Join(cfg.Storage.DataDir, "registry.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open registry store: %w", err)
	}

	regManager, err := registry.NewManager(store, extensionsDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create registry manager: %w", err)
	}

	storage, err := webstorage.NewStore(webstorageDir, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open web storage: %w", err)
	}

	cache, err := catalog.OpenCache(filepath.Join(cfg.Storage.DataDir, "catalog.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}

	extractor := archive.NewExtractor(stagingDir, archive.Limits{
		MaxEntries: cfg.Limits.ArchiveMaxEntries,
		MaxBytes:   cfg.Limits.ArchiveMaxBytes,
	}, archive.AcceptAll(), logger)
	parser := manifest.NewParser(cfg.Limits.ManifestMaxBytes, logger)
	resolver := resources.NewResolver(logger)
	builder := shim.NewBuilder()
	bus := events.NewBus()

	surfaces := surface.NewManager(storage, resolver, builder, bus, metrics, logger,
		cfg.Surface.ScriptTimeout, cfg.Surface.MaxSurfaces)

	inst := installer.New(extractor, parser, regManager, bus, metrics, logger)

	var catalogClient *catalog.Client
	if cfg.Catalog.BaseURL != "" {
		catalogClient = catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, logger)
		logger.Info("remote catalog configured", zap.String("url", cfg.Catalog.BaseURL))
	}
	catalogSvc := catalog.NewService(catalogClient, cache, metrics, logger)

	// Startup housekeeping: surface registry drift in the log, then
	// drain the sideload directory through the normal pipeline.
	ctx := context.Background()
	if report, err := regManager.Reconcile(ctx); err != nil {
		logger.Warn("startup reconcile failed", zap.Error(err))
	} else {
		logger.Info("registry reconciled",
			zap.Int("extensions", report.Extensions),
			zap.Int("orphan_dirs", len(report.OrphanDirs)),
			zap.Int("missing_dirs", len(report.MissingDirs)),
		)
	}
	installer.NewSideloader(inst, cfg.Storage.SideloadDir, logger).Load(ctx)

	if stats, err := regManager.Stats(ctx); err == nil {
		metrics.SetExtensionCounts(stats.Total, stats.Enabled)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := api.NewHandlers(api.Deps{
		Installer: inst,
		Registry:  regManager,
		Resolver:  resolver,
		Surfaces:  surfaces,
		Shim:      builder,
		Catalog:   catalogSvc,
		Storage:   storage,
		Bus:       bus,
		Metrics:   metrics,
		Log:       logger,
		UploadDir: uploadsDir,
	})
	wsHandler := ws.NewHandler(bus, metrics, logger)

	api.Register(router, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stream", wsHandler.HandleConnection)

	logger.Info("server initialized")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		registry: regManager,
		store:    store,
		cache:    cache,
		surfaces: surfaces,
		bus:      bus,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("starting http server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests, drains in-flight ones, then
// releases host resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown did not drain cleanly", zap.Error(err))
	}
	return s.Close()
}

// Close releases host resources. Surfaces close before the bus so their
// close events still reach stream subscribers.
func (s *Server) Close() error {
	s.surfaces.CloseAll()
	s.bus.Close()

	if err := s.cache.Close(); err != nil {
		s.logger.Warn("failed to close catalog cache", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close registry store", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}
