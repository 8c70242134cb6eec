package surface

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jmgilman/go/errors"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/events"
	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/manifest"
	"github.com/skiff-browser/exthost/internal/resources"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/id"
	"github.com/skiff-browser/exthost/internal/shared/textenc"
	"github.com/skiff-browser/exthost/internal/shared/types"
	"github.com/skiff-browser/exthost/internal/shim"
	"github.com/skiff-browser/exthost/internal/surface/webstorage"
)

// Manager owns the open surfaces. Metrics and bus may be nil, in which
// case those side effects are skipped.
type Manager struct {
	storage     *webstorage.Store
	resolver    *resources.Resolver
	builder     *shim.Builder
	bus         *events.Bus
	metrics     *monitoring.Metrics
	log         *logging.Logger
	timeout     time.Duration
	maxSurfaces int

	mu       sync.RWMutex
	surfaces map[string]*Surface
}

// NewManager creates a surface manager.
func NewManager(storage *webstorage.Store, resolver *resources.Resolver, builder *shim.Builder,
	bus *events.Bus, metrics *monitoring.Metrics, log *logging.Logger,
	timeout time.Duration, maxSurfaces int) *Manager {
	return &Manager{
		storage:     storage,
		resolver:    resolver,
		builder:     builder,
		bus:         bus,
		metrics:     metrics,
		log:         log,
		timeout:     timeout,
		maxSurfaces: maxSurfaces,
		surfaces:    make(map[string]*Surface),
	}
}

// OpenPopup loads an extension's action popup into a fresh surface,
// injects the compatibility payload, and runs the popup's scripts in
// document order.
func (m *Manager) OpenPopup(ctx context.Context, ext *types.InstalledExtension) (*Surface, error) {
	log := m.log.WithExtension(ext.ID)

	if !ext.Enabled {
		return nil, errors.WithContext(
			errors.New(errors.CodeConflict, "extension is disabled"),
			"extension_id", ext.ID)
	}

	popupRel := ""
	if ext.Manifest != nil && ext.Manifest.Action != nil {
		popupRel = ext.Manifest.Action.Popup
	}
	if popupRel == "" {
		return nil, errors.WithContext(
			errors.New(errors.CodeInvalidInput, "extension declares no popup"),
			"extension_id", ext.ID)
	}

	fullPath, err := m.resolver.PopupEntry(ext)
	if err != nil {
		return nil, err
	}
	doc, err := loadPopup(fullPath, popupRel)
	if err != nil {
		return nil, err
	}

	s, err := m.newSurface(ext, KindPopup, "skiff://extension/"+ext.ID+"/"+popupRel)
	if err != nil {
		return nil, err
	}
	s.sc.setTitle(doc.Title)

	var scripts []namedScript
	for _, ps := range doc.Scripts {
		if ps.Inline != "" {
			scripts = append(scripts, namedScript{Name: "inline", Source: ps.Inline})
			continue
		}
		src, err := m.readPackagedScript(ext, ps.Src)
		if err != nil {
			log.Warn("popup script unavailable",
				zap.String("script", ps.Src),
				zap.Error(err))
			s.recordScriptError(ps.Src + ": " + err.Error())
			continue
		}
		scripts = append(scripts, namedScript{Name: ps.Src, Source: src})
	}

	if err := m.register(s); err != nil {
		s.Close()
		return nil, err
	}
	m.injectShim(ctx, s, ext)
	s.runScripts(ctx, scripts)

	m.publish(types.Event{
		Type:        types.EventSurfaceOpened,
		ExtensionID: ext.ID,
		SurfaceID:   s.id,
		At:          time.Now().UTC(),
	})
	log.Info("popup surface opened", zap.String("surface_id", s.id))
	return s, nil
}

// OpenContent hosts the content scripts an extension injects into a
// visited page. Only script groups whose match patterns match pageURL
// run; CSS files are applied first, then JS grouped by run_at stage.
func (m *Manager) OpenContent(ctx context.Context, ext *types.InstalledExtension, pageURL, pageHTML string) (*Surface, error) {
	log := m.log.WithExtension(ext.ID)

	if !ext.Enabled {
		return nil, errors.WithContext(
			errors.New(errors.CodeConflict, "extension is disabled"),
			"extension_id", ext.ID)
	}
	if ext.Manifest == nil || len(ext.Manifest.ContentScripts) == 0 {
		return nil, errors.WithContext(
			errors.New(errors.CodeInvalidInput, "extension declares no content scripts"),
			"extension_id", ext.ID)
	}

	var matched []types.ContentScript
	for _, cs := range ext.Manifest.ContentScripts {
		if manifest.MatchAny(cs.Matches, pageURL) {
			matched = append(matched, cs)
		}
	}
	if len(matched) == 0 {
		return nil, errors.WithContext(
			errors.New(errors.CodeNotFound, "no content scripts match the page"),
			"url", pageURL)
	}

	// document_start before document_end before document_idle; absent
	// run_at means document_idle. Declaration order is kept within a
	// stage.
	stage := func(runAt string) int {
		switch runAt {
		case "document_start":
			return 0
		case "document_end":
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return stage(matched[i].RunAt) < stage(matched[j].RunAt)
	})

	s, err := m.newSurface(ext, KindContent, pageURL)
	if err != nil {
		return nil, err
	}
	s.pageURL = pageURL
	if pageHTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML)); err == nil {
			s.sc.setTitle(strings.TrimSpace(doc.Find("title").First().Text()))
		}
	}

	var scripts []namedScript
	for _, cs := range matched {
		for _, cssRel := range cs.CSS {
			css, err := m.readPackagedScript(ext, cssRel)
			if err != nil {
				log.Warn("content style unavailable",
					zap.String("file", cssRel),
					zap.Error(err))
				s.recordScriptError(cssRel + ": " + err.Error())
				continue
			}
			s.sc.addStyle(css)
		}
		for _, jsRel := range cs.JS {
			src, err := m.readPackagedScript(ext, jsRel)
			if err != nil {
				log.Warn("content script unavailable",
					zap.String("script", jsRel),
					zap.Error(err))
				s.recordScriptError(jsRel + ": " + err.Error())
				continue
			}
			scripts = append(scripts, namedScript{Name: jsRel, Source: src})
		}
	}

	if err := m.register(s); err != nil {
		s.Close()
		return nil, err
	}
	m.injectShim(ctx, s, ext)
	s.runScripts(ctx, scripts)

	m.publish(types.Event{
		Type:        types.EventSurfaceOpened,
		ExtensionID: ext.ID,
		SurfaceID:   s.id,
		At:          time.Now().UTC(),
	})
	log.Info("content surface opened",
		zap.String("surface_id", s.id),
		zap.String("url", pageURL))
	return s, nil
}

// Get returns an open surface.
func (m *Manager) Get(surfaceID string) (*Surface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.surfaces[surfaceID]
	if !ok {
		return nil, errors.WithContext(
			errors.New(errors.CodeNotFound, "unknown surface"),
			"surface_id", surfaceID)
	}
	return s, nil
}

// List describes all open surfaces, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	open := make([]*Surface, 0, len(m.surfaces))
	for _, s := range m.surfaces {
		open = append(open, s)
	}
	m.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool {
		if open[i].createdAt.Equal(open[j].createdAt) {
			return open[i].id < open[j].id
		}
		return open[i].createdAt.Before(open[j].createdAt)
	})

	infos := make([]Info, 0, len(open))
	for _, s := range open {
		infos = append(infos, s.Info())
	}
	return infos
}

// Inject re-applies the compatibility shim to a surface. A surface
// that already carries the shim is left untouched.
func (m *Manager) Inject(ctx context.Context, surfaceID string, ext *types.InstalledExtension) (Info, error) {
	s, err := m.Get(surfaceID)
	if err != nil {
		return Info{}, err
	}
	if ext == nil || ext.ID != s.extension {
		return Info{}, errors.WithContext(
			errors.New(errors.CodeInvalidInput, "extension does not own this surface"),
			"surface_id", surfaceID)
	}
	m.injectShim(ctx, s, ext)
	return s.Info(), nil
}

// Close tears one surface down.
func (m *Manager) Close(surfaceID string) error {
	m.mu.Lock()
	s, ok := m.surfaces[surfaceID]
	if ok {
		delete(m.surfaces, surfaceID)
	}
	m.mu.Unlock()
	if !ok {
		return errors.WithContext(
			errors.New(errors.CodeNotFound, "unknown surface"),
			"surface_id", surfaceID)
	}

	s.Close()
	m.updateGauge()
	m.publish(types.Event{
		Type:        types.EventSurfaceClosed,
		ExtensionID: s.extension,
		SurfaceID:   s.id,
		At:          time.Now().UTC(),
	})
	m.log.Info("surface closed", zap.String("surface_id", surfaceID))
	return nil
}

// CloseExtension closes every surface an extension owns and reports how
// many were closed. Used when an extension is disabled or uninstalled.
func (m *Manager) CloseExtension(extID string) int {
	m.mu.Lock()
	var closing []*Surface
	for sid, s := range m.surfaces {
		if s.extension == extID {
			delete(m.surfaces, sid)
			closing = append(closing, s)
		}
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
		m.publish(types.Event{
			Type:        types.EventSurfaceClosed,
			ExtensionID: extID,
			SurfaceID:   s.id,
			At:          time.Now().UTC(),
		})
	}
	if len(closing) > 0 {
		m.updateGauge()
		m.log.Info("extension surfaces closed",
			zap.String("extension_id", extID),
			zap.Int("count", len(closing)))
	}
	return len(closing)
}

// CloseAll tears down every surface. Called at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	closing := make([]*Surface, 0, len(m.surfaces))
	for sid, s := range m.surfaces {
		delete(m.surfaces, sid)
		closing = append(closing, s)
	}
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	m.updateGauge()
}

func (m *Manager) newSurface(ext *types.InstalledExtension, kind Kind, href string) (*Surface, error) {
	area, err := m.storage.Area(ext.ID)
	if err != nil {
		return nil, err
	}

	sid := id.NewSurfaceID().String()
	log := m.log.WithExtension(ext.ID).WithSurface(sid)

	sc := newScriptContext(m.timeout, log)
	sc.bindWindow()
	sc.bindLocation(href)
	sc.bindDocument()
	sc.bindLocalStorage(area)
	sc.bindHost(func(rel string) ([]byte, error) {
		full, err := m.resolver.Resolve(ext, rel)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(full)
	})

	return &Surface{
		id:        sid,
		extension: ext.ID,
		kind:      kind,
		createdAt: time.Now().UTC(),
		sc:        sc,
		log:       log,
	}, nil
}

// register adds the surface under the capacity ceiling.
func (m *Manager) register(s *Surface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.surfaces) >= m.maxSurfaces {
		return errors.New(errors.CodeRateLimit, "surface limit reached")
	}
	m.surfaces[s.id] = s
	if m.metrics != nil {
		m.metrics.SetSurfacesActive(len(m.surfaces))
	}
	return nil
}

// injectShim renders and injects the compatibility payload. Failures
// degrade the surface, never fail the open.
func (m *Manager) injectShim(ctx context.Context, s *Surface, ext *types.InstalledExtension) {
	payload, err := m.builder.Payload(ext)
	if err != nil {
		s.log.Warn("shim payload unavailable", zap.Error(err))
		s.recordScriptError("shim: " + err.Error())
		return
	}
	if s.InjectShim(ctx, payload) {
		if m.metrics != nil {
			m.metrics.IncShimInjections()
		}
		m.publish(types.Event{
			Type:        types.EventShimInjected,
			ExtensionID: ext.ID,
			SurfaceID:   s.id,
			At:          time.Now().UTC(),
		})
	}
}

func (m *Manager) readPackagedScript(ext *types.InstalledExtension, rel string) (string, error) {
	full, err := m.resolver.Resolve(ext, rel)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", errors.Wrap(err, faults.FilesystemFailure, "failed to read packaged file")
	}
	return textenc.DecodeUTF8(raw), nil
}

func (m *Manager) updateGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.surfaces)
	m.mu.RUnlock()
	m.metrics.SetSurfacesActive(n)
}

func (m *Manager) publish(ev types.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
