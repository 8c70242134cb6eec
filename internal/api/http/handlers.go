// Package http contains the REST handlers of the extension host API.
//
// Handlers translate between HTTP and the domain packages: they bind
// and validate input, call one domain operation, and map its error
// code onto a status. Manifest-derived display strings are sanitized
// here, at the boundary, before they reach any UI.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmgilman/go/errors"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/catalog"
	"github.com/skiff-browser/exthost/internal/events"
	"github.com/skiff-browser/exthost/internal/infrastructure/monitoring"
	"github.com/skiff-browser/exthost/internal/installer"
	"github.com/skiff-browser/exthost/internal/logging"
	"github.com/skiff-browser/exthost/internal/registry"
	"github.com/skiff-browser/exthost/internal/resources"
	"github.com/skiff-browser/exthost/internal/shared/faults"
	"github.com/skiff-browser/exthost/internal/shared/types"
	"github.com/skiff-browser/exthost/internal/shim"
	"github.com/skiff-browser/exthost/internal/surface"
	"github.com/skiff-browser/exthost/internal/surface/webstorage"
)

const serviceVersion = "0.3.0"

// Deps bundles the collaborators the handler set needs.
type Deps struct {
	Installer *installer.Installer
	Registry  *registry.Manager
	Resolver  *resources.Resolver
	Surfaces  *surface.Manager
	Shim      *shim.Builder
	Catalog   *catalog.Service
	Storage   *webstorage.Store
	Bus       *events.Bus
	Metrics   *monitoring.Metrics
	Log       *logging.Logger
	UploadDir string
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	installer *installer.Installer
	registry  *registry.Manager
	resolver  *resources.Resolver
	surfaces  *surface.Manager
	shim      *shim.Builder
	catalog   *catalog.Service
	storage   *webstorage.Store
	bus       *events.Bus
	metrics   *monitoring.Metrics
	log       *logging.Logger
	sanitize  *bluemonday.Policy
	uploadDir string
}

// NewHandlers creates a new handler set.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		installer: d.Installer,
		registry:  d.Registry,
		resolver:  d.Resolver,
		surfaces:  d.Surfaces,
		shim:      d.Shim,
		catalog:   d.Catalog,
		storage:   d.Storage,
		bus:       d.Bus,
		metrics:   d.Metrics,
		log:       d.Log,
		sanitize:  bluemonday.StrictPolicy(),
		uploadDir: d.UploadDir,
	}
}

// Root handles the service info endpoint.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Skiff Extension Host",
		"version": serviceVersion,
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	stats, err := h.registry.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := gin.H{
		"status":     "healthy",
		"extensions": stats,
		"surfaces":   gin.H{"active": len(h.surfaces.List())},
		"stream":     gin.H{"subscribers": h.bus.Subscribers()},
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// respondError maps a domain error onto its HTTP status.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": errors.ToJSON(err)})
}

func statusFor(err error) int {
	return faults.HTTPStatus(errors.GetCode(err))
}

// cleanSummary strips markup from the manifest-derived display fields.
func (h *Handlers) cleanSummary(s types.ExtensionSummary) types.ExtensionSummary {
	s.Name = h.sanitize.Sanitize(s.Name)
	s.Description = h.sanitize.Sanitize(s.Description)
	return s
}

func (h *Handlers) publish(ev types.Event) {
	if h.bus != nil {
		h.bus.Publish(ev)
	}
}

// refreshGauges pushes current registry counts to the metrics layer
// after a state change.
func (h *Handlers) refreshGauges(c *gin.Context) {
	if h.metrics == nil {
		return
	}
	if stats, err := h.registry.Stats(c.Request.Context()); err == nil {
		h.metrics.SetExtensionCounts(stats.Total, stats.Enabled)
	}
}
