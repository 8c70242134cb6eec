package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skiff-browser/exthost/internal/shared/types"
)

// ListExtensions lists installed extensions in installation order.
func (h *Handlers) ListExtensions(c *gin.Context) {
	exts, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	summaries := make([]types.ExtensionSummary, 0, len(exts))
	for _, ext := range exts {
		summaries = append(summaries, h.cleanSummary(ext.Summary()))
	}

	stats, err := h.registry.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"extensions": summaries,
		"stats":      stats,
	})
}

// GetExtension returns one extension, manifest included.
func (h *Handlers) GetExtension(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := *ext
	out.Name = h.sanitize.Sanitize(out.Name)
	out.Description = h.sanitize.Sanitize(out.Description)
	c.JSON(http.StatusOK, out)
}

// ToggleExtension flips an extension's enabled state. Disabling closes
// the extension's open surfaces; its storage and files stay untouched.
func (h *Handlers) ToggleExtension(c *gin.Context) {
	ext, err := h.registry.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	closed := 0
	if !ext.Enabled {
		closed = h.surfaces.CloseExtension(ext.ID)
	}

	enabled := ext.Enabled
	h.publish(types.Event{
		Type:        types.EventToggled,
		ExtensionID: ext.ID,
		Enabled:     &enabled,
		At:          time.Now().UTC(),
	})
	h.refreshGauges(c)

	c.JSON(http.StatusOK, gin.H{
		"extension":       h.cleanSummary(ext.Summary()),
		"surfaces_closed": closed,
	})
}

// UninstallExtension removes an extension: registry record, install
// directory, open surfaces and web storage. This is the only path that
// deletes extension state.
func (h *Handlers) UninstallExtension(c *gin.Context) {
	extID := c.Param("id")

	warning, err := h.registry.Uninstall(c.Request.Context(), extID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	closed := h.surfaces.CloseExtension(extID)
	if err := h.storage.Drop(extID); err != nil {
		h.log.Warn("failed to drop extension web storage",
			zap.String("extension_id", extID), zap.Error(err))
	}

	h.publish(types.Event{
		Type:        types.EventUninstalled,
		ExtensionID: extID,
		At:          time.Now().UTC(),
	})
	h.refreshGauges(c)

	resp := gin.H{
		"success":         true,
		"extension_id":    extID,
		"surfaces_closed": closed,
	}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// Reconcile compares the registry against the install tree and reports
// mismatches without changing anything.
func (h *Handlers) Reconcile(c *gin.Context) {
	report, err := h.registry.Reconcile(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":     report,
		"consistent": report.Consistent(),
	})
}
