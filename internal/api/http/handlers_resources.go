package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmgilman/go/errors"
)

// ExtensionResource serves a packaged file of an enabled extension.
// The resolver re-applies the containment check on every request.
func (h *Handlers) ExtensionResource(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ext.Enabled {
		h.respondError(c, errors.WithContext(
			errors.New(errors.CodeConflict, "extension is disabled"),
			"extension_id", ext.ID))
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	full, err := h.resolver.Resolve(ext, rel)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.File(full)
}

// ExtensionIcon serves the best-fit icon for the requested pixel size.
// Icons stay available while an extension is disabled so management
// screens can still render it.
func (h *Handlers) ExtensionIcon(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	size, err := strconv.Atoi(c.DefaultQuery("size", "48"))
	if err != nil || size <= 0 {
		h.respondError(c, errors.New(errors.CodeInvalidInput, "size must be a positive integer"))
		return
	}

	full, err := h.resolver.Icon(ext, size)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.File(full)
}

// ShimJS serves the compatibility payload for one enabled extension,
// ready for a WebView to evaluate before any extension code runs.
func (h *Handlers) ShimJS(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !ext.Enabled {
		h.respondError(c, errors.WithContext(
			errors.New(errors.CodeConflict, "extension is disabled"),
			"extension_id", ext.ID))
		return
	}

	payload, err := h.shim.Payload(ext)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(payload))
}
