package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/catalog"
)

// ListSnippets lists the remote snippet catalog decorated with local
// cache state, degrading to cached entries when the remote is down.
func (h *Handlers) ListSnippets(c *gin.Context) {
	views, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	for i := range views {
		views[i] = h.cleanView(views[i])
	}
	c.JSON(http.StatusOK, gin.H{"snippets": views})
}

// FetchSnippet downloads a snippet into the local cache.
func (h *Handlers) FetchSnippet(c *gin.Context) {
	remoteID, err := snippetID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	snip, err := h.catalog.Fetch(c.Request.Context(), remoteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": h.cleanSnippet(snip)})
}

// ToggleSnippet flips a cached snippet's enabled flag.
func (h *Handlers) ToggleSnippet(c *gin.Context) {
	remoteID, err := snippetID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	snip, err := h.catalog.Toggle(c.Request.Context(), remoteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": h.cleanSnippet(snip)})
}

// SnippetScript serves a cached snippet's script body for injection.
// Disabled snippets are refused.
func (h *Handlers) SnippetScript(c *gin.Context) {
	remoteID, err := snippetID(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	script, err := h.catalog.Script(c.Request.Context(), remoteID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(script))
}

func snippetID(c *gin.Context) (int64, error) {
	remoteID, err := strconv.ParseInt(c.Param("nid"), 10, 64)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidInput, "snippet id must be numeric")
	}
	return remoteID, nil
}

func (h *Handlers) cleanView(v catalog.SnippetView) catalog.SnippetView {
	v.Name = h.sanitize.Sanitize(v.Name)
	v.Description = h.sanitize.Sanitize(v.Description)
	return v
}

func (h *Handlers) cleanSnippet(s *catalog.CachedSnippet) *catalog.CachedSnippet {
	out := *s
	out.Name = h.sanitize.Sanitize(out.Name)
	out.Description = h.sanitize.Sanitize(out.Description)
	return &out
}
