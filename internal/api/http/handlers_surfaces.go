package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/surface"
)

// OpenPopup opens the popup surface of an enabled extension.
func (h *Handlers) OpenPopup(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	s, err := h.surfaces.OpenPopup(c.Request.Context(), ext)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"surface": h.cleanInfo(s.Info())})
}

// contentRequest describes the page a content surface attaches to. The
// WebView sends the page HTML when it has it; matching only needs the
// URL.
type contentRequest struct {
	URL  string `json:"url" binding:"required"`
	HTML string `json:"html"`
}

// OpenContent opens a content surface for the scripts whose patterns
// match the page URL.
func (h *Handlers) OpenContent(c *gin.Context) {
	ext, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req contentRequest
	if berr := c.ShouldBindJSON(&req); berr != nil {
		h.respondError(c, errors.Wrap(berr, errors.CodeInvalidInput, "invalid content request"))
		return
	}

	s, err := h.surfaces.OpenContent(c.Request.Context(), ext, req.URL, req.HTML)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"surface": h.cleanInfo(s.Info())})
}

// ListSurfaces lists open surfaces, oldest first.
func (h *Handlers) ListSurfaces(c *gin.Context) {
	infos := h.surfaces.List()
	for i := range infos {
		infos[i] = h.cleanInfo(infos[i])
	}
	c.JSON(http.StatusOK, gin.H{"surfaces": infos})
}

// GetSurface returns one surface's state.
func (h *Handlers) GetSurface(c *gin.Context) {
	s, err := h.surfaces.Get(c.Param("sid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"surface": h.cleanInfo(s.Info())})
}

// InjectSurface re-applies the compatibility shim. Injection is
// idempotent; a surface never carries two shims.
func (h *Handlers) InjectSurface(c *gin.Context) {
	s, err := h.surfaces.Get(c.Param("sid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	ext, err := h.registry.Get(c.Request.Context(), s.ExtensionID())
	if err != nil {
		h.respondError(c, err)
		return
	}

	info, err := h.surfaces.Inject(c.Request.Context(), s.ID(), ext)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"surface": h.cleanInfo(info)})
}

type executeRequest struct {
	Script string `json:"script" binding:"required"`
}

// ExecuteSurface runs a script in a surface and returns its value and
// console output. Script failures surface as errors with the console
// lines captured before the failure.
func (h *Handlers) ExecuteSurface(c *gin.Context) {
	s, err := h.surfaces.Get(c.Param("sid"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req executeRequest
	if berr := c.ShouldBindJSON(&req); berr != nil {
		h.respondError(c, errors.Wrap(berr, errors.CodeInvalidInput, "invalid execute request"))
		return
	}

	res, err := s.Execute(c.Request.Context(), req.Script)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordScriptRun("failure")
		}
		body := gin.H{"error": errors.ToJSON(err)}
		if res != nil {
			body["console"] = res.Console
		}
		c.JSON(statusFor(err), body)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordScriptRun("success")
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// CloseSurface tears a surface down.
func (h *Handlers) CloseSurface(c *gin.Context) {
	sid := c.Param("sid")
	if err := h.surfaces.Close(sid); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "surface_id": sid})
}

func (h *Handlers) cleanInfo(info surface.Info) surface.Info {
	info.Title = h.sanitize.Sanitize(info.Title)
	return info
}
