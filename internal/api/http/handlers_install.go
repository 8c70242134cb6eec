package http

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmgilman/go/errors"

	"github.com/skiff-browser/exthost/internal/shared/faults"
)

// installRequest references a package already on local disk, the path
// the surrounding browser's download manager hands over.
type installRequest struct {
	Path string `json:"path" binding:"required"`
	MIME string `json:"mime"`
}

// InstallExtension accepts a package and starts an asynchronous
// install job. The package arrives either as a multipart upload under
// the "package" field or as a JSON path reference.
func (h *Handlers) InstallExtension(c *gin.Context) {
	path, hint, err := h.receivePackage(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	job, err := h.installer.Start(path, hint)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *Handlers) receivePackage(c *gin.Context) (path, hint string, err error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, ferr := c.FormFile("package")
		if ferr != nil {
			return "", "", errors.Wrap(ferr, errors.CodeInvalidInput, "missing package upload")
		}
		// Keep the original file name so the pre-read gate still sees
		// the package extension.
		name := filepath.Base(file.Filename)
		dst := filepath.Join(h.uploadDir, fmt.Sprintf("%d_%s", time.Now().UnixNano(), name))
		if serr := c.SaveUploadedFile(file, dst); serr != nil {
			return "", "", errors.Wrap(serr, faults.FilesystemFailure, "failed to store uploaded package")
		}
		return dst, file.Header.Get("Content-Type"), nil
	}

	var req installRequest
	if berr := c.ShouldBindJSON(&req); berr != nil {
		return "", "", errors.Wrap(berr, errors.CodeInvalidInput, "invalid install request")
	}
	return req.Path, req.MIME, nil
}

// ListInstallJobs lists install jobs, newest first.
func (h *Handlers) ListInstallJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.installer.Jobs()})
}

// GetInstallJob returns one job's state.
func (h *Handlers) GetInstallJob(c *gin.Context) {
	job, err := h.installer.Job(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// CancelInstallJob requests cancellation of a running job. The job only
// stops if it has not reached the persistence phase.
func (h *Handlers) CancelInstallJob(c *gin.Context) {
	job, err := h.installer.Cancel(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}
