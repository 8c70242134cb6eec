package http

import "github.com/gin-gonic/gin"

// Register mounts the handler set on r. The event stream and metrics
// endpoints are wired by the server, which owns those dependencies.
func Register(r gin.IRouter, h *Handlers) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	// Install pipeline
	r.POST("/extensions/install", h.InstallExtension)
	r.GET("/installs", h.ListInstallJobs)
	r.GET("/installs/:id", h.GetInstallJob)
	r.DELETE("/installs/:id", h.CancelInstallJob)

	// Registry
	r.GET("/extensions", h.ListExtensions)
	r.GET("/extensions/:id", h.GetExtension)
	r.POST("/extensions/:id/toggle", h.ToggleExtension)
	r.DELETE("/extensions/:id", h.UninstallExtension)
	r.POST("/registry/reconcile", h.Reconcile)

	// Packaged resources
	r.GET("/extensions/:id/resources/*path", h.ExtensionResource)
	r.GET("/extensions/:id/icon", h.ExtensionIcon)
	r.GET("/extensions/:id/shim.js", h.ShimJS)

	// Surfaces
	r.POST("/extensions/:id/surfaces", h.OpenPopup)
	r.POST("/extensions/:id/content", h.OpenContent)
	r.GET("/surfaces", h.ListSurfaces)
	r.GET("/surfaces/:sid", h.GetSurface)
	r.POST("/surfaces/:sid/inject", h.InjectSurface)
	r.POST("/surfaces/:sid/execute", h.ExecuteSurface)
	r.DELETE("/surfaces/:sid", h.CloseSurface)

	// Snippet catalog
	r.GET("/catalog/snippets", h.ListSnippets)
	r.POST("/catalog/snippets/:nid/fetch", h.FetchSnippet)
	r.POST("/catalog/snippets/:nid/toggle", h.ToggleSnippet)
	r.GET("/catalog/snippets/:nid/script", h.SnippetScript)
}
