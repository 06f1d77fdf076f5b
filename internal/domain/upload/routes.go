package upload

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the file routes. Fetching a stored file and the
// health check are public; everything else goes under protected.
func RegisterRoutes(public, protected *gin.RouterGroup, h *Handler) {
	public.GET("/health", h.Health)
	public.GET("/files/:filename", h.Serve)

	protected.POST("/upload", h.Upload)
	protected.POST("/upload/web", h.UploadWeb)
	protected.GET("/list", h.List)
	protected.GET("/info/:id", h.Info)
	protected.DELETE("/remove/:id", h.DeleteByID)
	protected.DELETE("/files/:filename", h.DeleteByName)
}
