package keys

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// Handler exposes the admin plane of the key registry. Routes registered
// under it must sit behind the internal-secret gate.
type Handler struct {
	registry *Registry
}

// NewHandler creates a Handler for the registry admin plane.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts the admin routes on the given group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/keys", h.Put)
	g.DELETE("/keys/:apiKey", h.Delete)
	g.GET("/keys/:apiKey", h.Get)
}

type putKeyRequest struct {
	APIKey    string `json:"apiKey"`
	GameID    string `json:"gameId"`
	ProjectID string `json:"projectId"`
}

// Put handles POST /internal/keys.
func (h *Handler) Put(c *gin.Context) {
	var req putKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadJSON"})
		return
	}

	err := h.registry.Put(c.Request.Context(), req.APIKey, req.GameID, req.ProjectID)
	switch {
	case errors.Is(err, ErrBadFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadFormat"})
	case errors.Is(err, ErrMissingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "MissingField"})
	case err != nil:
		logging.Error(c.Request.Context(), "Failed to store API key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// Delete handles DELETE /internal/keys/:apiKey.
func (h *Handler) Delete(c *gin.Context) {
	err := h.registry.Delete(c.Request.Context(), c.Param("apiKey"))
	switch {
	case errors.Is(err, ErrBadFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadFormat"})
	case err != nil:
		logging.Error(c.Request.Context(), "Failed to delete API key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// Get handles GET /internal/keys/:apiKey.
func (h *Handler) Get(c *gin.Context) {
	rec, ok, err := h.registry.Get(c.Request.Context(), c.Param("apiKey"))
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to look up API key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exists":    true,
		"gameId":    rec.GameID,
		"projectId": rec.ProjectID,
		"createdAt": rec.CreatedAt,
	})
}
