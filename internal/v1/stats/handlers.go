package stats

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// Handler serves the /v1/stats surface.
type Handler struct {
	acc *Accumulator
}

// NewHandler creates a stats Handler.
func NewHandler(acc *Accumulator) *Handler {
	return &Handler{acc: acc}
}

// Register mounts the stats routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/stats", h.Game)
	g.POST("/stats/track", h.Track)
	g.GET("/stats/player", h.Player)
}

// Game handles GET /v1/stats.
func (h *Handler) Game(c *gin.Context) {
	out, err := h.acc.GameStats(c.Request.Context(), auth.GameID(c))
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to read game stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type trackRequest struct {
	Event string `json:"event"`
}

// Track handles POST /v1/stats/track.
func (h *Handler) Track(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadJSON"})
		return
	}

	err := h.acc.Track(c.Request.Context(), auth.GameID(c), auth.PlayerID(c), req.Event)
	if errors.Is(err, ErrUnknownEvent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "UnknownEvent"})
		return
	}
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to track event", zap.Error(err), zap.String("event", req.Event))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Player handles GET /v1/stats/player.
func (h *Handler) Player(c *gin.Context) {
	rec, err := h.acc.PlayerStats(c.Request.Context(), auth.GameID(c), auth.PlayerID(c))
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to read player stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
