// Package saves implements the per-player key/value save surface. Entries
// live in the shared namespace under "<gameId>:<playerId>:<saveKey>" and are
// stored verbatim; the store's replication gives eventual consistency.
package saves

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

// Handler serves the /v1/saves surface.
type Handler struct {
	store    *store.Store
	maxBytes int64
}

// NewHandler creates a saves Handler. maxBytes caps a single save value.
func NewHandler(s *store.Store, maxBytes int64) *Handler {
	return &Handler{store: s, maxBytes: maxBytes}
}

// Register mounts the saves routes on an authenticated group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/saves/:key", h.Put)
	g.GET("/saves/:key", h.Get)
	g.GET("/saves", h.List)
	g.DELETE("/saves/:key", h.Delete)
}

// Put handles POST /v1/saves/:key. The body must be valid JSON and is
// stored byte-for-byte; overwrite on conflict.
func (h *Handler) Put(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBytes+1))
	if err != nil || int64(len(body)) > h.maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadJSON"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "BadJSON"})
		return
	}

	key := store.SaveKey(auth.GameID(c), auth.PlayerID(c), c.Param("key"))
	if err := h.store.SetRaw(c.Request.Context(), key, body); err != nil {
		logging.Error(c.Request.Context(), "Failed to store save", zap.Error(err), zap.String("save_key", c.Param("key")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": c.Param("key")})
}

// Get handles GET /v1/saves/:key.
func (h *Handler) Get(c *gin.Context) {
	key := store.SaveKey(auth.GameID(c), auth.PlayerID(c), c.Param("key"))
	data, err := h.store.GetRaw(c.Request.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "SaveNotFound"})
		return
	}
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to load save", zap.Error(err), zap.String("save_key", c.Param("key")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "data": json.RawMessage(data)})
}

// List handles GET /v1/saves. Returns the bare save keys for the
// authenticated (gameId, playerId).
func (h *Handler) List(c *gin.Context) {
	prefix := store.SavePrefix(auth.GameID(c), auth.PlayerID(c))
	fullKeys, err := h.store.ScanKeys(c.Request.Context(), prefix)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to list saves", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}

	saveKeys := make([]string, 0, len(fullKeys))
	for _, k := range fullKeys {
		saveKeys = append(saveKeys, strings.TrimPrefix(k, prefix))
	}
	c.JSON(http.StatusOK, gin.H{"keys": saveKeys})
}

// Delete handles DELETE /v1/saves/:key. Idempotent.
func (h *Handler) Delete(c *gin.Context) {
	key := store.SaveKey(auth.GameID(c), auth.PlayerID(c), c.Param("key"))
	if err := h.store.Delete(c.Request.Context(), key); err != nil {
		logging.Error(c.Request.Context(), "Failed to delete save", zap.Error(err), zap.String("save_key", c.Param("key")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
