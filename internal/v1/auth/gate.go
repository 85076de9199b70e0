// Package auth implements the front-door authentication gate. Every public
// request resolves its API key to a tenant and binds a client-asserted
// player ID; the internal gate protects the key-registry admin plane.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/keys"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
)

// Context keys set by the gate for downstream handlers.
const (
	CtxGameID    = "game_id"
	CtxProjectID = "project_id"
	CtxPlayerID  = "player_id"
	CtxAPIKey    = "api_key"
)

// HeaderPlayerID carries the client-asserted player identity.
const HeaderPlayerID = "X-Player-ID"

// Gate resolves the API key and player ID on every public request.
//
// The apiKey query-parameter fallback exists because browser WebSocket
// upgrades cannot carry custom headers.
func Gate(registry *keys.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetHeader(HeaderPlayerID)
		if playerID == "" {
			playerID = c.Query("playerId")
		}
		if playerID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "PlayerIdRequired"})
			return
		}

		apiKey := bearerToken(c)
		if apiKey == "" {
			apiKey = c.Query("apiKey")
		}
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "AuthRequired"})
			return
		}
		if !keys.ValidFormat(apiKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "InvalidKeyFormat"})
			return
		}

		rec, ok, err := registry.Get(c.Request.Context(), apiKey)
		if err != nil {
			logging.Error(c.Request.Context(), "Key registry lookup failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "InvalidKey"})
			return
		}

		c.Set(CtxGameID, rec.GameID)
		c.Set(CtxProjectID, rec.ProjectID)
		c.Set(CtxPlayerID, playerID)
		c.Set(CtxAPIKey, apiKey)

		// Thread tenant identity into the request context for the logger.
		ctx := context.WithValue(c.Request.Context(), logging.GameIDKey, rec.GameID)
		ctx = context.WithValue(ctx, logging.PlayerIDKey, playerID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Internal gates the key-registry admin plane with a deployment-time secret.
// No user context is set.
func Internal(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "InvalidInternalSecret"})
			return
		}
		c.Next()
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GameID returns the tenant bound by the gate.
func GameID(c *gin.Context) string {
	return c.GetString(CtxGameID)
}

// ProjectID returns the project bound by the gate.
func ProjectID(c *gin.Context) string {
	return c.GetString(CtxProjectID)
}

// PlayerID returns the player identity bound by the gate.
func PlayerID(c *gin.Context) string {
	return c.GetString(CtxPlayerID)
}
