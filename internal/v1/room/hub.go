package room

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/metrics"
	"github.com/traybueno/watchtower-api/internal/v1/stats"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

// createRetries bounds code allocation attempts before surfacing a conflict.
const createRetries = 5

// Hub is the registry of live room actors. The actor address is the
// canonical (gameId, code) pair, so at most one actor — and one room —
// exists per code per tenant.
type Hub struct {
	mu     sync.Mutex
	actors map[string]*Actor

	store          *store.Store
	stats          stats.Sink
	tick           time.Duration
	allowedOrigins []string
}

// NewHub creates a Hub over the shared store and stats sink.
func NewHub(st *store.Store, sink stats.Sink, tick time.Duration, allowedOrigins []string) *Hub {
	return &Hub{
		actors:         make(map[string]*Actor),
		store:          st,
		stats:          sink,
		tick:           tick,
		allowedOrigins: allowedOrigins,
	}
}

func actorKey(gameID, code string) string {
	return gameID + ":" + code
}

// getOrCreate resolves the actor for a canonical code, resurrecting a
// hibernated room from its snapshot on demand.
func (h *Hub) getOrCreate(gameID, code string) *Actor {
	key := actorKey(gameID, code)

	h.mu.Lock()
	defer h.mu.Unlock()

	if a, ok := h.actors[key]; ok {
		return a
	}

	var a *Actor
	a = newActor(gameID, code, h.store, h.stats, h.tick, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// An actor may have been respawned under the same key after this
		// one decided to stop; only remove ourselves.
		if h.actors[key] == a {
			delete(h.actors, key)
		}
	})
	h.actors[key] = a
	return a
}

// ask retries a synchronous command when it raced an actor that was
// hibernating; the retry lands on a freshly booted actor.
func (h *Hub) ask(ctx context.Context, gameID, code string, cmd command) (result, error) {
	for {
		a := h.getOrCreate(gameID, code)
		res, err := a.ask(ctx, cmd)
		if errors.Is(err, errActorStopped) {
			continue
		}
		return res, err
	}
}

// Register mounts the room routes on an authenticated group.
func (h *Hub) Register(g *gin.RouterGroup) {
	g.POST("/rooms", h.CreateRoom)
	g.GET("/rooms/:code", h.RoomInfo)
	g.POST("/rooms/:code/join", h.JoinRoom)
	g.GET("/rooms/:code/ws", h.ServeWs)
}

// CreateRoom handles POST /v1/rooms: allocate a code, initialize the room
// with the caller as host, and hand back the websocket URL.
func (h *Hub) CreateRoom(c *gin.Context) {
	gameID := auth.GameID(c)
	playerID := auth.PlayerID(c)
	ctx := c.Request.Context()

	for attempt := 0; attempt < createRetries; attempt++ {
		code := GenerateCode()
		res, err := h.ask(ctx, gameID, code, command{kind: cmdCreate, playerID: playerID})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if res.err != nil {
			if errors.Is(res.err, ErrRoomExists) {
				continue
			}
			logging.Error(ctx, "Room create failed", zap.Error(res.err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"code":  code,
			"wsUrl": h.wsURL(c.Request, code),
		})
		return
	}

	c.JSON(http.StatusConflict, gin.H{"error": "RoomAlreadyExists"})
}

// RoomInfo handles GET /v1/rooms/:code.
func (h *Hub) RoomInfo(c *gin.Context) {
	gameID := auth.GameID(c)
	code, ok := canonicalParam(c)
	if !ok {
		return
	}

	res, err := h.ask(c.Request.Context(), gameID, code, command{kind: cmdInfo})
	if err != nil {
		return
	}
	if errors.Is(res.err, ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "RoomNotFound"})
		return
	}
	c.JSON(http.StatusOK, res.summary)
}

// JoinRoom handles POST /v1/rooms/:code/join. Idempotent per player.
func (h *Hub) JoinRoom(c *gin.Context) {
	gameID := auth.GameID(c)
	playerID := auth.PlayerID(c)
	code, ok := canonicalParam(c)
	if !ok {
		return
	}

	res, err := h.ask(c.Request.Context(), gameID, code, command{kind: cmdJoin, playerID: playerID})
	if err != nil {
		return
	}
	if errors.Is(res.err, ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "RoomNotFound"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"hostId":      res.summary.HostID,
		"players":     res.summary.Players,
		"playerCount": res.summary.PlayerCount,
	})
}

// ServeWs handles GET /v1/rooms/:code/ws: verify the room, upgrade, and
// attach the session to the actor.
func (h *Hub) ServeWs(c *gin.Context) {
	gameID := auth.GameID(c)
	playerID := auth.PlayerID(c)
	code, ok := canonicalParam(c)
	if !ok {
		return
	}

	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "UpgradeRequired"})
		return
	}

	// Refuse the upgrade outright when no room lives behind the code.
	res, err := h.ask(c.Request.Context(), gameID, code, command{kind: cmdInfo})
	if err != nil {
		return
	}
	if errors.Is(res.err, ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "RoomNotFound"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // Allow non-browser clients
			}
			originURL, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range h.allowedOrigins {
				allowedURL, err := url.Parse(allowed)
				if err != nil {
					continue
				}
				if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
					return true
				}
			}
			return false
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return
	}

	h.attach(conn, gameID, code, playerID)
}

// attach binds an upgraded connection to the room actor and starts the
// client pumps. Split from ServeWs so tests can drive mock connections.
func (h *Hub) attach(conn wsConnection, gameID, code, playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		a := h.getOrCreate(gameID, code)
		client := newClient(conn, a, playerID)
		res, err := a.ask(ctx, command{kind: cmdAttach, client: client})
		if errors.Is(err, errActorStopped) {
			continue
		}
		if err != nil || res.err != nil {
			// The room vanished between the pre-upgrade check and now.
			client.closeWithReason(websocket.ClosePolicyViolation, "Room not found")
			return
		}

		metrics.IncConnection()
		stats.AsyncTrack(h.stats, gameID, playerID, stats.EventSessionStart)

		go client.writePump()
		go func() {
			client.readPump()
			stats.AsyncTrack(h.stats, gameID, playerID, stats.EventSessionEnd)
		}()
		return
	}
}

// Shutdown closes every session in every actor, preserving snapshots so
// rooms survive a deploy.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	actors := make([]*Actor, 0, len(h.actors))
	for _, a := range h.actors {
		actors = append(actors, a)
	}
	h.mu.Unlock()

	for _, a := range actors {
		if _, err := a.ask(ctx, command{kind: cmdShutdown}); err != nil && !errors.Is(err, errActorStopped) {
			return err
		}
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(actors)))
	return nil
}

// wsURL derives the websocket URL for a freshly created room from the
// request that created it.
func (h *Hub) wsURL(r *http.Request, code string) string {
	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/v1/rooms/%s/ws", scheme, r.Host, code)
}

// canonicalParam validates and uppercases the :code path parameter.
func canonicalParam(c *gin.Context) (string, bool) {
	code := c.Param("code")
	if !ValidCode(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": "RoomNotFound"})
		return "", false
	}
	return CanonicalCode(code), true
}
