package stats

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

func newHandlerRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := store.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	router := gin.New()
	g := router.Group("/v1")
	g.Use(func(c *gin.Context) {
		c.Set(auth.CtxGameID, "game1")
		c.Set(auth.CtxPlayerID, "alice")
	})
	NewHandler(NewAccumulator(s)).Register(g)
	return router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTrackAndReadBack(t *testing.T) {
	router := newHandlerRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/stats/track", `{"event":"session_start"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":1`)
	assert.Contains(t, w.Body.String(), `"today":1`)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestTrackUnknownEvent(t *testing.T) {
	router := newHandlerRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/stats/track", `{"event":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UnknownEvent")
}

func TestTrackBadJSON(t *testing.T) {
	router := newHandlerRouter(t)

	w := doRequest(router, http.MethodPost, "/v1/stats/track", `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BadJSON")
}

func TestGameStatsEmpty(t *testing.T) {
	router := newHandlerRouter(t)

	w := doRequest(router, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":0`)
	assert.Contains(t, w.Body.String(), `"rooms":0`)
}

func TestPlayerStatsSurface(t *testing.T) {
	router := newHandlerRouter(t)

	require.Equal(t, http.StatusOK,
		doRequest(router, http.MethodPost, "/v1/stats/track", `{"event":"session_start"}`).Code)

	w := doRequest(router, http.MethodGet, "/v1/stats/player", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)
}
