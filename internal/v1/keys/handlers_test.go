package keys

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

	"github.com/traybueno/watchtower-api/internal/v1/store"
)

func newTestHandlerRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := store.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	router := gin.New()
	g := router.Group("/internal")
	NewHandler(NewRegistry(s)).Register(g)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPutGetDeleteFlow(t *testing.T) {
	router := newTestHandlerRouter(t)

	w := do(router, http.MethodPost, "/internal/keys",
		`{"apiKey":"wt_abc","gameId":"game1","projectId":"proj1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/internal/keys/wt_abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exists":true`)
	assert.Contains(t, w.Body.String(), `"gameId":"game1"`)

	w = do(router, http.MethodDelete, "/internal/keys/wt_abc", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/internal/keys/wt_abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exists":false`)
}

func TestPutRejectsBadFormat(t *testing.T) {
	router := newTestHandlerRouter(t)

	w := do(router, http.MethodPost, "/internal/keys",
		`{"apiKey":"nope","gameId":"game1","projectId":"proj1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BadFormat")
}

func TestPutRejectsMissingFields(t *testing.T) {
	router := newTestHandlerRouter(t)

	w := do(router, http.MethodPost, "/internal/keys",
		`{"apiKey":"wt_abc","gameId":"","projectId":"proj1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "MissingField")
}

func TestPutRejectsBadJSON(t *testing.T) {
	router := newTestHandlerRouter(t)

	w := do(router, http.MethodPost, "/internal/keys", `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "BadJSON")
}
