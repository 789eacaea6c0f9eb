package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamecast-dev/gamecast/internal/coordinator"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

// noopWorkflows accepts every start and signal without running anything.
type noopWorkflows struct {
	signaled []string
}

func (n *noopWorkflows) Start(sess *session.Session) error { return nil }

func (n *noopWorkflows) Signal(ctx context.Context, sessionID string) error {
	n.signaled = append(n.signaled, sessionID)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, session.Store, *noopWorkflows) {
	t.Helper()

	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	workflows := &noopWorkflows{}
	coord := coordinator.New(store, workflows)
	handler := NewHandler(coord)

	return handler.SetupRoutes(NewRateLimiter(1000, 1000)), store, workflows
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionHandler(t *testing.T) {
	router, store, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{
		"gameUrl":     "https://example.com/cast?room=ABCD",
		"sessionData": map[string]any{"player": "p1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StatusCreated, sess.Status)

	_, err := store.Load(context.Background(), sess.ID)
	assert.NoError(t, err)
}

func TestCreateSessionHandler_BadRequests(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid JSON, invalid game URL.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"gameUrl": "not-a-url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out["error"])
}

func TestGetSessionHandler(t *testing.T) {
	router, store, _ := newTestRouter(t)

	now := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), &session.Session{
		ID:        "sess-http-get",
		Status:    session.StatusActive,
		GameURL:   "https://example.com/cast",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	rec := doJSON(t, router, http.MethodGet, "/v1/sessions/sess-http-get", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "sess-http-get", sess.ID)
	assert.Equal(t, session.StatusActive, sess.Status)
}

func TestGetSessionHandler_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/v1/sessions/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsHandler(t *testing.T) {
	router, store, _ := newTestRouter(t)

	now := time.Now().UTC()
	for _, id := range []string{"sess-l1", "sess-l2"} {
		require.NoError(t, store.Save(context.Background(), &session.Session{
			ID:        id,
			Status:    session.StatusActive,
			GameURL:   "https://example.com/cast",
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []*session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 2)
}

func TestTerminateSessionHandler(t *testing.T) {
	router, store, workflows := newTestRouter(t)

	now := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), &session.Session{
		ID:        "sess-http-term",
		Status:    session.StatusActive,
		GameURL:   "https://example.com/cast",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	rec := doJSON(t, router, http.MethodDelete, "/v1/sessions/sess-http-term", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"sess-http-term"}, workflows.signaled)
}

func TestRateLimitMiddleware(t *testing.T) {
	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	coord := coordinator.New(store, &noopWorkflows{})
	router := NewHandler(coord).SetupRoutes(NewRateLimiter(1, 2))

	allowed, limited := 0, 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.Header.Set("X-Client-ID", "burst-client")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		switch rec.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	assert.Equal(t, 2, allowed, "burst of 2 should pass")
	assert.Equal(t, 8, limited)
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(1000, 1)

	assert.True(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-b"), "one client's burst must not starve another")
}

func TestCORSMiddleware(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
