package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamecast-dev/gamecast/pkg/session"
)

// fakeWorkflows records Start and Signal calls without running anything.
type fakeWorkflows struct {
	mu        sync.Mutex
	started   []string
	signaled  []string
	startErr  error
	signalErr error
}

func (f *fakeWorkflows) Start(sess *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sess.ID)
	return f.startErr
}

func (f *fakeWorkflows) Signal(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled = append(f.signaled, sessionID)
	return f.signalErr
}

func (f *fakeWorkflows) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func (f *fakeWorkflows) signaledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signaled...)
}

func newTestCoordinator(t *testing.T) (*Coordinator, session.Store, *fakeWorkflows) {
	t.Helper()
	store := session.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	workflows := &fakeWorkflows{}
	return New(store, workflows), store, workflows
}

func TestCreateSession(t *testing.T) {
	coord, store, workflows := newTestCoordinator(t)

	sess, err := coord.CreateSession(context.Background(), CreateSessionRequest{
		GameURL:     "https://example.com/cast?room=ABCD",
		SessionData: map[string]any{"player": "p1"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, session.StatusCreated, sess.Status)
	assert.Equal(t, "https://example.com/cast?room=ABCD", sess.GameURL)
	assert.Equal(t, "p1", sess.SessionData["player"])
	assert.False(t, sess.CreatedAt.IsZero())

	// The record is persisted and the workflow started for it.
	persisted, err := store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCreated, persisted.Status)
	assert.Equal(t, []string{sess.ID}, workflows.startedIDs())
}

func TestCreateSession_ConcurrentCreatesGetDistinctIDs(t *testing.T) {
	coord, store, workflows := newTestCoordinator(t)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := coord.CreateSession(context.Background(), CreateSessionRequest{
				GameURL: "https://example.com/cast?room=ABCD",
			})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = sess.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotEmpty(t, ids[i])
		assert.False(t, seen[ids[i]], "duplicate session ID %s", ids[i])
		seen[ids[i]] = true
	}

	active, err := store.ListActive(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, n)
	assert.Len(t, workflows.startedIDs(), n)
}

func TestCreateSession_InvalidGameURL(t *testing.T) {
	tests := []struct {
		name    string
		gameURL string
	}{
		{"empty", ""},
		{"relative", "/cast?room=ABCD"},
		{"no host", "https://"},
		{"bad scheme", "ftp://example.com/cast"},
		{"javascript scheme", "javascript:alert(1)"},
		{"not a url", "ht tp://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord, store, workflows := newTestCoordinator(t)

			_, err := coord.CreateSession(context.Background(), CreateSessionRequest{GameURL: tt.gameURL})
			assert.ErrorIs(t, err, ErrInvalidInput)

			// Nothing persisted, nothing started.
			active, err := store.ListActive(context.Background())
			require.NoError(t, err)
			assert.Empty(t, active)
			assert.Empty(t, workflows.startedIDs())
		})
	}
}

func TestCreateSession_WorkflowStartFailureStillReturnsSession(t *testing.T) {
	coord, store, workflows := newTestCoordinator(t)
	workflows.startErr = errors.New("engine closed")

	sess, err := coord.CreateSession(context.Background(), CreateSessionRequest{
		GameURL: "https://example.com/cast",
	})
	require.NoError(t, err, "a persisted session is recoverable even if its workflow did not start")

	persisted, err := store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCreated, persisted.Status)
}

func TestGetSession(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	now := time.Now().UTC()
	require.NoError(t, store.Save(context.Background(), &session.Session{
		ID:        "sess-get",
		Status:    session.StatusActive,
		GameURL:   "https://example.com/cast",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	sess, err := coord.GetSession(context.Background(), "sess-get")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, sess.Status)
}

func TestGetSession_NotFound(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)

	_, err := coord.GetSession(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateSession(t *testing.T) {
	coord, _, workflows := newTestCoordinator(t)

	require.NoError(t, coord.TerminateSession(context.Background(), "sess-term"))
	assert.Equal(t, []string{"sess-term"}, workflows.signaledIDs())
}

func TestTerminateSession_NotFound(t *testing.T) {
	coord, _, workflows := newTestCoordinator(t)
	workflows.signalErr = session.ErrSessionNotFound

	err := coord.TerminateSession(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListActiveSessions(t *testing.T) {
	coord, store, _ := newTestCoordinator(t)

	now := time.Now().UTC()
	for id, status := range map[string]session.Status{
		"sess-1": session.StatusActive,
		"sess-2": session.StatusConnecting,
		"sess-3": session.StatusTerminated,
	} {
		require.NoError(t, store.Save(context.Background(), &session.Session{
			ID:        id,
			Status:    status,
			GameURL:   "https://example.com/cast",
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	active, err := coord.ListActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, sess := range active {
		assert.False(t, sess.Status.Terminal())
	}
}
