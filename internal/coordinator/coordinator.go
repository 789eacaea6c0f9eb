// Package coordinator exposes the request-facing surface of the cast
// orchestration core. It validates requests, owns session creation, and
// routes terminate signals to the workflow engine; all lifecycle
// mutations after creation happen inside the per-session workflow.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/gamecast-dev/gamecast/pkg/observability"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

// Request-surface errors.
var (
	// ErrInvalidInput is returned for malformed request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")
)

// Workflows is the slice of the workflow engine the coordinator needs.
type Workflows interface {
	// Start begins the workflow for a freshly created session.
	Start(sess *session.Session) error
	// Signal requests termination of a session; idempotent.
	Signal(ctx context.Context, sessionID string) error
}

// CreateSessionRequest is the payload for creating a cast session.
type CreateSessionRequest struct {
	// GameURL is the broadcast page the renderer must load.
	GameURL string `json:"gameUrl"`
	// SessionData is an opaque caller-supplied payload.
	SessionData map[string]any `json:"sessionData,omitempty"`
}

// Coordinator orchestrates session requests. Construct one per process;
// it is safe for concurrent use by many in-flight requests.
type Coordinator struct {
	store     session.Store
	workflows Workflows
}

// New creates a coordinator.
func New(store session.Store, workflows Workflows) *Coordinator {
	return &Coordinator{
		store:     store,
		workflows: workflows,
	}
}

// CreateSession validates the request, persists a new session record and
// starts its workflow. The workflow start happens after the store write
// succeeds: if it fails the created record stays behind for the orphan
// sweep rather than leaving a workflow with no backing record.
func (c *Coordinator) CreateSession(ctx context.Context, req CreateSessionRequest) (*session.Session, error) {
	if err := validateGameURL(req.GameURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:          uuid.New().String(),
		Status:      session.StatusCreated,
		GameURL:     req.GameURL,
		SessionData: req.SessionData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	observability.RecordSessionCreated()

	if err := c.workflows.Start(sess); err != nil {
		log.Printf("[coordinator] session %s: workflow start failed, sweep will recover: %v", sess.ID, err)
	}

	return sess, nil
}

// GetSession retrieves a session by ID.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := c.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, err
	}
	return sess, nil
}

// TerminateSession signals the session's workflow to terminate. It
// returns once the request is durably recorded, not once teardown
// completes; callers observe completion by polling GetSession.
// Terminating an already-terminal session is a no-op success.
func (c *Coordinator) TerminateSession(ctx context.Context, sessionID string) error {
	if err := c.workflows.Signal(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return err
	}
	return nil
}

// ListActiveSessions returns all non-terminal sessions.
func (c *Coordinator) ListActiveSessions(ctx context.Context) ([]*session.Session, error) {
	active, err := c.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	observability.SetActiveSessions(len(active))
	return active, nil
}

// validateGameURL requires an absolute, well-formed http(s) URL.
func validateGameURL(raw string) error {
	if raw == "" {
		return errors.New("gameUrl is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("gameUrl is not a valid URL: %v", err)
	}
	if !parsed.IsAbs() {
		return errors.New("gameUrl must be an absolute URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("gameUrl scheme %q is not allowed (only http/https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("gameUrl must include a host")
	}

	return nil
}
