package session

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when saving a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidTransition is returned for a status change the lifecycle
	// state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSessionTerminal is returned when updating a terminated or errored
	// session; terminal records are immutable except for deletion.
	ErrSessionTerminal = errors.New("session is terminal")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("session store is closed")
)

// Store abstracts session persistence.
// Implementations must be safe for concurrent use, and Update must be
// atomic per session: of two concurrent updates for the same session the
// result always reflects at least one, and a forbidden transition is
// reported rather than silently lost.
type Store interface {
	// Save persists a new session record.
	// Returns ErrSessionExists if the ID is already taken.
	Save(ctx context.Context, sess *Session) error

	// Load retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Update applies a partial mutation and returns the updated record.
	Update(ctx context.Context, sessionID string, update Update) (*Session, error)

	// Delete removes a session record. Deleting an unknown ID is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// ListActive returns sessions with a non-terminal status
	// (created, connecting or active). Used by recovery and the orphan
	// sweep; may be eventually consistent.
	ListActive(ctx context.Context) ([]*Session, error)

	// Close releases any resources held by the store.
	Close() error
}
