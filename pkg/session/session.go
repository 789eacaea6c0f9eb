// Package session defines the cast session record and its persistence
// contract. A session represents one cast attempt from creation to
// termination; its status only ever moves forward through the lifecycle
// state machine enforced here.
package session

import (
	"fmt"
	"time"
)

// Status is the externally visible lifecycle state of a session.
type Status string

const (
	// StatusCreated means the session record exists but no renderer has
	// been provisioned yet.
	StatusCreated Status = "created"
	// StatusConnecting means a renderer instance is provisioning.
	StatusConnecting Status = "connecting"
	// StatusActive means the renderer is streaming.
	StatusActive Status = "active"
	// StatusError is terminal: orchestration failed, reason in Error.
	StatusError Status = "error"
	// StatusTerminated is terminal: the session ended normally.
	StatusTerminated Status = "terminated"
)

// transitions holds the allowed forward edges of the lifecycle state
// machine. Terminal statuses have no outgoing edges.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusConnecting, StatusError, StatusTerminated},
	StatusConnecting: {StatusActive, StatusError, StatusTerminated},
	StatusActive:     {StatusTerminated},
	StatusError:      {},
	StatusTerminated: {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusTerminated
}

// CanTransition reports whether moving from s to next is an allowed edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Session is the persisted record for one cast attempt.
// GameURL and SessionData are immutable after creation; RendererInstanceID
// is set exactly once, when provisioning succeeds.
type Session struct {
	// ID is the unique session identifier. Never reused.
	ID string `json:"id"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// GameURL is the broadcast page the renderer loads.
	GameURL string `json:"gameUrl"`
	// SessionData is an opaque caller-supplied payload.
	SessionData map[string]any `json:"sessionData,omitempty"`
	// RendererInstanceID identifies the provisioned renderer instance,
	// empty until provisioning succeeds.
	RendererInstanceID string `json:"rendererInstanceId,omitempty"`
	// TerminateRequested records that termination was requested. It is
	// never unset; the workflow owes a teardown for any non-terminal
	// session carrying it. Terminal statuses are only written after the
	// renderer instance is gone.
	TerminateRequested bool `json:"terminateRequested,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time `json:"updatedAt"`
	// Error describes the last failure; set only when Status is error.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.SessionData != nil {
		out.SessionData = make(map[string]any, len(s.SessionData))
		for k, v := range s.SessionData {
			out.SessionData[k] = v
		}
	}
	return &out
}

// Update describes a partial mutation of a session record. Nil fields are
// left untouched. UpdatedAt is always refreshed, so an empty Update acts
// as a liveness heartbeat.
type Update struct {
	// Status moves the session along the state machine.
	Status *Status
	// RendererInstanceID records the provisioned instance. Set exactly once.
	RendererInstanceID *string
	// TerminateRequested latches the terminate request. One-way: once
	// set it cannot be cleared.
	TerminateRequested *bool
	// Error records the failure reason. Only meaningful with StatusError.
	Error *string
}

// apply mutates sess in place after validating the state machine rules.
// Store implementations call this under their per-session atomicity
// guarantee so concurrent updates never silently drop a transition.
func (u Update) apply(sess *Session) error {
	if sess.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrSessionTerminal, sess.ID, sess.Status)
	}

	if u.Status != nil && *u.Status != sess.Status {
		if !sess.Status.CanTransition(*u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, *u.Status)
		}
		sess.Status = *u.Status
	}

	if u.RendererInstanceID != nil {
		if sess.RendererInstanceID != "" && sess.RendererInstanceID != *u.RendererInstanceID {
			return fmt.Errorf("%w: instance already set for session %s", ErrInvalidTransition, sess.ID)
		}
		sess.RendererInstanceID = *u.RendererInstanceID
	}

	if u.TerminateRequested != nil && *u.TerminateRequested {
		sess.TerminateRequested = true
	}

	if u.Error != nil {
		sess.Error = *u.Error
	}

	sess.UpdatedAt = time.Now().UTC()
	return nil
}
