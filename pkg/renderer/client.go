// Package renderer provides the control-plane client for the renderer
// fleet: headless browser instances that load a game's broadcast page and
// produce a media stream. The client issues single-shot provisioning,
// health and teardown calls; retry policy belongs to the session workflow,
// not here.
package renderer

import (
	"context"
	"errors"
)

// Health is the renderer-reported state of one instance.
type Health string

const (
	// HealthProvisioning means the instance is still starting up.
	HealthProvisioning Health = "provisioning"
	// HealthStreaming means the instance is producing the media stream.
	HealthStreaming Health = "streaming"
	// HealthFailed means the instance is dead or unusable.
	HealthFailed Health = "failed"
)

// Errors reported by renderer-control calls.
var (
	// ErrCapacityExceeded means the fleet is at its concurrent-session limit.
	ErrCapacityExceeded = errors.New("renderer capacity exceeded")
	// ErrInvalidTarget means the renderer rejected the game URL.
	ErrInvalidTarget = errors.New("renderer rejected target URL")
	// ErrUnreachable means the renderer call failed at the transport level.
	ErrUnreachable = errors.New("renderer unreachable")
)

// Client issues control calls against the renderer fleet. Each call has a
// bounded timeout and no automatic retry. Implementations must be safe
// for concurrent use.
type Client interface {
	// Provision requests a new browser instance pointed at gameURL and
	// returns its instance ID. Fails with ErrCapacityExceeded,
	// ErrInvalidTarget or ErrUnreachable.
	Provision(ctx context.Context, sessionID, gameURL string) (string, error)

	// CheckHealth reports the current state of an instance.
	CheckHealth(ctx context.Context, instanceID string) (Health, error)

	// Terminate tears down an instance. Terminating an unknown or
	// already-terminated instance succeeds silently.
	Terminate(ctx context.Context, instanceID string) error
}
