// Package workflow drives the lifecycle of cast sessions: provisioning a
// renderer instance, polling its health, and tearing it down on
// termination or failure. Every transition is derived from the persisted
// session record plus a fresh renderer health check, so a runner can be
// killed and resumed at any point without losing its place.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/gamecast-dev/gamecast/pkg/observability"
	"github.com/gamecast-dev/gamecast/pkg/renderer"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

// ErrEngineClosed is returned when starting work on a closed engine.
var ErrEngineClosed = fmt.Errorf("workflow engine is closed")

// Engine owns one runner goroutine per in-flight session. All mutations
// of a session's lifecycle fields are serialized through its runner; the
// engine only routes signals and schedules recovery work.
type Engine struct {
	store  session.Store
	client renderer.Client
	cfg    Config

	ctx    context.Context
	cancel context.CancelFunc

	resumeSem *semaphore.Weighted
	cron      *cron.Cron

	mu      sync.Mutex
	runners map[string]*runner
	wg      sync.WaitGroup
	closed  bool
}

// NewEngine creates a workflow engine. Zero config fields take defaults.
func NewEngine(store session.Store, client renderer.Client, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:     store,
		client:    client,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		resumeSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentResumes)),
		runners:   make(map[string]*runner),
	}
}

// Start begins the workflow for a freshly created session.
func (e *Engine) Start(sess *session.Session) error {
	return e.spawn(sess, false, false)
}

// Resume restarts the workflow for a session whose runner did not survive
// a process restart. The runner recomputes its phase from the persisted
// record and a fresh health check.
func (e *Engine) Resume(sess *session.Session) error {
	return e.spawn(sess, false, true)
}

// Signal requests termination of a session. The request is durably
// recorded on the session before Signal returns success, so it survives
// a crash at any later point: recovery and the sweep both route flagged
// sessions into teardown. Signaling a terminal session is a no-op
// success.
func (e *Engine) Signal(ctx context.Context, sessionID string) error {
	requested := true
	updated, err := e.store.Update(ctx, sessionID, session.Update{TerminateRequested: &requested})
	if err != nil {
		if errors.Is(err, session.ErrSessionTerminal) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	r, ok := e.runners[sessionID]
	e.mu.Unlock()

	if ok {
		select {
		case r.terminateCh <- struct{}{}:
		default:
			// A terminate is already queued.
		}
		return nil
	}

	// No live runner; resume one with termination pending. The intent is
	// persisted, so a closed engine can leave it for recovery.
	if err := e.spawn(updated, true, true); err != nil && !errors.Is(err, ErrEngineClosed) {
		return err
	}
	return nil
}

// Running reports whether a live runner exists for the session.
func (e *Engine) Running(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runners[sessionID]
	return ok
}

// spawn registers and starts a runner unless one already exists.
func (e *Engine) spawn(sess *session.Session, terminatePending, resuming bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if r, exists := e.runners[sess.ID]; exists {
		if terminatePending {
			select {
			case r.terminateCh <- struct{}{}:
			default:
			}
		}
		return nil
	}

	r := newRunner(e, sess.Clone(), resuming)
	if terminatePending {
		r.terminateCh <- struct{}{}
	}
	e.runners[sess.ID] = r

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.removeRunner(sess.ID)
		r.run(e.ctx)
	}()

	return nil
}

func (e *Engine) removeRunner(sessionID string) {
	e.mu.Lock()
	delete(e.runners, sessionID)
	e.mu.Unlock()
}

// Recover resumes workflows for every non-terminal session in the store.
// Called once at process start, before the request surface opens.
func (e *Engine) Recover(ctx context.Context) error {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}

	for _, sess := range active {
		if err := e.Resume(sess); err != nil {
			return err
		}
	}

	if len(active) > 0 {
		log.Printf("[workflow] recovered %d session(s)", len(active))
	}
	return nil
}

// StartSweep schedules the periodic orphan sweep.
func (e *Engine) StartSweep() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(e.cfg.SweepSchedule, func() {
		e.sweep(e.ctx)
	}); err != nil {
		return fmt.Errorf("schedule orphan sweep: %w", err)
	}

	c.Start()
	e.cron = c
	return nil
}

// sweep reconciles sessions whose runner was lost: any active-listed
// session with no live runner and a stale UpdatedAt gets resumed, which
// drives it either back to health or to a terminal status.
func (e *Engine) sweep(ctx context.Context) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		log.Printf("[sweep] list active sessions: %v", err)
		return
	}

	cutoff := time.Now().UTC().Add(-e.cfg.StalenessThreshold)
	orphans := 0

	for _, sess := range active {
		if e.Running(sess.ID) {
			continue
		}
		if sess.UpdatedAt.After(cutoff) {
			continue
		}

		orphans++
		log.Printf("[sweep] session %s stale in %s since %s, resuming", sess.ID, sess.Status, sess.UpdatedAt.Format(time.RFC3339))
		if err := e.Resume(sess); err != nil {
			log.Printf("[sweep] resume session %s: %v", sess.ID, err)
		}
	}

	observability.RecordSweep(len(active), orphans)
}

// Close stops the sweep, cancels all runners and waits for them to exit
// or for ctx to expire. Runners interrupted here make no further store
// writes or renderer calls; recovery picks their sessions up on restart.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
