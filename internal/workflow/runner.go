package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/gamecast-dev/gamecast/pkg/observability"
	"github.com/gamecast-dev/gamecast/pkg/renderer"
	"github.com/gamecast-dev/gamecast/pkg/session"
)

// phase is the internal workflow state; the session-visible status it
// maps to is derived from the persisted record.
type phase string

const (
	phaseInit         phase = "init"
	phaseProvisioning phase = "provisioning"
	phaseActive       phase = "active"
	phaseTerminating  phase = "terminating"
	phaseFailed       phase = "failed"
	phaseDone         phase = "done"
)

// runner executes the workflow for exactly one session. It is the only
// actor that mutates the session's lifecycle fields; external terminate
// requests arrive through the persisted TerminateRequested latch, with
// terminateCh as the wakeup for a live runner.
type runner struct {
	engine      *Engine
	sess        *session.Session
	terminateCh chan struct{}
	resuming    bool

	// provisionDeadline bounds the wait for health=streaming.
	provisionDeadline time.Time
	// failReason is recorded on the session when failure cleanup
	// finishes. Empty means the record is not ours to fail: only the
	// allocated instance gets released.
	failReason string
}

func newRunner(e *Engine, sess *session.Session, resuming bool) *runner {
	return &runner{
		engine:      e,
		sess:        sess,
		terminateCh: make(chan struct{}, 1),
		resuming:    resuming,
	}
}

// run drives the session to a terminal state. On engine shutdown it
// returns without further store writes or renderer calls; recovery
// recomputes the phase from persisted facts.
func (r *runner) run(ctx context.Context) {
	var ph phase
	if r.resuming {
		// Bound the burst of health checks when many sessions resume at
		// once (process restart, sweep).
		if err := r.engine.resumeSem.Acquire(ctx, 1); err != nil {
			return
		}
		ph = r.resolvePhase(ctx)
		r.engine.resumeSem.Release(1)
		observability.RecordWorkflowResume()
	} else {
		ph = phaseInit
	}

	for ph != phaseDone {
		if ctx.Err() != nil {
			return
		}

		switch ph {
		case phaseInit:
			ph = r.provision(ctx)
		case phaseProvisioning:
			ph = r.awaitStreaming(ctx)
		case phaseActive:
			ph = r.monitor(ctx)
		case phaseTerminating:
			ph = r.teardown(ctx)
		case phaseFailed:
			ph = r.cleanupFailed(ctx)
		}
	}
}

// resolvePhase recomputes the workflow phase from the persisted status,
// the recorded renderer instance, and one fresh health check. It never
// trusts state that did not survive a restart.
func (r *runner) resolvePhase(ctx context.Context) phase {
	if r.sess.Status.Terminal() {
		// Terminal statuses are written only after the instance is torn
		// down, so there is nothing left to do here.
		return phaseDone
	}
	if r.sess.TerminateRequested {
		return phaseTerminating
	}

	switch r.sess.Status {
	case session.StatusCreated:
		return phaseInit

	case session.StatusConnecting:
		if r.sess.RendererInstanceID == "" {
			// The instance ID write accompanies the connecting transition,
			// so this record is corrupt. Fail it rather than re-provision.
			return r.failWith("connecting session has no renderer instance")
		}
		r.provisionDeadline = time.Now().Add(r.engine.cfg.ProvisionTimeout)
		health, err := r.checkHealthRetry(ctx)
		if err != nil {
			return phaseDone
		}
		switch health {
		case renderer.HealthStreaming:
			if err := r.update(ctx, statusUpdate(session.StatusActive)); err != nil {
				return phaseDone
			}
			return phaseActive
		case renderer.HealthProvisioning:
			return phaseProvisioning
		default:
			return r.failWith("renderer instance failed during provisioning")
		}

	case session.StatusActive:
		health, err := r.checkHealthRetry(ctx)
		if err != nil {
			return phaseDone
		}
		if health == renderer.HealthStreaming {
			return phaseActive
		}
		return phaseTerminating
	}

	return phaseDone
}

// provision requests a renderer instance. Provision failures are fatal to
// the session; retrying would risk a second instance the client was never
// told about.
func (r *runner) provision(ctx context.Context) phase {
	if r.sess.TerminateRequested {
		return phaseTerminating
	}
	select {
	case <-r.terminateCh:
		return phaseTerminating
	default:
	}

	if r.sess.RendererInstanceID != "" {
		return phaseProvisioning
	}

	callCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.CallTimeout)
	start := time.Now()
	instanceID, err := r.engine.client.Provision(callCtx, r.sess.ID, r.sess.GameURL)
	cancel()
	observability.RecordRendererCall("provision", err == nil, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return phaseDone
		}
		log.Printf("[workflow] session %s: provision failed: %v", r.sess.ID, err)
		return r.failWith("provision renderer: " + err.Error())
	}

	r.provisionDeadline = time.Now().Add(r.engine.cfg.ProvisionTimeout)

	status := session.StatusConnecting
	if err := r.update(ctx, session.Update{Status: &status, RendererInstanceID: &instanceID}); err != nil {
		// The failure path tears the instance down from the local copy.
		r.sess.RendererInstanceID = instanceID
		if errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, session.ErrSessionTerminal) {
			// Another runner claimed the session first. The instance we
			// allocated is ours to release; the record is not.
			log.Printf("[workflow] session %s: claimed elsewhere, releasing instance %s", r.sess.ID, instanceID)
			return r.disown()
		}
		return r.failWith("record provisioned instance: store write failed")
	}

	log.Printf("[workflow] session %s: renderer instance %s provisioning", r.sess.ID, instanceID)
	return phaseProvisioning
}

// awaitStreaming polls health until the instance streams, fails, or the
// provisioning budget runs out.
func (r *runner) awaitStreaming(ctx context.Context) phase {
	if r.provisionDeadline.IsZero() {
		r.provisionDeadline = time.Now().Add(r.engine.cfg.ProvisionTimeout)
	}

	for {
		timer := time.NewTimer(r.pollDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return phaseDone
		case <-r.terminateCh:
			timer.Stop()
			return phaseTerminating
		case <-timer.C:
		}

		if time.Now().After(r.provisionDeadline) {
			log.Printf("[workflow] session %s: provisioning timeout exceeded", r.sess.ID)
			return r.failWith("provisioning timeout exceeded")
		}

		health, err := r.checkHealthRetry(ctx)
		if err != nil {
			return phaseDone
		}

		switch health {
		case renderer.HealthStreaming:
			if err := r.update(ctx, statusUpdate(session.StatusActive)); err != nil {
				return phaseDone
			}
			log.Printf("[workflow] session %s: renderer streaming", r.sess.ID)
			return phaseActive
		case renderer.HealthProvisioning:
			// Heartbeat so the orphan sweep sees the session is attended.
			if err := r.update(ctx, session.Update{}); err != nil {
				return phaseDone
			}
			if r.sess.TerminateRequested {
				return phaseTerminating
			}
		default:
			return r.failWith("renderer instance failed during provisioning")
		}
	}
}

// monitor polls health while the session is active. A failed renderer or
// a terminate request both end the session through full teardown.
func (r *runner) monitor(ctx context.Context) phase {
	for {
		timer := time.NewTimer(r.pollDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return phaseDone
		case <-r.terminateCh:
			timer.Stop()
			return phaseTerminating
		case <-timer.C:
		}

		health, err := r.checkHealthRetry(ctx)
		if err != nil {
			return phaseDone
		}
		if health != renderer.HealthStreaming {
			log.Printf("[workflow] session %s: renderer health %s, terminating", r.sess.ID, health)
			return phaseTerminating
		}

		if err := r.update(ctx, session.Update{}); err != nil {
			return phaseDone
		}
		if r.sess.TerminateRequested {
			// Request arrived through the store, e.g. while no wakeup
			// channel was reachable.
			return phaseTerminating
		}
	}
}

// teardown tears the renderer instance down, then records the terminal
// status. The ordering is the durability story: a non-terminal record
// with TerminateRequested set still owes a teardown, stays visible to
// ListActive, and converges through recovery or the sweep no matter
// where a crash lands.
func (r *runner) teardown(ctx context.Context) phase {
	for {
		err := r.terminateInstance(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return phaseDone
		}
		log.Printf("[workflow] session %s: teardown attempt failed, retrying: %v", r.sess.ID, err)
		if !r.sleep(ctx, r.pollDelay()) {
			return phaseDone
		}
	}

	if !r.sess.Status.Terminal() {
		if err := r.update(ctx, statusUpdate(session.StatusTerminated)); err != nil {
			// The instance is gone; the flagged record converges via the
			// sweep once this write can land.
			return phaseDone
		}
	}

	log.Printf("[workflow] session %s: terminated", r.sess.ID)
	return phaseDone
}

// cleanupFailed releases whatever instance the failed session allocated,
// then records the error status. As in teardown, the terminal write
// comes last so no crash point leaves an instance behind a terminal
// record.
func (r *runner) cleanupFailed(ctx context.Context) phase {
	for {
		err := r.terminateInstance(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return phaseDone
		}
		log.Printf("[workflow] session %s: failure cleanup attempt failed, retrying: %v", r.sess.ID, err)
		if !r.sleep(ctx, r.pollDelay()) {
			return phaseDone
		}
	}

	if r.failReason == "" {
		// Disowned: the record belongs to another runner.
		return phaseDone
	}

	status := session.StatusError
	if err := r.update(ctx, session.Update{Status: &status, Error: &r.failReason}); err != nil {
		return phaseDone
	}

	log.Printf("[workflow] session %s: failed: %s", r.sess.ID, r.failReason)
	return phaseDone
}

// terminateInstance issues the renderer terminate call with bounded
// retries. Terminate is idempotent on the renderer side; a nil return
// means the instance is gone.
func (r *runner) terminateInstance(ctx context.Context) error {
	if r.sess.RendererInstanceID == "" {
		return nil
	}

	delay := r.engine.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 0; attempt < r.engine.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if !r.sleep(ctx, delay) {
				return ctx.Err()
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.CallTimeout)
		start := time.Now()
		err := r.engine.client.Terminate(callCtx, r.sess.RendererInstanceID)
		cancel()
		observability.RecordRendererCall("terminate", err == nil, time.Since(start))

		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("terminate instance %s: %w", r.sess.RendererInstanceID, lastErr)
}

// checkHealthRetry polls health with bounded exponential backoff on
// transport failure. Exhausted retries are reported as health=failed.
// A non-nil error means the engine context ended.
func (r *runner) checkHealthRetry(ctx context.Context) (renderer.Health, error) {
	delay := r.engine.cfg.RetryBaseDelay

	for attempt := 0; attempt < r.engine.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if !r.sleep(ctx, delay) {
				return "", ctx.Err()
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.CallTimeout)
		start := time.Now()
		health, err := r.engine.client.CheckHealth(callCtx, r.sess.RendererInstanceID)
		cancel()
		observability.RecordRendererCall("check_health", err == nil, time.Since(start))

		if err == nil {
			return health, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("[workflow] session %s: health check attempt %d: %v", r.sess.ID, attempt+1, err)
	}

	return renderer.HealthFailed, nil
}

// failWith routes to failure cleanup with the reason to record.
func (r *runner) failWith(reason string) phase {
	r.failReason = reason
	return phaseFailed
}

// disown routes to failure cleanup for the local instance only, leaving
// the record to whichever runner owns it.
func (r *runner) disown() phase {
	r.failReason = ""
	return phaseFailed
}

// update applies a store update and refreshes the runner's local copy.
// A non-nil error means the runner must stop touching the record: it is
// gone, terminal, claimed by a conflicting writer, or the store is
// failing.
func (r *runner) update(ctx context.Context, u session.Update) error {
	updated, err := r.engine.store.Update(ctx, r.sess.ID, u)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			log.Printf("[workflow] session %s: record deleted, stopping", r.sess.ID)
		case errors.Is(err, session.ErrSessionTerminal):
			log.Printf("[workflow] session %s: already terminal, stopping", r.sess.ID)
		case errors.Is(err, session.ErrInvalidTransition):
			log.Printf("[workflow] session %s: conflicting update: %v", r.sess.ID, err)
		default:
			log.Printf("[workflow] session %s: store update failed: %v", r.sess.ID, err)
		}
		return err
	}

	if u.Status != nil {
		observability.RecordStatusTransition(string(r.sess.Status), string(*u.Status))
	}
	r.sess = updated
	return nil
}

// sleep waits d or until ctx ends; reports whether the full wait passed.
func (r *runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// pollDelay returns the health-poll interval with bounded jitter.
func (r *runner) pollDelay() time.Duration {
	jitter := r.engine.cfg.PollJitter
	if jitter <= 0 {
		return r.engine.cfg.PollInterval
	}
	return r.engine.cfg.PollInterval + time.Duration(rand.Int63n(int64(jitter)))
}

func statusUpdate(status session.Status) session.Update {
	return session.Update{Status: &status}
}
