package tagflow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalRecorder bundles an in-memory Engine, a manual video clock, and an
// idle-session reaper to provide a simple "local recorder" for development
// and debugging.
//
// Typical usage:
//
//	rec := tagflow.NewLocalRecorder(tagflow.NewStaticLookup(players, teams))
//	wf.MustRegister(rec.Engine)
//
//	rec.Clock.Set(754.2)
//	sess, err := rec.Engine.StartSession(ctx, tagflow.StartSessionOptions{
//	    WorkflowID:  wf.ID,
//	    BreakdownID: "game-1",
//	})
//	...
//	_ = rec.StartReaper(ctx, time.Minute, 5*time.Minute)
//	...
//	rec.Stop()
type LocalRecorder struct {
	// Engine is the in-memory engine used by this recorder.
	Engine Engine

	// Clock is the manual video clock the engine reads session timestamps
	// from. Drive it with Set, or through Engine.Seek.
	Clock *ManualClock

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRecorder constructs a LocalRecorder backed by an in-memory engine
// and a manual clock starting at zero. The lookup may be nil.
//
// This is intended for local development, tests, and simple single-process
// tagging tools.
func NewLocalRecorder(lookup ParticipantLookup) *LocalRecorder {
	return NewLocalRecorderWithObserver(lookup, nil)
}

// NewLocalRecorderWithObserver is NewLocalRecorder with an Observer attached
// to the engine.
func NewLocalRecorderWithObserver(lookup ParticipantLookup, obs Observer) *LocalRecorder {
	clock := NewManualClock(0)
	return &LocalRecorder{
		Engine: NewInMemoryEngineWithObserver(clock, lookup, obs),
		Clock:  clock,
	}
}

// StartReaper starts a goroutine that cancels sessions idle for at least
// maxIdle, checking every interval, until the context is cancelled via Stop.
//
// If StartReaper is called more than once without Stop, it returns an error.
func (r *LocalRecorder) StartReaper(ctx context.Context, interval, maxIdle time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("tagflow: LocalRecorder reaper already started")
	}

	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Engine.ReapIdleSessions(ctx, maxIdle)
			}
		}
	}()

	return nil
}

// Stop cancels the reaper goroutine started by StartReaper and waits for it
// to exit.
func (r *LocalRecorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
