// Package status tracks crawl runs for the caller that launches them.
//
// The crawler never owns this state: a host process creates one Tracker and
// passes it to every run it starts, which keeps at most one run active.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("status: a run is already active")

// State is the coarse lifecycle of the most recent run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	ItemCount  int       `json:"item_count"`
	Error      string    `json:"error,omitempty"`
}

// Summary renders the last outcome as one line.
func (s Snapshot) Summary() string {
	switch s.State {
	case StateRunning:
		return fmt.Sprintf("run %s in progress", s.RunID)
	case StateSucceeded:
		return fmt.Sprintf("run %s succeeded with %d items", s.RunID, s.ItemCount)
	case StateFailed:
		return fmt.Sprintf("run %s failed: %s", s.RunID, s.Error)
	default:
		return "no run yet"
	}
}

// RunFunc performs one run and reports how many records it persisted.
type RunFunc func(ctx context.Context, runID string) (int, error)

// Tracker serialises runs and remembers the last outcome.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	done chan struct{}
	now  func() time.Time
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		snap: Snapshot{State: StateIdle},
		now:  time.Now,
	}
}

// Begin marks a run as active and returns its ID, or ErrAlreadyRunning.
func (t *Tracker) Begin() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State == StateRunning {
		return "", ErrAlreadyRunning
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	t.snap = Snapshot{
		State:     StateRunning,
		RunID:     id.String(),
		StartedAt: t.now(),
	}
	t.done = make(chan struct{})
	return t.snap.RunID, nil
}

// Finish records the outcome of the run identified by runID.
func (t *Tracker) Finish(runID string, items int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State != StateRunning || t.snap.RunID != runID {
		return
	}
	t.snap.FinishedAt = t.now()
	if err != nil {
		t.snap.State = StateFailed
		t.snap.Error = err.Error()
		t.snap.ItemCount = 0
	} else {
		t.snap.State = StateSucceeded
		t.snap.ItemCount = items
	}
	close(t.done)
	t.done = nil
}

// Trigger starts fn in the background unless a run is already active. It
// returns immediately; started reports which case happened.
func (t *Tracker) Trigger(ctx context.Context, fn RunFunc) (runID string, started bool, err error) {
	runID, err = t.Begin()
	if errors.Is(err, ErrAlreadyRunning) {
		return t.Snapshot().RunID, false, nil
	}
	if err != nil {
		return "", false, err
	}

	go func() {
		items, runErr := fn(ctx, runID)
		t.Finish(runID, items, runErr)
	}()
	return runID, true, nil
}

// Wait blocks until the active run finishes or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
