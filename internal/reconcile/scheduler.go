package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/classtrack/attendance-engine/internal/config"
)

// SchedulerStatus is a snapshot of the scheduler for monitoring endpoints.
type SchedulerStatus struct {
	Running    bool        `json:"running"`
	LastRun    *time.Time  `json:"last_run,omitempty"`
	LastResult *PassResult `json:"last_result,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

// PassRunner runs one reconciliation pass. Satisfied by AbsenceReconciler;
// tests substitute fakes.
type PassRunner interface {
	RunPassAt(ctx context.Context, now time.Time) (PassResult, error)
}

// Scheduler runs reconciliation passes on a fixed cadence inside an active
// hours window. It is an explicit service object constructed once at process
// start; there is no package-level instance. Only one pass runs at a time:
// the next sleep begins after the previous pass finishes or fails.
type Scheduler struct {
	reconciler PassRunner
	interval   time.Duration
	window     ActiveWindow
	clock      Clock

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastRun    *time.Time
	lastResult *PassResult
	lastErr    error
}

// NewScheduler creates a scheduler. The active window comes from
// configuration; a malformed window is a construction error, not something
// discovered mid-run.
func NewScheduler(reconciler PassRunner, cfg config.ReconcileConfig, clock Clock) (*Scheduler, error) {
	window, err := ParseActiveWindow(cfg.ActiveStart, cfg.ActiveEnd)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		reconciler: reconciler,
		interval:   interval,
		window:     window,
		clock:      clock,
	}, nil
}

// Start launches the background loop. Starting an already-running scheduler
// is a no-op with a warning.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Printf("reconcile: scheduler already running, ignoring start")
		return
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.loop(s.stopCh, s.doneCh)
	log.Printf("reconcile: scheduler started (interval %s)", s.interval)
}

// Stop interrupts the sleeping loop promptly and waits for it to exit. An
// in-flight pass is allowed to finish rather than being aborted mid-pass.
// Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	// Claim the close. A concurrent Stop finds stopCh nil and only waits.
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	log.Printf("reconcile: scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot for monitoring.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{Running: s.running}
	if s.lastRun != nil {
		t := *s.lastRun
		status.LastRun = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Scheduler) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-time.After(s.interval):
		}

		now := s.clock.Now()
		if !s.window.Contains(now) {
			continue
		}

		// A failed pass must not kill future cycles; log and move on.
		result, err := s.reconciler.RunPassAt(context.Background(), now)
		if err != nil {
			log.Printf("reconcile: pass failed: %v", err)
		} else {
			log.Printf("reconcile: pass done: %d sessions, %d created, %d skipped",
				result.SessionsProcessed, result.RecordsCreated, result.RecordsSkipped)
		}
		s.recordPass(now, result, err)
	}
}

func (s *Scheduler) recordPass(at time.Time, result PassResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &at
	s.lastResult = &result
	s.lastErr = err
}
