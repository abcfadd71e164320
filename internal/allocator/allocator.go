// Package allocator centralizes all attendance-table and sequence-code
// mutation. Uniqueness is enforced by database constraints, not by
// application-level checks; this package owns the discipline of converting
// constraint violations into non-error outcomes and of retrying contended
// sequence allocations.
package allocator

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/classtrack/attendance-engine/internal/config"
	"github.com/classtrack/attendance-engine/internal/store"
)

// Outcome reports what an attendance insert did.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
)

// ErrAllocationExhausted is returned when sequence allocation retries run
// out. It signals systemic contention that needs operator attention; callers
// must not fall back to a non-unique identifier.
var ErrAllocationExhausted = errors.New("sequence allocation retries exhausted")

// RecordAllocator creates attendance rows and sequence codes safely under
// concurrent writers.
type RecordAllocator struct {
	attendance store.AttendanceWriter
	sequences  store.SequenceStore
	cfg        config.AllocatorConfig
}

// New creates a record allocator.
func New(attendance store.AttendanceWriter, sequences store.SequenceStore, cfg config.AllocatorConfig) *RecordAllocator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 50 * time.Millisecond
	}
	return &RecordAllocator{attendance: attendance, sequences: sequences, cfg: cfg}
}

// MarkAttendance inserts exactly one record per (student, subject, date).
// A uniqueness violation is converted into OutcomeAlreadyExists: the earlier
// record wins and the insert is redundant, not an error. This is what makes
// both face-triggered marking and reconciliation idempotent.
func (a *RecordAllocator) MarkAttendance(ctx context.Context, rec store.AttendanceRecord) (Outcome, error) {
	if rec.StudentID == "" || rec.SubjectID == "" {
		return "", fmt.Errorf("attendance record requires student and subject")
	}
	if rec.Method != store.MethodFace && rec.Confidence != nil {
		return "", fmt.Errorf("confidence is only valid for method %q", store.MethodFace)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Date = store.Day(rec.Date)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	err := a.attendance.Insert(ctx, rec)
	if errors.Is(err, store.ErrDuplicateRecord) {
		return OutcomeAlreadyExists, nil
	}
	if err != nil {
		return "", fmt.Errorf("inserting attendance record: %w", err)
	}
	return OutcomeCreated, nil
}

// AllocateSequenceID allocates the next human-readable code for a
// (prefix, year) scope. Each attempt reads the current maximum under a
// skip-locked row lock and inserts max+1 defended by the unique constraint;
// a collision or transient store failure is retried with exponential backoff
// plus random jitter, up to the configured bound. Exhaustion is a hard
// failure.
func (a *RecordAllocator) AllocateSequenceID(ctx context.Context, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("sequence prefix is required")
	}
	if year < 1000 || year > 9999 {
		return "", fmt.Errorf("sequence year %d out of range", year)
	}

	backoff := a.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		code, err := a.sequences.TryAllocateCode(ctx, prefix, year)
		if err == nil {
			return code.Code, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("allocating %s/%d: %w", prefix, year, err)
		}
		lastErr = err

		if attempt == a.cfg.MaxRetries {
			break
		}

		// Jitter spreads colliding allocators apart instead of letting them
		// retry in lockstep.
		delay := backoff + rand.N(backoff/2+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}

	return "", fmt.Errorf("allocating %s/%d after %d attempts (last: %v): %w",
		prefix, year, a.cfg.MaxRetries+1, lastErr, ErrAllocationExhausted)
}

// isRetryable limits the backoff loop to losses worth retrying: a concurrent
// allocator winning the candidate, or the connection-level failures that a
// fresh attempt can survive. Anything else (bad SQL, closed pool, validation)
// propagates immediately.
func isRetryable(err error) bool {
	if errors.Is(err, store.ErrDuplicateRecord) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
