// Package reconcile fills in "absent" attendance rows for class sessions
// that ended without a record for every enrolled student. A pass is
// idempotent by construction: inserts go through the allocator and are gated
// by the database uniqueness constraint, so a repeated pass creates zero
// additional rows.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"time"

	"github.com/classtrack/attendance-engine/internal/allocator"
	"github.com/classtrack/attendance-engine/internal/store"
)

// PassResult aggregates what one reconciliation pass did. Used for
// monitoring, never for control flow.
type PassResult struct {
	SessionsProcessed int `json:"sessions_processed"`
	RecordsCreated    int `json:"records_created"`
	RecordsSkipped    int `json:"records_skipped"`
}

// markerReconciler identifies reconciliation-created rows in marked_by.
const markerReconciler = "absence-reconciler"

// AbsenceReconciler computes and inserts the missing absent rows for
// expired sessions.
type AbsenceReconciler struct {
	schedule   store.ScheduleReader
	roster     store.RosterReader
	attendance store.AttendanceReader
	alloc      *allocator.RecordAllocator
	clock      Clock
}

// NewAbsenceReconciler creates a reconciler.
func NewAbsenceReconciler(
	schedule store.ScheduleReader,
	roster store.RosterReader,
	attendance store.AttendanceReader,
	alloc *allocator.RecordAllocator,
	clock Clock,
) *AbsenceReconciler {
	if clock == nil {
		clock = SystemClock()
	}
	return &AbsenceReconciler{
		schedule:   schedule,
		roster:     roster,
		attendance: attendance,
		alloc:      alloc,
		clock:      clock,
	}
}

// RunPass reconciles today's expired sessions as of the injected clock.
func (r *AbsenceReconciler) RunPass(ctx context.Context) (PassResult, error) {
	return r.RunPassAt(ctx, r.clock.Now())
}

// RunPassAt reconciles the calendar day of now, treating now as the current
// time. Sessions whose end time has not passed yet are excluded entirely.
func (r *AbsenceReconciler) RunPassAt(ctx context.Context, now time.Time) (PassResult, error) {
	var result PassResult
	day := store.Day(now)

	sessions, err := r.schedule.SessionsForDay(ctx, now.Weekday())
	if err != nil {
		return result, fmt.Errorf("loading sessions for %s: %w", now.Weekday(), err)
	}

	for _, session := range sessions {
		end, err := session.SessionEnd(day)
		if err != nil {
			// Malformed schedule data poisons only its own session.
			log.Printf("reconcile: skipping session %s: %v", session.ID, err)
			continue
		}
		if end.After(now) {
			continue
		}

		if err := r.reconcileSession(ctx, session, day, &result); err != nil {
			return result, fmt.Errorf("reconciling session %s: %w", session.ID, err)
		}
		result.SessionsProcessed++
	}

	return result, nil
}

// reconcileSession inserts absent rows for roster members with no record.
// The pre-read of already-marked students is a fast path only; the insert's
// uniqueness constraint is what actually prevents duplicates when a face
// match commits between our read and our write.
func (r *AbsenceReconciler) reconcileSession(ctx context.Context, session store.ScheduledSession, day time.Time, result *PassResult) error {
	students, err := r.roster.EnrolledStudents(ctx, session)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}

	marked, err := r.attendance.MarkedStudents(ctx, session.SubjectID, day)
	if err != nil {
		return fmt.Errorf("loading existing records: %w", err)
	}

	markedBy := markerReconciler
	for _, student := range students {
		if marked[student.ID] {
			result.RecordsSkipped++
			continue
		}

		outcome, err := r.alloc.MarkAttendance(ctx, store.AttendanceRecord{
			StudentID:   student.ID,
			SubjectID:   session.SubjectID,
			Date:        day,
			Status:      store.StatusAbsent,
			Method:      store.MethodAutoAbsent,
			MarkedBy:    &markedBy,
			LocationTag: store.LocationTagReconciled,
		})
		if err != nil {
			return fmt.Errorf("marking %s absent: %w", student.ID, err)
		}

		switch outcome {
		case allocator.OutcomeCreated:
			result.RecordsCreated++
		case allocator.OutcomeAlreadyExists:
			result.RecordsSkipped++
		}
	}
	return nil
}
