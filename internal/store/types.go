// Package store defines the persisted types and repository contracts for the
// attendance engine. Backends live in the postgres and sis subpackages; mock
// holds in-memory implementations for tests.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateRecord is returned by writers when an insert hits a uniqueness
// constraint. Callers are expected to recover it locally, not surface it.
var ErrDuplicateRecord = errors.New("record already exists")

// AttendanceStatus is the recorded outcome for a student on a given day.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
	StatusHalfDay AttendanceStatus = "half_day"
)

// AttendanceMethod records what created an attendance row.
type AttendanceMethod string

const (
	MethodFace       AttendanceMethod = "face"
	MethodManual     AttendanceMethod = "manual"
	MethodAutoAbsent AttendanceMethod = "auto_absent"
)

// LocationTagReconciled marks rows created by the absence reconciliation job.
const LocationTagReconciled = "auto-reconciliation"

// EnrolledIdentity holds the single face embedding enrolled for a student.
// Re-enrollment overwrites the previous embedding; a student never has more
// than one row.
type EnrolledIdentity struct {
	ID             int64
	StudentID      string
	Embedding      []float32
	Dim            int
	CaptureQuality float64
	EnrolledAt     time.Time
}

// AttendanceRecord is one attendance decision. (StudentID, SubjectID, Date)
// is the natural key, enforced by a database-level unique constraint.
type AttendanceRecord struct {
	ID          string // uuid
	StudentID   string
	SubjectID   string
	Date        time.Time // calendar date, time component zeroed
	Status      AttendanceStatus
	Method      AttendanceMethod
	Confidence  *float64 // only for Method == MethodFace
	MarkedBy    *string  // who or what created the row
	LocationTag string
	CreatedAt   time.Time
}

// ScheduledSession defines when a class is expected to occur. Owned by the
// academic-schedule subsystem; read-only here.
type ScheduledSession struct {
	ID           string
	SubjectID    string
	DayOfWeek    time.Weekday
	StartTime    string // "HH:MM"
	EndTime      string // "HH:MM"
	Semester     int
	AcademicYear string
	FacultyID    string
}

// Student is a roster entry as served by the student-information system.
type Student struct {
	ID       string
	Name     string
	Semester int
}

// SequenceCode is a human-readable identifier allocated monotonically per
// (prefix, year) scope, e.g. TCH20260042.
type SequenceCode struct {
	Prefix      string
	Year        int
	Seq         int
	Code        string
	AllocatedAt time.Time
}

// SequencePadding is the fixed width of the numeric suffix in a code.
const SequencePadding = 4

// FormatCode builds the canonical code string for a scope and sequence.
func FormatCode(prefix string, year, seq int) string {
	return fmt.Sprintf("%s%d%0*d", prefix, year, SequencePadding, seq)
}

// Day truncates a time to its calendar date in the same location.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SessionEnd resolves a session's end time on a concrete day. The session's
// "HH:MM" end is interpreted in day's location.
func (s ScheduledSession) SessionEnd(day time.Time) (time.Time, error) {
	return atClock(day, s.EndTime)
}

// SessionStart resolves a session's start time on a concrete day.
func (s ScheduledSession) SessionStart(day time.Time) (time.Time, error) {
	return atClock(day, s.StartTime)
}

func atClock(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session time %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
