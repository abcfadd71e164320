package store

import (
	"context"
	"time"
)

// IdentityReader provides read access to enrolled face embeddings.
type IdentityReader interface {
	// GetByStudent retrieves a student's enrolled identity, nil if not enrolled
	GetByStudent(ctx context.Context, studentID string) (*EnrolledIdentity, error)
	// All returns every enrolled identity
	All(ctx context.Context) ([]EnrolledIdentity, error)
	// Count returns the number of enrolled identities
	Count(ctx context.Context) (int, error)
	// FindSimilar finds the closest identities by cosine distance, with distances
	FindSimilar(ctx context.Context, embedding []float32, limit int) ([]EnrolledIdentity, []float64, error)
}

// IdentityWriter provides write access to enrolled face embeddings.
type IdentityWriter interface {
	IdentityReader

	// Enroll stores a student's embedding, overwriting any previous enrollment.
	// The write is all-or-nothing: a failed enrollment leaves the previous
	// embedding intact.
	Enroll(ctx context.Context, identity EnrolledIdentity) error

	// DeleteByStudent removes a student's enrollment
	DeleteByStudent(ctx context.Context, studentID string) error
}

// AttendanceReader provides read access to attendance records.
type AttendanceReader interface {
	// Get retrieves the record for a (student, subject, date) key, nil if none
	Get(ctx context.Context, studentID, subjectID string, date time.Time) (*AttendanceRecord, error)
	// ListBySubjectDate returns all records for a subject on a date
	ListBySubjectDate(ctx context.Context, subjectID string, date time.Time) ([]AttendanceRecord, error)
	// ListByStudent returns a student's records within [from, to]
	ListByStudent(ctx context.Context, studentID string, from, to time.Time) ([]AttendanceRecord, error)
	// MarkedStudents returns the set of student IDs with a record for the key
	MarkedStudents(ctx context.Context, subjectID string, date time.Time) (map[string]bool, error)
}

// AttendanceWriter provides write access to attendance records. All mutation
// goes through the allocator so the uniqueness discipline stays centralized.
type AttendanceWriter interface {
	AttendanceReader

	// Insert adds a new record. Returns ErrDuplicateRecord when a row already
	// exists for the (student, subject, date) key; the constraint, not any
	// application pre-check, is what enforces the invariant.
	Insert(ctx context.Context, rec AttendanceRecord) error
}

// SequenceStore persists allocated sequence codes. TryAllocateCode performs
// one allocation attempt; retry policy lives in the allocator.
type SequenceStore interface {
	// TryAllocateCode reads the current maximum sequence for the scope (under
	// a row lock that skips rows locked by concurrent allocators where the
	// backend supports it), verifies max+1 is free, and inserts it. Returns
	// ErrDuplicateRecord when a concurrent allocator won the candidate.
	TryAllocateCode(ctx context.Context, prefix string, year int) (SequenceCode, error)

	// CodeExists reports whether a code has been allocated
	CodeExists(ctx context.Context, code string) (bool, error)
}

// ScheduleReader serves scheduled class sessions, read-only.
type ScheduleReader interface {
	// SessionsForDay returns all sessions scheduled on a weekday
	SessionsForDay(ctx context.Context, day time.Weekday) ([]ScheduledSession, error)
}

// RosterReader serves the enrolled students expected in a session.
type RosterReader interface {
	// EnrolledStudents returns the roster for a session's subject, semester
	// and faculty
	EnrolledStudents(ctx context.Context, session ScheduledSession) ([]Student, error)
}
