package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/classtrack/attendance-engine/internal/store"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage. The
// UNIQUE (student_id, subject_id, att_date) constraint is the sole
// correctness guarantee against duplicate records; callers treat
// store.ErrDuplicateRecord as "someone got there first".
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = "id, student_id, subject_id, att_date, status, method, confidence, marked_by, location_tag, created_at"

// Insert writes a new attendance record. A record already existing for the
// same (student, subject, date) key returns store.ErrDuplicateRecord.
func (r *AttendanceRepository) Insert(ctx context.Context, rec store.AttendanceRecord) error {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (id, student_id, subject_id, att_date, status, method, confidence, marked_by, location_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (student_id, subject_id, att_date) DO NOTHING
	`,
		rec.ID,
		rec.StudentID,
		rec.SubjectID,
		store.Day(rec.Date),
		rec.Status,
		rec.Method,
		rec.Confidence,
		rec.MarkedBy,
		rec.LocationTag,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attendance %s/%s: %w", rec.StudentID, rec.SubjectID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert attendance rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrDuplicateRecord
	}
	return nil
}

// Get returns the record for a (student, subject, date) key, or nil.
func (r *AttendanceRepository) Get(
	ctx context.Context, studentID, subjectID string, date time.Time,
) (*store.AttendanceRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE student_id = $1 AND subject_id = $2 AND att_date = $3
	`, studentID, subjectID, store.Day(date))

	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance %s/%s: %w", studentID, subjectID, err)
	}
	return &rec, nil
}

// ListBySubjectDate returns all records for a subject on a date.
func (r *AttendanceRepository) ListBySubjectDate(
	ctx context.Context, subjectID string, date time.Time,
) ([]store.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE subject_id = $1 AND att_date = $2
		ORDER BY student_id
	`, subjectID, store.Day(date))
	if err != nil {
		return nil, fmt.Errorf("query attendance for %s: %w", subjectID, err)
	}
	defer rows.Close()

	return scanAttendanceRows(rows)
}

// ListByStudent returns a student's records within [from, to] inclusive.
func (r *AttendanceRepository) ListByStudent(
	ctx context.Context, studentID string, from, to time.Time,
) ([]store.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE student_id = $1 AND att_date BETWEEN $2 AND $3
		ORDER BY att_date, subject_id
	`, studentID, store.Day(from), store.Day(to))
	if err != nil {
		return nil, fmt.Errorf("query attendance for student %s: %w", studentID, err)
	}
	defer rows.Close()

	return scanAttendanceRows(rows)
}

// MarkedStudents returns the set of students with any record for a subject
// on a date. Used as a fast path; the unique constraint still backs
// correctness under races.
func (r *AttendanceRepository) MarkedStudents(
	ctx context.Context, subjectID string, date time.Time,
) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT student_id FROM attendance WHERE subject_id = $1 AND att_date = $2",
		subjectID, store.Day(date))
	if err != nil {
		return nil, fmt.Errorf("query marked students for %s: %w", subjectID, err)
	}
	defer rows.Close()

	marked := make(map[string]bool)
	for rows.Next() {
		var studentID string
		if err := rows.Scan(&studentID); err != nil {
			return nil, fmt.Errorf("scan marked student: %w", err)
		}
		marked[studentID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marked students: %w", err)
	}
	return marked, nil
}

func scanAttendanceRows(rows *sql.Rows) ([]store.AttendanceRecord, error) {
	var records []store.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}

func scanAttendance(scanner interface{ Scan(...any) error }) (store.AttendanceRecord, error) {
	var rec store.AttendanceRecord
	var confidence sql.NullFloat64
	var markedBy sql.NullString

	err := scanner.Scan(
		&rec.ID,
		&rec.StudentID,
		&rec.SubjectID,
		&rec.Date,
		&rec.Status,
		&rec.Method,
		&confidence,
		&markedBy,
		&rec.LocationTag,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan attendance: %w", err)
	}

	if confidence.Valid {
		rec.Confidence = &confidence.Float64
	}
	if markedBy.Valid {
		rec.MarkedBy = &markedBy.String
	}
	return rec, nil
}
