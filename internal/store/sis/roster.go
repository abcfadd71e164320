package sis

import (
	"context"
	"fmt"
	"time"

	"github.com/classtrack/attendance-engine/internal/store"
)

// SessionsForDay returns the scheduled class sessions for a weekday. MariaDB
// stores the weekday as 0=Sunday, matching time.Weekday.
func (p *Pool) SessionsForDay(ctx context.Context, day time.Weekday) ([]store.ScheduledSession, error) {
	query := `
		SELECT id, subject_id, day_of_week, start_time, end_time, semester, academic_year, faculty_id
		FROM class_schedule
		WHERE day_of_week = ?
		ORDER BY start_time, subject_id
	`

	rows, err := p.db.QueryContext(ctx, query, int(day))
	if err != nil {
		return nil, fmt.Errorf("query sessions for %s: %w", day, err)
	}
	defer rows.Close()

	var sessions []store.ScheduledSession
	for rows.Next() {
		var s store.ScheduledSession
		var dow int
		if err := rows.Scan(&s.ID, &s.SubjectID, &dow, &s.StartTime, &s.EndTime,
			&s.Semester, &s.AcademicYear, &s.FacultyID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.DayOfWeek = time.Weekday(dow)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// EnrolledStudents returns the roster for a session's subject in its
// semester and academic year. Student names are normalized so they compare
// cleanly against names from other sources.
func (p *Pool) EnrolledStudents(ctx context.Context, session store.ScheduledSession) ([]store.Student, error) {
	query := `
		SELECT s.id, s.name, s.semester
		FROM students s
		JOIN enrollments e ON e.student_id = s.id
		WHERE e.subject_id = ? AND e.semester = ? AND e.academic_year = ?
		ORDER BY s.id
	`

	rows, err := p.db.QueryContext(ctx, query, session.SubjectID, session.Semester, session.AcademicYear)
	if err != nil {
		return nil, fmt.Errorf("query roster for %s: %w", session.SubjectID, err)
	}
	defer rows.Close()

	var students []store.Student
	for rows.Next() {
		var st store.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Semester); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		st.Name = store.NormalizeName(st.Name)
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return students, nil
}
