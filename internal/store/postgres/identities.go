package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/classtrack/attendance-engine/internal/store"
)

// IdentityRepository provides PostgreSQL-backed identity storage with
// pgvector similarity search.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = "id, student_id, embedding, dim, capture_quality, enrolled_at"

// Enroll stores a reference embedding for a student. Re-enrollment replaces
// the previous embedding.
func (r *IdentityRepository) Enroll(ctx context.Context, identity store.EnrolledIdentity) error {
	if identity.StudentID == "" {
		return errors.New("student id is required")
	}
	if len(identity.Embedding) == 0 {
		return errors.New("embedding is required")
	}

	vec := pgvector.NewVector(identity.Embedding)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (student_id, embedding, dim, capture_quality)
		VALUES ($1, $2::vector, $3, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dim = EXCLUDED.dim,
			capture_quality = EXCLUDED.capture_quality,
			enrolled_at = NOW()
	`, identity.StudentID, vec, len(identity.Embedding), identity.CaptureQuality)
	if err != nil {
		return fmt.Errorf("enroll identity %s: %w", identity.StudentID, err)
	}
	return nil
}

// GetByStudent returns the enrolled identity for a student, or nil when the
// student has no enrollment.
func (r *IdentityRepository) GetByStudent(ctx context.Context, studentID string) (*store.EnrolledIdentity, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+identityColumns+" FROM identities WHERE student_id = $1", studentID)

	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", studentID, err)
	}
	return &identity, nil
}

// All returns every enrolled identity, used to build the in-memory index.
func (r *IdentityRepository) All(ctx context.Context) ([]store.EnrolledIdentity, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var identities []store.EnrolledIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

// Count returns the number of enrolled identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// FindSimilar returns up to limit identities nearest to the query embedding
// and their cosine distances, nearest first.
func (r *IdentityRepository) FindSimilar(
	ctx context.Context, embedding []float32, limit int,
) ([]store.EnrolledIdentity, []float64, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx, `
		SELECT `+identityColumns+`, embedding <=> $1::vector AS distance
		FROM identities
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query similar identities: %w", err)
	}
	defer rows.Close()

	var identities []store.EnrolledIdentity
	var distances []float64
	for rows.Next() {
		var distance float64
		identity, err := scanIdentity(rows, &distance)
		if err != nil {
			return nil, nil, err
		}
		identities = append(identities, identity)
		distances = append(distances, distance)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate similar identities: %w", err)
	}
	return identities, distances, nil
}

// DeleteByStudent removes a student's enrollment. Deleting a student with no
// enrollment is not an error.
func (r *IdentityRepository) DeleteByStudent(ctx context.Context, studentID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM identities WHERE student_id = $1", studentID); err != nil {
		return fmt.Errorf("delete identity %s: %w", studentID, err)
	}
	return nil
}

// scanIdentity scans a row into an EnrolledIdentity, with optional extra
// scan destinations appended after the standard columns.
func scanIdentity(scanner interface{ Scan(...any) error }, extraDest ...any) (store.EnrolledIdentity, error) {
	var identity store.EnrolledIdentity
	var vec pgvector.Vector

	dest := make([]any, 0, 6+len(extraDest))
	dest = append(dest,
		&identity.ID,
		&identity.StudentID,
		&vec,
		&identity.Dim,
		&identity.CaptureQuality,
		&identity.EnrolledAt,
	)
	dest = append(dest, extraDest...)

	if err := scanner.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity, err
		}
		return identity, fmt.Errorf("scan identity: %w", err)
	}

	identity.Embedding = vec.Slice()
	return identity, nil
}
