package postgres

import (
	"context"
	"fmt"

	"github.com/classtrack/attendance-engine/internal/store"
)

// SequenceRepository provides PostgreSQL-backed sequence code allocation.
// One TryAllocateCode call is one transactional attempt; retry policy lives
// with the caller.
type SequenceRepository struct {
	pool *Pool
}

// NewSequenceRepository creates a new PostgreSQL sequence repository.
func NewSequenceRepository(pool *Pool) *SequenceRepository {
	return &SequenceRepository{pool: pool}
}

// TryAllocateCode performs a single allocation attempt for a (prefix, year)
// scope. It reads the current maximum sequence with SKIP LOCKED so hot rows
// held by concurrent allocators do not block the read, then inserts max+1.
// A concurrent winner surfaces as store.ErrDuplicateRecord through the
// unique constraint on the code.
func (r *SequenceRepository) TryAllocateCode(
	ctx context.Context, prefix string, year int,
) (store.SequenceCode, error) {
	var code store.SequenceCode

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return code, err
	}
	defer tx.Rollback()

	// Highest allocated sequence in scope. SKIP LOCKED means a row being
	// inserted by a concurrent transaction is simply not seen; the unique
	// constraint below catches the resulting collision.
	var maxSeq int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM sequence_codes
			WHERE prefix = $1 AND year = $2
			ORDER BY seq DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) last
	`, prefix, year).Scan(&maxSeq)
	if err != nil {
		return code, fmt.Errorf("read max sequence for %s%d: %w", prefix, year, err)
	}

	candidate := maxSeq + 1
	formatted := store.FormatCode(prefix, year, candidate)

	// Cheap pre-check; the constraint is still the authority.
	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sequence_codes WHERE code = $1)", formatted,
	).Scan(&exists)
	if err != nil {
		return code, fmt.Errorf("check code %s: %w", formatted, err)
	}
	if exists {
		return code, store.ErrDuplicateRecord
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sequence_codes (prefix, year, seq, code)
		VALUES ($1, $2, $3, $4)
		RETURNING allocated_at
	`, prefix, year, candidate, formatted).Scan(&code.AllocatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.SequenceCode{}, store.ErrDuplicateRecord
		}
		return store.SequenceCode{}, fmt.Errorf("insert code %s: %w", formatted, err)
	}

	if err := tx.Commit(); err != nil {
		return store.SequenceCode{}, fmt.Errorf("commit code %s: %w", formatted, err)
	}

	code.Prefix = prefix
	code.Year = year
	code.Seq = candidate
	code.Code = formatted
	return code, nil
}

// CodeExists reports whether a code has been allocated.
func (r *SequenceRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM sequence_codes WHERE code = $1)", code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code %s: %w", code, err)
	}
	return exists, nil
}
