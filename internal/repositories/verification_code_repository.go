package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"udensfiltri/internal/models"
)

type VerificationCodeRepository interface {
	// CreateUnlessRecent inserts v unless the pair already has a row created
	// after since. The check and the insert are atomic per (identifier, purpose).
	CreateUnlessRecent(ctx context.Context, v *models.VerificationCode, since time.Time) (bool, error)
	// GetLatest returns the newest row for the pair in any state, or nil.
	GetLatest(ctx context.Context, identifier string, purpose models.CodePurpose) (*models.VerificationCode, error)
	// UpdateLatestActive locks the newest unconsumed row for the pair and
	// calls fn with it; the row is written back when fn returns true.
	// found is false when the pair has no unconsumed row.
	UpdateLatestActive(ctx context.Context, identifier string, purpose models.CodePurpose, fn func(v *models.VerificationCode) bool) (found bool, err error)
}

type verificationCodeRepository struct {
	DB *sql.DB
}

func NewVerificationCodeRepository(db *sql.DB) VerificationCodeRepository {
	return &verificationCodeRepository{DB: db}
}

const codeColumns = `id, identifier, purpose, code, created_at, expires_at, consumed_at, failed_attempts, locked_until`

func (r *verificationCodeRepository) CreateUnlessRecent(ctx context.Context, v *models.VerificationCode, since time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("verification_code begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// сериализуем выдачу по паре (identifier, purpose)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(v.Identifier, v.Purpose)); err != nil {
		return false, fmt.Errorf("verification_code lock: %w", err)
	}

	var last time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT created_at
		FROM verification_codes
		WHERE identifier = $1 AND purpose = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, v.Identifier, string(v.Purpose)).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("verification_code latest: %w", err)
	case last.After(since):
		return false, nil
	}

	const q = `
		INSERT INTO verification_codes (identifier, purpose, code, created_at, expires_at, failed_attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, q,
		v.Identifier, string(v.Purpose), v.Code, v.CreatedAt, v.ExpiresAt,
	).Scan(&v.ID); err != nil {
		return false, fmt.Errorf("verification_code create: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("verification_code commit: %w", err)
	}
	return true, nil
}

func (r *verificationCodeRepository) GetLatest(ctx context.Context, identifier string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	q := `
		SELECT ` + codeColumns + `
		FROM verification_codes
		WHERE identifier = $1 AND purpose = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	v, err := scanCode(r.DB.QueryRowContext(ctx, q, identifier, string(purpose)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("verification_code get latest: %w", err)
	}
	return v, nil
}

func (r *verificationCodeRepository) UpdateLatestActive(ctx context.Context, identifier string, purpose models.CodePurpose, fn func(v *models.VerificationCode) bool) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("verification_code begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q := `
		SELECT ` + codeColumns + `
		FROM verification_codes
		WHERE identifier = $1 AND purpose = $2 AND consumed_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE
	`
	v, err := scanCode(tx.QueryRowContext(ctx, q, identifier, string(purpose)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("verification_code lock latest: %w", err)
	}

	if !fn(v) {
		return true, nil
	}

	const upd = `
		UPDATE verification_codes
		SET failed_attempts = $1, locked_until = $2, consumed_at = $3
		WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, upd, v.FailedAttempts, nullTime(v.LockedUntil), nullTime(v.ConsumedAt), v.ID); err != nil {
		return true, fmt.Errorf("verification_code update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return true, fmt.Errorf("verification_code commit: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (*models.VerificationCode, error) {
	var (
		v           models.VerificationCode
		purpose     string
		consumedAt  sql.NullTime
		lockedUntil sql.NullTime
	)
	if err := row.Scan(
		&v.ID, &v.Identifier, &purpose, &v.Code, &v.CreatedAt, &v.ExpiresAt,
		&consumedAt, &v.FailedAttempts, &lockedUntil,
	); err != nil {
		return nil, err
	}
	v.Purpose = models.CodePurpose(purpose)
	v.ConsumedAt = timePtr(consumedAt)
	v.LockedUntil = timePtr(lockedUntil)
	return &v, nil
}

func lockKey(identifier string, purpose models.CodePurpose) string {
	return "verification_codes:" + identifier + ":" + string(purpose)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}
