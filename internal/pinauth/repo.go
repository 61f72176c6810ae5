package pinauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// PostgresRepository persists credentials. RecordFailure increments and
// locks in one UPDATE so concurrent wrong attempts cannot under-count.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns one credential.
func (r *PostgresRepository) Get(ctx context.Context, studentID string) (Credential, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, pin_hash, is_locked, failed_attempts, last_changed_at, history
		FROM pin_credentials WHERE student_id = $1
	`, studentID)
	var cred Credential
	var history []byte
	if err := row.Scan(&cred.StudentID, &cred.PinHash, &cred.IsLocked, &cred.FailedAttempts, &cred.LastChangedAt, &history); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, err
	}
	if err := json.Unmarshal(history, &cred.History); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// Put upserts the credential, replacing hash and lock state.
func (r *PostgresRepository) Put(ctx context.Context, cred Credential) error {
	history, err := json.Marshal(cred.History)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pin_credentials (student_id, pin_hash, is_locked, failed_attempts, last_changed_at, history)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (student_id) DO UPDATE SET
			pin_hash = EXCLUDED.pin_hash,
			is_locked = EXCLUDED.is_locked,
			failed_attempts = EXCLUDED.failed_attempts,
			last_changed_at = EXCLUDED.last_changed_at,
			history = EXCLUDED.history
	`, cred.StudentID, cred.PinHash, cred.IsLocked, cred.FailedAttempts, cred.LastChangedAt, history)
	return err
}

// RecordFailure bumps the counter and locks at the threshold atomically.
func (r *PostgresRepository) RecordFailure(ctx context.Context, studentID string, maxAttempts int) (int, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE pin_credentials
		SET failed_attempts = failed_attempts + 1,
		    is_locked = (failed_attempts + 1 >= $2)
		WHERE student_id = $1
		RETURNING failed_attempts, is_locked
	`, studentID, maxAttempts)
	var attempts int
	var locked bool
	if err := row.Scan(&attempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, err
	}
	return attempts, locked, nil
}

// ResetFailures zeroes the counter after a successful verify.
func (r *PostgresRepository) ResetFailures(ctx context.Context, studentID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pin_credentials SET failed_attempts = 0 WHERE student_id = $1`, studentID)
	return err
}

// ClearLock removes the lockout and zeroes the counter.
func (r *PostgresRepository) ClearLock(ctx context.Context, studentID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pin_credentials SET is_locked = FALSE, failed_attempts = 0 WHERE student_id = $1`, studentID)
	return err
}
