package checklink

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository persists check links. The usage counter is bumped
// in a single UPDATE so concurrent link hits never lose increments.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create writes a new link row.
func (r *PostgresRepository) Create(ctx context.Context, link CheckLink) (CheckLink, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO check_links (id, token, layout_id, title, description, is_active, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, link.ID, link.Token, link.LayoutID, link.Title, link.Description, link.IsActive, link.ExpiresAt, link.CreatedAt)
	if err != nil {
		return CheckLink{}, err
	}
	return link, nil
}

// GetByToken returns the link for a token.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (CheckLink, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, token, layout_id, title, description, is_active, expires_at, usage_count, last_used_at, created_at
		FROM check_links WHERE token = $1
	`, token)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckLink{}, ErrNotFound
	}
	return link, err
}

// List returns the links for a layout, newest first.
func (r *PostgresRepository) List(ctx context.Context, layoutID string) ([]CheckLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token, layout_id, title, description, is_active, expires_at, usage_count, last_used_at, created_at
		FROM check_links WHERE layout_id = $1 ORDER BY created_at DESC
	`, layoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []CheckLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, link)
	}
	return res, rows.Err()
}

// SetActive flips the active flag.
func (r *PostgresRepository) SetActive(ctx context.Context, token string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE check_links SET is_active = $2 WHERE token = $1`, token, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes the link.
func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM check_links WHERE token = $1`, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RecordUsage bumps the counter atomically.
func (r *PostgresRepository) RecordUsage(ctx context.Context, token string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE check_links SET usage_count = usage_count + 1, last_used_at = $2 WHERE token = $1
	`, token, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (CheckLink, error) {
	var link CheckLink
	if err := row.Scan(&link.ID, &link.Token, &link.LayoutID, &link.Title, &link.Description,
		&link.IsActive, &link.ExpiresAt, &link.UsageCount, &link.LastUsedAt, &link.CreatedAt); err != nil {
		return CheckLink{}, err
	}
	return link, nil
}
