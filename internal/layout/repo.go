package layout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// PostgresRepository persists layouts in Postgres. Groups and seats are
// stored as JSONB documents on the layout row; the engine never queries
// inside them, it always loads the whole layout.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateLayout writes a new layout row.
func (r *PostgresRepository) CreateLayout(ctx context.Context, l SeatLayout) (SeatLayout, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	groups, err := json.Marshal(l.Groups)
	if err != nil {
		return SeatLayout{}, err
	}
	seats, err := json.Marshal(l.Seats)
	if err != nil {
		return SeatLayout{}, err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO seat_layouts (id, name, width, height, groups, seats, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, l.ID, l.Name, l.Width, l.Height, groups, seats, l.CreatedAt)
	if err != nil {
		return SeatLayout{}, err
	}
	return l, nil
}

// GetLayout loads one layout with its seat documents.
func (r *PostgresRepository) GetLayout(ctx context.Context, id string) (SeatLayout, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, width, height, groups, seats, created_at
		FROM seat_layouts WHERE id = $1
	`, id)
	l, err := scanLayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SeatLayout{}, ErrNotFound
	}
	return l, err
}

// ListLayouts returns all layouts, newest first.
func (r *PostgresRepository) ListLayouts(ctx context.Context) ([]SeatLayout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, width, height, groups, seats, created_at
		FROM seat_layouts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SeatLayout
	for rows.Next() {
		l, err := scanLayout(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLayout(row rowScanner) (SeatLayout, error) {
	var l SeatLayout
	var groups, seats []byte
	if err := row.Scan(&l.ID, &l.Name, &l.Width, &l.Height, &groups, &seats, &l.CreatedAt); err != nil {
		return SeatLayout{}, err
	}
	if err := json.Unmarshal(groups, &l.Groups); err != nil {
		return SeatLayout{}, err
	}
	if err := json.Unmarshal(seats, &l.Seats); err != nil {
		return SeatLayout{}, err
	}
	return l, nil
}
