package assignment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepository persists assignments in Postgres. Exclusivity is
// enforced by the partial unique indexes assignments_active_seat and
// assignments_active_student, so CreateActive is a single atomic insert
// and concurrent double-booking loses the index race instead of
// slipping past a read-then-write check.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateActive inserts an active assignment, mapping unique-violation
// errors back to the domain conflicts.
func (r *PostgresRepository) CreateActive(ctx context.Context, a Assignment) (Assignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assignments (id, seat_id, student_id, layout_id, status, assigned_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.ID, a.SeatID, a.StudentID, a.LayoutID, StatusActive, a.AssignedAt, a.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "student") {
				return Assignment{}, ErrStudentAssigned
			}
			return Assignment{}, ErrSeatOccupied
		}
		return Assignment{}, err
	}
	return a, nil
}

// Release flips an active assignment to released.
func (r *PostgresRepository) Release(ctx context.Context, id string, at time.Time) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE assignments
		SET status = $2, released_at = $3
		WHERE id = $1 AND status = $4
		RETURNING id, seat_id, student_id, layout_id, status, assigned_at, released_at, expires_at
	`, id, StatusReleased, at, StatusActive)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

// Get returns one assignment by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seat_id, student_id, layout_id, status, assigned_at, released_at, expires_at
		FROM assignments WHERE id = $1
	`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

// ActiveForLayout lists active assignments for a layout.
func (r *PostgresRepository) ActiveForLayout(ctx context.Context, layoutID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seat_id, student_id, layout_id, status, assigned_at, released_at, expires_at
		FROM assignments
		WHERE layout_id = $1 AND status = $2
		ORDER BY assigned_at
	`, layoutID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActiveForStudent returns the student's active assignment in a layout.
func (r *PostgresRepository) ActiveForStudent(ctx context.Context, studentID, layoutID string) (Assignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seat_id, student_id, layout_id, status, assigned_at, released_at, expires_at
		FROM assignments
		WHERE student_id = $1 AND layout_id = $2 AND status = $3
	`, studentID, layoutID, StatusActive)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (Assignment, error) {
	var a Assignment
	if err := row.Scan(&a.ID, &a.SeatID, &a.StudentID, &a.LayoutID, &a.Status, &a.AssignedAt, &a.ReleasedAt, &a.ExpiresAt); err != nil {
		return Assignment{}, err
	}
	return a, nil
}
