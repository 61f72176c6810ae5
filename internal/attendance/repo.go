package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepository persists attendance records. Ensure relies on
// ON CONFLICT DO NOTHING over the composite key; UpdateIf is a
// conditional UPDATE guarded by the current status, so a lost race
// surfaces as errStale instead of clobbering a concurrent transition.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, student_id, seat_id, seat_label, layout_id,
	to_char(day, 'YYYY-MM-DD'), expected_arrival, expected_departure,
	actual_arrival, actual_departure, status, is_late, late_minutes,
	is_early_leave, early_leave_minutes, excused_reason, created_by,
	created_at, updated_at`

// Ensure idempotently creates the day's record and returns the current row.
func (r *PostgresRepository) Ensure(ctx context.Context, rec Record) (Record, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, seat_id, seat_label, layout_id, day,
			 expected_arrival, expected_departure, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (student_id, day, layout_id) DO NOTHING
	`, rec.ID, rec.StudentID, rec.SeatID, rec.SeatLabel, rec.LayoutID, rec.Day,
		rec.ExpectedArrival, rec.ExpectedDeparture, rec.Status, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return r.Get(ctx, rec.ID)
}

// UpdateIf applies the record while its status is still one of fromStatuses.
func (r *PostgresRepository) UpdateIf(ctx context.Context, rec Record, fromStatuses []string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records SET
			actual_arrival = $2, actual_departure = $3, status = $4,
			is_late = $5, late_minutes = $6, is_early_leave = $7,
			early_leave_minutes = $8, excused_reason = $9, updated_at = $10
		WHERE id = $1 AND status = ANY($11)
		RETURNING `+recordColumns,
		rec.ID, rec.ActualArrival, rec.ActualDeparture, rec.Status,
		rec.IsLate, rec.LateMinutes, rec.IsEarlyLeave,
		rec.EarlyLeaveMinutes, rec.ExcusedReason, time.Now().UTC(), fromStatuses)
	updated, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errStale
	}
	return updated, err
}

// Get returns one record by composite id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// ListDay returns all records for a layout and day ordered by seat label.
func (r *PostgresRepository) ListDay(ctx context.Context, layoutID, day string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM attendance_records
		 WHERE layout_id = $1 AND day = $2 ORDER BY seat_label`, layoutID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.SeatID, &rec.SeatLabel, &rec.LayoutID,
		&rec.Day, &rec.ExpectedArrival, &rec.ExpectedDeparture,
		&rec.ActualArrival, &rec.ActualDeparture, &rec.Status, &rec.IsLate, &rec.LateMinutes,
		&rec.IsEarlyLeave, &rec.EarlyLeaveMinutes, &rec.ExcusedReason, &rec.CreatedBy,
		&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}
