package attendance

import (
	"context"

	"studyroom/internal/assignment"
	"studyroom/internal/layout"
)

// Summary holds the per-layout, per-day headcounts. The five status
// buckets always sum to AssignedSeats: an assigned seat without a
// record for the day counts as not arrived.
type Summary struct {
	LayoutID        string `json:"layout_id"`
	Day             string `json:"day"`
	TotalSeats      int    `json:"total_seats"`
	AssignedSeats   int    `json:"assigned_seats"`
	CheckedIn       int    `json:"checked_in"`
	CheckedOut      int    `json:"checked_out"`
	NotArrived      int    `json:"not_arrived"`
	AbsentExcused   int    `json:"absent_excused"`
	AbsentUnexcused int    `json:"absent_unexcused"`
	LateCount       int    `json:"late_count"`
	EarlyLeaveCount int    `json:"early_leave_count"`
}

// Aggregator derives summaries from current assignments and records.
// It is a pure read side: recomputed in full on every call, no cache.
type Aggregator struct {
	engine      *Engine
	assignments *assignment.Manager
	layouts     *layout.Store
}

// NewAggregator creates an aggregator.
func NewAggregator(engine *Engine, assignments *assignment.Manager, layouts *layout.Store) *Aggregator {
	return &Aggregator{engine: engine, assignments: assignments, layouts: layouts}
}

// Compute makes one pass over the layout's active assignments and the
// day's records.
func (a *Aggregator) Compute(ctx context.Context, layoutID, day string) (Summary, error) {
	l, err := a.layouts.Get(ctx, layoutID)
	if err != nil {
		return Summary{}, err
	}
	active, err := a.assignments.ActiveForLayout(ctx, layoutID)
	if err != nil {
		return Summary{}, err
	}
	records, err := a.engine.ListDay(ctx, layoutID, day)
	if err != nil {
		return Summary{}, err
	}

	byStudent := make(map[string]Record, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec
	}

	sum := Summary{
		LayoutID:      layoutID,
		Day:           day,
		TotalSeats:    len(l.Seats),
		AssignedSeats: len(active),
	}
	for _, asg := range active {
		rec, ok := byStudent[asg.StudentID]
		if !ok {
			sum.NotArrived++
			continue
		}
		switch rec.Status {
		case StatusCheckedIn:
			sum.CheckedIn++
		case StatusCheckedOut:
			sum.CheckedOut++
		case StatusAbsentExcused:
			sum.AbsentExcused++
		case StatusAbsentUnexcused:
			sum.AbsentUnexcused++
		default:
			sum.NotArrived++
		}
		if rec.IsLate {
			sum.LateCount++
		}
		if rec.IsEarlyLeave {
			sum.EarlyLeaveCount++
		}
	}
	return sum, nil
}
