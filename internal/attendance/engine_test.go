package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/assignment"
	"studyroom/internal/layout"
)

func newTestEngine(t *testing.T, policy Policy) (*Engine, *assignment.Manager, *layout.Store) {
	t.Helper()
	ctx := context.Background()
	layouts := layout.NewStore(layout.NewMemRepository())
	_, err := layouts.Create(ctx, layout.SeatLayout{
		ID:   "L1",
		Name: "Main Room",
		Seats: []layout.Seat{
			{ID: "A1", Label: "A1"},
			{ID: "A2", Label: "A2"},
			{ID: "A3", Label: "A3"},
		},
	})
	require.NoError(t, err)
	assignments := assignment.NewManager(assignment.NewMemRepository(), layouts, nil)
	eng := NewEngine(NewMemRepository(), assignments, layouts, policy, nil)
	return eng, assignments, layouts
}

func assignSeat(t *testing.T, assignments *assignment.Manager, seatID, studentID string) {
	t.Helper()
	_, err := assignments.Assign(context.Background(), seatID, studentID, "L1")
	require.NoError(t, err)
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func TestCheckInLate(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00"})
	assignSeat(t, assignments, "A1", "S1")

	rec, err := eng.CheckIn(context.Background(), "S1", "L1", MethodPIN, at(9, 10))
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
	assert.True(t, rec.IsLate)
	assert.Equal(t, 10, rec.LateMinutes)
	assert.Equal(t, "A1", rec.SeatLabel)
	require.NotNil(t, rec.ActualArrival)
	assert.Equal(t, at(9, 10), *rec.ActualArrival)
}

func TestCheckInOnTime(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00"})
	assignSeat(t, assignments, "A1", "S1")

	rec, err := eng.CheckIn(context.Background(), "S1", "L1", MethodQR, at(8, 45))
	require.NoError(t, err)
	assert.False(t, rec.IsLate)
	assert.Zero(t, rec.LateMinutes)
}

func TestCheckInWithoutAssignment(t *testing.T) {
	eng, _, _ := newTestEngine(t, Policy{})

	_, err := eng.CheckIn(context.Background(), "S1", "L1", MethodManual, at(9, 0))
	assert.ErrorIs(t, err, ErrNotAssigned)
}

func TestCheckInTwice(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 0))
	require.NoError(t, err)
	_, err = eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 5))
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}

func TestCheckOutEarlyLeave(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00"})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 0))
	require.NoError(t, err)

	rec, err := eng.CheckOut(ctx, "S1", "L1", MethodPIN, at(17, 30))
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedOut, rec.Status)
	assert.True(t, rec.IsEarlyLeave)
	assert.Equal(t, 30, rec.EarlyLeaveMinutes)
}

func TestCheckOutWithoutCheckIn(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")

	_, err := eng.CheckOut(context.Background(), "S1", "L1", MethodManual, at(17, 0))
	assert.ErrorIs(t, err, ErrNotCheckedIn)
}

func TestReentryPreservesFirstCycle(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00"})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 20))
	require.NoError(t, err)
	_, err = eng.CheckOut(ctx, "S1", "L1", MethodPIN, at(12, 0))
	require.NoError(t, err)

	rec, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(13, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, rec.Status)
	// First cycle's lateness is kept, not recomputed from 13:00.
	assert.Equal(t, 20, rec.LateMinutes)
	assert.Equal(t, at(9, 20), *rec.ActualArrival)
}

func TestReentryRecalcPolicy(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00", RecalcOnReentry: true})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 20))
	require.NoError(t, err)
	_, err = eng.CheckOut(ctx, "S1", "L1", MethodPIN, at(12, 0))
	require.NoError(t, err)

	rec, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(13, 0))
	require.NoError(t, err)
	assert.Equal(t, 240, rec.LateMinutes)
	assert.Equal(t, at(13, 0), *rec.ActualArrival)
}

func TestMarkAbsentTerminal(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	rec, err := eng.MarkAbsent(ctx, "S1", "L1", StatusAbsentExcused, "sick", at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusAbsentExcused, rec.Status)
	require.NotNil(t, rec.ExcusedReason)
	assert.Equal(t, "sick", *rec.ExcusedReason)

	_, err = eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(11, 0))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	_, err = eng.CheckOut(ctx, "S1", "L1", MethodPIN, at(12, 0))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	_, err = eng.MarkAbsent(ctx, "S1", "L1", StatusAbsentUnexcused, "", at(12, 0))
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestMarkAbsentExcusedNeedsReason(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")

	_, err := eng.MarkAbsent(context.Background(), "S1", "L1", StatusAbsentExcused, "", at(10, 0))
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestMarkAbsentAfterArrival(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 0))
	require.NoError(t, err)
	_, err = eng.MarkAbsent(ctx, "S1", "L1", StatusAbsentUnexcused, "", at(10, 0))
	assert.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestOneRecordPerStudentPerDay(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")
	ctx := context.Background()

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 0))
	require.NoError(t, err)
	_, err = eng.CheckOut(ctx, "S1", "L1", MethodPIN, at(17, 0))
	require.NoError(t, err)

	recs, err := eng.ListDay(ctx, "L1", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBadMethod(t *testing.T) {
	eng, assignments, _ := newTestEngine(t, Policy{})
	assignSeat(t, assignments, "A1", "S1")

	_, err := eng.CheckIn(context.Background(), "S1", "L1", "carrier-pigeon", at(9, 0))
	assert.ErrorIs(t, err, ErrBadMethod)
}

func TestStatsBucketsSumToAssigned(t *testing.T) {
	eng, assignments, layouts := newTestEngine(t, Policy{ExpectedArrival: "09:00", ExpectedDeparture: "18:00"})
	ctx := context.Background()
	assignSeat(t, assignments, "A1", "S1")
	assignSeat(t, assignments, "A2", "S2")
	assignSeat(t, assignments, "A3", "S3")

	_, err := eng.CheckIn(ctx, "S1", "L1", MethodPIN, at(9, 30))
	require.NoError(t, err)
	_, err = eng.MarkAbsent(ctx, "S2", "L1", StatusAbsentExcused, "sick", at(10, 0))
	require.NoError(t, err)
	// S3 never shows up and has no record at all.

	agg := NewAggregator(eng, assignments, layouts)
	sum, err := agg.Compute(ctx, "L1", "2026-03-02")
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TotalSeats)
	assert.Equal(t, 3, sum.AssignedSeats)
	assert.Equal(t, 1, sum.CheckedIn)
	assert.Equal(t, 1, sum.AbsentExcused)
	assert.Equal(t, 1, sum.NotArrived)
	assert.Equal(t, 1, sum.LateCount)
	total := sum.CheckedIn + sum.CheckedOut + sum.NotArrived + sum.AbsentExcused + sum.AbsentUnexcused
	assert.Equal(t, sum.AssignedSeats, total)
}

func TestStatsUnknownLayout(t *testing.T) {
	eng, assignments, layouts := newTestEngine(t, Policy{})
	agg := NewAggregator(eng, assignments, layouts)

	_, err := agg.Compute(context.Background(), "nope", "2026-03-02")
	assert.ErrorIs(t, err, layout.ErrNotFound)
}
