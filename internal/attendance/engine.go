package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"studyroom/internal/assignment"
	"studyroom/internal/events"
	"studyroom/internal/layout"
)

// Statuses of a per-student-per-day record. The absent statuses are
// terminal for the day.
const (
	StatusNotArrived      = "not_arrived"
	StatusCheckedIn       = "checked_in"
	StatusCheckedOut      = "checked_out"
	StatusAbsentExcused   = "absent_excused"
	StatusAbsentUnexcused = "absent_unexcused"
)

// Methods describe what triggered a transition.
const (
	MethodQR     = "qr"
	MethodPIN    = "pin"
	MethodManual = "manual"
	MethodAuto   = "auto"
)

var (
	// ErrNotAssigned is returned when the student holds no active seat in the layout.
	ErrNotAssigned = errors.New("student has no active assignment in layout")
	// ErrAlreadyFinalized is returned for any transition on an absent record.
	ErrAlreadyFinalized = errors.New("record already finalized for the day")
	// ErrAlreadyCheckedIn is returned for a check-in while checked in.
	ErrAlreadyCheckedIn = errors.New("already checked in")
	// ErrNotCheckedIn is returned for a check-out without a prior check-in.
	ErrNotCheckedIn = errors.New("not checked in")
	// ErrAlreadyPresent is returned for mark-absent after the student arrived.
	ErrAlreadyPresent = errors.New("student already present for the day")
	// ErrReasonRequired is returned for an excused absence without a reason.
	ErrReasonRequired = errors.New("reason required for excused absence")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("attendance record not found")
	// ErrBadMethod is returned for an unknown transition method.
	ErrBadMethod = errors.New("unknown method")

	// errStale signals a lost compare-and-set race inside repositories.
	errStale = errors.New("record status changed concurrently")
)

// Record tracks one student's arrival, departure and absence for one
// day in one layout. The id is the composite student|day|layout key so
// concurrent first events converge on a single row.
type Record struct {
	ID                 string     `json:"id"`
	StudentID          string     `json:"student_id"`
	SeatID             string     `json:"seat_id"`
	SeatLabel          string     `json:"seat_label"`
	LayoutID           string     `json:"layout_id"`
	Day                string     `json:"day"`
	ExpectedArrival    time.Time  `json:"expected_arrival"`
	ExpectedDeparture  time.Time  `json:"expected_departure"`
	ActualArrival      *time.Time `json:"actual_arrival,omitempty"`
	ActualDeparture    *time.Time `json:"actual_departure,omitempty"`
	Status             string     `json:"status"`
	IsLate             bool       `json:"is_late"`
	LateMinutes        int        `json:"late_minutes"`
	IsEarlyLeave       bool       `json:"is_early_leave"`
	EarlyLeaveMinutes  int        `json:"early_leave_minutes"`
	ExcusedReason      *string    `json:"excused_reason,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// RecordID builds the composite key.
func RecordID(studentID, day, layoutID string) string {
	return studentID + "|" + day + "|" + layoutID
}

// Repository persists attendance records. Ensure is an idempotent
// create-if-absent keyed on the composite id; UpdateIf applies the row
// only while its status is still one of fromStatuses (compare-and-set),
// returning errStale otherwise.
type Repository interface {
	Ensure(ctx context.Context, rec Record) (Record, error)
	UpdateIf(ctx context.Context, rec Record, fromStatuses []string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListDay(ctx context.Context, layoutID, day string) ([]Record, error)
}

// Policy holds the engine's attendance rules.
type Policy struct {
	// ExpectedArrival / ExpectedDeparture are layout-wide HH:MM defaults
	// applied to each day's record when it is first created.
	ExpectedArrival   string
	ExpectedDeparture string
	// RecalcOnReentry recomputes late/early metrics on every
	// check-in/out cycle instead of preserving the first cycle's.
	RecalcOnReentry bool
}

// Engine is the per-day attendance state machine.
type Engine struct {
	repo        Repository
	assignments *assignment.Manager
	layouts     *layout.Store
	policy      Policy
	bus         events.Bus
}

// NewEngine creates an engine. bus may be nil in tests.
func NewEngine(repo Repository, assignments *assignment.Manager, layouts *layout.Store, policy Policy, bus events.Bus) *Engine {
	if policy.ExpectedArrival == "" {
		policy.ExpectedArrival = "09:00"
	}
	if policy.ExpectedDeparture == "" {
		policy.ExpectedDeparture = "18:00"
	}
	return &Engine{repo: repo, assignments: assignments, layouts: layouts, policy: policy, bus: bus}
}

func validMethod(method string) bool {
	switch method {
	case MethodQR, MethodPIN, MethodManual, MethodAuto:
		return true
	}
	return false
}

// ensure loads or idempotently creates the day's record for a student
// who holds an active seat in the layout.
func (e *Engine) ensure(ctx context.Context, studentID, layoutID, method string, at time.Time) (Record, error) {
	asg, err := e.assignments.ActiveForStudent(ctx, studentID, layoutID)
	if err != nil {
		if errors.Is(err, assignment.ErrNotFound) {
			return Record{}, ErrNotAssigned
		}
		return Record{}, err
	}

	seatLabel := asg.SeatID
	if seat, serr := e.layouts.SeatInLayout(ctx, layoutID, asg.SeatID); serr == nil && seat.Label != "" {
		seatLabel = seat.Label
	}

	day := at.UTC().Format("2006-01-02")
	now := time.Now().UTC()
	rec := Record{
		ID:                RecordID(studentID, day, layoutID),
		StudentID:         studentID,
		SeatID:            asg.SeatID,
		SeatLabel:         seatLabel,
		LayoutID:          layoutID,
		Day:               day,
		ExpectedArrival:   atClock(day, e.policy.ExpectedArrival),
		ExpectedDeparture: atClock(day, e.policy.ExpectedDeparture),
		Status:            StatusNotArrived,
		CreatedBy:         method,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return e.repo.Ensure(ctx, rec)
}

// CheckIn transitions not_arrived (or checked_out, re-entry) to
// checked_in and derives lateness against the expected arrival.
func (e *Engine) CheckIn(ctx context.Context, studentID, layoutID, method string, at time.Time) (Record, error) {
	if !validMethod(method) {
		return Record{}, ErrBadMethod
	}
	at = at.UTC()

	rec, err := e.ensure(ctx, studentID, layoutID, method, at)
	if err != nil {
		return Record{}, err
	}

	switch rec.Status {
	case StatusAbsentExcused, StatusAbsentUnexcused:
		return Record{}, ErrAlreadyFinalized
	case StatusCheckedIn:
		return Record{}, ErrAlreadyCheckedIn
	}

	firstCycle := rec.ActualArrival == nil
	if firstCycle || e.policy.RecalcOnReentry {
		arrival := at
		rec.ActualArrival = &arrival
		rec.LateMinutes = clampMinutes(at.Sub(rec.ExpectedArrival))
		rec.IsLate = rec.LateMinutes > 0
	}
	rec.Status = StatusCheckedIn
	rec.UpdatedAt = time.Now().UTC()

	updated, err := e.repo.UpdateIf(ctx, rec, []string{StatusNotArrived, StatusCheckedOut})
	if err != nil {
		return Record{}, e.resolveStale(ctx, rec.ID, err, "checkin")
	}
	e.publish(ctx, updated)
	return updated, nil
}

// CheckOut transitions checked_in to checked_out and derives the
// early-leave metrics against the expected departure.
func (e *Engine) CheckOut(ctx context.Context, studentID, layoutID, method string, at time.Time) (Record, error) {
	if !validMethod(method) {
		return Record{}, ErrBadMethod
	}
	at = at.UTC()

	rec, err := e.ensure(ctx, studentID, layoutID, method, at)
	if err != nil {
		return Record{}, err
	}

	switch rec.Status {
	case StatusAbsentExcused, StatusAbsentUnexcused:
		return Record{}, ErrAlreadyFinalized
	case StatusNotArrived, StatusCheckedOut:
		return Record{}, ErrNotCheckedIn
	}

	firstCycle := rec.ActualDeparture == nil
	departure := at
	rec.ActualDeparture = &departure
	if firstCycle || e.policy.RecalcOnReentry {
		rec.EarlyLeaveMinutes = clampMinutes(rec.ExpectedDeparture.Sub(at))
		rec.IsEarlyLeave = rec.EarlyLeaveMinutes > 0
	}
	rec.Status = StatusCheckedOut
	rec.UpdatedAt = time.Now().UTC()

	updated, err := e.repo.UpdateIf(ctx, rec, []string{StatusCheckedIn})
	if err != nil {
		return Record{}, e.resolveStale(ctx, rec.ID, err, "checkout")
	}
	e.publish(ctx, updated)
	return updated, nil
}

// MarkAbsent finalizes a not_arrived record as excused or unexcused.
// Both states are terminal for the day.
func (e *Engine) MarkAbsent(ctx context.Context, studentID, layoutID, status, reason string, at time.Time) (Record, error) {
	if status != StatusAbsentExcused && status != StatusAbsentUnexcused {
		return Record{}, fmt.Errorf("invalid absence status %q", status)
	}
	if status == StatusAbsentExcused && reason == "" {
		return Record{}, ErrReasonRequired
	}

	rec, err := e.ensure(ctx, studentID, layoutID, MethodManual, at.UTC())
	if err != nil {
		return Record{}, err
	}

	switch rec.Status {
	case StatusAbsentExcused, StatusAbsentUnexcused:
		return Record{}, ErrAlreadyFinalized
	case StatusCheckedIn, StatusCheckedOut:
		return Record{}, ErrAlreadyPresent
	}

	rec.Status = status
	if reason != "" {
		rec.ExcusedReason = &reason
	}
	rec.UpdatedAt = time.Now().UTC()

	updated, err := e.repo.UpdateIf(ctx, rec, []string{StatusNotArrived})
	if err != nil {
		return Record{}, e.resolveStale(ctx, rec.ID, err, "absent")
	}
	e.publish(ctx, updated)
	return updated, nil
}

// Get returns the record for one student and day.
func (e *Engine) Get(ctx context.Context, studentID, layoutID, day string) (Record, error) {
	return e.repo.Get(ctx, RecordID(studentID, day, layoutID))
}

// ListDay returns all records for a layout and day.
func (e *Engine) ListDay(ctx context.Context, layoutID, day string) ([]Record, error) {
	return e.repo.ListDay(ctx, layoutID, day)
}

// resolveStale re-reads the record after a lost CAS race and maps its
// current status to the right caller-visible conflict.
func (e *Engine) resolveStale(ctx context.Context, id string, err error, op string) error {
	if !errors.Is(err, errStale) {
		return err
	}
	current, gerr := e.repo.Get(ctx, id)
	if gerr != nil {
		return err
	}
	switch current.Status {
	case StatusAbsentExcused, StatusAbsentUnexcused:
		return ErrAlreadyFinalized
	case StatusCheckedIn:
		if op == "absent" {
			return ErrAlreadyPresent
		}
		return ErrAlreadyCheckedIn
	case StatusCheckedOut:
		if op == "absent" {
			return ErrAlreadyPresent
		}
		return ErrNotCheckedIn
	}
	return err
}

func (e *Engine) publish(ctx context.Context, rec Record) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, events.New(events.TypeRecordTransitioned, rec)); err != nil {
		log.Printf("attendance: publish transition failed: %v", err)
	}
}

// atClock combines a 2006-01-02 day and HH:MM clock into a UTC instant.
func atClock(day, clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", day+" "+clock)
	if err != nil {
		t, _ = time.Parse("2006-01-02 15:04", day+" 09:00")
	}
	return t.UTC()
}

// clampMinutes converts a duration to whole minutes, floored at zero.
func clampMinutes(d time.Duration) int {
	m := int(d.Minutes())
	if m < 0 {
		return 0
	}
	return m
}
