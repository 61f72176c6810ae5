package assignment

import (
	"context"
	"errors"
	"log"
	"time"

	"studyroom/internal/events"
	"studyroom/internal/layout"
)

var (
	// ErrSeatOccupied is returned when the seat already has an active assignment.
	ErrSeatOccupied = errors.New("seat already assigned")
	// ErrStudentAssigned is returned when the student already holds a seat in the layout.
	ErrStudentAssigned = errors.New("student already assigned in layout")
	// ErrNotFound is returned when an assignment is missing or already released.
	ErrNotFound = errors.New("assignment not found")
)

// Statuses of an assignment. Released rows are kept as audit history.
const (
	StatusActive   = "active"
	StatusReleased = "released"
)

// Assignment binds one student to one seat within one layout.
type Assignment struct {
	ID         string     `json:"id"`
	SeatID     string     `json:"seat_id"`
	StudentID  string     `json:"student_id"`
	LayoutID   string     `json:"layout_id"`
	Status     string     `json:"status"`
	AssignedAt time.Time  `json:"assigned_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Repository persists assignments. CreateActive must be atomic: the
// exclusivity checks and the insert happen as one conditional write so
// two concurrent assigns cannot both pass.
type Repository interface {
	CreateActive(ctx context.Context, a Assignment) (Assignment, error)
	Release(ctx context.Context, id string, at time.Time) (Assignment, error)
	Get(ctx context.Context, id string) (Assignment, error)
	ActiveForLayout(ctx context.Context, layoutID string) ([]Assignment, error)
	ActiveForStudent(ctx context.Context, studentID, layoutID string) (Assignment, error)
}

// Manager enforces seat and student exclusivity over a repository.
type Manager struct {
	repo    Repository
	layouts *layout.Store
	bus     events.Bus
}

// NewManager creates a manager. bus may be nil in tests.
func NewManager(repo Repository, layouts *layout.Store, bus events.Bus) *Manager {
	return &Manager{repo: repo, layouts: layouts, bus: bus}
}

// Assign binds a student to a seat. The seat must belong to the layout,
// be unoccupied, and the student must not already hold a seat there.
func (m *Manager) Assign(ctx context.Context, seatID, studentID, layoutID string) (Assignment, error) {
	if seatID == "" || studentID == "" || layoutID == "" {
		return Assignment{}, errors.New("seat, student and layout required")
	}
	if _, err := m.layouts.SeatInLayout(ctx, layoutID, seatID); err != nil {
		return Assignment{}, err
	}

	a := Assignment{
		SeatID:     seatID,
		StudentID:  studentID,
		LayoutID:   layoutID,
		Status:     StatusActive,
		AssignedAt: time.Now().UTC(),
	}
	created, err := m.repo.CreateActive(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	m.publish(ctx, events.TypeAssignmentCreated, created)
	return created, nil
}

// Unassign releases an active assignment. History is preserved; the
// row flips to released, it is never deleted.
func (m *Manager) Unassign(ctx context.Context, assignmentID string) error {
	released, err := m.repo.Release(ctx, assignmentID, time.Now().UTC())
	if err != nil {
		return err
	}
	m.publish(ctx, events.TypeAssignmentReleased, released)
	return nil
}

// Get returns one assignment by id, released or not.
func (m *Manager) Get(ctx context.Context, assignmentID string) (Assignment, error) {
	return m.repo.Get(ctx, assignmentID)
}

// ActiveForLayout lists active assignments for a layout.
func (m *Manager) ActiveForLayout(ctx context.Context, layoutID string) ([]Assignment, error) {
	return m.repo.ActiveForLayout(ctx, layoutID)
}

// ActiveForStudent resolves the student's active assignment in a layout.
func (m *Manager) ActiveForStudent(ctx context.Context, studentID, layoutID string) (Assignment, error) {
	return m.repo.ActiveForStudent(ctx, studentID, layoutID)
}

func (m *Manager) publish(ctx context.Context, typ string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, events.New(typ, payload)); err != nil {
		log.Printf("assignment: publish %s failed: %v", typ, err)
	}
}
