package assignment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is a mutex-guarded in-memory repository. The mutex
// spans the conflict check and the insert, matching the atomicity the
// Postgres partial unique indexes give.
type MemRepository struct {
	mu          sync.Mutex
	assignments map[string]Assignment
}

// NewMemRepository creates an empty in-memory repo.
func NewMemRepository() *MemRepository {
	return &MemRepository{assignments: make(map[string]Assignment)}
}

// CreateActive checks exclusivity and inserts under one lock.
func (r *MemRepository) CreateActive(ctx context.Context, a Assignment) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.assignments {
		if existing.Status != StatusActive {
			continue
		}
		if existing.SeatID == a.SeatID {
			return Assignment{}, ErrSeatOccupied
		}
		if existing.StudentID == a.StudentID && existing.LayoutID == a.LayoutID {
			return Assignment{}, ErrStudentAssigned
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = StatusActive
	r.assignments[a.ID] = a
	return a, nil
}

// Release flips an active assignment to released.
func (r *MemRepository) Release(ctx context.Context, id string, at time.Time) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok || a.Status != StatusActive {
		return Assignment{}, ErrNotFound
	}
	a.Status = StatusReleased
	a.ReleasedAt = &at
	r.assignments[id] = a
	return a, nil
}

// Get returns one assignment by id.
func (r *MemRepository) Get(ctx context.Context, id string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

// ActiveForLayout lists active assignments, oldest first.
func (r *MemRepository) ActiveForLayout(ctx context.Context, layoutID string) ([]Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Assignment
	for _, a := range r.assignments {
		if a.LayoutID == layoutID && a.Status == StatusActive {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AssignedAt.Before(res[j].AssignedAt) })
	return res, nil
}

// ActiveForStudent returns the student's active assignment in a layout.
func (r *MemRepository) ActiveForStudent(ctx context.Context, studentID, layoutID string) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assignments {
		if a.StudentID == studentID && a.LayoutID == layoutID && a.Status == StatusActive {
			return a, nil
		}
	}
	return Assignment{}, ErrNotFound
}
