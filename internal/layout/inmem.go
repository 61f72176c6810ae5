package layout

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemRepository is a mutex-guarded in-memory repository used by tests
// and the memory storage backend.
type MemRepository struct {
	mu      sync.RWMutex
	layouts map[string]SeatLayout
}

// NewMemRepository creates an empty in-memory repo.
func NewMemRepository() *MemRepository {
	return &MemRepository{layouts: make(map[string]SeatLayout)}
}

// CreateLayout stores a copy of the layout.
func (r *MemRepository) CreateLayout(ctx context.Context, l SeatLayout) (SeatLayout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	r.layouts[l.ID] = l
	return l, nil
}

// GetLayout returns a layout by id.
func (r *MemRepository) GetLayout(ctx context.Context, id string) (SeatLayout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.layouts[id]
	if !ok {
		return SeatLayout{}, ErrNotFound
	}
	return l, nil
}

// ListLayouts returns all layouts, newest first.
func (r *MemRepository) ListLayouts(ctx context.Context) ([]SeatLayout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]SeatLayout, 0, len(r.layouts))
	for _, l := range r.layouts {
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
