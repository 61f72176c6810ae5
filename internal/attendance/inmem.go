package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepository is a mutex-guarded in-memory repository. Ensure and
// UpdateIf hold the lock across check and write, matching the
// atomicity of the Postgres upsert and conditional update.
type MemRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemRepository creates an empty in-memory repo.
func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[string]Record)}
}

// Ensure returns the existing record or stores the given one.
func (r *MemRepository) Ensure(ctx context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[rec.ID]; ok {
		return existing, nil
	}
	r.records[rec.ID] = rec
	return rec, nil
}

// UpdateIf applies the record while its status is still one of fromStatuses.
func (r *MemRepository) UpdateIf(ctx context.Context, rec Record, fromStatuses []string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[rec.ID]
	if !ok {
		return Record{}, ErrNotFound
	}
	allowed := false
	for _, s := range fromStatuses {
		if current.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return Record{}, errStale
	}
	rec.UpdatedAt = time.Now().UTC()
	r.records[rec.ID] = rec
	return rec, nil
}

// Get returns one record by composite id.
func (r *MemRepository) Get(ctx context.Context, id string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// ListDay returns all records for a layout and day ordered by seat label.
func (r *MemRepository) ListDay(ctx context.Context, layoutID, day string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Record
	for _, rec := range r.records {
		if rec.LayoutID == layoutID && rec.Day == day {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SeatLabel < res[j].SeatLabel })
	return res, nil
}
