package checklink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is a mutex-guarded in-memory repository; RecordUsage
// increments under the lock so counts never go missing.
type MemRepository struct {
	mu    sync.Mutex
	links map[string]CheckLink // keyed by token
}

// NewMemRepository creates an empty in-memory repo.
func NewMemRepository() *MemRepository {
	return &MemRepository{links: make(map[string]CheckLink)}
}

// Create stores a new link.
func (r *MemRepository) Create(ctx context.Context, link CheckLink) (CheckLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	r.links[link.Token] = link
	return link, nil
}

// GetByToken returns the link for a token.
func (r *MemRepository) GetByToken(ctx context.Context, token string) (CheckLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[token]
	if !ok {
		return CheckLink{}, ErrNotFound
	}
	return link, nil
}

// List returns the links for a layout, newest first.
func (r *MemRepository) List(ctx context.Context, layoutID string) ([]CheckLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []CheckLink
	for _, link := range r.links {
		if link.LayoutID == layoutID {
			res = append(res, link)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// SetActive flips the active flag.
func (r *MemRepository) SetActive(ctx context.Context, token string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[token]
	if !ok {
		return ErrNotFound
	}
	link.IsActive = active
	r.links[token] = link
	return nil
}

// Delete removes the link.
func (r *MemRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[token]; !ok {
		return ErrNotFound
	}
	delete(r.links, token)
	return nil
}

// RecordUsage bumps the counter atomically.
func (r *MemRepository) RecordUsage(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[token]
	if !ok {
		return ErrNotFound
	}
	link.UsageCount++
	link.LastUsedAt = &at
	r.links[token] = link
	return nil
}
