package layout

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a layout id is unknown.
	ErrNotFound = errors.New("layout not found")
	// ErrSeatNotFound is returned when a seat does not belong to the layout.
	ErrSeatNotFound = errors.New("seat not found in layout")
)

// Group is a rectangular block of seats within a layout.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Seat is a single bookable position.
type Seat struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Label   string `json:"label"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// SeatLayout is a named floor plan of groups and seats. The engine
// treats it as read-only; geometry editing happens elsewhere.
type SeatLayout struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Groups    []Group   `json:"groups"`
	Seats     []Seat    `json:"seats"`
	CreatedAt time.Time `json:"created_at"`
}

// SeatByID returns the seat with the given id, if present.
func (l SeatLayout) SeatByID(seatID string) (Seat, bool) {
	for _, s := range l.Seats {
		if s.ID == seatID {
			return s, true
		}
	}
	return Seat{}, false
}

// Repository persists seat layouts.
type Repository interface {
	CreateLayout(ctx context.Context, l SeatLayout) (SeatLayout, error)
	GetLayout(ctx context.Context, id string) (SeatLayout, error)
	ListLayouts(ctx context.Context) ([]SeatLayout, error)
}

// Store wraps a Repository with validation and seat lookups.
type Store struct {
	repo Repository
}

// NewStore creates a layout store backed by a repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Create persists a new layout.
func (s *Store) Create(ctx context.Context, l SeatLayout) (SeatLayout, error) {
	if l.Name == "" {
		return SeatLayout{}, errors.New("layout name required")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	return s.repo.CreateLayout(ctx, l)
}

// Get fetches a layout by id.
func (s *Store) Get(ctx context.Context, id string) (SeatLayout, error) {
	return s.repo.GetLayout(ctx, id)
}

// List returns all layouts.
func (s *Store) List(ctx context.Context) ([]SeatLayout, error) {
	return s.repo.ListLayouts(ctx)
}

// SeatInLayout resolves a seat within a layout, or ErrSeatNotFound.
func (s *Store) SeatInLayout(ctx context.Context, layoutID, seatID string) (Seat, error) {
	l, err := s.repo.GetLayout(ctx, layoutID)
	if err != nil {
		return Seat{}, err
	}
	seat, ok := l.SeatByID(seatID)
	if !ok {
		return Seat{}, ErrSeatNotFound
	}
	return seat, nil
}
