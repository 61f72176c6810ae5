package checklink

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"time"

	"studyroom/internal/events"
	"studyroom/internal/layout"
)

var (
	// ErrNotFound is returned for an unknown token.
	ErrNotFound = errors.New("check link not found")
	// ErrInactive is returned when the link has been switched off.
	ErrInactive = errors.New("check link inactive")
	// ErrExpired is returned when the link is past its expiry. Expiry
	// is checked before the active flag and always wins.
	ErrExpired = errors.New("check link expired")
)

// CheckLink lets an unauthenticated device trigger check-in/out for a
// layout through an opaque token.
type CheckLink struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	LayoutID    string     `json:"layout_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	IsActive    bool       `json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UsageCount  int64      `json:"usage_count"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Repository persists check links. RecordUsage must be an atomic
// counter increment.
type Repository interface {
	Create(ctx context.Context, link CheckLink) (CheckLink, error)
	GetByToken(ctx context.Context, token string) (CheckLink, error)
	List(ctx context.Context, layoutID string) ([]CheckLink, error)
	SetActive(ctx context.Context, token string, active bool) error
	Delete(ctx context.Context, token string) error
	RecordUsage(ctx context.Context, token string, at time.Time) error
}

// Service issues and validates check links.
type Service struct {
	repo    Repository
	layouts *layout.Store
	bus     events.Bus
}

// NewService creates a service. bus may be nil in tests.
func NewService(repo Repository, layouts *layout.Store, bus events.Bus) *Service {
	return &Service{repo: repo, layouts: layouts, bus: bus}
}

// Create issues a new active link for a layout. expiresAt may be nil
// for a link without a deadline.
func (s *Service) Create(ctx context.Context, layoutID, title, description string, expiresAt *time.Time) (CheckLink, error) {
	if title == "" {
		return CheckLink{}, errors.New("title required")
	}
	if _, err := s.layouts.Get(ctx, layoutID); err != nil {
		return CheckLink{}, err
	}
	token, err := newToken()
	if err != nil {
		return CheckLink{}, err
	}
	link := CheckLink{
		Token:       token,
		LayoutID:    layoutID,
		Title:       title,
		Description: description,
		IsActive:    true,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}
	return s.repo.Create(ctx, link)
}

// Resolve validates a token and returns the link. Expiry beats the
// active flag: an expired link is rejected even while is_active holds.
func (s *Service) Resolve(ctx context.Context, token string) (CheckLink, error) {
	link, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return CheckLink{}, err
	}
	if link.ExpiresAt != nil && link.ExpiresAt.Before(time.Now().UTC()) {
		return CheckLink{}, ErrExpired
	}
	if !link.IsActive {
		return CheckLink{}, ErrInactive
	}
	return link, nil
}

// RecordUsage bumps the usage counter after a successful check-in/out
// through the link.
func (s *Service) RecordUsage(ctx context.Context, token string) error {
	now := time.Now().UTC()
	if err := s.repo.RecordUsage(ctx, token, now); err != nil {
		return err
	}
	if s.bus != nil {
		evt := events.New(events.TypeLinkUsed, map[string]string{"token": token, "used_at": now.Format(time.RFC3339)})
		if err := s.bus.Publish(ctx, evt); err != nil {
			log.Printf("checklink: publish usage failed: %v", err)
		}
	}
	return nil
}

// Toggle flips the active flag.
func (s *Service) Toggle(ctx context.Context, token string, active bool) error {
	return s.repo.SetActive(ctx, token, active)
}

// Delete removes the link entirely.
func (s *Service) Delete(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, token)
}

// List returns the links for a layout.
func (s *Service) List(ctx context.Context, layoutID string) ([]CheckLink, error) {
	return s.repo.List(ctx, layoutID)
}

// newToken draws 32 bytes of crypto randomness, base64url-encoded.
func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
