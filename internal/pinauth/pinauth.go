package pinauth

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studyroom/internal/metrics"
)

var (
	// ErrLocked is returned when the credential is locked out.
	ErrLocked = errors.New("pin locked")
	// ErrMismatch is returned when the candidate does not match.
	ErrMismatch = errors.New("pin mismatch")
	// ErrBadPIN is returned when a new PIN is not 4-6 digits.
	ErrBadPIN = errors.New("pin must be 4-6 digits")
	// ErrNotFound is returned when no credential exists for the student.
	ErrNotFound = errors.New("pin credential not found")
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

const pinLength = 6

// ChangeEntry records one credential rotation.
type ChangeEntry struct {
	ChangedAt time.Time `json:"changed_at"`
	Source    string    `json:"source"` // generate | change
}

// Credential stores only the bcrypt hash of a student's PIN plus the
// lockout bookkeeping. The plaintext PIN exists only in the Generate
// return value.
type Credential struct {
	StudentID      string        `json:"student_id"`
	PinHash        string        `json:"-"`
	IsLocked       bool          `json:"is_locked"`
	FailedAttempts int           `json:"failed_attempts"`
	LastChangedAt  time.Time     `json:"last_changed_at"`
	History        []ChangeEntry `json:"history,omitempty"`
}

// Repository persists credentials. RecordFailure must be an atomic
// read-modify-write so concurrent wrong attempts cannot under-count
// and slip past the lockout threshold.
type Repository interface {
	Get(ctx context.Context, studentID string) (Credential, error)
	Put(ctx context.Context, cred Credential) error
	RecordFailure(ctx context.Context, studentID string, maxAttempts int) (attempts int, locked bool, err error)
	ResetFailures(ctx context.Context, studentID string) error
	ClearLock(ctx context.Context, studentID string) error
}

// Service issues, verifies and locks self-check-in PINs.
type Service struct {
	repo        Repository
	maxAttempts int
}

// NewService creates a service; maxAttempts below 1 falls back to 3.
func NewService(repo Repository, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Service{repo: repo, maxAttempts: maxAttempts}
}

// Generate issues a fresh random PIN, returning the plaintext exactly
// once. It clears any lockout, which makes regeneration the staff
// recovery path for a locked-out student.
func (s *Service) Generate(ctx context.Context, studentID string) (string, error) {
	if studentID == "" {
		return "", errors.New("student id required")
	}
	pin, err := randomPIN(pinLength)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	cred := Credential{
		StudentID:     studentID,
		PinHash:       string(hash),
		LastChangedAt: now,
	}
	if existing, gerr := s.repo.Get(ctx, studentID); gerr == nil {
		cred.History = existing.History
	}
	cred.History = append(cred.History, ChangeEntry{ChangedAt: now, Source: "generate"})
	if err := s.repo.Put(ctx, cred); err != nil {
		return "", err
	}
	return pin, nil
}

// Verify checks a candidate PIN. A locked credential fails before any
// hash comparison. The failure counter is incremented atomically and
// locks the credential at the threshold; a match resets it to zero.
func (s *Service) Verify(ctx context.Context, studentID, candidate string) error {
	cred, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return err
	}
	if cred.IsLocked {
		return ErrLocked
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PinHash), []byte(candidate)) != nil {
		attempts, locked, ferr := s.repo.RecordFailure(ctx, studentID, s.maxAttempts)
		if ferr != nil {
			return ferr
		}
		if locked && attempts == s.maxAttempts {
			metrics.PinLockouts.Inc()
		}
		return ErrMismatch
	}
	if err := s.repo.ResetFailures(ctx, studentID); err != nil {
		return err
	}
	return nil
}

// Change rotates the PIN to a caller-chosen value. Refused while locked.
func (s *Service) Change(ctx context.Context, studentID, newPIN string) error {
	cred, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return err
	}
	if cred.IsLocked {
		return ErrLocked
	}
	if !pinPattern.MatchString(newPIN) {
		return ErrBadPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPIN), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	cred.PinHash = string(hash)
	cred.IsLocked = false
	cred.FailedAttempts = 0
	cred.LastChangedAt = now
	cred.History = append(cred.History, ChangeEntry{ChangedAt: now, Source: "change"})
	return s.repo.Put(ctx, cred)
}

// Unlock clears a lockout when the caller proves knowledge of the
// current PIN. Students who no longer know it go through Generate.
func (s *Service) Unlock(ctx context.Context, studentID, currentPIN string) error {
	cred, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PinHash), []byte(currentPIN)) != nil {
		return ErrMismatch
	}
	return s.repo.ClearLock(ctx, studentID)
}

// Status returns the credential's lockout state for staff display.
func (s *Service) Status(ctx context.Context, studentID string) (Credential, error) {
	return s.repo.Get(ctx, studentID)
}

// randomPIN draws n crypto-random digits.
func randomPIN(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}
