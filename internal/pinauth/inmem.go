package pinauth

import (
	"context"
	"sync"
)

// MemRepository is a mutex-guarded in-memory repository. RecordFailure
// holds the lock across read and write to match the Postgres UPDATE.
type MemRepository struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewMemRepository creates an empty in-memory repo.
func NewMemRepository() *MemRepository {
	return &MemRepository{creds: make(map[string]Credential)}
}

// Get returns one credential.
func (r *MemRepository) Get(ctx context.Context, studentID string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[studentID]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

// Put upserts the credential.
func (r *MemRepository) Put(ctx context.Context, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.StudentID] = cred
	return nil
}

// RecordFailure bumps the counter and locks at the threshold atomically.
func (r *MemRepository) RecordFailure(ctx context.Context, studentID string, maxAttempts int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[studentID]
	if !ok {
		return 0, false, ErrNotFound
	}
	cred.FailedAttempts++
	if cred.FailedAttempts >= maxAttempts {
		cred.IsLocked = true
	}
	r.creds[studentID] = cred
	return cred.FailedAttempts, cred.IsLocked, nil
}

// ResetFailures zeroes the counter.
func (r *MemRepository) ResetFailures(ctx context.Context, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[studentID]
	if !ok {
		return ErrNotFound
	}
	cred.FailedAttempts = 0
	r.creds[studentID] = cred
	return nil
}

// ClearLock removes the lockout and zeroes the counter.
func (r *MemRepository) ClearLock(ctx context.Context, studentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[studentID]
	if !ok {
		return ErrNotFound
	}
	cred.IsLocked = false
	cred.FailedAttempts = 0
	r.creds[studentID] = cred
	return nil
}
