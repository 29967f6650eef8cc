package repository

import (
	"context"
	"sync"

	"social-notify/backend/internal/account/domain"
)

// MemoryRepository keeps accounts in process memory.
type MemoryRepository struct {
	mu         sync.Mutex
	byEmail    map[string]*domain.Account
	byUsername map[string]*domain.Account
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail:    make(map[string]*domain.Account),
		byUsername: make(map[string]*domain.Account),
	}
}

// GetByEmail returns a copy of the account for email, or nil if not found.
func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byEmail[email]), nil
}

// GetByUsername returns a copy of the account for username, or nil if not found.
func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byUsername[username]), nil
}

// Create stores a copy of a.
func (r *MemoryRepository) Create(_ context.Context, a *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[a.Email]; ok {
		return ErrDuplicateEmail
	}
	if _, ok := r.byUsername[a.Username]; ok {
		return ErrDuplicateUsername
	}
	c := *a
	r.byEmail[a.Email] = &c
	r.byUsername[a.Username] = &c
	return nil
}

func clone(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
