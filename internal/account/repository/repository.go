// Package repository persists accounts.
package repository

import (
	"context"
	"errors"

	"social-notify/backend/internal/account/domain"
)

// Errors returned by Create when a unique field is already registered.
var (
	ErrDuplicateEmail    = errors.New("account email already exists")
	ErrDuplicateUsername = errors.New("account username already exists")
)

// Repository defines persistence for accounts.
type Repository interface {
	// GetByEmail returns the account for email, or nil if not found.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// GetByUsername returns the account for username, or nil if not found.
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
}
