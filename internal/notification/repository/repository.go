// Package repository persists notification records.
package repository

import (
	"context"
	"errors"
	"fmt"

	"social-notify/backend/internal/notification/domain"
)

// ErrStoreUnavailable wraps every backend failure. Callers treat it as fatal to the operation.
var ErrStoreUnavailable = errors.New("notification store unavailable")

// Store is the durable append/query interface for notifications.
type Store interface {
	// Append persists a new record for recipient and returns it with ID and CreatedAt assigned.
	// IDs increase monotonically within a store.
	Append(ctx context.Context, recipient, message string) (*domain.Record, error)
	// ListFor returns recipient's records in creation order. limit > 0 keeps only the newest limit records.
	ListFor(ctx context.Context, recipient string, limit int) ([]*domain.Record, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
