package repository

import (
	"context"
	"sync"
	"time"

	"social-notify/backend/internal/notification/domain"
)

// MemoryStore is an in-process Store used when no DATABASE_URL is configured.
// Records do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byUser map[string][]*domain.Record
	nowF   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string][]*domain.Record),
		nowF:   time.Now,
	}
}

// Append stores a copy of the new record.
func (s *MemoryStore) Append(ctx context.Context, recipient, message string) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := &domain.Record{
		ID:        s.nextID,
		Recipient: recipient,
		Message:   message,
		CreatedAt: s.nowF().UTC(),
	}
	s.byUser[recipient] = append(s.byUser[recipient], rec)
	out := *rec
	return &out, nil
}

// ListFor returns copies of recipient's records oldest first.
func (s *MemoryStore) ListFor(ctx context.Context, recipient string, limit int) ([]*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.byUser[recipient]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]*domain.Record, 0, len(recs))
	for _, r := range recs {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }
