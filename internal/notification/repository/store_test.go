package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"social-notify/backend/internal/db"
	"social-notify/backend/internal/db/migrate"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := db.Open(db.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Up(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(conn, db.SQLite)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_AppendAndList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Append(ctx, "alice@example.com", "bob liked your post")
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			second, err := s.Append(ctx, "alice@example.com", "carol commented")
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if _, err := s.Append(ctx, "bob@example.com", "unrelated"); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if second.ID <= first.ID {
				t.Errorf("ids must increase: first=%d second=%d", first.ID, second.ID)
			}
			if first.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}

			got, err := s.ListFor(ctx, "alice@example.com", 0)
			if err != nil {
				t.Fatalf("ListFor: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("ListFor: got %d records want 2", len(got))
			}
			if got[0].Message != "bob liked your post" || got[1].Message != "carol commented" {
				t.Errorf("ListFor order: got %q, %q", got[0].Message, got[1].Message)
			}
			if got[0].ID != first.ID || !got[0].CreatedAt.Equal(first.CreatedAt) {
				t.Errorf("ListFor: got %+v want %+v", got[0], first)
			}
		})
	}
}

func TestStore_ListLimitKeepsNewest(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				if _, err := s.Append(ctx, "alice@example.com", fmt.Sprintf("m%d", i)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			got, err := s.ListFor(ctx, "alice@example.com", 2)
			if err != nil {
				t.Fatalf("ListFor: %v", err)
			}
			if len(got) != 2 || got[0].Message != "m3" || got[1].Message != "m4" {
				t.Errorf("ListFor limit 2: got %v", got)
			}
		})
	}
}

func TestStore_ListUnknownRecipient(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.ListFor(context.Background(), "nobody@example.com", 0)
			if err != nil {
				t.Fatalf("ListFor: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("want empty non-nil slice, got %#v", got)
			}
		})
	}
}

func TestSQLStore_ClosedDatabaseIsUnavailable(t *testing.T) {
	conn, err := db.Open(db.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := NewSQLStore(conn, db.SQLite)
	conn.Close()

	if _, err := s.Append(context.Background(), "alice@example.com", "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Append: want ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.ListFor(context.Background(), "alice@example.com", 0); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("ListFor: want ErrStoreUnavailable, got %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Ping: want ErrStoreUnavailable, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Append(ctx, "alice@example.com", "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestSQLStore_CreatedAtUsesClock(t *testing.T) {
	s := newSQLiteStore(t)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 123456000, time.UTC)
	s.nowF = func() time.Time { return fixed }
	rec, err := s.Append(context.Background(), "alice@example.com", "x")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, _ := s.ListFor(context.Background(), "alice@example.com", 0)
	if !rec.CreatedAt.Equal(fixed) || !got[0].CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt: append %v list %v want %v", rec.CreatedAt, got[0].CreatedAt, fixed)
	}
}
