package repository

import (
	"context"
	"database/sql"
	"time"

	"social-notify/backend/internal/db"
	"social-notify/backend/internal/notification/domain"
)

const (
	insertNotification = `INSERT INTO notifications (recipient, message, created_at) VALUES (?, ?, ?) RETURNING id`
	listNotifications  = `SELECT id, recipient, message, created_at FROM notifications WHERE recipient = ? ORDER BY id ASC`
	listLatest         = `SELECT id, recipient, message, created_at FROM (
		SELECT id, recipient, message, created_at FROM notifications WHERE recipient = ? ORDER BY id DESC LIMIT ?
	) latest ORDER BY id ASC`
)

// SQLStore implements Store on Postgres or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
	nowF   func() time.Time
}

// NewSQLStore returns a Store backed by conn. conn must already be migrated.
func NewSQLStore(conn *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{db: conn, driver: driver, nowF: time.Now}
}

// Append inserts one record. The ID comes from the table's sequence.
func (s *SQLStore) Append(ctx context.Context, recipient, message string) (*domain.Record, error) {
	rec := &domain.Record{
		Recipient: recipient,
		Message:   message,
		// Microseconds is the common precision of both backends.
		CreatedAt: s.nowF().UTC().Truncate(time.Microsecond),
	}
	err := s.db.QueryRowContext(ctx, db.Rebind(s.driver, insertNotification), rec.Recipient, rec.Message, rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return nil, unavailable("append", err)
	}
	return rec, nil
}

// ListFor returns recipient's records oldest first.
func (s *SQLStore) ListFor(ctx context.Context, recipient string, limit int) ([]*domain.Record, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, db.Rebind(s.driver, listLatest), recipient, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, db.Rebind(s.driver, listNotifications), recipient)
	}
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	out := make([]*domain.Record, 0)
	for rows.Next() {
		rec := &domain.Record{}
		if err := rows.Scan(&rec.ID, &rec.Recipient, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, unavailable("list", err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Ping reports whether the backing database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}
