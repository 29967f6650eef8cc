package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"social-notify/backend/internal/account/domain"
	"social-notify/backend/internal/db"
)

const (
	selectAccount    = `SELECT id, username, email, password_hash, created_at FROM accounts`
	selectByEmail    = selectAccount + ` WHERE email = ?`
	selectByUsername = selectAccount + ` WHERE username = ?`
	insertAccount    = `INSERT INTO accounts (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// SQLRepository stores accounts in Postgres or SQLite.
type SQLRepository struct {
	db     *sql.DB
	driver db.Driver
}

// NewSQLRepository returns an account repository that uses conn for persistence.
func NewSQLRepository(conn *sql.DB, driver db.Driver) *SQLRepository {
	return &SQLRepository{db: conn, driver: driver}
}

// GetByEmail returns the account with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, selectByEmail, email)
}

// GetByUsername returns the account with the given username, or nil if not found.
func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return r.getOne(ctx, selectByUsername, username)
}

func (r *SQLRepository) getOne(ctx context.Context, query, arg string) (*domain.Account, error) {
	a := &domain.Account{}
	err := r.db.QueryRowContext(ctx, db.Rebind(r.driver, query), arg).
		Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// Create persists a. The account must have ID set; it is not assigned by this method.
// A unique violation maps to ErrDuplicateUsername or ErrDuplicateEmail by the column it hit.
func (r *SQLRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx, db.Rebind(r.driver, insertAccount), a.ID, a.Username, a.Email, a.PasswordHash, a.CreatedAt)
	if column, ok := uniqueViolation(err); ok {
		if strings.Contains(column, "username") {
			return ErrDuplicateUsername
		}
		return ErrDuplicateEmail
	}
	return err
}

// uniqueViolation reports whether err is a unique constraint failure and, if so, the
// constraint or message text naming the offending column.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Error(), liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return "", false
}
