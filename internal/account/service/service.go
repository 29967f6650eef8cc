// Package service implements account registration and password login.
package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"social-notify/backend/internal/account/domain"
	"social-notify/backend/internal/account/repository"
	"social-notify/backend/internal/security"
)

// Sentinel errors; the HTTP layer maps them to status codes.
var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
)

// Service registers accounts and issues access tokens whose subject is the account email.
type Service struct {
	repo   repository.Repository
	hasher *security.Hasher
	tokens *security.TokenCodec
	now    func() time.Time
}

// NewService returns a Service with the given dependencies.
func NewService(repo repository.Repository, hasher *security.Hasher, tokens *security.TokenCodec) *Service {
	return &Service{repo: repo, hasher: hasher, tokens: tokens, now: time.Now}
}

// NormalizeEmail trims and lowercases email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims and lowercases username so uniqueness is case-insensitive.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Register creates an account with the given username, email and password.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.Account, error) {
	username = NormalizeUsername(username)
	email = NormalizeEmail(email)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	existing, err = s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	acc := &domain.Account{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return acc, nil
}

// Login checks the password of the account named by login, which is either its email
// or its username, and returns a signed access token with its expiry. The token subject
// is always the account email.
func (s *Service) Login(ctx context.Context, login, password string) (string, time.Time, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" || password == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	var (
		acc *domain.Account
		err error
	)
	if strings.Contains(login, "@") {
		acc, err = s.repo.GetByEmail(ctx, login)
	} else {
		acc, err = s.repo.GetByUsername(ctx, login)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	if acc == nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(acc.PasswordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.tokens.Issue(acc.Email)
}

// Lookup returns the account for email, or ErrAccountNotFound if none exists.
func (s *Service) Lookup(ctx context.Context, email string) (*domain.Account, error) {
	acc, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

func validateUsername(username string) error {
	if username == "" {
		return invalid("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return invalid("username must be 3-32 letters, digits, dots, dashes or underscores")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email is required")
	}
	if !emailPattern.MatchString(email) {
		return invalid("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < MinPasswordLength {
		return invalid("password must be at least 8 characters")
	}
	if len(password) > security.MaxPasswordBytes {
		return invalid(security.ErrPasswordTooLong.Error())
	}
	return nil
}

type inputError struct{ msg string }

func (e *inputError) Error() string        { return e.msg }
func (e *inputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(msg string) error { return &inputError{msg: msg} }
