package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"social-notify/backend/internal/account/domain"
	"social-notify/backend/internal/account/repository"
	"social-notify/backend/internal/security"
)

type memAccountRepo struct {
	mu         sync.Mutex
	byEmail    map[string]*domain.Account
	byUsername map[string]*domain.Account
	getErr     error
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{
		byEmail:    make(map[string]*domain.Account),
		byUsername: make(map[string]*domain.Account),
	}
}

func (m *memAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byEmail[email], nil
}

func (m *memAccountRepo) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byUsername[username], nil
}

func (m *memAccountRepo) Create(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[a.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	if _, ok := m.byUsername[a.Username]; ok {
		return repository.ErrDuplicateUsername
	}
	m.byEmail[a.Email] = a
	m.byUsername[a.Username] = a
	return nil
}

func newTestService(repo repository.Repository) (*Service, *security.TokenCodec) {
	tokens := security.NewTestTokenCodec(nil)
	return NewService(repo, security.NewHasher(bcrypt.MinCost), tokens), tokens
}

func TestRegister_NormalizesEmailAndHashes(t *testing.T) {
	repo := newMemAccountRepo()
	svc, _ := newTestService(repo)

	acc, err := svc.Register(context.Background(), " Alice ", "  Alice@Example.COM ", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acc.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", acc.Email)
	}
	if acc.Username != "alice" {
		t.Errorf("Username = %q, want alice", acc.Username)
	}
	if acc.ID == "" {
		t.Error("ID is empty")
	}
	stored := repo.byEmail["alice@example.com"]
	if stored == nil {
		t.Fatal("account not persisted")
	}
	if stored.PasswordHash == "correct horse" {
		t.Error("password stored in plaintext")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(newMemAccountRepo())
	tests := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"empty username", "", "alice@example.com", "correct horse"},
		{"short username", "al", "alice@example.com", "correct horse"},
		{"username with space", "alice smith", "alice@example.com", "correct horse"},
		{"empty email", "alice", "", "correct horse"},
		{"bad email", "alice", "not-an-email", "correct horse"},
		{"short password", "alice", "alice@example.com", "short"},
		{"long password", "alice", "alice@example.com", strings.Repeat("x", security.MaxPasswordBytes+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.username, tt.email, tt.password)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := newTestService(newMemAccountRepo())
	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(context.Background(), "alice2", "ALICE@example.com", "another pass")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("err = %v, want ErrEmailTaken", err)
	}
	_, err = svc.Register(context.Background(), "ALICE", "other@example.com", "another pass")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestLogin_IssuesTokenForEmail(t *testing.T) {
	svc, tokens := newTestService(newMemAccountRepo())
	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	token, expiresAt, err := svc.Login(context.Background(), "Alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if expiresAt.Before(time.Now()) {
		t.Errorf("expiresAt = %v, want future", expiresAt)
	}
	sub, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "alice@example.com" {
		t.Errorf("subject = %q, want alice@example.com", sub)
	}
}

func TestLogin_ByUsername(t *testing.T) {
	svc, tokens := newTestService(newMemAccountRepo())
	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(context.Background(), "Alice", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	sub, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "alice@example.com" {
		t.Errorf("subject = %q, want the account email", sub)
	}
}

func TestLookup(t *testing.T) {
	svc, _ := newTestService(newMemAccountRepo())
	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	acc, err := svc.Lookup(context.Background(), "ALICE@example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if acc.Username != "alice" || acc.Email != "alice@example.com" {
		t.Errorf("Lookup = %+v", acc)
	}
	if _, err := svc.Lookup(context.Background(), "ghost@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, _ := newTestService(newMemAccountRepo())
	if _, err := svc.Register(context.Background(), "alice", "alice@example.com", "correct horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tests := []struct {
		name, email, password string
	}{
		{"wrong password", "alice@example.com", "battery staple"},
		{"unknown email", "bob@example.com", "correct horse"},
		{"unknown username", "bob", "correct horse"},
		{"password past bcrypt limit", "alice@example.com", "correct horse" + strings.Repeat("x", security.MaxPasswordBytes)},
		{"empty password", "alice@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Login(context.Background(), tt.email, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLogin_RepositoryError(t *testing.T) {
	repo := newMemAccountRepo()
	repo.getErr = errors.New("db down")
	svc, _ := newTestService(repo)
	_, _, err := svc.Login(context.Background(), "alice@example.com", "correct horse")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want repository error", err)
	}
}
