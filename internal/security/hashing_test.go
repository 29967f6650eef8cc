package security

import (
	"errors"
	"strings"
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	hash, err := h.Hash([]byte("secret123"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("secret123")); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong password should fail")
	}
}

func TestHasher_Cost(t *testing.T) {
	if h := NewHasher(12); h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h.Cost)
	}
	if h := NewHasher(99); h.Cost != 31 {
		t.Errorf("cost above MaxCost should clamp to 31, got %d", h.Cost)
	}
}

func TestHasher_PasswordLength(t *testing.T) {
	h := NewHasher(4)
	if _, err := h.Hash(nil); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Hash(nil) want ErrEmptyPassword, got %v", err)
	}
	limit := []byte(strings.Repeat("a", MaxPasswordBytes))
	hash, err := h.Hash(limit)
	if err != nil {
		t.Fatalf("Hash at limit: %v", err)
	}
	over := append(limit, 'b')
	if _, err := h.Hash(over); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("Hash over limit want ErrPasswordTooLong, got %v", err)
	}
	if err := h.Compare(hash, over); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("Compare with truncated-prefix match want ErrPasswordTooLong, got %v", err)
	}
}
