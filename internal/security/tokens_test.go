package security

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestTokenCodec_IssueAndVerify(t *testing.T) {
	clock := newClock()
	c := NewTestTokenCodec(clock.Now)

	token, exp, err := c.Issue("alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if token == "" {
		t.Fatal("token empty")
	}
	if want := clock.Now().Add(DefaultTokenTTL); !exp.Equal(want) {
		t.Errorf("expiresAt: got %v want %v", exp, want)
	}

	sub, err := c.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "alice@example.com" {
		t.Errorf("subject: got %q want %q", sub, "alice@example.com")
	}
}

func TestTokenCodec_Expiry(t *testing.T) {
	testCases := []struct {
		name    string
		advance time.Duration
		valid   bool
	}{
		{"fresh", 0, true},
		{"one second before expiry", DefaultTokenTTL - time.Second, true},
		{"exactly at expiry", DefaultTokenTTL, false},
		{"after expiry", DefaultTokenTTL + time.Minute, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newClock()
			c := NewTestTokenCodec(clock.Now)
			token, _, err := c.Issue("bob@example.com")
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			clock.Advance(tc.advance)
			sub, err := c.Verify(token)
			if tc.valid {
				if err != nil || sub != "bob@example.com" {
					t.Errorf("Verify: got (%q, %v), want valid", sub, err)
				}
				return
			}
			if err != ErrInvalidToken {
				t.Errorf("Verify: want ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestTokenCodec_TamperedSignature(t *testing.T) {
	c := NewTestTokenCodec(newClock().Now)
	token, _, err := c.Issue("alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments", len(parts))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	for i := 0; i < len(sig)*8; i += 37 {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		flipped[i/8] ^= 1 << (i % 8)
		tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)
		if _, err := c.Verify(tampered); err != ErrInvalidToken {
			t.Errorf("bit %d flipped: want ErrInvalidToken, got %v", i, err)
		}
	}
}

func TestTokenCodec_TamperedPayload(t *testing.T) {
	c := NewTestTokenCodec(newClock().Now)
	token, _, _ := c.Issue("alice@example.com")
	parts := strings.Split(token, ".")
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"mallory@example.com","iss":"test-issuer","exp":9999999999}`))
	if _, err := c.Verify(parts[0] + "." + payload + "." + parts[2]); err != ErrInvalidToken {
		t.Errorf("want ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodec_Malformed(t *testing.T) {
	c := NewTestTokenCodec(newClock().Now)
	for _, tok := range []string{"", "invalid-token", "a.b", "a.b.c", "...."} {
		if _, err := c.Verify(tok); err != ErrInvalidToken {
			t.Errorf("Verify(%q): want ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestTokenCodec_WrongSecretAndIssuer(t *testing.T) {
	clock := newClock()
	c := NewTestTokenCodec(clock.Now)
	token, _, _ := c.Issue("alice@example.com")

	other, err := NewHMACCodec([]byte("another-secret"), DefaultTokenTTL, WithIssuer("test-issuer"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHMACCodec: %v", err)
	}
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Errorf("wrong secret: want ErrInvalidToken, got %v", err)
	}

	otherIss, _ := NewHMACCodec([]byte(testSecret), DefaultTokenTTL, WithIssuer("someone-else"), WithClock(clock.Now))
	if _, err := otherIss.Verify(token); err != ErrInvalidToken {
		t.Errorf("wrong issuer: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodec_RejectsAlgorithmSwitch(t *testing.T) {
	rs, err := NewTestKeyPairCodec()
	if err != nil {
		t.Fatalf("NewTestKeyPairCodec: %v", err)
	}
	token, _, err := rs.Issue("alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if sub, err := rs.Verify(token); err != nil || sub != "alice@example.com" {
		t.Fatalf("RS256 round trip: got (%q, %v)", sub, err)
	}
	hs := NewTestTokenCodec(time.Now)
	if _, err := hs.Verify(token); err != ErrInvalidToken {
		t.Errorf("HS256 codec accepting RS256 token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenCodec_EmptySubject(t *testing.T) {
	c := NewTestTokenCodec(time.Now)
	if _, _, err := c.Issue(""); err != ErrEmptySubject {
		t.Errorf("Issue empty subject: want ErrEmptySubject, got %v", err)
	}
}

func TestNewHMACCodec_EmptySecret(t *testing.T) {
	if _, err := NewHMACCodec(nil, time.Minute); err != ErrInvalidKey {
		t.Errorf("want ErrInvalidKey, got %v", err)
	}
}

func TestNewHMACCodec_TTLFloor(t *testing.T) {
	c, err := NewHMACCodec([]byte("s"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewHMACCodec: %v", err)
	}
	if c.TTL() != DefaultTokenTTL {
		t.Errorf("TTL: got %v want %v", c.TTL(), DefaultTokenTTL)
	}
}
