package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, expired, or otherwise unusable.
	// Callers must not distinguish between those cases.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySubject is returned by Issue when the subject is empty.
	ErrEmptySubject = errors.New("token subject is empty")
)

// DefaultTokenTTL is the session token lifetime when none is configured.
const DefaultTokenTTL = 30 * time.Minute

// SessionClaims holds the JWT claims of a session token. Subject is the account identity (email).
type SessionClaims struct {
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies signed, expiring session tokens. It is built once at startup
// and shared by reference; its keys are never mutated afterwards.
type TokenCodec struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a TokenCodec.
type Option func(*TokenCodec)

// WithClock overrides the wall clock used for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIssuer sets the iss claim written on issue and required on verify.
func WithIssuer(issuer string) Option {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// NewHMACCodec returns a TokenCodec that signs with HS256 using secret.
// ttl below one second falls back to DefaultTokenTTL so exp is always strictly after iat.
func NewHMACCodec(secret []byte, ttl time.Duration, opts ...Option) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return newCodec(jwt.SigningMethodHS256, key, key, ttl, opts), nil
}

// NewKeyPairCodec returns a TokenCodec that signs with RS256 or ES256 depending on the key type.
func NewKeyPairCodec(privateKey crypto.Signer, publicKey crypto.PublicKey, ttl time.Duration, opts ...Option) (*TokenCodec, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrInvalidKey
	}
	var method jwt.SigningMethod
	switch KeyAlg(publicKey) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if KeyAlg(privateKey.Public()) != method.Alg() {
		return nil, ErrInvalidKey
	}
	return newCodec(method, privateKey, publicKey, ttl, opts), nil
}

func newCodec(method jwt.SigningMethod, signKey, verifyKey interface{}, ttl time.Duration, opts []Option) *TokenCodec {
	if ttl < time.Second {
		ttl = DefaultTokenTTL
	}
	c := &TokenCodec{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the lifetime given to issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue returns a signed token for subject and the instant it expires.
func (c *TokenCodec) Issue(subject string) (token string, expiresAt time.Time, err error) {
	if subject == "" {
		return "", time.Time{}, ErrEmptySubject
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate has second precision; truncate so the returned expiry matches the claim.
	now := c.now().UTC().Truncate(time.Second)
	expiresAt = now.Add(c.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks the signature, algorithm, issuer and expiry of token and returns its subject.
// A token is valid only while now < exp. Every failure is reported as ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return c.verifyKey, nil
	}, parserOpts...)
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
