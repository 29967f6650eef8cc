// Package domain holds the notification record and the identity-to-topic mapping.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxMessageLength bounds the text stored per notification.
const MaxMessageLength = 1000

const topicPrefix = "notifications:"

// Record is a persisted notification. It is never mutated after creation.
type Record struct {
	ID        int64
	Recipient string
	Message   string
	CreatedAt time.Time
	// Delivered is informational only; delivery is best-effort and never updates the row.
	Delivered bool
}

// Envelope is the JSON frame pushed to live connections.
type Envelope struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Envelope returns the wire form of r.
func (r *Record) Envelope() Envelope {
	return Envelope{ID: r.ID, Message: r.Message, CreatedAt: r.CreatedAt.UTC()}
}

// MarshalEnvelope encodes the wire form of r.
func (r *Record) MarshalEnvelope() ([]byte, error) {
	return json.Marshal(r.Envelope())
}

// PayloadFormat selects the frame written to live connections.
type PayloadFormat string

const (
	// PayloadJSON frames carry the Envelope.
	PayloadJSON PayloadFormat = "json"
	// PayloadText frames carry only the message text.
	PayloadText PayloadFormat = "text"
)

// ParsePayloadFormat accepts "json" or "text". Empty selects json.
func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch PayloadFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", PayloadJSON:
		return PayloadJSON, nil
	case PayloadText:
		return PayloadText, nil
	default:
		return "", fmt.Errorf("unknown payload format %q", s)
	}
}

// Payload encodes r in format f.
func (r *Record) Payload(f PayloadFormat) ([]byte, error) {
	if f == PayloadText {
		return []byte(r.Message), nil
	}
	return r.MarshalEnvelope()
}

// Validate checks recipient and message before persistence.
func (r *Record) Validate() error {
	if r.Recipient == "" {
		return errors.New("recipient is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return errors.New("message is required")
	}
	if len([]rune(r.Message)) > MaxMessageLength {
		return errors.New("message is too long")
	}
	return nil
}

// NormalizeIdentity lowercases and trims an account identity (email).
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Topic returns the bus topic for a recipient identity. Equal identities after normalization share a topic.
func Topic(identity string) string {
	return topicPrefix + NormalizeIdentity(identity)
}
