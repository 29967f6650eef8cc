package telemetry

import (
	"context"
	"errors"
	"time"
)

// Event types emitted over the notification lifecycle.
const (
	EventNotificationCreated  = "notification.created"
	EventConnectionRegistered = "connection.registered"
	EventConnectionTerminated = "connection.terminated"
	EventConnectionRejected   = "connection.rejected"
)

// Event is one lifecycle event. Empty fields are omitted by emitters.
type Event struct {
	Type           string    `json:"event_type"`
	Identity       string    `json:"identity,omitempty"`
	RegistrationID string    `json:"registration_id,omitempty"`
	NotificationID int64     `json:"notification_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventEmitter emits lifecycle events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// MultiEmitter fans each event out to every emitter and joins their errors.
type MultiEmitter []EventEmitter

// Emit implements EventEmitter.
func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
