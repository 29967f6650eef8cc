// Package service bridges authentication, persistence, and live delivery of notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"social-notify/backend/internal/email"
	"social-notify/backend/internal/eventbus"
	"social-notify/backend/internal/notification/domain"
	"social-notify/backend/internal/notification/repository"
	"social-notify/backend/internal/registry"
	"social-notify/backend/internal/security"
)

// EmailSubject is the subject of the email sent for each notification.
const EmailSubject = "New notification"

// MaxListLimit caps a single List page.
const MaxListLimit = 500

var (
	// ErrInvalidInput is returned for an empty recipient, an empty message, a message over
	// domain.MaxMessageLength, or a negative limit.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidToken is returned by Connect for any token that fails verification.
	ErrInvalidToken = security.ErrInvalidToken
	// ErrStoreUnavailable is returned when persistence fails. Nothing is published in that case.
	ErrStoreUnavailable = repository.ErrStoreUnavailable
)

// Recorder receives per-notification measurements.
type Recorder interface {
	NotificationCreated(ctx context.Context, identity string, id int64, took time.Duration)
	NotificationFailed()
}

// Rejecter is implemented by transports that can tell the peer why a connection was refused
// before closing.
type Rejecter interface {
	Reject(reason error) error
}

// Option configures a Service.
type Option func(*Service)

// WithEmail sends one email per notification through sender.
func WithEmail(sender *email.AsyncSender) Option {
	return func(s *Service) { s.mail = sender }
}

// WithRecorder installs a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPayloadFormat selects the frame format published to live connections.
func WithPayloadFormat(f domain.PayloadFormat) Option {
	return func(s *Service) { s.format = f }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// Service persists notifications, fans them out to live connections, and admits new connections.
type Service struct {
	store    repository.Store
	bus      *eventbus.Bus
	registry *registry.Registry
	tokens   *security.TokenCodec
	mail     *email.AsyncSender
	recorder Recorder
	format   domain.PayloadFormat
	tracer   trace.Tracer
	log      *zap.Logger
}

// New returns a Service. store, bus, reg and tokens are required.
func New(store repository.Store, bus *eventbus.Bus, reg *registry.Registry, tokens *security.TokenCodec, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		bus:      bus,
		registry: reg,
		tokens:   tokens,
		format:   domain.PayloadJSON,
		log:      logger.Named("notification"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("social-notify/notification")
	}
	return s
}

// Notify persists message for recipient and then publishes it to the recipient's live connections.
// When persistence fails nothing is published. A publish that reaches no subscriber is not an error;
// the record stays readable through List.
func (s *Service) Notify(ctx context.Context, recipient, message string) (*domain.Record, error) {
	ctx, span := s.tracer.Start(ctx, "notification.Notify")
	defer span.End()
	start := time.Now()

	recipient = domain.NormalizeIdentity(recipient)
	candidate := &domain.Record{Recipient: recipient, Message: message}
	if err := candidate.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	rec, err := s.store.Append(ctx, recipient, message)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		if s.recorder != nil {
			s.recorder.NotificationFailed()
		}
		s.log.Error("persist notification", zap.String("recipient", recipient), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("notification.id", rec.ID))

	payload, err := rec.Payload(s.format)
	if err != nil {
		// Persisted but not published; the record is still listed.
		s.log.Error("encode notification", zap.Int64("id", rec.ID), zap.Error(err))
	} else {
		n := s.bus.Publish(domain.Topic(recipient), payload)
		rec.Delivered = n > 0
		span.SetAttributes(attribute.Int("notification.subscribers", n))
	}

	s.mail.SendAsync(email.Message{
		ID:      uuid.NewString(),
		To:      recipient,
		Subject: EmailSubject,
		Body:    message,
	})
	if s.recorder != nil {
		s.recorder.NotificationCreated(ctx, recipient, rec.ID, time.Since(start))
	}
	return rec, nil
}

// Connect verifies token and registers transport under the token's subject.
// On any error the transport has been closed and the connection never reached Registered.
func (s *Service) Connect(ctx context.Context, token string, transport registry.Transport) (*registry.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "notification.Connect")
	defer span.End()

	identity, err := s.tokens.Verify(token)
	if err != nil {
		span.SetStatus(codes.Error, "invalid token")
		s.refuse(transport, ErrInvalidToken)
		return nil, ErrInvalidToken
	}
	reg, err := s.registry.Register(ctx, identity, transport)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register")
		s.refuse(transport, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("registration.id", reg.ID))
	return reg, nil
}

func (s *Service) refuse(transport registry.Transport, reason error) {
	if transport == nil {
		return
	}
	var err error
	if r, ok := transport.(Rejecter); ok {
		err = r.Reject(reason)
	} else {
		err = transport.Close()
	}
	if err != nil {
		s.log.Debug("close refused transport", zap.Error(err))
	}
}

// List returns recipient's notifications in creation order. limit > 0 keeps only the newest limit
// records; limit == 0 returns all of them up to MaxListLimit.
func (s *Service) List(ctx context.Context, recipient string, limit int) ([]*domain.Record, error) {
	recipient = domain.NormalizeIdentity(recipient)
	if recipient == "" || limit < 0 {
		return nil, ErrInvalidInput
	}
	if limit == 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.ListFor(ctx, recipient, limit)
}
