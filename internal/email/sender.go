// Package email delivers notification emails. Delivery is best-effort: failures are logged and
// never reach the request that triggered them.
package email

import (
	"context"
	"errors"
	"net/mail"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sendTimeout is the max time allowed for a single async send.
const sendTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight async sends. Must be >= sendTimeout.
const ShutdownDrainDuration = sendTimeout

// ErrInvalidMessage is returned for messages without a usable recipient or subject.
var ErrInvalidMessage = errors.New("email: invalid message")

// Message is one outbound email. It is also the job payload on the Kafka and asynq queues.
type Message struct {
	ID      string `json:"id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate checks the recipient address and subject.
func (m Message) Validate() error {
	if m.Subject == "" {
		return ErrInvalidMessage
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return ErrInvalidMessage
	}
	return nil
}

// Sender delivers or enqueues one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// AsyncSender runs sends in the background with a bounded timeout.
type AsyncSender struct {
	sender Sender
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewAsyncSender wraps sender. A nil sender makes SendAsync a no-op.
func NewAsyncSender(sender Sender, logger *zap.Logger) *AsyncSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncSender{sender: sender, log: logger.Named("email")}
}

// SendAsync sends msg on a new goroutine and returns immediately. The goroutine uses
// context.Background so request cancellation does not abort an in-flight send.
func (a *AsyncSender) SendAsync(msg Message) {
	if a == nil || a.sender == nil {
		return
	}
	if err := msg.Validate(); err != nil {
		a.log.Debug("skipping email", zap.String("to", msg.To), zap.Error(err))
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.sender.Send(ctx, msg); err != nil {
			a.log.Warn("async send failed", zap.String("id", msg.ID), zap.String("to", msg.To), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight sends or until ctx ends.
func (a *AsyncSender) Drain(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes messages to the log instead of sending them. Used in development.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{log: logger.Named("email")}
}

// Send logs msg.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("email", zap.String("id", msg.ID), zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.Int("body_len", len(msg.Body)))
	return nil
}
