package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaReader is the subset of *kafka.Reader the worker consumes from.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker delivers queued messages through a Sender (normally SMTPSender).
type Worker struct {
	sender      Sender
	log         *zap.Logger
	sendTimeout time.Duration
	backoff     time.Duration
}

// NewWorker returns a Worker delivering through sender.
func NewWorker(sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{sender: sender, log: logger.Named("email-worker"), sendTimeout: 30 * time.Second, backoff: time.Second}
}

// Deliver decodes one queued payload and sends it. Undecodable or invalid payloads return an
// error wrapping ErrInvalidMessage and must not be retried.
func (w *Worker) Deliver(ctx context.Context, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	defer cancel()
	if err := w.sender.Send(sendCtx, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	w.log.Debug("delivered", zap.String("id", msg.ID), zap.String("to", msg.To))
	return nil
}

// ProcessTask is the asynq handler for TaskTypeSend.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	err := w.Deliver(ctx, t.Payload())
	if errors.Is(err, ErrInvalidMessage) {
		w.log.Warn("dropping invalid email task", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// ConsumeKafka reads messages until ctx ends. A failed send is retried up to maxAttempts times;
// after that the message is logged and committed so one bad address cannot stall the partition.
func (w *Worker) ConsumeKafka(ctx context.Context, r KafkaReader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("kafka read error", zap.Error(err))
			continue
		}
		if err := w.deliverWithRetry(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("dropping email message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			w.log.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

const maxAttempts = 3

func (w *Worker) deliverWithRetry(ctx context.Context, payload []byte) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = w.Deliver(ctx, payload)
		if err == nil || errors.Is(err, ErrInvalidMessage) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(w.backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
