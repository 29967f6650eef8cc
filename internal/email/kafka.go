package email

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSender enqueues messages on a Kafka topic for the email worker.
type KafkaSender struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSender creates a writer for topic. brokers must be non-empty. Call Close when shutting down.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrInvalidMessage
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSender{writer: writer, topic: topic}, nil
}

// Send writes msg as JSON keyed by recipient so one recipient's mail stays on one partition.
func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	if s == nil || s.writer == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(msg.To),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call multiple times.
func (s *KafkaSender) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
