package email

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeSend is the asynq task type carrying a Message.
	TaskTypeSend = "email:send"
	// Queue is the asynq queue email tasks are enqueued on.
	Queue = "email"
)

// AsynqSender enqueues messages as asynq tasks on Redis.
type AsynqSender struct {
	client *asynq.Client
}

// NewAsynqSender returns a sender that enqueues through client.
func NewAsynqSender(client *asynq.Client) *AsynqSender {
	return &AsynqSender{client: client}
}

// NewTask builds the asynq task for msg.
func NewTask(msg Message) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSend, payload, asynq.Queue(Queue), asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// Send enqueues msg. The message ID is the task ID so a duplicate enqueue is rejected by Redis.
func (s *AsynqSender) Send(ctx context.Context, msg Message) error {
	task, err := NewTask(msg)
	if err != nil {
		return err
	}
	opts := []asynq.Option{}
	if msg.ID != "" {
		opts = append(opts, asynq.TaskID(msg.ID))
	}
	_, err = s.client.EnqueueContext(ctx, task, opts...)
	return err
}

// Close releases the Redis connection.
func (s *AsynqSender) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
