// Worker delivers queued notification emails. With EMAIL_TRANSPORT=kafka it consumes
// EMAIL_KAFKA_TOPIC as KAFKA_GROUP_ID; with EMAIL_TRANSPORT=asynq it serves the email queue on REDIS_ADDR.
// Messages are sent through SMTP when SMTP_HOST and MAIL_FROM are set, otherwise they are logged.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"social-notify/backend/internal/config"
	"social-notify/backend/internal/email"
	"social-notify/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	sender, err := deliverySender(cfg, logger)
	if err != nil {
		logger.Fatal("worker: email sender", zap.Error(err))
	}
	w := email.NewWorker(sender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.EmailTransport {
	case config.EmailTransportKafka:
		err = consumeKafka(ctx, cfg, w, logger)
	case config.EmailTransportAsynq:
		err = serveAsynq(ctx, cfg, w, logger)
	default:
		err = fmt.Errorf("EMAIL_TRANSPORT must be kafka or asynq for the worker, got %q", cfg.EmailTransport)
	}
	if err != nil {
		logger.Fatal("worker stopped", zap.Error(err))
	}
	logger.Info("worker: stopped")
}

func deliverySender(cfg *config.Config, logger *zap.Logger) (email.Sender, error) {
	if cfg.SMTPHost == "" || cfg.MailFrom == "" {
		logger.Warn("worker: SMTP_HOST or MAIL_FROM not set; logging emails instead of sending")
		return email.NewLogSender(logger), nil
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
		FromName: cfg.MailFromName,
	})
}

func consumeKafka(ctx context.Context, cfg *config.Config, w *email.Worker, logger *zap.Logger) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokersList(),
		Topic:    cfg.EmailKafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	defer reader.Close()

	logger.Info("worker: consuming", zap.String("topic", cfg.EmailKafkaTopic), zap.String("group", cfg.KafkaGroupID))
	return w.ConsumeKafka(ctx, reader)
}

func serveAsynq(ctx context.Context, cfg *config.Config, w *email.Worker, logger *zap.Logger) error {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{email.Queue: 1},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(email.TaskTypeSend, w.ProcessTask)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("asynq start: %w", err)
	}
	logger.Info("worker: serving asynq queue", zap.String("queue", email.Queue), zap.String("redis", cfg.RedisAddr))
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
