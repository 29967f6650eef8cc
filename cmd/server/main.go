// Server runs the notification HTTP/WebSocket API and, when GRPC_ADDR is set, the gRPC health service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	accountrepo "social-notify/backend/internal/account/repository"
	accountsvc "social-notify/backend/internal/account/service"
	"social-notify/backend/internal/config"
	"social-notify/backend/internal/db"
	"social-notify/backend/internal/db/migrate"
	"social-notify/backend/internal/email"
	"social-notify/backend/internal/eventbus"
	"social-notify/backend/internal/health"
	"social-notify/backend/internal/logging"
	"social-notify/backend/internal/notification/domain"
	"social-notify/backend/internal/notification/repository"
	notifysvc "social-notify/backend/internal/notification/service"
	"social-notify/backend/internal/policy/engine"
	"social-notify/backend/internal/registry"
	"social-notify/backend/internal/security"
	"social-notify/backend/internal/server"
	"social-notify/backend/internal/server/middleware"
	"social-notify/backend/internal/telemetry"
	oteltelemetry "social-notify/backend/internal/telemetry/otel"
	"social-notify/backend/internal/telemetry/producer"
	"social-notify/backend/internal/transport/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName     = "social-notify"
	shutdownTimeout = 15 * time.Second
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

type stores struct {
	notifications repository.Store
	accounts      accountrepo.Repository
	conn          *sql.DB
}

// openStores opens the SQL database and applies migrations, or returns in-memory stores when
// DATABASE_URL is empty.
func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		return &stores{
			notifications: repository.NewMemoryStore(),
			accounts:      accountrepo.NewMemoryRepository(),
		}, nil
	}
	driver, err := db.ParseDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Up(conn, driver); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &stores{
		notifications: repository.NewSQLStore(conn, driver),
		accounts:      accountrepo.NewSQLRepository(conn, driver),
		conn:          conn,
	}, nil
}

// newEmailSender selects the Sender behind EMAIL_TRANSPORT. closeFn releases its connections.
func newEmailSender(cfg *config.Config, logger *zap.Logger, checker *health.Checker) (sender email.Sender, closeFn func() error, err error) {
	noop := func() error { return nil }
	switch cfg.EmailTransport {
	case config.EmailTransportSMTP:
		s, err := email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			FromName: cfg.MailFromName,
		})
		return s, noop, err
	case config.EmailTransportKafka:
		s, err := email.NewKafkaSender(cfg.KafkaBrokersList(), cfg.EmailKafkaTopic)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.EmailTransportAsynq:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		s := email.NewAsynqSender(client)
		return s, func() error { return errors.Join(s.Close(), rdb.Close()) }, nil
	default:
		return email.NewLogSender(logger), noop, nil
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := oteltelemetry.NewProviders(ctx, oteltelemetry.Options{
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
	}, logger)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	emitters := telemetry.MultiEmitter{oteltelemetry.NewEventEmitter(providers.LoggerProvider)}
	kafkaEvents, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		return fmt.Errorf("telemetry producer: %w", err)
	}
	if kafkaEvents != nil {
		emitters = append(emitters, kafkaEvents)
		defer kafkaEvents.Close()
	}
	events := telemetry.NewEvents(emitters, logger)
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(serviceName), events)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	tokens, err := security.NewCodec(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.AccessTTL())
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if st.conn != nil {
		defer st.conn.Close()
	}

	checker := health.NewChecker(0)
	if p, ok := st.notifications.(health.Pinger); ok {
		checker.AddPinger("store", p)
	}

	var policy *engine.OPAEvaluator
	if cfg.PolicyFile != "" {
		policy, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.PolicyFile, cfg.MaxConnectionsPerIdentity)
	} else {
		policy, err = engine.NewOPAEvaluator(ctx, "", cfg.MaxConnectionsPerIdentity)
	}
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	checker.AddPolicy("policy", policy)

	bus := eventbus.New(eventbus.WithCapacity(cfg.BusQueueSize), eventbus.WithOverflowHook(metrics.BusOverflow))
	reg := registry.New(bus, registry.Config{
		MaxPerIdentity: cfg.MaxConnectionsPerIdentity,
		WriteTimeout:   cfg.WriteTimeout(),
		Policy:         policy,
		Observer:       metrics,
	}, logger)
	metrics.RegisterGauges(reg.Count, bus.Published)

	format, err := domain.ParsePayloadFormat(cfg.WSPayloadFormat)
	if err != nil {
		return err
	}
	opts := []notifysvc.Option{notifysvc.WithRecorder(metrics), notifysvc.WithPayloadFormat(format)}

	var mail *email.AsyncSender
	if cfg.EmailOnNotify {
		sender, closeSender, err := newEmailSender(cfg, logger, checker)
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		defer func() {
			if err := closeSender(); err != nil {
				logger.Warn("close email sender", zap.Error(err))
			}
		}()
		mail = email.NewAsyncSender(sender, logger)
		opts = append(opts, notifysvc.WithEmail(mail))
	}

	notifications := notifysvc.New(st.notifications, bus, reg, tokens, logger, opts...)
	accounts := accountsvc.NewService(st.accounts, security.NewHasher(cfg.BcryptCost), tokens)

	router := server.NewRouter(server.Deps{
		Accounts:       accounts,
		Notifications:  notifications,
		Tokens:         tokens,
		Health:         checker,
		Metrics:        metrics.Handler(),
		Limiter:        middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
		AllowedOrigins: cfg.AllowedOrigins(),
		WS:             ws.Options{PingInterval: cfg.PingInterval(), WriteTimeout: cfg.WriteTimeout()},
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = server.NewGRPCServer(checker, tokens, logger)
		go func() {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		logger.Error("server failed; shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	// Hijacked WebSocket connections are not tracked by http.Server.
	reg.Close()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), max(email.ShutdownDrainDuration, telemetry.ShutdownDrainDuration))
	defer drainCancel()
	if err := mail.Drain(drainCtx); err != nil {
		logger.Warn("email drain", zap.Error(err))
	}
	if err := events.Drain(drainCtx); err != nil {
		logger.Warn("telemetry drain", zap.Error(err))
	}

	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
