package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"slotwise/backend/internal/calendar"
	"slotwise/backend/internal/config"
	"slotwise/backend/internal/outbox"
	"slotwise/backend/internal/service/timeslots"
	"slotwise/backend/internal/store/postgres"
	"slotwise/backend/internal/telemetry"
	grpcTransport "slotwise/backend/internal/transport/grpc"
	httpTransport "slotwise/backend/internal/transport/http"
)

const serviceName = "slotwise-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Error("tracing setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		ConnectTimeout:  cfg.DBConnectTimeout,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Error("database migration failed", slog.Any("err", err))
			os.Exit(1)
		}
		log.Info("database migrations applied")
	}

	svc := timeslots.NewService(
		postgres.NewSlotRepo(db),
		timeslots.WithConflictPolicy(timeslots.ConflictPolicy{IgnoreCancelled: cfg.IgnoreCancelledConflicts}),
	)

	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	httpOpts := []httpTransport.Option{
		httpTransport.WithRequestTimeout(cfg.HTTPRequestTimeout),
		httpTransport.WithReadyChecks(httpTransport.ReadyCheck{Name: "postgres", Check: db.PingContext}),
	}

	if cfg.GoogleEnabled() {
		cal := calendar.New(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		httpOpts = append(httpOpts,
			httpTransport.WithCalendar(httpTransport.GoogleCalendar(cal)),
			httpTransport.WithStateKey([]byte(cfg.GoogleStateSecret)),
		)
		log.Info("google calendar import enabled")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid redis url", slog.Any("err", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		httpOpts = append(httpOpts,
			httpTransport.WithRateLimiter(httpTransport.NewRateLimiter(rdb, cfg.RateLimitRequests, cfg.RateLimitWindow, log)),
			httpTransport.WithReadyChecks(httpTransport.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}}),
		)
		log.Info("redis rate limiting enabled", slog.Int("requests", cfg.RateLimitRequests), slog.Duration("window", cfg.RateLimitWindow))
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := outbox.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				log.Warn("kafka writer close failed", slog.Any("err", err))
			}
		}()
		pub := outbox.NewPublisher(postgres.NewOutboxRepo(db), writer, log.With(slog.String("component", "outbox")), outbox.Config{
			Topic:        cfg.KafkaTopic,
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
		})
		workers.Add(1)
		go func() {
			defer workers.Done()
			pub.Run(workerCtx)
		}()
		log.Info("outbox publisher started", slog.String("topic", cfg.KafkaTopic), slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		log.Warn("outbox publisher disabled (no kafka brokers configured)")
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpTransport.NewServer(svc, httpTransport.NewAuthenticator(cfg.JWTSecret, cfg.StaticTokens), log, httpOpts...)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(api.Handler(), "slotwise.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthMonitor := grpcTransport.NewHealthMonitor(db, log, 10*time.Second)
	workers.Add(1)
	go func() {
		defer workers.Done()
		healthMonitor.Run(workerCtx)
	}()

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcTransport.DefaultTimeout(cfg.GRPCRequestTimeout),
			grpcTransport.RequestLog(log),
		),
	)
	healthpb.RegisterHealthServer(grpcServer, healthMonitor.Server())

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("servers started", slog.String("http_addr", cfg.HTTPAddr), slog.String("grpc_addr", cfg.GRPCAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
	stopWorkers()
	workers.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := shutdownTracing(flushCtx); err != nil {
		log.Warn("tracing shutdown failed", slog.Any("err", err))
	}
	cancel()

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func shutdown(log *slog.Logger, hs *http.Server, gs *grpc.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		gs.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
