package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/cache"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/events"
	httpadapter "github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/http"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/notify"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/postgres"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/adapters/security"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/application"
	"github.com/DekuWorks/241RunnersAwareness-sub002/internal/ports"
)

// Runtime holds the wired object graph shared by the API and worker binaries.
type Runtime struct {
	Config  Config
	Logger  *slog.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	Repos   *postgres.Repositories
	Signer  ports.TokenSigner
	Service *application.Service
}

func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// NewRuntime connects the external systems and builds the service graph.
func NewRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	db, err := postgres.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	repos := postgres.NewRepositories(db)

	signer, err := buildSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := application.NewService(
		application.Config{
			DefaultRole:      cfg.Auth.DefaultRole,
			EmailTokenTTL:    cfg.Auth.EmailTokenTTL,
			PhoneCodeTTL:     cfg.Auth.PhoneCodeTTL,
			LockoutThreshold: cfg.Auth.LockoutThreshold,
			LockoutWindow:    cfg.Auth.LockoutWindow,
			ResendLimit:      cfg.Auth.ResendLimit,
			ResendWindow:     cfg.Auth.ResendWindow,
			VerifyURLBase:    cfg.Auth.VerifyURLBase,
			TOTPIssuer:       cfg.Auth.TOTPIssuer,
		},
		repos.Credentials,
		security.NewBcryptHasher(12),
		signer,
		security.NewGoogleTokenVerifier(cfg.Google.ClientID),
		cache.NewLockoutStore(redisClient),
		cache.NewThrottleStore(redisClient),
		logger,
	)

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Redis:   redisClient,
		Repos:   repos,
		Signer:  signer,
		Service: svc,
	}, nil
}

func buildSigner(cfg Config, logger *slog.Logger) (ports.TokenSigner, error) {
	if cfg.JWT.PrivateKeyFile != "" {
		priv, err := os.ReadFile(cfg.JWT.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt private key: %w", err)
		}
		pub, err := os.ReadFile(cfg.JWT.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt public key: %w", err)
		}
		return security.NewJWTSigner(priv, pub, cfg.JWT.Issuer, cfg.JWT.KeyID, cfg.JWT.TTL)
	}
	if cfg.IsProduction() {
		return nil, errors.New("jwt key files are required in production")
	}
	logger.Warn("using ephemeral jwt keypair, sessions will not survive restarts")
	return security.NewEphemeralJWTSigner(cfg.JWT.Issuer, cfg.JWT.TTL)
}

// RunAPI serves HTTP until ctx is cancelled, then drains in-flight requests.
func (rt *Runtime) RunAPI(ctx context.Context) error {
	handler := httpadapter.NewHandler(rt.Service, rt.Signer, rt.Logger)
	router := httpadapter.NewRouter(handler, rt.Logger, rt.Config.HTTP.CORSOrigins, rt.readyCheck)

	server := &http.Server{
		Addr:         rt.Config.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  rt.Config.HTTP.ReadTimeout,
		WriteTimeout: rt.Config.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("api listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	rt.Logger.Info("api stopped")
	return nil
}

// RunWorker drives the outbox dispatcher until ctx is cancelled.
func (rt *Runtime) RunWorker(ctx context.Context) error {
	var publisher ports.EventPublisher
	if len(rt.Config.Kafka.Brokers) > 0 && rt.Config.Kafka.Topic != "" {
		kafkaPub := events.NewKafkaPublisher(rt.Config.Kafka.Brokers, rt.Config.Kafka.Topic)
		defer kafkaPub.Close()
		publisher = kafkaPub
	} else {
		rt.Logger.Warn("no kafka brokers configured, events go to the log sink")
		publisher = events.NewLoggingPublisher(rt.Logger)
	}

	mailer := notify.NewSMTPMailer(
		rt.Config.SMTP.Host,
		rt.Config.SMTP.Port,
		rt.Config.SMTP.Username,
		rt.Config.SMTP.Password,
		rt.Config.SMTP.From,
	)
	sms := notify.NewHTTPSMSGateway(rt.Config.SMS.Endpoint, rt.Config.SMS.APIKey, rt.Config.SMS.Sender)

	worker := events.NewOutboxWorker(rt.Repos.Outbox, publisher, mailer, sms, rt.Logger, events.OutboxWorkerConfig{
		Interval:   rt.Config.Worker.Interval,
		BatchSize:  rt.Config.Worker.BatchSize,
		ClaimTTL:   rt.Config.Worker.ClaimTTL,
		MaxRetries: rt.Config.Worker.MaxRetries,
	})
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the shared connections.
func (rt *Runtime) Close() {
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func (rt *Runtime) readyCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sqlDB, err := rt.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	return rt.Redis.Ping(ctx).Err()
}
