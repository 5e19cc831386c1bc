package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"storefront/shopclient/internal/apiclient"
	"storefront/shopclient/internal/audit"
	"storefront/shopclient/internal/auth"
	"storefront/shopclient/internal/checkout"
	"storefront/shopclient/internal/config"
	"storefront/shopclient/internal/events"
	"storefront/shopclient/internal/httpserver"
	"storefront/shopclient/internal/observability"
	"storefront/shopclient/internal/payment"
	"storefront/shopclient/internal/session"
	"storefront/shopclient/internal/storage"
)

const startupTimeout = 15 * time.Second

type App struct {
	cfg       config.Config
	log       *slog.Logger
	closers   []func() error
	sessions  *session.Store
	flow      *auth.Flow
	checkouts *checkout.Manager
	server    *httpserver.Server
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	a := &App{cfg: cfg, log: logger}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	slots, err := a.openSlots(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	creds, err := session.NewCredentials(slots, cfg.Storage.CredentialKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create credential slot: %w", err)
	}
	sessions, err := session.NewStore(slots, cfg.Storage.SessionKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create session store: %w", err)
	}
	if err := sessions.Load(ctx); err != nil {
		logger.Warn("discarding unreadable session projection", "error", err)
		_ = sessions.Clear(ctx)
	}
	a.sessions = sessions

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		RateBurst: cfg.Backend.RateBurst,
		Logger:    logger,
	}, creds)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create api client: %w", err)
	}

	auditLogger := audit.NewLogger(cfg.AuditLogFile)

	flow, err := auth.NewFlow(auth.Config{
		Backend:     client,
		Credentials: creds,
		Sessions:    sessions,
		Audit:       auditLogger,
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create auth flow: %w", err)
	}
	a.flow = flow

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		producer, err := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create event producer: %w", err)
		}
		a.closers = append(a.closers, producer.Close)
		publisher = producer
		logger.Info("checkout events enabled", "topic", cfg.Kafka.Topic)
	}

	checkouts, err := checkout.NewManager(checkout.Deps{
		Orders: client,
		Auth:   flow,
		Events: publisher,
		Audit:  auditLogger,
		Logger: logger,
		Payment: payment.Config{
			Countdown:       cfg.Payment.Countdown,
			TickInterval:    cfg.Payment.TickInterval,
			Midpoint:        cfg.Payment.Midpoint,
			ProcessingDelay: cfg.Payment.ProcessingDelay,
		},
		CommitTimeout: cfg.Payment.CommitTimeout,
	}, client, checkout.WithRetention(cfg.Payment.Retention))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create checkout manager: %w", err)
	}
	a.checkouts = checkouts

	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Auth:      flow,
		Catalog:   client,
		Orders:    client,
		Checkouts: checkouts,
		Backend:   client,
		Audit:     auditLogger,
		Logger:    logger,
	})
	return a, nil
}

// openSlots picks the durable slot storage: Postgres, then Redis, then the
// JSON state file.
func (a *App) openSlots(ctx context.Context) (storage.Slots, error) {
	sc := a.cfg.Storage
	switch {
	case sc.DatabaseURL != "":
		db, err := sql.Open("postgres", sc.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		store, err := storage.NewPostgresStore(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres slot store: %w", err)
		}
		a.log.Info("slot storage ready", "backend", "postgres")
		return store, nil
	case sc.RedisAddr != "":
		rdb := storage.NewRedisClient(sc.RedisAddr)
		a.closers = append(a.closers, rdb.Close)
		store, err := storage.NewRedisStore(ctx, rdb)
		if err != nil {
			return nil, fmt.Errorf("create redis slot store: %w", err)
		}
		a.log.Info("slot storage ready", "backend", "redis", "addr", sc.RedisAddr)
		return store, nil
	default:
		store, err := storage.NewFileStore(sc.StateFile)
		if err != nil {
			return nil, fmt.Errorf("create file slot store: %w", err)
		}
		a.log.Info("slot storage ready", "backend", "file", "path", sc.StateFile)
		return store, nil
	}
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("release resource", "error", err)
		}
	}
	a.closers = nil
}

// Run serves until ctx is cancelled. Stored-credential recovery runs
// alongside the listener, so guarded routes answer "loading" until it ends.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	defer a.checkouts.Close()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	go func() {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := a.flow.Start(startCtx); err != nil {
			a.log.Error("session recovery failed", "error", err)
			return
		}
		a.log.Info("session recovery finished", "state", string(a.flow.State()))
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
