// Package runtime wires configuration, stores, and services into a runnable
// server process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/wowgifts/giftlink/internal/app"
	"github.com/wowgifts/giftlink/internal/app/httpapi"
	"github.com/wowgifts/giftlink/internal/app/metrics"
	redisstore "github.com/wowgifts/giftlink/internal/app/storage/redis"
	"github.com/wowgifts/giftlink/internal/config"
	"github.com/wowgifts/giftlink/pkg/logger"

	pgstore "github.com/wowgifts/giftlink/internal/app/storage/postgres"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sql.DB
	redis  *goredis.Client
}

// NewApplication constructs a server instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "giftlink",
	})

	stores, db, redisClient, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(stores, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	sink, err := httpapi.NewFileAuditSink(cfg.Server.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	handler := httpapi.NewHandler(application, sink)
	handler = httpapi.Wrap(handler, cfg.AuthTokens(), cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
	handler = metrics.InstrumentHandler(handler)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		server: server,
		db:     db,
		redis:  redisClient,
	}, nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, *goredis.Client, error) {
	var stores app.Stores
	var db *sql.DB
	var redisClient *goredis.Client

	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return stores, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return stores, nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := pgstore.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			db.Close()
			return stores, nil, nil, err
		}
		stores.Gifts = pg
		stores.Settlements = pg
		log.Info("using postgres persistence")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory persistence")
	}

	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			if db != nil {
				db.Close()
			}
			return stores, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		stores.Sessions = redisstore.NewSessionStore(redisClient, 0)
		log.Info("using redis verification sessions")
	}

	return stores, db, redisClient, nil
}

// Run starts the background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and store
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
