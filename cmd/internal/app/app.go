// Package app wires the splitbill server runtime: config, logging, storage, and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"splitbill/cmd/identity"
	"splitbill/cmd/internal/auth/api"
	"splitbill/cmd/internal/auth/session"
	"splitbill/cmd/internal/migrations"
	"splitbill/cmd/internal/obs"
	"splitbill/cmd/security/password"
)

// App is the splitbill server runtime: it owns storage handles and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	metrics  *obs.Metrics
	sessions *session.Service
	auth     *api.Handler
	checks   []readinessCheck

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
// On error every resource opened so far is released.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, metrics: obs.NewMetrics()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := api.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	fp, err := newFingerprinter(cfg, log)
	if err != nil {
		return nil, err
	}

	accounts, err := a.openAccounts(ctx)
	if err != nil {
		return nil, err
	}
	refresh, err := a.openRefresh(ctx)
	if err != nil {
		return nil, err
	}

	codec, err := session.NewAccessTokenCodec(sessCfg)
	if err != nil {
		return nil, err
	}

	a.sessions, err = session.NewService(sessCfg, accounts, refresh, codec,
		session.WithLogger(log),
		session.WithObserver(a.metrics),
		session.WithFingerprinter(fp),
		session.WithPasswordConfig(pwCfg),
	)
	if err != nil {
		return nil, err
	}

	a.auth, err = api.NewHandler(a.sessions, apiCfg,
		api.WithLogger(log),
		api.WithRateObserver(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.checks, a.dbPool != nil, a.metrics, a.auth)
	a.handler = WithRequestID(WithRequestLogging(a.metrics.Instrument(mux), log))

	log.Info("app.wired",
		"db_enabled", a.dbPool != nil,
		"refresh_store", cfg.refreshBackend(),
		"access_token_format", sessCfg.AccessTokenFormat,
		"fingerprint_keyed", fp.Keyed(),
	)
	return a, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) openAccounts(ctx context.Context) (identity.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.dbPool = pool
	a.checks = append(a.checks, readinessCheck{name: "db", check: func(ctx context.Context) error {
		return PingDB(ctx, pool, 2*time.Second)
	}})
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	if a.cfg.DBAutoMigrate {
		if err := migrations.Up(ctx, pool, a.cfg.DBSchema, a.log); err != nil {
			return nil, err
		}
	}

	return identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
}

func (a *App) openRefresh(ctx context.Context) (session.RefreshStore, error) {
	switch backend := a.cfg.refreshBackend(); backend {
	case RefreshStoreMemory:
		return session.NewMemoryStore(), nil
	case RefreshStorePostgres:
		if a.dbPool == nil {
			return nil, errors.New("refresh store: postgres backend requires SPLITBILL_DATABASE_URL")
		}
		return session.NewPostgresStore(a.dbPool, a.cfg.DBSchema)
	case RefreshStoreRedis:
		client, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.redis = client
		store := session.NewRedisStore(client, session.WithKeyPrefix(a.cfg.RedisPrefix))
		a.checks = append(a.checks, readinessCheck{name: "redis", check: store.Ping})
		return store, nil
	default:
		return nil, fmt.Errorf("refresh store: unknown backend %q", backend)
	}
}

// Run starts the HTTP server and the purge loop, and blocks until ctx is done
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.cfg.PurgeInterval > 0 {
		eg.Go(func() error {
			a.purgeLoop(egCtx, a.cfg.PurgeInterval)
			return nil
		})
	}

	err := eg.Wait()
	a.close()
	a.log.Info("server.stopped")
	return err
}

// purgeLoop deletes expired refresh records and idle rate-limit buckets on every tick.
func (a *App) purgeLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.purgeOnce(ctx, time.Now().UTC())
		}
	}
}

func (a *App) purgeOnce(ctx context.Context, now time.Time) {
	if _, err := a.sessions.PurgeExpired(ctx, now); err != nil && ctx.Err() == nil {
		a.log.Error("session.purge.fail", "err", err)
	}
	if n := a.auth.SweepLimiter(now); n > 0 {
		a.log.Debug("auth.rate_limit.swept", "buckets", n)
	}
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
