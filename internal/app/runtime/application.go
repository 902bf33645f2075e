// Package runtime wires configuration, storage, the chain client and the
// services into a running server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	app "github.com/the-pines/frog/internal/app"
	"github.com/the-pines/frog/internal/app/httpapi"
	"github.com/the-pines/frog/internal/app/services/settlement"
	"github.com/the-pines/frog/internal/app/storage/postgres"
	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/config"
	"github.com/the-pines/frog/internal/database"
	"github.com/the-pines/frog/internal/issuing"
	"github.com/the-pines/frog/internal/middleware"
	"github.com/the-pines/frog/internal/pricing"
	"github.com/the-pines/frog/pkg/logger"
)

// rateLimitIdle is how long an idle client limiter is kept.
const rateLimitIdle = 10 * time.Minute

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	db         *sqlx.DB
	chain      *chain.Client
	redis      *redis.Client
	stop       chan struct{}
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LoggingConfig) *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: cfg.Level, Format: cfg.Format})
}

// NewApplication loads configuration from the environment and builds the
// server.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(ctx, cfg, NewLogger(cfg.Logging))
}

// New builds the server from cfg. Every resource opened before a failure is
// released again.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Application, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.Logging)
	}

	a := &Application{cfg: cfg, log: log, stop: make(chan struct{})}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if a.db, err = database.Open(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := postgres.New(a.db)

	locker, err := a.signerLocker(ctx)
	if err != nil {
		return nil, err
	}
	a.chain, err = chain.Dial(ctx, chain.Config{
		RPCURL:        cfg.Chain.RPCURL,
		ChainID:       cfg.Chain.ChainID,
		PrivateKeyHex: cfg.Chain.ExecutorPrivateKey,
		Locker:        locker,
		PollInterval:  cfg.Chain.PollInterval,
		WaitTimeout:   cfg.Chain.TxWaitTimeout,
		Logger:        log.Named("chain"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect chain: %w", err)
	}

	oracle, err := pricing.New(pricing.Config{
		GBPUSD:        cfg.Pricing.GBPUSDRate,
		WstETHPrice:   cfg.Pricing.WstETHPriceUSDC,
		PointsPerUSDC: cfg.Pricing.PointsPerUSDC,
	})
	if err != nil {
		return nil, fmt.Errorf("configure pricing: %w", err)
	}

	a.app, err = app.New(app.Stores{
		Users:      store,
		Cards:      store,
		Payments:   store,
		Vaults:     store,
		Settlement: store,
	}, app.Deps{
		Chain:     a.chain,
		Oracle:    oracle,
		Cards:     issuing.NewStripeCards(cfg.Stripe.SecretKey),
		Contracts: cfg.Contracts,
		Settlement: settlement.Config{
			Schedule:    cfg.Settlement.Schedule,
			MaxAttempts: cfg.Settlement.MaxAttempts,
			BatchSize:   cfg.Settlement.BatchSize,
			BaseBackoff: cfg.Settlement.BaseBackoff,
			MaxBackoff:  cfg.Settlement.MaxBackoff,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log, httpapi.WebhookPath)
	if err := a.limiter.TrustProxies(cfg.RateLimit.Proxies()...); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_TRUSTED_PROXIES: %w", err)
	}
	serviceAuth := middleware.NewServiceAuthMiddleware(middleware.ServiceAuthConfig{
		Secret:          []byte(cfg.Auth.ServiceTokenSecret),
		AllowedServices: cfg.Auth.AllowedServiceIDs(),
		Logger:          log,
	})
	if !serviceAuth.Enabled() {
		log.Warn("SERVICE_TOKEN_SECRET not set; execute-payment accepts unauthenticated calls")
	}

	handler := httpapi.NewHandler(a.app, httpapi.Options{
		Webhooks:    issuing.NewVerifier(cfg.Stripe.WebhookSecretKey),
		Health:      store,
		ServiceAuth: serviceAuth,
		RateLimiter: a.limiter,
		Origins:     cfg.Server.Origins(),
		Log:         log,
		Started:     time.Now(),
	})
	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return a, nil
}

// signerLocker returns the cross-process lock when REDIS_URL is set and nil
// otherwise, which selects the process-local lock.
func (a *Application) signerLocker(ctx context.Context) (chain.Locker, error) {
	if a.cfg.Redis.URL == "" {
		return nil, nil
	}
	executor, err := chain.ExecutorAddress(a.cfg.Chain.ExecutorPrivateKey)
	if err != nil {
		return nil, err
	}
	if a.redis, err = chain.NewRedisClient(a.cfg.Redis.URL); err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.log.WithField("executor", executor.Hex()).Info("using redis signer lock")
	return chain.NewRedisLocker(a.redis, executor.Hex(), a.cfg.Redis.LockTTL, a.log.Named("signer-lock")), nil
}

// Run starts background services and the HTTP server and blocks until ctx
// is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	a.limiter.StartCleanup(rateLimitIdle, a.stop)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Addr).
			WithField("executor", a.chain.Executor().Hex()).
			WithField("chain_id", a.chain.ChainID().String()).
			Info("HTTP server listening")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown drains the HTTP server, stops the worker and closes connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.close()
	return errors.Join(errs...)
}

func (a *Application) close() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}
