// Package app is the composition root: it wires every component into the
// two HTTP endpoints and runs the server until ctx is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/tellerdesk/internal/audit"
	"github.com/wisbric/tellerdesk/internal/cache"
	"github.com/wisbric/tellerdesk/internal/catalog"
	"github.com/wisbric/tellerdesk/internal/chat"
	"github.com/wisbric/tellerdesk/internal/config"
	"github.com/wisbric/tellerdesk/internal/conversation"
	"github.com/wisbric/tellerdesk/internal/dataservices"
	"github.com/wisbric/tellerdesk/internal/dispatcher"
	"github.com/wisbric/tellerdesk/internal/httpserver"
	"github.com/wisbric/tellerdesk/internal/platform"
	"github.com/wisbric/tellerdesk/internal/principal"
	"github.com/wisbric/tellerdesk/internal/router"
	"github.com/wisbric/tellerdesk/internal/telemetry"
	"github.com/wisbric/tellerdesk/internal/version"
)

// authFailureMaxAttempts and authFailureWindow bound the auth-failure rate
// limiter.
const (
	authFailureMaxAttempts = 10
	authFailureWindow      = 15 * time.Minute
)

// Run reads state, wires every component, and serves HTTP until ctx is
// cancelled, shutting down gracefully.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting tellerdesk", "listen", cfg.ListenAddr, "version", version.Version, "commit", version.Commit)

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	directory, err := principal.LoadDirectory(cfg.CustomerDirectory)
	if err != nil {
		return fmt.Errorf("loading customer directory: %w", err)
	}
	agentCatalog, err := catalog.Load(cfg.AgentCatalog)
	if err != nil {
		return fmt.Errorf("loading agent catalog: %w", err)
	}

	auditWriter, err := audit.NewWriter(cfg.AuditRoot, logger)
	if err != nil {
		return fmt.Errorf("creating audit writer: %w", err)
	}
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	services := &dataservices.Services{
		Accounts:     dataservices.NewClient(cfg.AccountsServiceURL),
		Transactions: dataservices.NewClient(cfg.TransactionsServiceURL),
		Contacts:     dataservices.NewClient(cfg.ContactsServiceURL),
		Limits:       dataservices.NewClient(cfg.LimitsServiceURL),
	}
	populator := cache.NewPopulator(services, logger, auditWriter.Log)

	store, err := cache.NewStore(cfg.CacheRoot, logger, populator.Populate)
	if err != nil {
		return fmt.Errorf("creating cache store: %w", err)
	}
	if err := store.Sweep(); err != nil {
		logger.Warn("cache sweep at startup failed", "error", err)
	}

	conversations := conversation.NewManager()
	pins := router.NewPinTracker()
	classifier := router.NewClassifier(cfg.LLMClassifierURL, cfg.LLMClassifierKey)
	supervisor := router.New(store, agentCatalog, classifier, pins, auditWriter.Log, logger)
	dispatch := dispatcher.New()

	chatHandler := chat.New(store, conversations, supervisor, dispatch, pins, auditWriter.Log, logger)

	limiter, err := buildRateLimiter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setting up auth rate limiter: %w", err)
	}

	warmup := func(customerID, email string) {
		store.EnsurePopulated(context.Background(), customerID, email)
	}
	resolver := principal.NewResolver(cfg.IDPJWKSURL, cfg.IDPExpectedIssuer, cfg.IDPExpectedAudience, directory, logger, warmup)
	authMiddleware := principal.Middleware(resolver, limiter, logger)

	server := httpserver.NewServer(cfg, logger, metricsReg, authMiddleware)
	server.Authenticated.Post("/chat", chatHandler.HandleChat)
	server.Authenticated.Post("/cache/initialize", chatHandler.HandleCacheInitialize)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server,
		// WriteTimeout must exceed the agent dispatch timeout (dispatcher.Timeout,
		// 300s) plus margin, since a streamed chat response can legitimately
		// take that long to finish.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 310 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildRateLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*principal.AuthRateLimiter, error) {
	if cfg.RedisURL == "" {
		logger.Info("auth rate limiter: REDIS_URL not set, using in-memory counters")
		return principal.NewAuthRateLimiter(nil, authFailureMaxAttempts, authFailureWindow), nil
	}
	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return principal.NewAuthRateLimiter(rdb, authFailureMaxAttempts, authFailureWindow), nil
}
