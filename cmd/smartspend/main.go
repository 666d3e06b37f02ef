package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"smartspend/internal/advice"
	"smartspend/internal/backend"
	"smartspend/internal/cli"
	"smartspend/internal/events"
	httpapi "smartspend/internal/http"
	applog "smartspend/internal/log"
	"smartspend/internal/metrics"
	"smartspend/internal/services"
	"smartspend/internal/session"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(applog.New(applog.DefaultConfig()), "Configuration validation failed", err)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentApp)
	startCtx := context.Background()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	res, err := backend.NewFactory(logger).CreateBackend(startCtx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to create backend", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", applog.FieldError, err.Error())
		}
	}()

	m := metrics.New()
	var provider advice.Provider = advice.Unavailable{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := advice.NewGemini(startCtx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			cli.Fatal(logger, "Failed to create Gemini client", err)
		}
		provider = gemini
		logger.Info("Advice provider ready", "model", gemini.Model())
	} else {
		logger.Info("No GEMINI_API_KEY, advice falls back to canned text")
	}

	advisor := advice.NewAdvisor(provider, res.Store, m, advice.AdvisorConfig{
		Timeout:       cfg.AdviceTimeout,
		RecentEntries: cfg.AdviceRecentEntries,
		Currency:      cfg.Currency,
	})

	// With a broker the advice worker delivers and the pool here only publishes;
	// otherwise the pool delivers. Either way mutations never wait on it.
	deliver := func(ctx context.Context, req advice.Request) error {
		_, err := advisor.Deliver(ctx, req)
		return err
	}
	drains := []func(context.Context) error{}
	opts := []services.Option{services.WithMetrics(m)}
	if res.Queue != nil {
		deliver = res.Queue.Dispatch
		notifier := services.NewAsyncNotifier(res.Queue)
		opts = append(opts, services.WithNotifier(notifier))
		drains = append(drains, notifier.Close)
	}
	dispatcher := advice.NewAsyncDispatcher(deliver, cfg.AdviceConcurrency)
	drains = append(drains, dispatcher.Close)
	opts = append(opts, services.WithObserver(advice.NewTrigger(res.Store, dispatcher)))

	broker := events.NewBroker()
	ledgerSvc := services.NewLedgerService(res.Store, broker, services.LedgerConfig{
		Location: cfg.Location(),
		Currency: cfg.Currency,
	}, opts...)
	chatSvc := services.NewChatService(res.Store, provider, cfg.AdviceTimeout, m)

	var verifier *session.Verifier
	if cfg.JWTSecret != "" {
		verifier = session.NewVerifier(cfg.JWTSecret)
	}
	checks := map[string]httpapi.Check{"store": res.Store.Ping}
	if res.Queue != nil {
		checks["amqp"] = func(context.Context) error { return res.Queue.Ping() }
	}

	srv, err := httpapi.NewServer(":"+cfg.Port, httpapi.Deps{
		Ledger:   ledgerSvc,
		Chat:     chatSvc,
		Advisor:  advisor,
		Metrics:  m,
		Verifier: verifier,
		Checks:   checks,
	}, httpapi.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheTTL:           cfg.CacheTTL,
		Logger:             logger.WithComponent(applog.ComponentHTTP),
	})
	if err != nil {
		cli.Fatal(logger, "Failed to create HTTP server", err)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		broker.Close()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err.Error())
		}
		for _, drain := range drains {
			if err := drain(ctx); err != nil {
				logger.Warn("Pending advice or announcements abandoned", applog.FieldError, err.Error())
			}
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting smartspend server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"amqp", res.Queue != nil,
			"timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
