package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"smartspend/internal/advice"
	"smartspend/internal/backend"
	"smartspend/internal/cli"
	"smartspend/internal/config"
	"smartspend/internal/core"
	applog "smartspend/internal/log"
	"smartspend/internal/services"
	"smartspend/internal/session"
)

// ownerFlags are shared by every ledger subcommand.
type ownerFlags struct {
	owner  string
	period string
}

func (o *ownerFlags) register(f *flag.FlagSet) {
	f.StringVar(&o.owner, "owner", "", "Owner whose ledger to use (required).")
	f.StringVar(&o.period, "p", "", "Period as YYYY-MM (defaults to the current month).")
}

// resolve returns the owner-scoped context and the period.
func (o *ownerFlags) resolve(ctx context.Context, loc *time.Location) (context.Context, core.PeriodKey, error) {
	if o.owner == "" {
		return nil, "", fmt.Errorf("-owner is required")
	}
	period := core.PeriodOf(time.Now(), loc)
	if o.period != "" {
		p, err := core.ParsePeriodKey(o.period)
		if err != nil {
			return nil, "", err
		}
		period = p
	}
	return session.WithOwner(ctx, o.owner), period, nil
}

// env is an opened store with the services built on it.
type env struct {
	cfg     *config.Config
	logger  *applog.Logger
	ledger  *services.LedgerService
	advisor *advice.Advisor
	close   func() error
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.SetupLogger(cfg, applog.ComponentApp)
	return newEnv(ctx, cfg, logger, backend.NewFactory(logger))
}

// newEnv builds the services on a backend from factory.
func newEnv(ctx context.Context, cfg *config.Config, logger *applog.Logger, factory backend.Factory) (*env, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	// Maintenance runs never publish to the broker.
	backendCfg.AMQPURL = ""
	res, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	var provider advice.Provider = advice.Unavailable{}
	if cfg.GeminiAPIKey != "" {
		gemini, err := advice.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			res.Cleanup()
			return nil, err
		}
		provider = gemini
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		ledger: services.NewLedgerService(res.Store, nil, services.LedgerConfig{
			Location: cfg.Location(),
			Currency: cfg.Currency,
		}),
		advisor: advice.NewAdvisor(provider, res.Store, nil, advice.AdvisorConfig{
			Timeout:       cfg.AdviceTimeout,
			RecentEntries: cfg.AdviceRecentEntries,
			Currency:      cfg.Currency,
		}),
		close: res.Cleanup,
	}, nil
}
