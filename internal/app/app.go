package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wallet-watch/internal/alerting"
	"wallet-watch/internal/config"
	"wallet-watch/internal/fetcher"
	"wallet-watch/internal/schedule"
	"wallet-watch/internal/service"
	"wallet-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newPrices() *fetcher.Prices {
	return fetcher.NewPrices(fetcher.PricesOptions{
		BaseURL:    a.Config.Pricing.BaseURL,
		VsCurrency: a.Config.Pricing.VsCurrency,
		Timeout:    a.Config.Pricing.RequestTimeout,
		MaxRetries: a.Config.Pricing.MaxRetries,
		UserAgent:  a.Config.Pricing.UserAgent,
	}, a.Logger)
}

func (a *App) newPortfolio(prices fetcher.PriceSource) *fetcher.Portfolio {
	return fetcher.NewPortfolio(fetcher.PortfolioOptions{
		RPCURL:      a.Config.Portfolio.RPCURL,
		BaseTokenID: a.Config.Base.TokenID,
		Timeout:     a.Config.Portfolio.RequestTimeout,
	}, prices, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newService(store *storage.Store, sink alerting.Sink) (*service.Service, *schedule.Scheduler) {
	sched := schedule.New(schedule.Options{}, a.Logger)
	prices := a.newPrices()
	portfolio := a.newPortfolio(prices)
	svc := service.New(a.Config, sched, prices, portfolio, store, store, store, store, sink, a.Logger)
	return svc, sched
}

// withService opens the store and hands a short-lived service handle to fn.
// Used by the one-shot CLI commands.
func (a *App) withService(ctx context.Context, fn func(svc *service.Service, store *storage.Store) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.ApplySchema(ctx); err != nil {
		return err
	}

	svc, _ := a.newService(store, nil)
	return fn(svc, store)
}

// Run executes the long-running monitoring daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	// Schema application is the one storage failure that aborts startup.
	if err := store.ApplySchema(ctx); err != nil {
		return err
	}

	sink := alerting.NewAsyncSink(a.newNotifier(), store, a.Logger)
	svc, _ := a.newService(store, sink)

	a.Logger.Info().Msg("starting watchers")
	err = svc.Run(ctx)
	sink.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watchers stopped")
	return nil
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	TargetID string
	Limit    int
}

// ExportOptions hold parameters for exporting a target's history.
type ExportOptions struct {
	TargetID  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
