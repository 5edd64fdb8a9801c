package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-watch/internal/alerting"
	"wallet-watch/internal/config"
	"wallet-watch/internal/fetcher"
	"wallet-watch/internal/schedule"
	"wallet-watch/internal/storage"
	"wallet-watch/internal/watch"
)

// Preference keys for process-wide defaults stored in the prefs table.
const (
	PrefMilestoneUSD       = "portfolio.milestone_usd"
	PrefDefaultIntervalSec = "watch.default_interval_seconds"
	PrefDefaultMinorPct    = "watch.default_minor_pct"
	PrefDefaultMajorPct    = "watch.default_major_pct"
	PrefDefaultCriticalPct = "watch.default_critical_pct"
)

const (
	reconcileJobID = "registry:reconcile"
	retentionJobID = "alerts:retention"
)

// Service wires the portfolio, base token, and token watchers onto the
// shared scheduler, store, and alert sink.
type Service struct {
	cfg       *config.Config
	sched     *schedule.Scheduler
	prices    fetcher.PriceSource
	portfolio fetcher.PortfolioSource
	targets   storage.TargetStore
	alerts    storage.AlertStore
	history   storage.HistoryStore
	prefs     storage.PrefStore
	sink      alerting.Sink
	logger    zerolog.Logger

	milestone decimal.Decimal

	portfolioReg *watch.Registry
	baseReg      *watch.Registry
	tokenReg     *watch.Registry
}

// New constructs the monitoring service. Defaults are resolved once at
// startup (prefs over config) and never read from ambient state afterwards.
func New(cfg *config.Config, sched *schedule.Scheduler, prices fetcher.PriceSource, portfolio fetcher.PortfolioSource, targets storage.TargetStore, alerts storage.AlertStore, history storage.HistoryStore, prefs storage.PrefStore, sink alerting.Sink, logger zerolog.Logger) *Service {
	s := &Service{
		cfg:       cfg,
		sched:     sched,
		prices:    prices,
		portfolio: portfolio,
		targets:   targets,
		alerts:    alerts,
		history:   history,
		prefs:     prefs,
		sink:      sink,
		logger:    logger.With().Str("component", "service").Logger(),
		milestone: decimal.NewFromFloat(cfg.Portfolio.MilestoneUSD),
	}

	s.portfolioReg = watch.NewRegistry(watch.Options{
		Category: storage.CategoryPortfolio,
		Policies: func(*watch.Target) []watch.Policy {
			return []watch.Policy{watch.EdgePolicy{}, watch.LevelPolicy{Threshold: s.milestone}}
		},
		HistoryKeep: cfg.Watch.HistoryKeep,
	}, sched, watch.SourceFunc(func(ctx context.Context, id string) (decimal.Decimal, error) {
		return portfolio.FetchPortfolioValue(ctx, id)
	}), sink, targets, alerts, history, logger)

	s.baseReg = watch.NewRegistry(watch.Options{
		Category:    storage.CategoryBase,
		HistoryKeep: cfg.Watch.HistoryKeep,
	}, sched, watch.SourceFunc(func(ctx context.Context, _ string) (decimal.Decimal, error) {
		return prices.FetchTokenPrice(ctx, cfg.Base.TokenID)
	}), sink, targets, alerts, history, logger)

	s.tokenReg = watch.NewRegistry(watch.Options{
		Category:    storage.CategoryToken,
		HistoryKeep: cfg.Watch.HistoryKeep,
	}, sched, watch.SourceFunc(func(ctx context.Context, id string) (decimal.Decimal, error) {
		return prices.FetchTokenPrice(ctx, id)
	}), sink, targets, alerts, history, logger)

	return s
}

// Reconcile loads the latest persisted rows into every registry. The daemon
// runs it periodically; one-shot commands run it once to see current state.
func (s *Service) Reconcile(ctx context.Context) error {
	for _, reg := range []*watch.Registry{s.portfolioReg, s.baseReg, s.tokenReg} {
		if err := reg.Reconcile(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Status reports loop status across all three watchers.
func (s *Service) Status() []watch.TargetStatus {
	out := s.portfolioReg.Status()
	out = append(out, s.baseReg.Status()...)
	out = append(out, s.tokenReg.Status()...)
	return out
}

// Run starts every watcher and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.resolvePrefs(ctx)

	for _, reg := range []*watch.Registry{s.portfolioReg, s.baseReg, s.tokenReg} {
		if err := reg.Start(ctx); err != nil {
			return err
		}
	}

	s.seedFixedTargets(ctx)

	s.sched.Schedule(ctx, reconcileJobID, s.cfg.Watch.ReconcileInterval, func(jobCtx context.Context) {
		if err := s.Reconcile(jobCtx); err != nil {
			s.logger.Warn().Err(err).Msg("registry reconcile failed")
		}
	})

	if s.cfg.Watch.AlertRetention > 0 && s.alerts != nil {
		s.sched.Schedule(ctx, retentionJobID, 24*time.Hour, func(jobCtx context.Context) {
			cutoff := time.Now().UTC().Add(-s.cfg.Watch.AlertRetention)
			if err := s.alerts.DeleteAlertsBefore(jobCtx, cutoff); err != nil {
				s.logger.Warn().Err(err).Msg("alert retention sweep failed")
			}
		})
	}

	s.logger.Info().Msg("watchers running")
	<-ctx.Done()

	s.portfolioReg.Stop()
	s.baseReg.Stop()
	s.tokenReg.Stop()
	s.sched.Stop()

	return ctx.Err()
}

// resolvePrefs overlays stored process-wide preferences onto config defaults.
func (s *Service) resolvePrefs(ctx context.Context) {
	if s.prefs == nil {
		return
	}

	if raw, ok, err := s.prefs.GetPref(ctx, PrefMilestoneUSD); err != nil {
		s.logger.Warn().Err(err).Msg("failed to read milestone pref")
	} else if ok {
		if v, parseErr := decimal.NewFromString(raw); parseErr == nil && v.IsPositive() {
			s.milestone = v
		} else {
			s.logger.Warn().Str("value", raw).Msg("ignoring malformed milestone pref")
		}
	}
}

// defaultTarget builds the starting configuration for a new target,
// preferring stored defaults over config.
func (s *Service) defaultTarget(ctx context.Context, id, displayName, category string) watch.Target {
	tiers := s.cfg.Watch.DefaultTiers
	interval := s.cfg.Watch.DefaultInterval

	if s.prefs != nil {
		if raw, ok, _ := s.prefs.GetPref(ctx, PrefDefaultIntervalSec); ok {
			if secs, err := strconv.Atoi(raw); err == nil {
				candidate := time.Duration(secs) * time.Second
				if config.ValidateInterval(candidate) == nil {
					interval = candidate
				}
			}
		}
		for key, dst := range map[string]*float64{
			PrefDefaultMinorPct:    &tiers.Minor,
			PrefDefaultMajorPct:    &tiers.Major,
			PrefDefaultCriticalPct: &tiers.Critical,
		} {
			if raw, ok, _ := s.prefs.GetPref(ctx, key); ok {
				if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
					*dst = v
				}
			}
		}
		if tiers.ToTier().Validate() != nil {
			tiers = s.cfg.Watch.DefaultTiers
		}
	}

	return watch.Target{
		ID:          id,
		Category:    category,
		DisplayName: displayName,
		Tiers:       tiers.ToTier(),
		Enabled:     watch.EnabledTiers{Minor: true, Major: true, Critical: true},
		Interval:    interval,
		Active:      true,
	}
}

// AddToken registers a token watch with default configuration plus patch.
// Ids owned by the fixed portfolio and base watchers are reserved.
func (s *Service) AddToken(ctx context.Context, tokenID, displayName string, patch watch.ConfigPatch) error {
	if tokenID == watch.BaseTargetID ||
		(s.cfg.Portfolio.WalletAddress != "" && strings.EqualFold(tokenID, s.cfg.Portfolio.WalletAddress)) {
		return fmt.Errorf("id %s is reserved for a fixed watcher", tokenID)
	}
	if displayName == "" {
		displayName = tokenID
	}
	t := patch.Apply(s.defaultTarget(ctx, tokenID, displayName, storage.CategoryToken))
	return s.tokenReg.AddTarget(ctx, t)
}

func (s *Service) registryFor(category string) *watch.Registry {
	switch category {
	case storage.CategoryPortfolio:
		return s.portfolioReg
	case storage.CategoryBase:
		return s.baseReg
	default:
		return s.tokenReg
	}
}

// UpdateTarget routes a partial configuration update to the owning
// registry, loading its persisted state first when this process is not the
// running daemon.
func (s *Service) UpdateTarget(ctx context.Context, id string, patch watch.ConfigPatch) error {
	row, err := s.targets.GetTarget(ctx, id)
	if err != nil {
		return err
	}
	reg := s.registryFor(row.Category)
	if err := reg.Reconcile(ctx); err != nil {
		return err
	}
	return reg.UpdateConfig(ctx, id, patch)
}

// RemoveTarget deactivates a target by id, whichever watcher owns it.
func (s *Service) RemoveTarget(ctx context.Context, id string) error {
	row, err := s.targets.GetTarget(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTargetNotFound) {
			return nil
		}
		return err
	}
	reg := s.registryFor(row.Category)
	if err := reg.Reconcile(ctx); err != nil {
		return err
	}
	return reg.RemoveTarget(ctx, id)
}

// ListTargets returns active rows across all watcher categories.
func (s *Service) ListTargets(ctx context.Context) ([]storage.TargetRow, error) {
	var out []storage.TargetRow
	for _, category := range []string{storage.CategoryPortfolio, storage.CategoryBase, storage.CategoryToken} {
		rows, err := s.targets.ListActiveTargets(ctx, category)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// seedFixedTargets creates the portfolio and base token targets on first
// start. Registries are already started, so AddTarget no-ops when the row
// was rehydrated. A failed baseline fetch falls back to a zero baseline; the
// first successful cycle then seeds state without tier alerts (a zero
// baseline never classifies), though the milestone policy still fires when
// that first sample is already at or above the line.
func (s *Service) seedFixedTargets(ctx context.Context) {
	if wallet := s.cfg.Portfolio.WalletAddress; wallet != "" {
		t := watch.Target{
			ID:          wallet,
			Category:    storage.CategoryPortfolio,
			DisplayName: "Portfolio",
			Tiers:       s.cfg.Portfolio.Tiers.ToTier(),
			Enabled: watch.EnabledTiers{
				Minor:    s.cfg.Portfolio.Enable.Minor,
				Major:    s.cfg.Portfolio.Enable.Major,
				Critical: s.cfg.Portfolio.Enable.Critical,
			},
			Interval: s.cfg.Portfolio.Interval,
			Active:   true,
		}
		s.seedTarget(ctx, s.portfolioReg, t)
	} else {
		s.logger.Warn().Msg("portfolio.wallet_address not configured; portfolio watcher disabled")
	}

	base := watch.Target{
		ID:          watch.BaseTargetID,
		Category:    storage.CategoryBase,
		DisplayName: s.cfg.Base.Symbol,
		Tiers:       s.cfg.Base.Tiers.ToTier(),
		Enabled: watch.EnabledTiers{
			Minor:    s.cfg.Base.Enable.Minor,
			Major:    s.cfg.Base.Enable.Major,
			Critical: s.cfg.Base.Enable.Critical,
		},
		Interval: s.cfg.Base.Interval,
		Active:   true,
	}
	s.seedTarget(ctx, s.baseReg, base)
}

func (s *Service) seedTarget(ctx context.Context, reg *watch.Registry, t watch.Target) {
	err := reg.AddTarget(ctx, t)
	if err == nil {
		return
	}

	// Startup must survive a transient source outage: persist a zero
	// baseline and let the loop seed itself on its first good sample.
	s.logger.Warn().Err(err).Str("target", t.ID).Msg("baseline fetch failed; seeding zero baseline")
	if upsertErr := s.targets.UpsertTarget(ctx, watch.RowFromTarget(t)); upsertErr != nil {
		s.logger.Error().Err(upsertErr).Str("target", t.ID).Msg("failed to persist fixed target")
		return
	}
	if recErr := reg.Reconcile(ctx); recErr != nil {
		s.logger.Error().Err(recErr).Str("target", t.ID).Msg("failed to schedule fixed target")
	}
}
