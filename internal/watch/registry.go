package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wallet-watch/internal/alerting"
	"wallet-watch/internal/schedule"
	"wallet-watch/internal/storage"
	"wallet-watch/internal/tier"
)

// Source supplies the current value of a monitored quantity. Failures are
// treated as transient for the cycle in which they occur.
type Source interface {
	Fetch(ctx context.Context, id string) (decimal.Decimal, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, id string) (decimal.Decimal, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, id string) (decimal.Decimal, error) {
	return f(ctx, id)
}

// PolicyFactory builds the suppression policies for a target. It runs on
// every cycle so policies can pick up updated configuration.
type PolicyFactory func(t *Target) []Policy

// Options parameterise a Registry.
type Options struct {
	// Category tags targets, alerts, and scheduler job ids.
	Category string
	// Policies builds the suppression discipline per target.
	Policies PolicyFactory
	// HistoryKeep bounds retained history points per target.
	HistoryKeep int
}

// Registry owns the set of monitor loops for one watcher category. The
// store is the system of record; Start rehydrates all active targets before
// any loop runs.
type Registry struct {
	opts    Options
	sched   *schedule.Scheduler
	source  Source
	sink    alerting.Sink
	targets storage.TargetStore
	alerts  storage.AlertStore
	history storage.HistoryStore
	logger  zerolog.Logger

	mu      sync.Mutex
	items   map[string]*Target
	started bool
	runCtx  context.Context
}

// NewRegistry constructs a registry over shared infrastructure.
func NewRegistry(opts Options, sched *schedule.Scheduler, source Source, sink alerting.Sink, targets storage.TargetStore, alerts storage.AlertStore, history storage.HistoryStore, logger zerolog.Logger) *Registry {
	if opts.Policies == nil {
		opts.Policies = func(*Target) []Policy { return []Policy{EdgePolicy{}} }
	}
	return &Registry{
		opts:    opts,
		sched:   sched,
		source:  source,
		sink:    sink,
		targets: targets,
		alerts:  alerts,
		history: history,
		logger:  logger.With().Str("component", "registry").Str("category", opts.Category).Logger(),
		items:   make(map[string]*Target),
	}
}

func (r *Registry) jobID(id string) string {
	return r.opts.Category + ":" + id
}

// Start rehydrates active targets from the store and schedules one loop per
// target. It must complete before the registry accepts commands that depend
// on scheduling.
func (r *Registry) Start(ctx context.Context) error {
	rows, err := r.targets.ListActiveTargets(ctx, r.opts.Category)
	if err != nil {
		return fmt.Errorf("rehydrate %s targets: %w", r.opts.Category, err)
	}

	r.mu.Lock()
	r.started = true
	r.runCtx = ctx
	for _, row := range rows {
		t := TargetFromRow(row)
		// A corrupt row must not take the daemon down with it.
		if err := t.Validate(); err != nil {
			r.logger.Warn().Err(err).Str("target", t.ID).Msg("skipping invalid persisted target")
			continue
		}
		r.items[t.ID] = &t
	}
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.scheduleLoop(ctx, id)
	}

	r.logger.Info().Int("targets", len(ids)).Msg("registry started")
	return nil
}

// Stop cancels every loop owned by this registry.
func (r *Registry) Stop() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	r.started = false
	r.mu.Unlock()

	for _, id := range ids {
		r.sched.Cancel(r.jobID(id))
	}
}

func (r *Registry) scheduleLoop(ctx context.Context, id string) {
	r.mu.Lock()
	t, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	interval := t.Interval
	r.mu.Unlock()

	targetID := id
	r.sched.Schedule(ctx, r.jobID(id), interval, func(cycleCtx context.Context) {
		r.runCycle(cycleCtx, targetID)
	})
}

// AddTarget registers a new target. Re-adding an active id is an idempotent
// no-op; an inactive id is reactivated. A synchronous baseline fetch seeds
// LastValue before the loop is scheduled, so the first tick never alerts.
func (r *Registry) AddTarget(ctx context.Context, t Target) error {
	t.Category = r.opts.Category
	t.Active = true
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if existing, ok := r.items[t.ID]; ok && existing.Active {
		r.mu.Unlock()
		r.logger.Debug().Str("target", t.ID).Msg("target already active; add is a no-op")
		return nil
	}
	r.mu.Unlock()

	// Target ids are globally unique across watcher categories; an active row
	// owned elsewhere must not be re-categorised out from under its watcher.
	switch row, err := r.targets.GetTarget(ctx, t.ID); {
	case err == nil && row.Active && row.Category != r.opts.Category:
		return &ValidationError{
			Field:  "id",
			Reason: fmt.Sprintf("%s is already watched by the %s watcher", t.ID, row.Category),
		}
	case err == nil && row.Active:
		// Active in the store but not yet in memory: another process added
		// it. Adopt the persisted row instead of re-seeding a baseline.
		r.mu.Lock()
		adopted := TargetFromRow(row)
		r.items[adopted.ID] = &adopted
		started := r.started
		runCtx := r.runCtx
		r.mu.Unlock()
		if started {
			r.scheduleLoop(runCtx, t.ID)
		}
		r.logger.Debug().Str("target", t.ID).Msg("target already active in store; add is a no-op")
		return nil
	case err != nil && !errors.Is(err, storage.ErrTargetNotFound):
		return fmt.Errorf("check existing target %s: %w", t.ID, err)
	}

	baseline, err := r.source.Fetch(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("baseline fetch for %s: %w", t.ID, err)
	}
	t.LastValue = baseline
	t.LastSampleAt = time.Now().UTC()

	if err := r.targets.UpsertTarget(ctx, RowFromTarget(t)); err != nil {
		return fmt.Errorf("persist target %s: %w", t.ID, err)
	}

	r.mu.Lock()
	stored := t
	r.items[t.ID] = &stored
	started := r.started
	runCtx := r.runCtx
	r.mu.Unlock()

	if started {
		r.scheduleLoop(runCtx, t.ID)
	}

	r.logger.Info().Str("target", t.ID).Str("baseline", baseline.String()).Msg("target added")
	return nil
}

// RemoveTarget stops the target's loop, marks its row inactive, and drops it
// from the in-memory set. Unknown ids are a no-op.
func (r *Registry) RemoveTarget(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.items[id]
	if ok {
		t.Active = false
		delete(r.items, id)
	}
	r.mu.Unlock()

	r.sched.Cancel(r.jobID(id))

	if err := r.targets.DeactivateTarget(ctx, id); err != nil {
		return fmt.Errorf("deactivate target %s: %w", id, err)
	}

	if ok {
		r.logger.Info().Str("target", id).Msg("target removed")
	}
	return nil
}

// UpdateConfig validates and merges a partial configuration update. When the
// interval changes on a running target, its loop is restarted so the new
// period takes effect on the very next tick.
func (r *Registry) UpdateConfig(ctx context.Context, id string, patch ConfigPatch) error {
	r.mu.Lock()
	t, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("target %s: %w", id, storage.ErrTargetNotFound)
	}

	updated := patch.Apply(*t)
	if err := updated.Validate(); err != nil {
		r.mu.Unlock()
		return err
	}

	intervalChanged := updated.Interval != t.Interval
	*t = updated
	started := r.started
	runCtx := r.runCtx
	r.mu.Unlock()

	if err := r.targets.UpsertTarget(ctx, RowFromTarget(updated)); err != nil {
		return fmt.Errorf("persist target %s: %w", id, err)
	}

	if started && intervalChanged {
		r.sched.Reschedule(runCtx, r.jobID(id), updated.Interval)
	}

	r.logger.Info().Str("target", id).Bool("rescheduled", started && intervalChanged).Msg("target config updated")
	return nil
}

// List returns a snapshot of the registered targets, ordered by id.
func (r *Registry) List() []Target {
	r.mu.Lock()
	out := make([]Target, 0, len(r.items))
	for _, t := range r.items {
		out = append(out, *t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TargetStatus summarises one loop for status queries.
type TargetStatus struct {
	ID           string
	DisplayName  string
	Category     string
	Interval     time.Duration
	LastValue    decimal.Decimal
	LastSampleAt time.Time
	Running      bool
}

// Status reports the current state of every registered loop.
func (r *Registry) Status() []TargetStatus {
	targets := r.List()
	out := make([]TargetStatus, 0, len(targets))
	for _, t := range targets {
		out = append(out, TargetStatus{
			ID:           t.ID,
			DisplayName:  t.DisplayName,
			Category:     t.Category,
			Interval:     t.Interval,
			LastValue:    t.LastValue,
			LastSampleAt: t.LastSampleAt,
			Running:      r.sched.Has(r.jobID(t.ID)),
		})
	}
	return out
}

// Reconcile diffs the store's active rows against the in-memory set: rows
// added elsewhere are scheduled, deactivated rows are dropped, and changed
// configurations are applied. Runs periodically so another process's edits
// reach a running daemon.
func (r *Registry) Reconcile(ctx context.Context) error {
	rows, err := r.targets.ListActiveTargets(ctx, r.opts.Category)
	if err != nil {
		return fmt.Errorf("reconcile %s targets: %w", r.opts.Category, err)
	}

	seen := make(map[string]struct{}, len(rows))

	for _, row := range rows {
		seen[row.ID] = struct{}{}

		r.mu.Lock()
		existing, ok := r.items[row.ID]
		if !ok {
			t := TargetFromRow(row)
			if err := t.Validate(); err != nil {
				r.mu.Unlock()
				r.logger.Warn().Err(err).Str("target", t.ID).Msg("reconcile: skipping invalid persisted target")
				continue
			}
			r.items[t.ID] = &t
			started := r.started
			runCtx := r.runCtx
			r.mu.Unlock()
			if started {
				r.scheduleLoop(runCtx, row.ID)
			}
			r.logger.Info().Str("target", row.ID).Msg("reconcile: target picked up")
			continue
		}

		incoming := TargetFromRow(row)
		if err := incoming.Validate(); err != nil {
			r.mu.Unlock()
			r.logger.Warn().Err(err).Str("target", row.ID).Msg("reconcile: ignoring invalid persisted config")
			continue
		}
		intervalChanged := incoming.Interval != existing.Interval
		// Keep live sampling state; adopt configuration fields.
		incoming.LastValue = existing.LastValue
		incoming.LastSampleAt = existing.LastSampleAt
		incoming.Latched = existing.Latched
		*existing = incoming
		started := r.started
		runCtx := r.runCtx
		r.mu.Unlock()

		if started && intervalChanged {
			r.sched.Reschedule(runCtx, r.jobID(row.ID), incoming.Interval)
			r.logger.Info().Str("target", row.ID).Dur("interval", incoming.Interval).Msg("reconcile: interval changed")
		}
	}

	r.mu.Lock()
	var dropped []string
	for id, t := range r.items {
		if _, ok := seen[id]; !ok {
			t.Active = false
			delete(r.items, id)
			dropped = append(dropped, id)
		}
	}
	r.mu.Unlock()

	for _, id := range dropped {
		r.sched.Cancel(r.jobID(id))
		r.logger.Info().Str("target", id).Msg("reconcile: target deactivated")
	}

	return nil
}

// runCycle performs one sample for a target: fetch, classify, apply
// suppression, emit, persist. A fetch failure skips the cycle without
// touching state; persistence failures advance in-memory state anyway.
func (r *Registry) runCycle(ctx context.Context, id string) {
	r.mu.Lock()
	t, ok := r.items[id]
	if !ok || !t.Active {
		r.mu.Unlock()
		return
	}
	targetID := t.ID
	r.mu.Unlock()

	current, err := r.source.Fetch(ctx, targetID)
	if err != nil {
		r.logger.Warn().Err(err).Str("target", targetID).Msg("fetch failed; cycle skipped")
		return
	}

	r.mu.Lock()
	t, ok = r.items[id]
	if !ok || !t.Active {
		// Target removed while the fetch was in flight; discard the result.
		r.mu.Unlock()
		return
	}

	res := tier.Classify(t.LastValue, current, t.Tiers)

	var emitted []Alert
	for _, policy := range r.opts.Policies(t) {
		emitted = append(emitted, policy.Evaluate(t, res, current)...)
	}

	t.LastValue = current
	t.LastSampleAt = time.Now().UTC()
	lastSampleAt := t.LastSampleAt
	latched := t.Latched
	label := t.DisplayName
	r.mu.Unlock()

	for _, alert := range emitted {
		rec := storage.AlertRecord{
			Category:  r.opts.Category,
			TargetID:  targetID,
			Severity:  alert.Severity,
			Message:   alert.Message,
			Value:     alert.Value,
			DeltaPct:  alert.DeltaPct,
			CreatedAt: lastSampleAt,
		}
		if r.alerts != nil {
			persisted, insertErr := r.alerts.InsertAlert(ctx, rec)
			if insertErr != nil {
				r.logger.Error().Err(insertErr).Str("target", targetID).Msg("failed to persist alert record")
			} else {
				rec = persisted
			}
		}
		r.logger.Info().
			Str("target", targetID).
			Str("severity", alert.Severity).
			Str("delta_pct", alert.DeltaPct.String()).
			Msg("alert emitted")
		if r.sink != nil {
			r.sink.Deliver(rec)
		}
	}

	if r.history != nil {
		point := storage.HistoryPoint{
			TargetID:  targetID,
			Label:     label,
			Value:     current,
			SampledAt: lastSampleAt,
		}
		if err := r.history.AppendHistory(ctx, point, r.opts.HistoryKeep); err != nil {
			r.logger.Error().Err(err).Str("target", targetID).Msg("failed to persist history point")
		}
	}

	if err := r.targets.UpdateTargetState(ctx, targetID, current, lastSampleAt, latched); err != nil {
		r.logger.Error().Err(err).Str("target", targetID).Msg("failed to persist target state")
	}

	r.logger.Debug().
		Str("target", targetID).
		Str("value", current.String()).
		Str("tier", res.Tier.String()).
		Msg("sample recorded")
}
