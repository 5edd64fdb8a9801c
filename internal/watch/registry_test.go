package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-watch/internal/schedule"
	"wallet-watch/internal/storage"
	"wallet-watch/internal/tier"
)

type fakeSource struct {
	mu     sync.Mutex
	values map[string]decimal.Decimal
	err    error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		values: make(map[string]decimal.Decimal),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) set(id string, v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[id] = v
}

func (f *fakeSource) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeSource) Fetch(_ context.Context, id string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	v, ok := f.values[id]
	if !ok {
		return decimal.Decimal{}, errors.New("unknown id")
	}
	return v, nil
}

type fakeTargetStore struct {
	mu           sync.Mutex
	rows         map[string]storage.TargetRow
	stateUpdates int
}

func newFakeTargetStore() *fakeTargetStore {
	return &fakeTargetStore{rows: make(map[string]storage.TargetRow)}
}

func (f *fakeTargetStore) UpsertTarget(_ context.Context, row storage.TargetRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ID] = row
	return nil
}

func (f *fakeTargetStore) GetTarget(_ context.Context, id string) (storage.TargetRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return storage.TargetRow{}, storage.ErrTargetNotFound
	}
	return row, nil
}

func (f *fakeTargetStore) ListActiveTargets(_ context.Context, category string) ([]storage.TargetRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.TargetRow
	for _, row := range f.rows {
		if row.Category == category && row.Active {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeTargetStore) DeactivateTarget(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Active = false
		f.rows[id] = row
	}
	return nil
}

func (f *fakeTargetStore) UpdateTargetState(_ context.Context, id string, lastValue decimal.Decimal, lastSampleAt time.Time, latched bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return storage.ErrTargetNotFound
	}
	row.LastValue = lastValue
	row.LastSampleAt = &lastSampleAt
	row.Latched = latched
	f.rows[id] = row
	f.stateUpdates++
	return nil
}

type fakeAlertStore struct {
	mu      sync.Mutex
	records []storage.AlertRecord
	nextID  int64
}

func (f *fakeAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	alert.ID = f.nextID
	f.records = append(f.records, alert)
	return alert, nil
}

func (f *fakeAlertStore) MarkAlertDelivered(_ context.Context, id int64) error { return nil }

func (f *fakeAlertStore) ListRecentAlerts(_ context.Context, limit int) ([]storage.AlertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.AlertRecord(nil), f.records...), nil
}

func (f *fakeAlertStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) error {
	return nil
}

func (f *fakeAlertStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeHistoryStore struct {
	mu     sync.Mutex
	points []storage.HistoryPoint
}

func (f *fakeHistoryStore) AppendHistory(_ context.Context, point storage.HistoryPoint, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, point)
	return nil
}

func (f *fakeHistoryStore) ListRecentHistory(_ context.Context, targetID string, limit int) ([]storage.HistoryPoint, error) {
	return nil, nil
}

func (f *fakeHistoryStore) ListHistoryBetween(_ context.Context, targetID string, from, to time.Time) ([]storage.HistoryPoint, error) {
	return nil, nil
}

func (f *fakeHistoryStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fakeSink struct {
	mu      sync.Mutex
	records []storage.AlertRecord
}

func (f *fakeSink) Deliver(rec storage.AlertRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type registryFixture struct {
	reg     *Registry
	sched   *schedule.Scheduler
	source  *fakeSource
	targets *fakeTargetStore
	alerts  *fakeAlertStore
	history *fakeHistoryStore
	sink    *fakeSink
}

func newFixture(opts Options) *registryFixture {
	f := &registryFixture{
		sched:   schedule.New(schedule.Options{}, zerolog.Nop()),
		source:  newFakeSource(),
		targets: newFakeTargetStore(),
		alerts:  &fakeAlertStore{},
		history: &fakeHistoryStore{},
		sink:    &fakeSink{},
	}
	if opts.Category == "" {
		opts.Category = "token"
	}
	f.reg = NewRegistry(opts, f.sched, f.source, f.sink, f.targets, f.alerts, f.history, zerolog.Nop())
	return f
}

func tokenTarget(id string) Target {
	return Target{
		ID:          id,
		DisplayName: id,
		Tiers:       tier.ConfigFromFloats(2, 10, 20),
		Enabled:     EnabledTiers{Minor: true, Major: true, Critical: true},
		Interval:    time.Minute,
	}
}

func TestAddTargetSeedsBaseline(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))

	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	row, err := f.targets.GetTarget(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, row.Active)
	assert.True(t, row.LastValue.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, f.source.fetchCount("abc"))
}

func TestAddTargetIdempotent(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))

	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	assert.Len(t, f.reg.List(), 1)
	// The second add must not refetch a baseline.
	assert.Equal(t, 1, f.source.fetchCount("abc"))
}

func TestAddTargetRejectsBadConfig(t *testing.T) {
	f := newFixture(Options{})

	bad := tokenTarget("abc")
	bad.Tiers = tier.ConfigFromFloats(10, 5, 20)
	err := f.reg.AddTarget(context.Background(), bad)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.reg.List())
	assert.Equal(t, 0, f.source.fetchCount("abc"))
}

func TestAddTargetRejectsIDOwnedByAnotherCategory(t *testing.T) {
	f := newFixture(Options{})

	// The base watcher owns this id; its row must keep its category.
	row := RowFromTarget(tokenTarget("base"))
	row.Category = "base"
	row.Active = true
	require.NoError(t, f.targets.UpsertTarget(context.Background(), row))

	f.source.set("base", decimal.NewFromInt(100))
	err := f.reg.AddTarget(context.Background(), tokenTarget("base"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, f.source.fetchCount("base"))

	stored, getErr := f.targets.GetTarget(context.Background(), "base")
	require.NoError(t, getErr)
	assert.Equal(t, "base", stored.Category)
	assert.True(t, stored.Active)
}

func TestAddTargetAdoptsRowFromAnotherProcess(t *testing.T) {
	f := newFixture(Options{})

	row := RowFromTarget(tokenTarget("abc"))
	row.Category = "token"
	row.Active = true
	row.LastValue = decimal.NewFromInt(42)
	require.NoError(t, f.targets.UpsertTarget(context.Background(), row))

	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	// No re-seeded baseline; the persisted state is adopted as-is.
	assert.Equal(t, 0, f.source.fetchCount("abc"))
	targets := f.reg.List()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].LastValue.Equal(decimal.NewFromInt(42)))
}

func TestRemoveTargetIdempotent(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	require.NoError(t, f.reg.RemoveTarget(context.Background(), "abc"))
	require.NoError(t, f.reg.RemoveTarget(context.Background(), "abc"))

	assert.Empty(t, f.reg.List())
	row, err := f.targets.GetTarget(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, row.Active)
}

func TestUpdateConfigRejectionLeavesTargetUnchanged(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	// major <= minor must be rejected.
	badMajor := 1.5
	err := f.reg.UpdateConfig(context.Background(), "abc", ConfigPatch{MajorPct: &badMajor})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	targets := f.reg.List()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].Tiers.Major.Equal(decimal.NewFromInt(10)))

	row, rowErr := f.targets.GetTarget(context.Background(), "abc")
	require.NoError(t, rowErr)
	assert.True(t, row.MajorPct.Equal(decimal.NewFromInt(10)))
}

func TestUpdateConfigIntervalRestartsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))

	require.NoError(t, f.reg.Start(ctx))
	defer func() {
		f.reg.Stop()
		f.sched.Stop()
	}()

	require.NoError(t, f.reg.AddTarget(ctx, tokenTarget("abc")))
	require.True(t, f.sched.Has("token:abc"))
	require.Equal(t, time.Minute, f.sched.Interval("token:abc"))

	newInterval := 2 * time.Minute
	require.NoError(t, f.reg.UpdateConfig(ctx, "abc", ConfigPatch{Interval: &newInterval}))
	assert.Equal(t, newInterval, f.sched.Interval("token:abc"))
}

func TestUpdateConfigIntervalOutOfBounds(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	tooShort := 5 * time.Second
	err := f.reg.UpdateConfig(context.Background(), "abc", ConfigPatch{Interval: &tooShort})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestStartRehydratesOnlyActiveTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(Options{})

	rowA := RowFromTarget(tokenTarget("A"))
	rowA.Category = "token"
	rowA.Active = true
	rowA.LastValue = decimal.NewFromInt(100)
	require.NoError(t, f.targets.UpsertTarget(ctx, rowA))

	rowB := RowFromTarget(tokenTarget("B"))
	rowB.Category = "token"
	rowB.Active = false
	require.NoError(t, f.targets.UpsertTarget(ctx, rowB))

	require.NoError(t, f.reg.Start(ctx))
	defer func() {
		f.reg.Stop()
		f.sched.Stop()
	}()

	assert.True(t, f.sched.Has("token:A"))
	assert.False(t, f.sched.Has("token:B"))
	require.Len(t, f.reg.List(), 1)

	// First post-restart sample equals the persisted value: zero delta, no
	// alert.
	f.source.set("A", decimal.NewFromInt(100))
	f.reg.runCycle(ctx, "A")
	assert.Equal(t, 0, f.alerts.count())
	assert.Equal(t, 0, f.sink.count())
	assert.Equal(t, 1, f.history.count())
}

func TestStartSkipsInvalidPersistedRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(Options{})

	row := RowFromTarget(tokenTarget("corrupt"))
	row.Category = "token"
	row.Active = true
	row.IntervalSeconds = 0
	require.NoError(t, f.targets.UpsertTarget(ctx, row))

	require.NoError(t, f.reg.Start(ctx))
	defer func() {
		f.reg.Stop()
		f.sched.Stop()
	}()

	assert.False(t, f.sched.Has("token:corrupt"))
	assert.Empty(t, f.reg.List())
}

func TestStatusReportsRunningLoops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))

	require.NoError(t, f.reg.Start(ctx))
	defer func() {
		f.reg.Stop()
		f.sched.Stop()
	}()

	require.NoError(t, f.reg.AddTarget(ctx, tokenTarget("abc")))

	statuses := f.reg.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "abc", statuses[0].ID)
	assert.Equal(t, "token", statuses[0].Category)
	assert.Equal(t, time.Minute, statuses[0].Interval)
	assert.True(t, statuses[0].Running)
	assert.True(t, statuses[0].LastValue.Equal(decimal.NewFromInt(100)))

	require.NoError(t, f.reg.RemoveTarget(ctx, "abc"))
	assert.Empty(t, f.reg.Status())
}

func TestCycleEmitsAndPersists(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	f.source.set("abc", decimal.NewFromInt(121))
	f.reg.runCycle(context.Background(), "abc")

	require.Equal(t, 1, f.alerts.count())
	assert.Equal(t, "critical", f.alerts.records[0].Severity)
	assert.Equal(t, 1, f.sink.count())
	assert.Equal(t, 1, f.history.count())

	row, err := f.targets.GetTarget(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, row.LastValue.Equal(decimal.NewFromInt(121)))
}

func TestCycleFetchFailureSkipsStateMutation(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))

	f.source.mu.Lock()
	f.source.err = errors.New("upstream down")
	f.source.mu.Unlock()

	f.reg.runCycle(context.Background(), "abc")

	assert.Equal(t, 0, f.alerts.count())
	assert.Equal(t, 0, f.history.count())

	targets := f.reg.List()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].LastValue.Equal(decimal.NewFromInt(100)))
}

func TestCycleDiscardsResultForRemovedTarget(t *testing.T) {
	f := newFixture(Options{})
	f.source.set("abc", decimal.NewFromInt(100))
	require.NoError(t, f.reg.AddTarget(context.Background(), tokenTarget("abc")))
	require.NoError(t, f.reg.RemoveTarget(context.Background(), "abc"))

	f.source.set("abc", decimal.NewFromInt(500))
	f.reg.runCycle(context.Background(), "abc")

	assert.Equal(t, 0, f.alerts.count())
	assert.Equal(t, 0, f.history.count())
}

func TestReconcilePicksUpAndDropsTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(Options{})
	require.NoError(t, f.reg.Start(ctx))
	defer func() {
		f.reg.Stop()
		f.sched.Stop()
	}()

	// Another process inserts a row.
	row := RowFromTarget(tokenTarget("new"))
	row.Category = "token"
	row.Active = true
	require.NoError(t, f.targets.UpsertTarget(ctx, row))

	require.NoError(t, f.reg.Reconcile(ctx))
	assert.True(t, f.sched.Has("token:new"))
	assert.Len(t, f.reg.List(), 1)

	// And later deactivates it.
	require.NoError(t, f.targets.DeactivateTarget(ctx, "new"))
	require.NoError(t, f.reg.Reconcile(ctx))
	assert.False(t, f.sched.Has("token:new"))
	assert.Empty(t, f.reg.List())
}

func TestPortfolioPoliciesMilestoneAndEdge(t *testing.T) {
	milestone := decimal.NewFromInt(1000)
	f := newFixture(Options{
		Category: "portfolio",
		Policies: func(*Target) []Policy {
			return []Policy{EdgePolicy{}, LevelPolicy{Threshold: milestone}}
		},
	})
	f.source.set("w1", decimal.NewFromInt(900))

	target := tokenTarget("w1")
	require.NoError(t, f.reg.AddTarget(context.Background(), target))

	// 900 -> 1050: +16.7% (major) and a milestone crossing.
	f.source.set("w1", decimal.NewFromInt(1050))
	f.reg.runCycle(context.Background(), "w1")

	require.Equal(t, 2, f.alerts.count())
	severities := []string{f.alerts.records[0].Severity, f.alerts.records[1].Severity}
	assert.Contains(t, severities, "major")
	assert.Contains(t, severities, SeverityMilestone)

	row, err := f.targets.GetTarget(context.Background(), "w1")
	require.NoError(t, err)
	assert.True(t, row.Latched)
}
