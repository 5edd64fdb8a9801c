package alerting

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

	"wallet-watch/internal/storage"
)

type stubNotifier struct {
	mu    sync.Mutex
	err   error
	notes []Notification
}

func (s *stubNotifier) Notify(_ context.Context, note Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.notes = append(s.notes, note)
	return nil
}

type stubAlertStore struct {
	mu        sync.Mutex
	delivered []int64
}

func (s *stubAlertStore) InsertAlert(_ context.Context, rec storage.AlertRecord) (storage.AlertRecord, error) {
	return rec, nil
}

func (s *stubAlertStore) MarkAlertDelivered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, id)
	return nil
}

func (s *stubAlertStore) ListRecentAlerts(_ context.Context, limit int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (s *stubAlertStore) DeleteAlertsBefore(_ context.Context, olderThan time.Time) error {
	return nil
}

func sampleRecord() storage.AlertRecord {
	return storage.AlertRecord{
		ID:        7,
		Category:  "portfolio",
		TargetID:  "0xabc",
		Severity:  "critical",
		Message:   "portfolio moved down 25.00% (1000.00 -> 750.00)",
		Value:     decimal.NewFromInt(750),
		DeltaPct:  decimal.NewFromInt(-25),
		CreatedAt: time.Now().UTC(),
	}
}

func TestAsyncSinkMarksDelivered(t *testing.T) {
	notifier := &stubNotifier{}
	alerts := &stubAlertStore{}
	sink := NewAsyncSink(notifier, alerts, zerolog.Nop())

	sink.Deliver(sampleRecord())
	sink.Wait()

	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "critical", notifier.notes[0].Severity)
	assert.Equal(t, []int64{7}, alerts.delivered)
}

func TestAsyncSinkFailureDoesNotMarkDelivered(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("telegram down")}
	alerts := &stubAlertStore{}
	sink := NewAsyncSink(notifier, alerts, zerolog.Nop())

	// Deliver must not panic or propagate the failure.
	sink.Deliver(sampleRecord())
	sink.Wait()

	assert.Empty(t, alerts.delivered)
}

func TestAsyncSinkNilNotifierLogsOnly(t *testing.T) {
	alerts := &stubAlertStore{}
	sink := NewAsyncSink(nil, alerts, zerolog.Nop())

	sink.Deliver(sampleRecord())
	sink.Wait()

	assert.Empty(t, alerts.delivered)
}

func TestAsyncSinkSkipsMarkingUnpersistedAlert(t *testing.T) {
	notifier := &stubNotifier{}
	alerts := &stubAlertStore{}
	sink := NewAsyncSink(notifier, alerts, zerolog.Nop())

	rec := sampleRecord()
	rec.ID = 0
	sink.Deliver(rec)
	sink.Wait()

	require.Len(t, notifier.notes, 1)
	assert.Empty(t, alerts.delivered)
}
