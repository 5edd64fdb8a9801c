package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wallet-watch/internal/storage"
)

// Sink receives emitted alerts for best-effort delivery. Implementations
// must never block or return errors into the monitoring cycle.
type Sink interface {
	Deliver(rec storage.AlertRecord)
}

// AsyncSink dispatches each alert on its own goroutine, logging failures and
// marking the persisted row delivered on success.
type AsyncSink struct {
	notifier Notifier
	alerts   storage.AlertStore
	logger   zerolog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAsyncSink constructs a fire-and-forget sink. notifier may be nil, in
// which case alerts are only logged.
func NewAsyncSink(notifier Notifier, alerts storage.AlertStore, logger zerolog.Logger) *AsyncSink {
	return &AsyncSink{
		notifier: notifier,
		alerts:   alerts,
		logger:   logger.With().Str("component", "alert_sink").Logger(),
		timeout:  15 * time.Second,
	}
}

// Deliver hands the alert off and returns immediately.
func (s *AsyncSink) Deliver(rec storage.AlertRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(rec)
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in
// tests.
func (s *AsyncSink) Wait() {
	s.wg.Wait()
}

func (s *AsyncSink) deliver(rec storage.AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.notifier == nil {
		s.logger.Info().
			Str("category", rec.Category).
			Str("severity", rec.Severity).
			Str("target", rec.TargetID).
			Str("message", rec.Message).
			Msg("alert (no notifier configured)")
		return
	}

	note := Notification{
		Category:    rec.Category,
		TargetID:    rec.TargetID,
		TargetLabel: rec.TargetID,
		Severity:    rec.Severity,
		Message:     rec.Message,
		Value:       rec.Value,
		DeltaPct:    rec.DeltaPct,
		At:          rec.CreatedAt,
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Int64("alert_id", rec.ID).Msg("failed to dispatch alert")
		return
	}

	if s.alerts != nil && rec.ID != 0 {
		if err := s.alerts.MarkAlertDelivered(ctx, rec.ID); err != nil {
			s.logger.Error().Err(err).Int64("alert_id", rec.ID).Msg("failed to mark alert delivered")
		}
	}
}

var _ Sink = (*AsyncSink)(nil)
