// Package worker contains the background outbox drain loop. It ships pending
// outbox entries to the remote sync endpoint with capped exponential backoff.
// Delivery is at-least-once with unbounded retry: entries are never dropped.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/domain/outbox"
	"github.com/totempos/kiosk/internal/infrastructure/observability"
)

// SyncClient delivers a single outbox entry to the remote sync endpoint.
type SyncClient interface {
	Deliver(ctx context.Context, entry *outbox.Entry) error
}

// Config holds the outbox worker parameters.
type Config struct {
	TickInterval time.Duration
	BatchSize    int
	BaseDelay    time.Duration
	Jitter       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 2000 * time.Millisecond,
		BatchSize:    20,
		BaseDelay:    500 * time.Millisecond,
		Jitter:       300 * time.Millisecond,
	}
}

// OutboxWorker drains due outbox entries on a fixed tick.
type OutboxWorker struct {
	repo    outbox.Repository
	client  SyncClient
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewOutboxWorker(repo outbox.Repository, client SyncClient, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *OutboxWorker {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &OutboxWorker{
		repo:    repo,
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "outbox_worker").Logger(),
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start blocks draining the outbox until the context is cancelled or Stop is
// called. The in-flight iteration always runs to completion; no delivery is
// aborted mid-call.
func (w *OutboxWorker) Start(ctx context.Context) error {
	defer close(w.doneCh)

	w.logger.Info().
		Dur("tick_interval", w.cfg.TickInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("outbox worker started")

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("outbox worker stopped")
			return nil
		case <-w.stopCh:
			w.logger.Info().Msg("outbox worker stopped")
			return nil
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("outbox tick failed")
			}
		}
	}
}

// Stop requests a graceful stop and waits for the current iteration to
// finish.
func (w *OutboxWorker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
}

// RunOnce processes a single batch of due entries, sequentially, oldest
// first.
func (w *OutboxWorker) RunOnce(ctx context.Context) error {
	now := time.Now()
	entries, err := w.repo.GetDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := w.client.Deliver(ctx, entry); err != nil {
			if derr := w.reschedule(ctx, entry, err); derr != nil {
				return derr
			}
			continue
		}
		if err := w.repo.MarkSent(ctx, entry.ID); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.OutboxDelivered.Inc()
		}
		w.logger.Info().
			Str("entry_id", entry.ID).
			Str("event_type", entry.Type).
			Msg("outbox entry delivered")
	}

	if w.metrics != nil {
		if pending, err := w.repo.CountPending(ctx); err == nil {
			w.metrics.OutboxPending.Set(float64(pending))
		}
	}
	return nil
}

// reschedule increments the retry count (saturating at the cap) and pushes
// the entry's next attempt out by the backoff delay.
func (w *OutboxWorker) reschedule(ctx context.Context, entry *outbox.Entry, cause error) error {
	retryCount := entry.RetryCount + 1
	if retryCount > outbox.MaxRetryCount {
		retryCount = outbox.MaxRetryCount
	}

	delay := outbox.RetryDelay(retryCount, w.cfg.BaseDelay)
	if w.cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(w.cfg.Jitter)))
	}
	nextRetryAt := time.Now().Add(delay)

	if w.metrics != nil {
		w.metrics.OutboxFailures.Inc()
	}
	w.logger.Warn().
		Err(cause).
		Str("entry_id", entry.ID).
		Int("retry_count", retryCount).
		Time("next_retry_at", nextRetryAt).
		Msg("outbox delivery failed, rescheduled")

	return w.repo.Reschedule(ctx, entry.ID, retryCount, nextRetryAt, cause.Error())
}
