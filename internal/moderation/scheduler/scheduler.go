// Package scheduler drives the periodic work of the moderation core: expiry
// sweeps with review timeouts, and the review banner refresh.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"warden/internal/moderation/ledger"
	"warden/internal/moderation/metrics"
	"warden/internal/moderation/models"
	"warden/internal/moderation/review"
	id "warden/pkg/domain"
)

const (
	DefaultSweepInterval   = time.Second
	DefaultRefreshInterval = 2 * time.Second
)

var tracer = otel.Tracer("warden/internal/moderation/scheduler")

// Display shows the countdown banner to a subject under review.
type Display interface {
	ShowReviewBanner(ctx context.Context, subject id.SubjectID, remaining time.Duration)
}

type Scheduler struct {
	ledger   *ledger.Ledger
	workflow *review.Workflow
	display  Display
	logger   *slog.Logger
	metrics  *metrics.Metrics

	sweepInterval   time.Duration
	refreshInterval time.Duration
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

func New(l *ledger.Ledger, w *review.Workflow, display Display, opts ...Option) (*Scheduler, error) {
	if l == nil {
		return nil, errors.New("restriction ledger is required")
	}
	if w == nil {
		return nil, errors.New("review workflow is required")
	}
	if display == nil {
		return nil, errors.New("review display is required")
	}
	s := &Scheduler{
		ledger:          l,
		workflow:        w,
		display:         display,
		logger:          slog.New(slog.DiscardHandler),
		sweepInterval:   DefaultSweepInterval,
		refreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks until ctx is cancelled. Each loop runs on its own goroutine, so
// a slow cycle delays the next tick of that loop instead of overlapping it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		"sweep_interval", s.sweepInterval,
		"refresh_interval", s.refreshInterval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.every(gctx, s.sweepInterval, "sweep", s.SweepOnce)
	})
	g.Go(func() error {
		return s.every(gctx, s.refreshInterval, "refresh", s.RefreshOnce)
	})

	err := g.Wait()
	s.logger.InfoContext(ctx, "scheduler stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, loop string, cycle func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			cycle(ctx)
			s.metrics.ObserveCycle(loop, time.Since(start))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce removes expired mutes and bans, then escalates timed-out reviews.
func (s *Scheduler) SweepOnce(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "scheduler.sweep")
	defer span.End()

	removed := 0
	for _, kind := range models.Kinds() {
		removed += len(s.ledger.Sweep(ctx, kind))
	}
	escalated := len(s.workflow.ExpireTimedOut(ctx))

	span.SetAttributes(
		attribute.Int("warden.restrictions_expired", removed),
		attribute.Int("warden.reviews_escalated", escalated),
	)
	if removed > 0 || escalated > 0 {
		s.logger.DebugContext(ctx, "sweep cycle", "expired", removed, "escalated", escalated)
	}
}

// RefreshOnce re-shows the countdown banner to every subject under review.
func (s *Scheduler) RefreshOnce(ctx context.Context) {
	active := s.workflow.Active()
	if len(active) == 0 {
		return
	}

	ctx, span := tracer.Start(ctx, "scheduler.refresh",
		trace.WithAttributes(attribute.Int("warden.reviews_active", len(active))))
	defer span.End()

	now := s.ledger.Now()
	for _, r := range active {
		s.display.ShowReviewBanner(ctx, r.Subject, r.RemainingAt(now))
	}
}
