// Package sweep periodically re-checks the notification of every active
// order and repairs drift: deleted messages are recreated, messages left in
// the wrong channel are moved, stale renders are refreshed.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/observability"
	"github.com/tbourn/go-order-relay/internal/ttlset"
)

// Defaults applied when the matching Sweeper field is zero.
const (
	DefaultInterval      = 10 * time.Minute
	DefaultDedupMaxAge   = 5 * time.Minute
	DefaultBaseDelay     = 200 * time.Millisecond
	DefaultPerOrderDelay = 50 * time.Millisecond
	DefaultMaxDelay      = 2 * time.Second
)

// Store lists the orders to check.
type Store interface {
	ListActive(ctx context.Context) ([]domain.Order, error)
}

// Notifier is the slice of the dispatcher the sweeper needs.
type Notifier interface {
	EnsureReady(ctx context.Context) bool
	ReconcileOne(ctx context.Context, o *domain.Order, force bool) notify.Result
	NotifyCreated(ctx context.Context, o *domain.Order) bool
}

// Activity reports whether interactions are being processed.
type Activity interface {
	Busy() bool
}

// Report summarizes one pass.
type Report struct {
	// Skipped is set when the whole pass was skipped; Reason says why.
	Skipped bool
	Reason  string

	Checked   int
	Touched   int
	UpToDate  int
	Edited    int
	Recreated int
	Failed    int
	Purged    int
}

// Sweeper runs reconciliation passes, once on Start and then every
// Interval.
type Sweeper struct {
	Store    Store
	Notifier Notifier
	// Activity may be nil when no interaction handler runs in-process.
	Activity Activity
	Dedup    ttlset.Set
	Touched  ttlset.Set

	Interval      time.Duration
	DedupMaxAge   time.Duration
	BaseDelay     time.Duration
	PerOrderDelay time.Duration
	MaxDelay      time.Duration

	Log *zerolog.Logger
	// Sleep waits between orders; nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (s *Sweeper) logger() *zerolog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return &log.Logger
}

func or(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Delay is the pause between two orders of a batch of n.
func (s *Sweeper) Delay(n int) time.Duration {
	d := or(s.BaseDelay, DefaultBaseDelay) + time.Duration(n)*or(s.PerOrderDelay, DefaultPerOrderDelay)
	if ceiling := or(s.MaxDelay, DefaultMaxDelay); d > ceiling {
		return ceiling
	}
	return d
}

func (s *Sweeper) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start schedules passes and blocks until ctx is done. The first pass runs
// immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(or(s.Interval, DefaultInterval)),
		gocron.NewTask(func() { s.Run(ctx) }),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	s.logger().Info().Dur("interval", or(s.Interval, DefaultInterval)).Msg("reconciliation sweeper started")
	scheduler.Start()
	<-ctx.Done()
	return scheduler.Shutdown()
}

// Run performs one pass.
func (s *Sweeper) Run(ctx context.Context) Report {
	ctx, sp := otel.Tracer("sweep/Sweeper").Start(ctx, "Run")
	defer sp.End()
	start := time.Now()
	defer observability.ObserveSweep(start)

	l := s.logger()
	var rep Report

	if s.Activity != nil && s.Activity.Busy() {
		l.Debug().Msg("interaction in progress, skipping sweep")
		return skipped(rep, "busy")
	}
	if !s.Notifier.EnsureReady(ctx) {
		l.Warn().Msg("messaging channel not ready, skipping sweep")
		return skipped(rep, "not_ready")
	}

	if s.Dedup != nil {
		n, err := s.Dedup.PurgeOlderThan(ctx, or(s.DedupMaxAge, DefaultDedupMaxAge))
		if err != nil {
			l.Warn().Err(err).Msg("purge dedup entries failed")
		}
		rep.Purged = n
	}

	orders, err := s.Store.ListActive(ctx)
	if err != nil {
		l.Error().Err(err).Msg("list active orders failed")
		return skipped(rep, "store_error")
	}

	delay := s.Delay(len(orders))
	for i := range orders {
		if i > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				l.Info().Int("remaining", len(orders)-i).Msg("sweep interrupted")
				break
			}
		}
		result := s.one(ctx, &orders[i])
		observability.ObserveSweepOrder(result)
		rep.add(result)
	}

	sp.SetAttributes(
		attribute.Int("sweep.checked", rep.Checked),
		attribute.Int("sweep.recreated", rep.Recreated),
		attribute.Int("sweep.failed", rep.Failed),
	)
	l.Info().
		Int("checked", rep.Checked).Int("touched", rep.Touched).Int("up_to_date", rep.UpToDate).
		Int("edited", rep.Edited).Int("recreated", rep.Recreated).Int("failed", rep.Failed).
		Int("purged", rep.Purged).Dur("took", time.Since(start)).
		Msg("reconciliation sweep done")
	return rep
}

func skipped(rep Report, reason string) Report {
	rep.Skipped = true
	rep.Reason = reason
	return rep
}

const resultTouched = "touched"

func (r *Report) add(result string) {
	r.Checked++
	switch result {
	case resultTouched:
		r.Touched++
	case notify.UpToDate.String():
		r.UpToDate++
	case notify.Edited.String():
		r.Edited++
	case notify.Recreated.String():
		r.Recreated++
	default:
		r.Failed++
	}
}

// one reconciles a single order. A panic is contained to this order.
func (s *Sweeper) one(ctx context.Context, o *domain.Order) (result string) {
	l := s.logger().With().Uint("order_id", o.ID).Str("numero", o.Numero).Logger()
	defer func() {
		if p := recover(); p != nil {
			l.Error().Str("panic", fmt.Sprint(p)).Msg("order reconciliation panicked")
			result = notify.Failed.String()
		}
	}()

	if id := o.Notification.MessageID; id != "" && s.Touched != nil {
		touched, err := s.Touched.Contains(ctx, id)
		if err != nil {
			l.Warn().Err(err).Msg("recently-touched lookup failed")
		}
		if touched {
			return resultTouched
		}
	}

	res := s.Notifier.ReconcileOne(ctx, o, false)
	switch res {
	case notify.Failed, notify.NeedsRecreation:
		if s.Notifier.NotifyCreated(ctx, o) {
			l.Info().Str("reconcile", res.String()).Msg("order notification recreated")
			return notify.Recreated.String()
		}
		l.Warn().Str("reconcile", res.String()).Msg("order notification could not be recreated")
		return notify.Failed.String()
	case notify.Unavailable:
		l.Warn().Msg("messaging channel unavailable for order, will retry next sweep")
	}
	return res.String()
}
