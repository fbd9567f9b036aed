package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultOverdueScanInterval = time.Minute
	defaultOverdueGrace        = 30 * time.Second
	defaultOverdueScanLimit    = 100
)

// SweepResult counts what a startup sweep did with the scheduled attempts it found.
type SweepResult struct {
	Rearmed    int
	Dispatched int
	Failed     int
}

// Reconciler keeps armed timers and persisted attempts in agreement: it cancels
// a recovered payment's reminders, rebuilds timers after a restart and picks up
// rows whose timers were lost.
type Reconciler struct {
	attempts   repository.AttemptRepository
	timers     TimerSet
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	interval   time.Duration
	grace      time.Duration
	limit      int
}

func NewReconciler(
	attempts repository.AttemptRepository,
	timers TimerSet,
	dispatcher Dispatcher,
	interval time.Duration,
	grace time.Duration,
	limit int,
	logger *zap.Logger,
) (*Reconciler, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if timers == nil {
		return nil, fmt.Errorf("timer set is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if interval <= 0 {
		interval = defaultOverdueScanInterval
	}
	if grace <= 0 {
		grace = defaultOverdueGrace
	}
	if limit <= 0 {
		limit = defaultOverdueScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		attempts:   attempts,
		timers:     timers,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		interval:   interval,
		grace:      grace,
		limit:      limit,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// OnRecovered cancels every still-scheduled attempt of the payment and disarms
// their timers. It is idempotent; a second call cancels nothing.
func (r *Reconciler) OnRecovered(ctx context.Context, sig domain.RecoverySignal) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}

	ctx = observability.WithPayment(ctx, sig.MerchantID, sig.GatewayPaymentID)
	logger := observability.WithContextLogger(r.logger, ctx)

	ids, err := r.attempts.CancelScheduled(ctx, sig.MerchantID, sig.GatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel scheduled attempts: %w", err)
	}

	disarmed := 0
	for _, id := range ids {
		if r.timers.Disarm(id) {
			disarmed++
		}
	}
	r.metrics.AddAttemptsCancelled(len(ids))

	logger.Info("recovery attempts cancelled",
		zap.Int("cancelled", len(ids)),
		zap.Int("disarmed", disarmed),
	)
	return ids, nil
}

// Sweep rebuilds timers from storage. Future attempts are re-armed; attempts
// already past due are dispatched now, oldest first, before Sweep returns.
func (r *Reconciler) Sweep(ctx context.Context) (SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var result SweepResult
	scheduled, err := r.attempts.ListScheduled(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list scheduled attempts: %w", err)
	}

	now := r.now()
	overdue := make([]domain.RecoveryAttempt, 0)
	for _, a := range scheduled {
		if a.ScheduledAt.After(now) {
			if err := r.timers.Arm(a.ID, a.ScheduledAt); err != nil {
				return result, fmt.Errorf("failed to re-arm attempt %s: %w", a.ID, err)
			}
			result.Rearmed++
			continue
		}
		overdue = append(overdue, a)
	}

	for _, a := range overdue {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := r.dispatcher.Dispatch(context.WithoutCancel(ctx), a.ID); err != nil {
			result.Failed++
			r.logger.Error("failed to dispatch overdue attempt",
				zap.String("attemptId", a.ID),
				zap.Error(err),
			)
			continue
		}
		result.Dispatched++
	}

	r.logger.Info("scheduled attempts reconciled",
		zap.Int("rearmed", result.Rearmed),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// Start runs the overdue scan until ctx is cancelled. Each pass dispatches
// scheduled rows that are past due by more than the grace period and have no
// armed timer.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.scanOverdue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("overdue attempt scan failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) scanOverdue(ctx context.Context) (int, error) {
	due, err := r.attempts.ListOverdue(ctx, r.now().Add(-r.grace), r.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch overdue attempts: %w", err)
	}

	dispatched := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		a := due[i]
		if r.timers.Armed(a.ID) {
			continue
		}
		if err := r.dispatcher.Dispatch(context.WithoutCancel(ctx), a.ID); err != nil {
			r.logger.Error("failed to dispatch overdue attempt",
				zap.String("attemptId", a.ID),
				zap.Error(err),
			)
			continue
		}
		dispatched++
		r.metrics.IncOverdueDispatched()
	}

	if dispatched > 0 {
		r.logger.Warn("dispatched overdue attempts without a timer", zap.Int("count", dispatched))
	}
	return dispatched, nil
}
