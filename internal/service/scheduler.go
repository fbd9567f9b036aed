package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/policy"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"go.uber.org/zap"
)

// RetryScheduler turns a fresh failure into persisted, armed reminder attempts.
type RetryScheduler struct {
	attempts  repository.AttemptRepository
	merchants repository.MerchantRepository
	policy    *policy.Policy
	timers    TimerSet
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewRetryScheduler(
	attempts repository.AttemptRepository,
	merchants repository.MerchantRepository,
	pol *policy.Policy,
	timers TimerSet,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if pol == nil {
		return nil, fmt.Errorf("schedule policy is required")
	}
	if timers == nil {
		return nil, fmt.Errorf("timer set is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScheduler{
		attempts:  attempts,
		merchants: merchants,
		policy:    pol,
		timers:    timers,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue persists one scheduled attempt per plan step and arms its timer.
// A payment that already has attempts is a logged no-op returning no attempts.
// A step whose insert fails is skipped; earlier steps stay committed and armed.
// A cancelled ctx aborts the plan with an error instead of skipping steps.
// If the payment was recovered before the plan landed, the new attempts are
// cancelled straight away.
func (s *RetryScheduler) Enqueue(ctx context.Context, fc domain.FailureContext) ([]domain.RecoveryAttempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	fc.Normalize()
	if err := fc.Validate(); err != nil {
		return nil, err
	}

	ctx = observability.WithPayment(ctx, fc.MerchantID, fc.GatewayPaymentID)
	logger := observability.WithContextLogger(s.logger, ctx)

	existing, err := s.attempts.CountByPayment(ctx, fc.MerchantID, fc.GatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing attempts: %w", err)
	}
	if existing > 0 {
		logger.Info("payment already has recovery attempts, skipping enqueue",
			zap.Int64("existingAttempts", existing),
			zap.NamedError("reason", domain.ErrDuplicateEvent),
		)
		return nil, nil
	}

	steps := s.policyFor(ctx, fc.MerchantID).Plan(fc)
	now := s.now().UTC()

	committed := make([]domain.RecoveryAttempt, 0, len(steps))
	for i, step := range steps {
		attempt := domain.RecoveryAttempt{
			ID:               s.newID(),
			MerchantID:       fc.MerchantID,
			GatewayPaymentID: fc.GatewayPaymentID,
			Channel:          step.Channel,
			AttemptNo:        i + 1,
			ScheduledAt:      now.Add(step.Delay),
			Status:           domain.AttemptStatusScheduled,
			CreatedAt:        now,
		}

		if err := ctx.Err(); err != nil {
			return committed, fmt.Errorf("enqueue interrupted after %d of %d steps: %w", len(committed), len(steps), err)
		}

		if err := s.attempts.Create(ctx, &attempt, &fc); err != nil {
			if ctx.Err() != nil {
				return committed, fmt.Errorf("enqueue interrupted after %d of %d steps: %w", len(committed), len(steps), err)
			}
			if isUniqueViolationError(err) {
				// A concurrent enqueue owns this payment's plan.
				logger.Info("concurrent enqueue detected, stopping",
					zap.Int("attemptNo", attempt.AttemptNo),
					zap.NamedError("reason", domain.ErrDuplicateEvent),
				)
				break
			}
			logger.Error("failed to persist recovery attempt, skipping step",
				zap.Int("attemptNo", attempt.AttemptNo),
				zap.String("channel", attempt.Channel.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.timers.Arm(attempt.ID, attempt.ScheduledAt); err != nil {
			// Row is the source of truth; the next sweep picks it up.
			logger.Warn("failed to arm attempt timer",
				zap.String("attemptId", attempt.ID),
				zap.Error(err),
			)
		}

		committed = append(committed, attempt)
		s.metrics.IncAttemptsScheduled(attempt.Channel.String(), 1)
	}

	if len(committed) > 0 {
		committed = s.cancelIfRecovered(ctx, fc, committed, logger)
	}

	logger.Info("recovery attempts scheduled",
		zap.Int("planned", len(steps)),
		zap.Int("committed", len(committed)),
	)
	return committed, nil
}

// cancelIfRecovered covers a recovery signal handled before this plan was
// written; OnRecovered found nothing to cancel then.
func (s *RetryScheduler) cancelIfRecovered(
	ctx context.Context,
	fc domain.FailureContext,
	committed []domain.RecoveryAttempt,
	logger *zap.Logger,
) []domain.RecoveryAttempt {
	ids, err := s.attempts.CancelIfRecovered(ctx, fc.MerchantID, fc.GatewayPaymentID)
	if err != nil {
		// The executor re-checks the payment status before sending.
		logger.Warn("failed to check payment recovery after enqueue", zap.Error(err))
		return committed
	}
	if len(ids) == 0 {
		return committed
	}

	cancelled := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.timers.Disarm(id)
		cancelled[id] = struct{}{}
	}
	for i := range committed {
		if _, ok := cancelled[committed[i].ID]; ok {
			committed[i].Status = domain.AttemptStatusCancelled
		}
	}
	s.metrics.AddAttemptsCancelled(len(ids))

	logger.Info("payment already recovered, cancelled new attempts", zap.Int("cancelled", len(ids)))
	return committed
}

func (s *RetryScheduler) policyFor(ctx context.Context, merchantID string) *policy.Policy {
	if s.merchants == nil {
		return s.policy
	}

	m, err := s.merchants.GetByID(ctx, merchantID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to load merchant settings, using global policy",
				zap.String("merchantId", merchantID),
				zap.Error(err),
			)
		}
		return s.policy
	}
	return s.policy.ForMerchant(m)
}
