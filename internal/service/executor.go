package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/channel"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/lock"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/ratelimit"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"go.uber.org/zap"
)

const attemptLockPrefix = "recovery:attempt:"

// Executor runs a due attempt: reload, check status, send, record.
type Executor struct {
	attempts    repository.AttemptRepository
	channels    AdapterSource
	limiter     ratelimit.SendLimiter
	locker      lock.Locker
	countryCode string
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewExecutor(
	attempts repository.AttemptRepository,
	channels AdapterSource,
	limiter ratelimit.SendLimiter,
	locker lock.Locker,
	countryCode string,
	logger *zap.Logger,
) (*Executor, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if channels == nil {
		return nil, fmt.Errorf("channel adapters are required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if locker == nil {
		locker = lock.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		attempts:    attempts,
		channels:    channels,
		limiter:     limiter,
		locker:      locker,
		countryCode: strings.TrimSpace(countryCode),
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (e *Executor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Fire adapts Dispatch to the timer handler signature.
func (e *Executor) Fire(ctx context.Context, attemptID string) {
	if err := e.Dispatch(ctx, attemptID); err != nil {
		e.logger.Error("attempt dispatch failed",
			zap.String("attemptId", attemptID),
			zap.Error(err),
		)
	}
}

// Dispatch sends one attempt if it is still scheduled. Delivery problems are
// recorded on the attempt row; only storage failures are returned.
func (e *Executor) Dispatch(ctx context.Context, attemptID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithAttempt(ctx, attemptID)
	logger := observability.WithContextLogger(e.logger, ctx)

	release, ok, err := e.locker.Obtain(ctx, attemptLockPrefix+attemptID)
	switch {
	case err != nil:
		// Conditional status updates still keep the row consistent.
		logger.Warn("attempt lock unavailable, dispatching unlocked", zap.Error(err))
	case !ok:
		logger.Debug("attempt is being dispatched elsewhere, skipping")
		return nil
	default:
		defer release()
	}

	dc, err := e.attempts.GetDispatchContext(ctx, attemptID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("attempt no longer exists, skipping")
			return nil
		}
		return fmt.Errorf("failed to load attempt: %w", err)
	}

	attempt := dc.Attempt
	if attempt.Status != domain.AttemptStatusScheduled {
		logger.Debug("attempt not scheduled, skipping", zap.String("status", attempt.Status.String()))
		return nil
	}

	if dc.PaymentStatus == domain.PaymentStatusRecovered {
		ids, err := e.attempts.CancelIfRecovered(ctx, attempt.MerchantID, attempt.GatewayPaymentID)
		if err != nil {
			return fmt.Errorf("failed to cancel attempts of recovered payment: %w", err)
		}
		e.metrics.AddAttemptsCancelled(len(ids))
		logger.Info("payment already recovered, attempt cancelled instead of sent", zap.Int("cancelled", len(ids)))
		return nil
	}

	logger = logger.With(
		zap.String("merchantId", attempt.MerchantID),
		zap.String("gatewayPaymentId", attempt.GatewayPaymentID),
		zap.String("channel", attempt.Channel.String()),
		zap.Int("attemptNo", attempt.AttemptNo),
	)

	start := e.now()
	sendErr := e.send(ctx, dc, logger)
	e.metrics.ObserveDispatchDuration(attempt.Channel.String(), e.now().Sub(start))
	finishedAt := e.now().UTC()

	// The send already happened; its outcome is recorded even if ctx ends now.
	ctx = context.WithoutCancel(ctx)

	if sendErr == nil {
		updated, err := e.attempts.MarkSent(ctx, attempt.ID, finishedAt)
		if err != nil {
			return fmt.Errorf("failed to mark attempt sent: %w", err)
		}
		if !updated {
			logger.Warn("attempt left scheduled state during send; keeping its current status")
			return nil
		}
		e.metrics.IncAttemptSent(attempt.Channel.String())
		logger.Info("recovery reminder sent")
		return nil
	}

	de := channel.AsDeliveryError(attempt.Channel, sendErr)
	updated, err := e.attempts.MarkFailed(ctx, attempt.ID, finishedAt, de.Error())
	if err != nil {
		return fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if !updated {
		logger.Warn("attempt left scheduled state during send; keeping its current status", zap.Error(de))
		return nil
	}
	e.metrics.IncAttemptFailed(attempt.Channel.String(), channel.FailureReason(de))
	logger.Warn("recovery reminder failed", zap.Error(de))
	return nil
}

func (e *Executor) send(ctx context.Context, dc *domain.DispatchContext, logger *zap.Logger) (err error) {
	ch := dc.Attempt.Channel
	defer func() {
		if r := recover(); r != nil {
			err = &channel.DeliveryError{Channel: ch, Reason: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()

	destination, err := e.destination(dc)
	if err != nil {
		return err
	}

	adapter, err := e.channels.Get(ch)
	if err != nil {
		return err
	}

	if err := e.limiter.Wait(ctx, ch); err != nil {
		logger.Warn("send throttle unavailable, sending without it", zap.Error(err))
	}

	return adapter.Send(ctx, destination, ComposeMessage(dc))
}

func (e *Executor) destination(dc *domain.DispatchContext) (string, error) {
	ch := dc.Attempt.Channel
	switch ch {
	case domain.ChannelWhatsApp:
		phone := domain.NormalizePhone(dc.CustomerPhone, e.countryCode)
		if phone == "" {
			return "", channel.MissingContact(ch, "phone")
		}
		return phone, nil
	case domain.ChannelEmail:
		email := strings.TrimSpace(dc.CustomerEmail)
		if email == "" {
			return "", channel.MissingContact(ch, "email")
		}
		return email, nil
	default:
		return "", &channel.DeliveryError{Channel: ch, Cause: channel.ErrUnsupportedChannel}
	}
}
