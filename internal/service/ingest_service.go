package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/queue"
	"github.com/kursadbilgin/recovery-engine/internal/repository"
	"go.uber.org/zap"
)

// Outcome is what the ingest path did with one gateway event.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRecovered Outcome = "recovered"
	OutcomeIgnored   Outcome = "ignored"
)

func (o Outcome) String() string { return string(o) }

const (
	signalPathQueue  = "queue"
	signalPathInline = "inline"
)

// IngestService writes gateway events to the Event Store and forwards fresh
// failures and real recoveries to the engine.
type IngestService struct {
	events    repository.PaymentEventRepository
	publisher queue.Publisher
	failures  FailureHandler
	recovery  RecoveryHandler
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewIngestService(
	events repository.PaymentEventRepository,
	publisher queue.Publisher,
	failures FailureHandler,
	recovery RecoveryHandler,
	logger *zap.Logger,
) (*IngestService, error) {
	if events == nil {
		return nil, fmt.Errorf("payment event repository is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure handler is required")
	}
	if recovery == nil {
		return nil, fmt.Errorf("recovery handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IngestService{
		events:    events,
		publisher: publisher,
		failures:  failures,
		recovery:  recovery,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *IngestService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleFailed records a failed payment. Only the delivery that inserts the
// event row triggers scheduling; redeliveries report OutcomeDuplicate.
func (s *IngestService) HandleFailed(ctx context.Context, fc domain.FailureContext) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	fc.Normalize()
	if err := fc.Validate(); err != nil {
		return "", err
	}

	ctx = observability.WithPayment(ctx, fc.MerchantID, fc.GatewayPaymentID)
	logger := observability.WithContextLogger(s.logger, ctx)

	event := fc.PaymentEvent()
	event.CreatedAt = s.now().UTC()
	inserted, err := s.events.InsertIfAbsent(ctx, event)
	if err != nil {
		return "", fmt.Errorf("failed to store payment event: %w", err)
	}
	if !inserted {
		logger.Info("payment failure already recorded, not scheduling again")
		return OutcomeDuplicate, nil
	}

	requestID, _ := observability.RequestIDFromContext(ctx)
	s.signal(ctx, logger, queue.FailedSignal(fc, requestID), func(ctx context.Context) error {
		_, err := s.failures.Enqueue(ctx, fc)
		return err
	})
	return OutcomeAccepted, nil
}

// HandleCaptured moves a failed payment to recovered. A capture for an
// unknown or already recovered payment is ignored.
func (s *IngestService) HandleCaptured(ctx context.Context, rs domain.RecoverySignal) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := rs.Validate(); err != nil {
		return "", err
	}

	ctx = observability.WithPayment(ctx, rs.MerchantID, rs.GatewayPaymentID)
	logger := observability.WithContextLogger(s.logger, ctx)

	transitioned, err := s.events.MarkRecovered(ctx, rs.MerchantID, rs.GatewayPaymentID, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to mark payment recovered: %w", err)
	}
	if !transitioned {
		logger.Debug("capture for payment without an open failure, ignoring")
		return OutcomeIgnored, nil
	}

	logger.Info("payment recovered")
	requestID, _ := observability.RequestIDFromContext(ctx)
	s.signal(ctx, logger, queue.RecoveredSignal(rs, requestID), func(ctx context.Context) error {
		_, err := s.recovery.OnRecovered(ctx, rs)
		return err
	})
	return OutcomeRecovered, nil
}

// signal publishes msg, or runs inline when there is no publisher or the
// publish fails. The event row is already committed, so errors are only logged.
func (s *IngestService) signal(
	ctx context.Context,
	logger *zap.Logger,
	msg queue.SignalMessage,
	inline func(ctx context.Context) error,
) {
	kind := string(msg.Kind)
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, msg)
		if err == nil {
			s.metrics.IncSignal(kind, signalPathQueue)
			return
		}
		logger.Warn("failed to publish signal, handling inline",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}

	s.metrics.IncSignal(kind, signalPathInline)
	if err := inline(context.WithoutCancel(ctx)); err != nil {
		logger.Error("inline signal handling failed",
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
