package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minSignalConcurrency = 1

// SignalWorker consumes failure and recovery signals and hands them to the engine.
type SignalWorker struct {
	consumer    queue.Consumer
	failures    FailureHandler
	recovery    RecoveryHandler
	logger      *zap.Logger
	concurrency int
}

func NewSignalWorker(
	consumer queue.Consumer,
	failures FailureHandler,
	recovery RecoveryHandler,
	concurrency int,
	logger *zap.Logger,
) (*SignalWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if failures == nil {
		return nil, fmt.Errorf("failure handler is required")
	}
	if recovery == nil {
		return nil, fmt.Errorf("recovery handler is required")
	}
	if concurrency < minSignalConcurrency {
		concurrency = minSignalConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SignalWorker{
		consumer:    consumer,
		failures:    failures,
		recovery:    recovery,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes every signal queue until ctx is cancelled. Each queue gets at
// least one consumer; extra concurrency is spread round-robin.
func (w *SignalWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.SignalQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no signal queues configured")
	}

	consumers := w.concurrency
	if consumers < len(queueNames) {
		consumers = len(queueNames)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("signal worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.handle); err != nil {
				w.logger.Error("signal worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("signal worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (w *SignalWorker) handle(ctx context.Context, msg queue.SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	// A started message runs to completion; shutdown only stops new deliveries.
	ctx = context.WithoutCancel(ctx)
	if msg.RequestID != "" {
		ctx = observability.WithRequestID(ctx, msg.RequestID)
	}

	switch msg.Kind {
	case queue.SignalFailed:
		if _, err := w.failures.Enqueue(ctx, *msg.Failure); err != nil {
			return fmt.Errorf("failed to enqueue recovery attempts: %w", err)
		}
	case queue.SignalRecovered:
		if _, err := w.recovery.OnRecovered(ctx, *msg.Recovery); err != nil {
			return fmt.Errorf("failed to cancel recovery attempts: %w", err)
		}
	}
	return nil
}
