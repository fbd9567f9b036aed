// Package timer fires per-attempt callbacks at a wall-clock instant.
//
// Timers carry only an attempt id. When a timer fires the id is queued to a
// fixed pool of workers which run the handler; everything else the handler
// needs is reloaded from storage. Timers live in process memory only, so a
// restart must re-arm them from persisted state.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 4
	queuePerWorker = 8
)

var ErrStopped = errors.New("timer service stopped")

// Handler runs one fired attempt. Its context is detached from Start's
// cancellation so an in-flight dispatch finishes during shutdown.
type Handler func(ctx context.Context, attemptID string)

// armed is one pending timer; seq tells a stale fire from the current arm.
type armed struct {
	timer *time.Timer
	seq   uint64
}

type Service struct {
	mu      sync.Mutex
	timers  map[string]armed
	seq     uint64
	stopped bool
	started bool

	jobs    chan string
	quit    chan struct{}
	done    chan struct{}
	workers int

	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

func New(workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		timers:  make(map[string]armed),
		jobs:    make(chan string, workers*queuePerWorker),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		workers: workers,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *Service) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start launches the worker pool. It returns immediately; Stop waits for the workers.
func (s *Service) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("timer handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("timer service already started")
	}
	s.started = true

	runCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i := 0; i < s.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			s.work(runCtx, workerID, handler)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(s.done)
	}()

	s.logger.Info("timer workers started", zap.Int("workers", s.workers))
	return nil
}

func (s *Service) work(ctx context.Context, workerID int, handler Handler) {
	for {
		select {
		case <-s.quit:
			return
		case id := <-s.jobs:
			s.run(ctx, workerID, id, handler)
		}
	}
}

func (s *Service) run(ctx context.Context, workerID int, id string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("timer handler panicked",
				zap.Int("workerId", workerID),
				zap.String("attemptId", id),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, id)
}

// Arm schedules id to fire at at, replacing any timer already armed for id.
// A time in the past fires as soon as a worker is free.
func (s *Service) Arm(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	if prev, ok := s.timers[id]; ok {
		prev.timer.Stop()
	}

	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.seq++
	seq := s.seq
	// fire takes s.mu, so it cannot look the entry up before it is stored.
	s.timers[id] = armed{timer: time.AfterFunc(delay, func() { s.fire(id, seq) }), seq: seq}
	s.metrics.SetTimersArmed(len(s.timers))
	return nil
}

// Disarm cancels the pending timer for id. It reports whether one was armed.
func (s *Service) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.timers[id]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(s.timers, id)
	s.metrics.SetTimersArmed(len(s.timers))
	return true
}

func (s *Service) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Service) fire(id string, seq uint64) {
	s.mu.Lock()
	if a, ok := s.timers[id]; s.stopped || !ok || a.seq != seq {
		// Stale arm or stopped service.
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.metrics.SetTimersArmed(len(s.timers))
	s.mu.Unlock()

	select {
	case s.jobs <- id:
	case <-s.quit:
	}
}

// Stop refuses new arms, drops pending timers and waits for running handlers
// until ctx ends. Queued but not yet started ids are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	pending := len(s.timers)
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
	s.metrics.SetTimersArmed(0)
	close(s.quit)
	started := s.started
	s.mu.Unlock()

	s.logger.Info("timer service stopping", zap.Int("droppedTimers", pending))

	if !started {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timer workers did not finish: %w", ctx.Err())
	}
}
