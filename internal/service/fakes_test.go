package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/queue"
)

// memStore is an in-memory Event Store and attempt table with the same
// conditional-update semantics as the gorm repositories. Writes fail on a
// done ctx, as gorm's WithContext calls do.
type memStore struct {
	mu        sync.Mutex
	attempts  map[string]*memAttempt
	events    map[string]*domain.PaymentEvent
	createErr func(a *domain.RecoveryAttempt) error
}

type memAttempt struct {
	attempt  domain.RecoveryAttempt
	snapshot domain.FailureContext
}

func newMemStore() *memStore {
	return &memStore{
		attempts: make(map[string]*memAttempt),
		events:   make(map[string]*domain.PaymentEvent),
	}
}

func paymentKey(merchantID string, gatewayPaymentID string) string {
	return merchantID + "|" + gatewayPaymentID
}

func (s *memStore) Create(ctx context.Context, a *domain.RecoveryAttempt, snapshot *domain.FailureContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		if err := s.createErr(a); err != nil {
			return err
		}
	}
	for _, existing := range s.attempts {
		if existing.attempt.MerchantID == a.MerchantID &&
			existing.attempt.GatewayPaymentID == a.GatewayPaymentID &&
			existing.attempt.AttemptNo == a.AttemptNo {
			return fmt.Errorf("duplicate key value violates unique constraint")
		}
	}

	row := &memAttempt{attempt: *a}
	if snapshot != nil {
		row.snapshot = *snapshot
	}
	s.attempts[a.ID] = row
	return nil
}

func (s *memStore) CountByPayment(ctx context.Context, merchantID string, gatewayPaymentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.attempts {
		if row.attempt.MerchantID == merchantID && row.attempt.GatewayPaymentID == gatewayPaymentID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetDispatchContext(ctx context.Context, id string) (*domain.DispatchContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	dc := &domain.DispatchContext{
		Attempt:       row.attempt,
		PaymentStatus: domain.PaymentStatusFailed,
		CustomerEmail: row.snapshot.CustomerEmail,
		CustomerPhone: row.snapshot.CustomerPhone,
		Amount:        row.snapshot.Amount,
		Currency:      row.snapshot.Currency,
		FailureReason: row.snapshot.FailureReason,
	}
	if e, ok := s.events[paymentKey(row.attempt.MerchantID, row.attempt.GatewayPaymentID)]; ok {
		dc.PaymentStatus = e.Status
		dc.CustomerEmail = e.CustomerEmail
		dc.CustomerPhone = e.CustomerPhone
		dc.Amount = e.Amount
		dc.Currency = e.Currency
		dc.FailureReason = e.FailureReason
	}
	return dc, nil
}

func (s *memStore) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.finish(id, domain.AttemptStatusSent, sentAt, nil)
}

func (s *memStore) MarkFailed(ctx context.Context, id string, sentAt time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.finish(id, domain.AttemptStatusFailed, sentAt, &reason)
}

func (s *memStore) finish(id string, status domain.AttemptStatus, at time.Time, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.attempts[id]
	if !ok || row.attempt.Status != domain.AttemptStatusScheduled {
		return false, nil
	}
	row.attempt.Status = status
	row.attempt.SentAt = &at
	row.attempt.Error = reason
	return true, nil
}

func (s *memStore) CancelScheduled(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for _, row := range s.sortedLocked() {
		a := &row.attempt
		if a.MerchantID == merchantID && a.GatewayPaymentID == gatewayPaymentID && a.Status == domain.AttemptStatusScheduled {
			a.Status = domain.AttemptStatusCancelled
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (s *memStore) CancelIfRecovered(ctx context.Context, merchantID string, gatewayPaymentID string) ([]string, error) {
	s.mu.Lock()
	e, ok := s.events[paymentKey(merchantID, gatewayPaymentID)]
	recovered := ok && e.Status == domain.PaymentStatusRecovered
	s.mu.Unlock()

	if !recovered {
		return []string{}, nil
	}
	return s.CancelScheduled(ctx, merchantID, gatewayPaymentID)
}

func (s *memStore) ListScheduled(ctx context.Context) ([]domain.RecoveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RecoveryAttempt, 0)
	for _, row := range s.sortedLocked() {
		if row.attempt.Status == domain.AttemptStatusScheduled {
			out = append(out, row.attempt)
		}
	}
	return out, nil
}

func (s *memStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]domain.RecoveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RecoveryAttempt, 0)
	for _, row := range s.sortedLocked() {
		if row.attempt.Status == domain.AttemptStatusScheduled && !row.attempt.ScheduledAt.After(before) {
			out = append(out, row.attempt)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) sortedLocked() []*memAttempt {
	rows := make([]*memAttempt, 0, len(s.attempts))
	for _, row := range s.attempts {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].attempt, rows[j].attempt
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.AttemptNo < b.AttemptNo
	})
	return rows
}

// attemptsFor returns the payment's attempts ordered by attempt_no.
func (s *memStore) attemptsFor(merchantID string, gatewayPaymentID string) []domain.RecoveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RecoveryAttempt, 0)
	for _, row := range s.attempts {
		if row.attempt.MerchantID == merchantID && row.attempt.GatewayPaymentID == gatewayPaymentID {
			out = append(out, row.attempt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out
}

func (s *memStore) attempt(id string) domain.RecoveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id].attempt
}

func (s *memStore) InsertIfAbsent(ctx context.Context, e *domain.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey(e.MerchantID, e.GatewayPaymentID)
	if _, ok := s.events[key]; ok {
		return false, nil
	}
	copied := *e
	s.events[key] = &copied
	return true, nil
}

func (s *memStore) MarkRecovered(ctx context.Context, merchantID string, gatewayPaymentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[paymentKey(merchantID, gatewayPaymentID)]
	if !ok || e.Status != domain.PaymentStatusFailed {
		return false, nil
	}
	e.Status = domain.PaymentStatusRecovered
	e.RecoveredAt = &at
	return true, nil
}

// recoveredEvent stores the payment's event already in recovered state.
func (s *memStore) recoveredEvent(t *testing.T, fc domain.FailureContext) {
	t.Helper()

	ctx := context.Background()
	e := &domain.PaymentEvent{
		MerchantID:       fc.MerchantID,
		GatewayPaymentID: fc.GatewayPaymentID,
		CustomerEmail:    fc.CustomerEmail,
		CustomerPhone:    fc.CustomerPhone,
		Amount:           fc.Amount,
		Currency:         fc.Currency,
		Status:           domain.PaymentStatusFailed,
		FailureReason:    fc.FailureReason,
		CreatedAt:        testNow,
	}
	if _, err := s.InsertIfAbsent(ctx, e); err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}
	if ok, err := s.MarkRecovered(ctx, fc.MerchantID, fc.GatewayPaymentID, testNow); err != nil || !ok {
		t.Fatalf("MarkRecovered() = (%v, %v), want (true, nil)", ok, err)
	}
}

func (s *memStore) event(merchantID string, gatewayPaymentID string) *domain.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[paymentKey(merchantID, gatewayPaymentID)]
}

// fakeTimers records arms without firing anything.
type fakeTimers struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	disarmed []string
	armFn    func(id string, at time.Time) error
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[string]time.Time)}
}

func (f *fakeTimers) Arm(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armFn != nil {
		if err := f.armFn(id, at); err != nil {
			return err
		}
	}
	f.armed[id] = at
	return nil
}

func (f *fakeTimers) Disarm(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.armed[id]; !ok {
		return false
	}
	delete(f.armed, id)
	f.disarmed = append(f.disarmed, id)
	return true
}

func (f *fakeTimers) Armed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

func (f *fakeTimers) armedAt(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.armed[id]
	return at, ok
}

type fakeMerchants struct {
	getByIDFn     func(ctx context.Context, id string) (*domain.Merchant, error)
	getByAPIKeyFn func(ctx context.Context, apiKey string) (*domain.Merchant, error)
}

func (f *fakeMerchants) GetByID(ctx context.Context, id string) (*domain.Merchant, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeMerchants) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	if f.getByAPIKeyFn != nil {
		return f.getByAPIKeyFn(ctx, apiKey)
	}
	return nil, domain.ErrNotFound
}

type sentMessage struct {
	destination string
	message     string
}

// recordingAdapter captures sends; sendFn overrides the outcome.
type recordingAdapter struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, destination string, message string) error
}

func (a *recordingAdapter) Send(ctx context.Context, destination string, message string) error {
	if a.sendFn != nil {
		if err := a.sendFn(ctx, destination, message); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMessage{destination: destination, message: message})
	return nil
}

func (a *recordingAdapter) sends() []sentMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sentMessage(nil), a.sent...)
}

type fakeLocker struct {
	obtainFn func(ctx context.Context, key string) (func(), bool, error)
}

func (f *fakeLocker) Obtain(ctx context.Context, key string) (func(), bool, error) {
	if f.obtainFn != nil {
		return f.obtainFn(ctx, key)
	}
	return func() {}, true, nil
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, ch domain.Channel) error
}

func (f *fakeLimiter) Allow(ctx context.Context, ch domain.Channel) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, ch domain.Channel) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, ch)
	}
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	dispatchFn func(ctx context.Context, id string) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, id string) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, id)
	f.mu.Unlock()
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, id)
	}
	return nil
}

func (f *fakeDispatcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.SignalMessage
	publishFn func(ctx context.Context, msg queue.SignalMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.SignalMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) messages() []queue.SignalMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.SignalMessage(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeFailureHandler struct {
	enqueueFn func(ctx context.Context, fc domain.FailureContext) ([]domain.RecoveryAttempt, error)
}

func (f *fakeFailureHandler) Enqueue(ctx context.Context, fc domain.FailureContext) ([]domain.RecoveryAttempt, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, fc)
	}
	return nil, nil
}

type fakeRecoveryHandler struct {
	onRecoveredFn func(ctx context.Context, sig domain.RecoverySignal) ([]string, error)
}

func (f *fakeRecoveryHandler) OnRecovered(ctx context.Context, sig domain.RecoverySignal) ([]string, error) {
	if f.onRecoveredFn != nil {
		return f.onRecoveredFn(ctx, sig)
	}
	return nil, nil
}
