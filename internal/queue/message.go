package queue

import (
	"fmt"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

type SignalKind string

const (
	SignalFailed    SignalKind = "failed"
	SignalRecovered SignalKind = "recovered"
)

func (k SignalKind) IsValid() bool {
	return k == SignalFailed || k == SignalRecovered
}

// SignalMessage is the broker payload. Exactly one of Failure or Recovery is
// set, matching Kind.
type SignalMessage struct {
	Kind      SignalKind             `json:"kind"`
	RequestID string                 `json:"requestId,omitempty"`
	Failure   *domain.FailureContext `json:"failure,omitempty"`
	Recovery  *domain.RecoverySignal `json:"recovery,omitempty"`
}

func FailedSignal(fc domain.FailureContext, requestID string) SignalMessage {
	return SignalMessage{Kind: SignalFailed, RequestID: requestID, Failure: &fc}
}

func RecoveredSignal(rs domain.RecoverySignal, requestID string) SignalMessage {
	return SignalMessage{Kind: SignalRecovered, RequestID: requestID, Recovery: &rs}
}

func (m SignalMessage) Validate() error {
	switch m.Kind {
	case SignalFailed:
		if m.Failure == nil || m.Recovery != nil {
			return fmt.Errorf("%w: failed signal must carry only a failure context", domain.ErrValidation)
		}
		return m.Failure.Validate()
	case SignalRecovered:
		if m.Recovery == nil || m.Failure != nil {
			return fmt.Errorf("%w: recovered signal must carry only a recovery signal", domain.ErrValidation)
		}
		return m.Recovery.Validate()
	default:
		return fmt.Errorf("%w: invalid signal kind %q", domain.ErrValidation, m.Kind)
	}
}

// MessageID identifies the payment a signal is about; redeliveries share it.
func (m SignalMessage) MessageID() string {
	switch {
	case m.Failure != nil:
		return fmt.Sprintf("%s:%s:%s", m.Kind, m.Failure.MerchantID, m.Failure.GatewayPaymentID)
	case m.Recovery != nil:
		return fmt.Sprintf("%s:%s:%s", m.Kind, m.Recovery.MerchantID, m.Recovery.GatewayPaymentID)
	default:
		return string(m.Kind)
	}
}
