package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"go.uber.org/zap"
)

const reminderSubject = "Complete your payment"

type relayRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// EmailRelayAdapter hands reminders to an HTTP mail relay as JSON.
type EmailRelayAdapter struct {
	client   *resty.Client
	endpoint string
	timeout  time.Duration
}

func NewEmailRelayAdapter(endpoint string, timeout time.Duration, client *resty.Client) (*EmailRelayAdapter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("email relay endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid email relay endpoint: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	if client == nil {
		client = resty.New()
	}

	return &EmailRelayAdapter{client: client, endpoint: endpoint, timeout: timeout}, nil
}

func (a *EmailRelayAdapter) Send(ctx context.Context, destination string, message string) error {
	if strings.TrimSpace(destination) == "" {
		return MissingContact(domain.ChannelEmail, "email")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(relayRequest{To: destination, Subject: reminderSubject, Text: message}).
		Post(a.endpoint)
	if err != nil {
		reason := "relay request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "relay request timed out"
		}
		return &DeliveryError{Channel: domain.ChannelEmail, Reason: reason, Cause: err}
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return &DeliveryError{
			Channel:    domain.ChannelEmail,
			StatusCode: status,
			Reason:     bodyReason(resp.String()),
		}
	}
	return nil
}

// LogEmailAdapter only logs the reminder. Used when no relay is configured.
type LogEmailAdapter struct {
	logger *zap.Logger
}

func NewLogEmailAdapter(logger *zap.Logger) *LogEmailAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmailAdapter{logger: logger}
}

func (a *LogEmailAdapter) Send(_ context.Context, destination string, message string) error {
	if strings.TrimSpace(destination) == "" {
		return MissingContact(domain.ChannelEmail, "email")
	}
	a.logger.Info("email reminder (log only)",
		zap.String("to", destination),
		zap.String("subject", reminderSubject),
		zap.Int("length", len(message)),
	)
	return nil
}
