package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

const (
	DefaultGupshupEndpoint = "https://api.gupshup.io/sm/api/v1/msg"
	defaultSendTimeout     = 10 * time.Second
)

type GupshupConfig struct {
	APIKey   string
	AppName  string
	Endpoint string
	Timeout  time.Duration
}

type gupshupText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type gupshupResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId"`
	Message   string `json:"message"`
}

// WhatsAppAdapter sends plain-text WhatsApp messages through the Gupshup API.
type WhatsAppAdapter struct {
	client *resty.Client
	cfg    GupshupConfig
}

func NewWhatsAppAdapter(cfg GupshupConfig, client *resty.Client) *WhatsAppAdapter {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.AppName = strings.TrimSpace(cfg.AppName)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGupshupEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}

	// A caller's client is used as is; the send timeout rides on the request context.
	if client == nil {
		client = resty.New()
	}

	return &WhatsAppAdapter{client: client, cfg: cfg}
}

func (a *WhatsAppAdapter) Send(ctx context.Context, destination string, message string) error {
	if a.cfg.APIKey == "" || a.cfg.AppName == "" {
		return &DeliveryError{Channel: domain.ChannelWhatsApp, Cause: ErrNotConfigured}
	}
	if strings.TrimSpace(destination) == "" {
		return MissingContact(domain.ChannelWhatsApp, "phone")
	}

	payload, err := json.Marshal(gupshupText{Type: "text", Text: message})
	if err != nil {
		return &DeliveryError{Channel: domain.ChannelWhatsApp, Reason: "encode message", Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var result gupshupResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("apikey", a.cfg.APIKey).
		SetFormData(map[string]string{
			"channel":     "whatsapp",
			"source":      a.cfg.AppName,
			"src.name":    a.cfg.AppName,
			"destination": destination,
			"message":     string(payload),
		}).
		SetResult(&result).
		Post(a.cfg.Endpoint)
	if err != nil {
		reason := "request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "request timed out"
		}
		return &DeliveryError{Channel: domain.ChannelWhatsApp, Reason: reason, Cause: err}
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return &DeliveryError{
			Channel:    domain.ChannelWhatsApp,
			StatusCode: status,
			Reason:     bodyReason(resp.String()),
		}
	}
	if strings.EqualFold(result.Status, "error") {
		return &DeliveryError{
			Channel:    domain.ChannelWhatsApp,
			StatusCode: status,
			Reason:     "provider rejected message: " + bodyReason(result.Message),
		}
	}

	return nil
}

// bodyReason trims a provider response into a storable failure reason: valid
// UTF-8 without NUL bytes, at most maxReasonLen bytes.
func bodyReason(body string) string {
	const maxReasonLen = 512
	body = strings.ReplaceAll(strings.ToValidUTF8(body, ""), "\x00", "")
	body = strings.TrimSpace(body)
	if len(body) > maxReasonLen {
		// A cut inside a multi-byte rune leaves an invalid tail; drop it.
		body = strings.ToValidUTF8(body[:maxReasonLen], "")
	}
	if body == "" {
		return "unexpected response"
	}
	return body
}
