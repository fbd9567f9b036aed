package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/kursadbilgin/recovery-engine/internal/gateway"
	"github.com/kursadbilgin/recovery-engine/internal/observability"
	"github.com/kursadbilgin/recovery-engine/internal/service"
	"github.com/kursadbilgin/recovery-engine/internal/transport"
	"go.uber.org/zap"
)

const outcomeRejected = "rejected"

type IngestService interface {
	HandleFailed(ctx context.Context, fc domain.FailureContext) (service.Outcome, error)
	HandleCaptured(ctx context.Context, rs domain.RecoverySignal) (service.Outcome, error)
}

type MerchantLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.Merchant, error)
}

type WebhookHandler struct {
	merchants MerchantLookup
	ingest    IngestService
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewWebhookHandler(merchants MerchantLookup, ingest IngestService, logger *zap.Logger) (*WebhookHandler, error) {
	if merchants == nil {
		return nil, fmt.Errorf("merchant lookup is required")
	}
	if ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{merchants: merchants, ingest: ingest, logger: logger}, nil
}

func (h *WebhookHandler) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

func RegisterWebhookRoutes(router fiber.Router, h *WebhookHandler) {
	router.Post("/webhooks/razorpay/:merchantKey", h.Razorpay)
}

type webhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}

// Razorpay authenticates a gateway delivery and hands it to the ingest service.
// Once the signature and payload check out the gateway gets a 200, whatever
// the engine decides to do with the event.
func (h *WebhookHandler) Razorpay(c *fiber.Ctx) error {
	ctx := observability.WithRequestID(c.UserContext(), requestID(c))
	logger := observability.WithContextLogger(h.logger, ctx)

	signature := strings.TrimSpace(c.Get(gateway.SignatureHeader))
	if signature == "" {
		h.metrics.IncWebhookEvent("unknown", outcomeRejected)
		return fiber.NewError(fiber.StatusBadRequest, "missing "+gateway.SignatureHeader)
	}

	merchant, err := h.merchants.GetByAPIKey(ctx, strings.TrimSpace(c.Params("merchantKey")))
	if err != nil {
		h.metrics.IncWebhookEvent("unknown", outcomeRejected)
		if errors.Is(err, domain.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "merchant not found")
		}
		return fmt.Errorf("failed to look up merchant: %w", err)
	}

	if strings.TrimSpace(merchant.WebhookSecret) == "" {
		h.metrics.IncWebhookEvent("unknown", outcomeRejected)
		return fiber.NewError(fiber.StatusBadRequest, "merchant webhook secret not configured")
	}

	body := c.Body()
	if !gateway.VerifySignature(body, signature, merchant.WebhookSecret) {
		h.metrics.IncWebhookEvent("unknown", outcomeRejected)
		logger.Warn("webhook signature mismatch", zap.String("merchantId", merchant.ID))
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	event, err := gateway.Parse(body)
	if err != nil {
		h.metrics.IncWebhookEvent("unknown", outcomeRejected)
		return transport.ToHTTPError(err)
	}

	var outcome service.Outcome
	switch event.Kind {
	case gateway.KindFailed:
		outcome, err = h.ingest.HandleFailed(ctx, event.Payment.FailureContext(merchant.ID))
	case gateway.KindCaptured:
		outcome, err = h.ingest.HandleCaptured(ctx, event.Payment.RecoverySignal(merchant.ID))
	default:
		outcome = service.OutcomeIgnored
	}
	if err != nil {
		h.metrics.IncWebhookEvent(event.Kind.String(), outcomeRejected)
		return transport.ToHTTPError(err)
	}

	h.metrics.IncWebhookEvent(event.Kind.String(), outcome.String())
	logger.Info("webhook processed",
		zap.String("merchantId", merchant.ID),
		zap.String("event", event.Name),
		zap.String("outcome", outcome.String()),
	)

	return c.Status(fiber.StatusOK).JSON(webhookResponse{
		Status: outcome.String(),
		Event:  event.Name,
	})
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return uuid.NewString()
}
