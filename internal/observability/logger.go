package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "recovery-engine"

type logFieldsKey struct{}

// logFields travel with a request or dispatch so every log line about the
// same payment carries the same keys.
type logFields struct {
	requestID        string
	merchantID       string
	gatewayPaymentID string
	attemptID        string
}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]interface{}{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

func fieldsFrom(ctx context.Context) logFields {
	if ctx == nil {
		return logFields{}
	}
	f, _ := ctx.Value(logFieldsKey{}).(logFields)
	return f
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := fieldsFrom(ctx)
	f.requestID = requestID
	return context.WithValue(ctx, logFieldsKey{}, f)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := fieldsFrom(ctx).requestID
	return id, id != ""
}

// WithPayment tags ctx with the payment key an operation is working on.
func WithPayment(ctx context.Context, merchantID, gatewayPaymentID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := fieldsFrom(ctx)
	f.merchantID = merchantID
	f.gatewayPaymentID = gatewayPaymentID
	return context.WithValue(ctx, logFieldsKey{}, f)
}

func WithAttempt(ctx context.Context, attemptID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := fieldsFrom(ctx)
	f.attemptID = attemptID
	return context.WithValue(ctx, logFieldsKey{}, f)
}

// WithContextLogger returns logger enriched with whatever keys ctx carries.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	f := fieldsFrom(ctx)
	fields := make([]zap.Field, 0, 4)
	if f.requestID != "" {
		fields = append(fields, zap.String("requestId", f.requestID))
	}
	if f.merchantID != "" {
		fields = append(fields, zap.String("merchantId", f.merchantID))
	}
	if f.gatewayPaymentID != "" {
		fields = append(fields, zap.String("gatewayPaymentId", f.gatewayPaymentID))
	}
	if f.attemptID != "" {
		fields = append(fields, zap.String("attemptId", f.attemptID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
