package service

import (
	"strings"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	messageOpening = "Hi! Your payment attempt didn't go through last time."
	messageClosing = "You can retry securely using the link we've shared with you. If you already paid, you can ignore this message."
)

// FormatAmount renders a minor-unit amount as major units with two decimals
// and the currency code, e.g. 50000 INR -> "500.00 INR".
func FormatAmount(minor int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}

// ComposeMessage builds the plain-text reminder shared by every channel.
func ComposeMessage(dc *domain.DispatchContext) string {
	lines := make([]string, 0, 4)
	lines = append(lines, messageOpening)
	if dc.Amount > 0 {
		lines = append(lines, "Amount: "+FormatAmount(dc.Amount, dc.Currency))
	}
	if reason := strings.TrimSpace(dc.FailureReason); reason != "" {
		lines = append(lines, "Reason: "+reason)
	}
	lines = append(lines, messageClosing)
	return strings.Join(lines, "\n")
}
