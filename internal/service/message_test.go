package service

import (
	"strings"
	"testing"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{minor: 50000, currency: "INR", want: "500.00 INR"},
		{minor: 1, currency: "usd", want: "0.01 USD"},
		{minor: 123456, currency: "", want: "1234.56 INR"},
		{minor: 0, currency: "EUR", want: "0.00 EUR"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.minor, tt.currency); got != tt.want {
			t.Fatalf("FormatAmount(%d, %q) = %q, want %q", tt.minor, tt.currency, got, tt.want)
		}
	}
}

func TestComposeMessage(t *testing.T) {
	t.Parallel()

	full := ComposeMessage(&domain.DispatchContext{
		Amount:        50000,
		Currency:      "INR",
		FailureReason: "insufficient funds",
	})
	lines := strings.Split(full, "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want 4: %q", len(lines), full)
	}
	if lines[1] != "Amount: 500.00 INR" || lines[2] != "Reason: insufficient funds" {
		t.Fatalf("message = %q", full)
	}

	bare := ComposeMessage(&domain.DispatchContext{})
	if strings.Contains(bare, "Amount:") || strings.Contains(bare, "Reason:") {
		t.Fatalf("message without amount or reason = %q", bare)
	}
	if got := len(strings.Split(bare, "\n")); got != 2 {
		t.Fatalf("lines = %d, want 2", got)
	}
}
