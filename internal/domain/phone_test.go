package domain

import "testing"

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         string
		countryCode string
		want        string
	}{
		{name: "domestic gets country code", raw: "9876543210", countryCode: "91", want: "919876543210"},
		{name: "formatting stripped", raw: "+91 98765-43210", countryCode: "91", want: "919876543210"},
		{name: "already international", raw: "919876543210", countryCode: "91", want: "919876543210"},
		{name: "no country code configured", raw: "(987) 654 3210", countryCode: "", want: "9876543210"},
		{name: "short number untouched", raw: "12345", countryCode: "91", want: "12345"},
		{name: "empty", raw: "", countryCode: "91", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizePhone(tt.raw, tt.countryCode); got != tt.want {
				t.Fatalf("NormalizePhone(%q, %q) = %q, want %q", tt.raw, tt.countryCode, got, tt.want)
			}
		})
	}
}

func TestIsChatCapablePhone(t *testing.T) {
	t.Parallel()

	if !IsChatCapablePhone("98765 43210") {
		t.Fatal("10-digit number should be chat capable")
	}
	if IsChatCapablePhone("12345") {
		t.Fatal("5-digit number should not be chat capable")
	}
	if IsChatCapablePhone("") {
		t.Fatal("empty number should not be chat capable")
	}
}
