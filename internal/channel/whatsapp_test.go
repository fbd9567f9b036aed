package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/recovery-engine/internal/domain"
)

func TestWhatsAppAdapterSendSuccess(t *testing.T) {
	t.Parallel()

	var gotForm map[string]string
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotKey = r.Header.Get("apikey")
		gotForm = map[string]string{
			"channel":     r.PostForm.Get("channel"),
			"source":      r.PostForm.Get("source"),
			"src.name":    r.PostForm.Get("src.name"),
			"destination": r.PostForm.Get("destination"),
			"message":     r.PostForm.Get("message"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"submitted","messageId":"gs-1"}`))
	}))
	defer server.Close()

	a := NewWhatsAppAdapter(GupshupConfig{APIKey: "k", AppName: "shop", Endpoint: server.URL}, nil)
	if err := a.Send(context.Background(), "919876543210", "hello\nworld"); err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if gotKey != "k" {
		t.Fatalf("apikey header = %q, want k", gotKey)
	}
	if gotForm["channel"] != "whatsapp" || gotForm["source"] != "shop" || gotForm["src.name"] != "shop" {
		t.Fatalf("form = %+v", gotForm)
	}
	if gotForm["destination"] != "919876543210" {
		t.Fatalf("destination = %q", gotForm["destination"])
	}

	var msg gupshupText
	if err := json.Unmarshal([]byte(gotForm["message"]), &msg); err != nil {
		t.Fatalf("message is not json: %v", err)
	}
	if msg.Type != "text" || msg.Text != "hello\nworld" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestWhatsAppAdapterSendFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "down", wantStatus: 500},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"bad key"}`, wantStatus: 401},
		{name: "provider error status", status: http.StatusOK, body: `{"status":"error","message":"invalid destination"}`, wantStatus: 200},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			a := NewWhatsAppAdapter(GupshupConfig{APIKey: "k", AppName: "shop", Endpoint: server.URL}, nil)
			err := a.Send(context.Background(), "919876543210", "hi")

			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("Send() error = %v, want *DeliveryError", err)
			}
			if de.Channel != domain.ChannelWhatsApp || de.StatusCode != tc.wantStatus {
				t.Fatalf("DeliveryError = %+v", de)
			}
			if de.Reason == "" {
				t.Fatal("DeliveryError.Reason should be populated")
			}
		})
	}
}

func TestWhatsAppAdapterNotConfigured(t *testing.T) {
	t.Parallel()

	a := NewWhatsAppAdapter(GupshupConfig{}, nil)
	err := a.Send(context.Background(), "919876543210", "hi")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Send() error = %v, want ErrNotConfigured", err)
	}
}

func TestWhatsAppAdapterMissingDestination(t *testing.T) {
	t.Parallel()

	a := NewWhatsAppAdapter(GupshupConfig{APIKey: "k", AppName: "shop"}, nil)
	err := a.Send(context.Background(), " ", "hi")
	if !errors.Is(err, domain.ErrMissingContact) {
		t.Fatalf("Send() error = %v, want ErrMissingContact", err)
	}
}

func TestWhatsAppAdapterTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	a := NewWhatsAppAdapter(GupshupConfig{APIKey: "k", AppName: "shop", Endpoint: server.URL, Timeout: 30 * time.Millisecond}, nil)
	err := a.Send(context.Background(), "919876543210", "hi")

	var de *DeliveryError
	if !errors.As(err, &de) || de.Cause == nil {
		t.Fatalf("Send() error = %v, want DeliveryError with cause", err)
	}
}

func TestWhatsAppAdapterKeepsCallerClientSettings(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := resty.New().SetTimeout(5 * time.Second).SetRetryCount(2)
	a := NewWhatsAppAdapter(GupshupConfig{APIKey: "k", AppName: "shop", Endpoint: server.URL, Timeout: 30 * time.Millisecond}, client)

	if got := client.GetClient().Timeout; got != 5*time.Second {
		t.Fatalf("shared client timeout = %v, want 5s", got)
	}
	if client.RetryCount != 2 {
		t.Fatalf("shared client retry count = %d, want 2", client.RetryCount)
	}

	start := time.Now()
	err := a.Send(context.Background(), "919876543210", "hi")
	var de *DeliveryError
	if !errors.As(err, &de) || de.Cause == nil {
		t.Fatalf("Send() error = %v, want DeliveryError with cause", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Send() took %v, adapter timeout not applied", elapsed)
	}
}

func TestBodyReason(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want string
	}{
		{name: "short body", body: "  bad key \n", want: "bad key"},
		{name: "empty body", body: "   ", want: "unexpected response"},
		{name: "cut inside multi-byte rune", body: strings.Repeat("a", 511) + "é" + "tail", want: strings.Repeat("a", 511)},
		{name: "invalid bytes dropped", body: "bad\xffkey", want: "badkey"},
		{name: "nul bytes dropped", body: "bad\x00key", want: "badkey"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := bodyReason(tc.body)
			if got != tc.want {
				t.Fatalf("bodyReason() = %q, want %q", got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("bodyReason() = %q is not valid UTF-8", got)
			}
		})
	}
}
