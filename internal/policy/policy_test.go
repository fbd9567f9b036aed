package policy

import (
	"testing"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseDelays(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []time.Duration
	}{
		{name: "default string", raw: "15m,2h,24h", want: []time.Duration{15 * time.Minute, 2 * time.Hour, 24 * time.Hour}},
		{name: "all units", raw: "30s, 1m ,1h,1d", want: []time.Duration{30 * time.Second, time.Minute, time.Hour, 24 * time.Hour}},
		{name: "fractional", raw: "1.5h", want: []time.Duration{90 * time.Minute}},
		{name: "upper case unit", raw: "2H", want: []time.Duration{2 * time.Hour}},
		{name: "invalid tokens skipped", raw: "abc,30s,5x,-1m", want: []time.Duration{30 * time.Second}},
		{name: "sorted ascending", raw: "2h,15m,1h", want: []time.Duration{15 * time.Minute, time.Hour, 2 * time.Hour}},
		{name: "non-finite tokens skipped", raw: "nanm,infs,+infh,45m", want: []time.Duration{45 * time.Minute}},
		{name: "overflowing tokens skipped", raw: "1e30h,300000d,10m", want: []time.Duration{10 * time.Minute}},
		{name: "only overflowing falls back", raw: "1e30h,nanm", want: DefaultDelays()},
		{name: "empty falls back", raw: "", want: DefaultDelays()},
		{name: "all invalid falls back", raw: "x,y,,", want: DefaultDelays()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseDelays(tt.raw, nil))
		})
	}
}

func TestParseDelays_WarnsOnInvalidToken(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	delays := ParseDelays("abc,30s", zap.New(core))

	require.Equal(t, []time.Duration{30 * time.Second}, delays)
	entries := logs.FilterMessage("invalid recovery schedule token, skipping").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "abc", entries[0].ContextMap()["token"])
}

func TestParseDelays_WarnsOnOverflowingToken(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	delays := ParseDelays("1e30h,30s", zap.New(core))

	require.Equal(t, []time.Duration{30 * time.Second}, delays)
	entries := logs.FilterMessage("invalid recovery schedule token, skipping").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1e30h", entries[0].ContextMap()["token"])
}

func TestPlan_ChannelSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		defaultChannel string
		phone          string
		want           domain.Channel
	}{
		{name: "chat default with phone", defaultChannel: "whatsapp", phone: "9876543210", want: domain.ChannelWhatsApp},
		{name: "chat default without phone", defaultChannel: "whatsapp", phone: "", want: domain.ChannelEmail},
		{name: "chat default with short phone", defaultChannel: "whatsapp", phone: "12345", want: domain.ChannelEmail},
		{name: "email default with phone", defaultChannel: "email", phone: "9876543210", want: domain.ChannelEmail},
		{name: "unknown default falls back to chat", defaultChannel: "pigeon", phone: "9876543210", want: domain.ChannelWhatsApp},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := New("15m,2h", tt.defaultChannel, nil)
			steps := p.Plan(domain.FailureContext{CustomerPhone: tt.phone, CustomerEmail: "a@b.com"})

			require.Len(t, steps, 2)
			for i, s := range steps {
				assert.Equal(t, tt.want, s.Channel, "step %d", i)
			}
			assert.Equal(t, 15*time.Minute, steps[0].Delay)
			assert.Equal(t, 2*time.Hour, steps[1].Delay)
		})
	}
}

func TestPlan_IsDeterministic(t *testing.T) {
	t.Parallel()

	p := New("", "whatsapp", nil)
	fc := domain.FailureContext{CustomerPhone: "+91 98765 43210"}

	assert.Equal(t, p.Plan(fc), p.Plan(fc))
	assert.Len(t, p.Plan(fc), 3)
}

func TestForMerchant_Overrides(t *testing.T) {
	t.Parallel()

	base := New("15m,2h,24h", "whatsapp", nil)

	t.Run("nil merchant keeps base", func(t *testing.T) {
		assert.Same(t, base, base.ForMerchant(nil))
	})

	t.Run("empty overrides keep base values", func(t *testing.T) {
		p := base.ForMerchant(&domain.Merchant{ID: "m1"})
		assert.Equal(t, base.Delays(), p.Delays())
		assert.Equal(t, domain.ChannelWhatsApp, p.DefaultChannel())
	})

	t.Run("schedule and channel overridden", func(t *testing.T) {
		p := base.ForMerchant(&domain.Merchant{ID: "m1", RecoverySchedule: "1h", DefaultChannel: "email"})
		assert.Equal(t, []time.Duration{time.Hour}, p.Delays())
		assert.Equal(t, domain.ChannelEmail, p.DefaultChannel())

		// base untouched
		assert.Len(t, base.Delays(), 3)
		assert.Equal(t, domain.ChannelWhatsApp, base.DefaultChannel())
	})

	t.Run("invalid merchant channel keeps global", func(t *testing.T) {
		p := base.ForMerchant(&domain.Merchant{ID: "m1", DefaultChannel: "fax"})
		assert.Equal(t, domain.ChannelWhatsApp, p.DefaultChannel())
	})
}
