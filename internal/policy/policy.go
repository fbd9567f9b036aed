// Package policy maps a failed payment to its ordered reminder plan.
//
// A plan is a list of (channel, delay) steps. Delays come from a schedule
// string such as "15m,2h,24h" (units s, m, h, d); a merchant may override the
// global schedule and default channel. Planning never reads the clock: callers
// add the delays to their own "now".
package policy

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/recovery-engine/internal/domain"
	"go.uber.org/zap"
)

const DefaultChannel = domain.ChannelWhatsApp

// Step is one planned reminder.
type Step struct {
	Channel domain.Channel
	Delay   time.Duration
}

// DefaultDelays is the schedule used when none is configured or none of it parses.
func DefaultDelays() []time.Duration {
	return []time.Duration{15 * time.Minute, 2 * time.Hour, 24 * time.Hour}
}

// Policy holds a parsed schedule and default channel.
type Policy struct {
	delays         []time.Duration
	defaultChannel domain.Channel
	logger         *zap.Logger
}

func New(schedule string, defaultChannel string, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Policy{
		delays:         ParseDelays(schedule, logger),
		defaultChannel: parseDefaultChannel(defaultChannel, DefaultChannel, logger),
		logger:         logger,
	}
}

// ForMerchant returns the policy with the merchant's non-empty overrides applied.
func (p *Policy) ForMerchant(m *domain.Merchant) *Policy {
	if m == nil {
		return p
	}

	out := *p
	if strings.TrimSpace(m.RecoverySchedule) != "" {
		out.delays = ParseDelays(m.RecoverySchedule, p.logger.With(zap.String("merchantId", m.ID)))
	}
	if strings.TrimSpace(m.DefaultChannel) != "" {
		out.defaultChannel = parseDefaultChannel(m.DefaultChannel, p.defaultChannel, p.logger)
	}
	return &out
}

func (p *Policy) Delays() []time.Duration {
	return append([]time.Duration(nil), p.delays...)
}

func (p *Policy) DefaultChannel() domain.Channel {
	return p.defaultChannel
}

// Plan returns the ordered reminder steps for a failure.
// Chat is used only when it is the default channel and the customer has a
// chat-capable phone; every other case goes to email.
func (p *Policy) Plan(fc domain.FailureContext) []Step {
	channel := domain.ChannelEmail
	if p.defaultChannel.IsChat() && domain.IsChatCapablePhone(fc.CustomerPhone) {
		channel = p.defaultChannel
	}

	steps := make([]Step, 0, len(p.delays))
	for _, d := range p.delays {
		steps = append(steps, Step{Channel: channel, Delay: d})
	}
	return steps
}

// ParseDelays parses comma-separated <number><unit> tokens into ascending
// delays. Invalid tokens are skipped with a warning; an empty result falls
// back to DefaultDelays.
func ParseDelays(raw string, logger *zap.Logger) []time.Duration {
	if logger == nil {
		logger = zap.NewNop()
	}

	delays := make([]time.Duration, 0, 4)
	for _, token := range strings.Split(raw, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}

		d, ok := parseToken(token)
		if !ok {
			logger.Warn("invalid recovery schedule token, skipping", zap.String("token", token))
			continue
		}
		delays = append(delays, d)
	}

	if len(delays) == 0 {
		return DefaultDelays()
	}
	sort.SliceStable(delays, func(i, j int) bool { return delays[i] < delays[j] })
	return delays
}

func parseToken(token string) (time.Duration, bool) {
	if len(token) < 2 {
		return 0, false
	}

	var unit time.Duration
	switch token[len(token)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, false
	}

	n, err := strconv.ParseFloat(token[:len(token)-1], 64)
	if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which already overflows.
	d := n * float64(unit)
	if d >= float64(math.MaxInt64) {
		return 0, false
	}
	return time.Duration(d), true
}

func parseDefaultChannel(raw string, fallback domain.Channel, logger *zap.Logger) domain.Channel {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	ch, err := domain.ParseChannelFromString(raw)
	if err != nil {
		logger.Warn("invalid default channel, using fallback",
			zap.String("channel", raw),
			zap.String("fallback", fallback.String()),
		)
		return fallback
	}
	return ch
}
