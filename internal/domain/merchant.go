package domain

import "time"

// Merchant is read by the retry engine for its notification settings.
// Empty DefaultChannel or RecoverySchedule fall back to the global configuration.
type Merchant struct {
	ID               string
	Name             string
	APIKey           string
	WebhookSecret    string
	DefaultChannel   string
	RecoverySchedule string
	CreatedAt        time.Time
}
