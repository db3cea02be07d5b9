package plan

import "time"

// Type identifies a plan tier.
type Type string

const (
	TypeTrial      Type = "trial"
	TypeStarter    Type = "starter"
	TypeGrowth     Type = "growth"
	TypePro        Type = "pro"
	TypeEnterprise Type = "enterprise"
)

const (
	// Unlimited disables a cap (-1 chosen for SQL compatibility).
	Unlimited int64 = -1
)

// Plan describes a subscription tier and its per-period caps.
// Every cap is either a positive integer or Unlimited.
type Plan struct {
	Type           Type   `yaml:"type"`
	Name           string `yaml:"name"`
	EmailsPerMonth int64  `yaml:"emails_per_month"`
	EmailsReceived int64  `yaml:"emails_received"`
	AIReplies      int64  `yaml:"ai_replies"`
	Stores         int64  `yaml:"stores"`
	TrialDays      int    `yaml:"trial_days,omitempty"` // 0 for paid tiers
}

// TrialEndsAt returns when a trial started at the given time ends.
// Returns startedAt unchanged for plans without a trial window.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// IsTrialActiveAt reports whether a trial started at startedAt is still
// running at the given instant.
func (p Plan) IsTrialActiveAt(startedAt, now time.Time) bool {
	if p.TrialDays <= 0 {
		return false
	}
	return now.Before(p.TrialEndsAt(startedAt))
}
