package metering

import (
	"time"

	"github.com/google/uuid"

	"github.com/replyhq/metering/pkg/plan"
)

// Status represents the current state of a subscription.
// Cancelled and past-due are set by the billing webhook flow and are passed
// through this package untouched.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
)

// Subscription tracks a user's plan and current billing period.
// Each user has exactly one subscription (unique on UserID).
type Subscription struct {
	ID                 uuid.UUID `json:"id"`
	UserID             uuid.UUID `json:"user_id"`
	PlanType           plan.Type `json:"plan_type"`
	Status             Status    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsTrial reports whether the subscription is on the trial tier.
func (s *Subscription) IsTrial() bool {
	return s.PlanType == plan.TypeTrial
}

// UsageRecord is the counter bucket for one subscription and one billing
// period, uniquely keyed by (SubscriptionID, PeriodStart). Counters only ever
// grow within a period; a new period starts all three at zero.
type UsageRecord struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	EmailsSent     int64     `json:"emails_sent"`
	EmailsReceived int64     `json:"emails_received"`
	AISuggestions  int64     `json:"ai_suggestions"`
}

// Counter identifies one of the three usage counters.
type Counter string

const (
	CounterEmailsSent     Counter = "emails_sent"
	CounterEmailsReceived Counter = "emails_received"
	CounterAISuggestions  Counter = "ai_suggestions"
)

// Value returns the record's current value for the given counter.
func (r *UsageRecord) Value(c Counter) int64 {
	switch c {
	case CounterEmailsSent:
		return r.EmailsSent
	case CounterEmailsReceived:
		return r.EmailsReceived
	case CounterAISuggestions:
		return r.AISuggestions
	}
	return 0
}

// TrialInfo carries trial metadata attached to limit checks and summaries.
// EndsAt is nil and DaysRemaining is zero for paid plans; DaysRemaining is
// also zero once the trial has expired.
type TrialInfo struct {
	IsTrial       bool       `json:"is_trial"`
	Expired       bool       `json:"expired"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
}

// LimitCheckResult is the outcome of a single limit check.
// Limit and Remaining are plan.Unlimited (-1) for uncapped plans.
type LimitCheckResult struct {
	Allowed    bool      `json:"allowed"`
	Current    int64     `json:"current"`
	Limit      int64     `json:"limit"`
	Percentage float64   `json:"percentage"`
	Remaining  int64     `json:"remaining"`
	PlanType   plan.Type `json:"plan_type"`
	Trial      TrialInfo `json:"trial"`
}

// Summary aggregates the current period's counters against plan limits into
// one display-ready object for the billing dashboard.
type Summary struct {
	PlanType    plan.Type `json:"plan_type"`
	PlanName    string    `json:"plan_name"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	EmailsSent     int64 `json:"emails_sent"`
	EmailsReceived int64 `json:"emails_received"`
	AISuggestions  int64 `json:"ai_suggestions"`

	EmailLimit int64 `json:"email_limit"`
	AILimit    int64 `json:"ai_limit"`
	StoreLimit int64 `json:"store_limit"`

	EmailUsagePercentage float64 `json:"email_usage_percentage"`
	AIUsagePercentage    float64 `json:"ai_usage_percentage"`
	EmailsRemaining      int64   `json:"emails_remaining"`
	AIRemaining          int64   `json:"ai_remaining"`

	CanSendMore  bool `json:"can_send_more"`
	CanUseAIMore bool `json:"can_use_ai_more"`

	Trial TrialInfo `json:"trial"`
}

// HistoryEntry is one row of the billing history view.
type HistoryEntry struct {
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	EmailsSent     int64     `json:"emails_sent"`
	EmailsReceived int64     `json:"emails_received"`
	AISuggestions  int64     `json:"ai_suggestions"`
}
