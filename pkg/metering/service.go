package metering

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/replyhq/metering/pkg/plan"
)

// Service is the public interface of the metering engine.
type Service interface {
	// EnsureSubscription returns the user's subscription, creating a trial
	// one on first access and flipping an overrun trial to expired in place.
	EnsureSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// CurrentUsageRecord resolves the usage record representing "now" for a
	// subscription, materializing the current period if needed.
	CurrentUsageRecord(ctx context.Context, subscriptionID uuid.UUID) (*UsageRecord, error)

	// IncrementEmailSent adds one sent email to the current period.
	// Fails with ErrTrialExpired once the trial is over.
	IncrementEmailSent(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// IncrementEmailReceived adds one received email to the current period.
	// Fails with ErrTrialExpired once the trial is over.
	IncrementEmailReceived(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// IncrementAISuggestion adds one generated AI suggestion to the current
	// period. Carries no trial-expiry guard; see CanUseAI for the gate.
	IncrementAISuggestion(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// CanSendEmail reports whether the user may send another email.
	CanSendEmail(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error)

	// CanReceiveEmail reports whether another inbound email may be accepted.
	CanReceiveEmail(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error)

	// CanUseAI reports whether the user may generate another AI suggestion.
	CanUseAI(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error)

	// UsageSummary aggregates the current period against plan limits for the
	// billing dashboard.
	UsageSummary(ctx context.Context, userID uuid.UUID) (*Summary, error)

	// UsageHistory returns up to the 6 most recent usage records, newest first.
	UsageHistory(ctx context.Context, userID uuid.UUID) ([]HistoryEntry, error)
}

// historyLimit caps the billing history view.
const historyLimit = 6

type service struct {
	store   Store
	catalog plan.Catalog
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates a metering Service. Panics if store is nil to fail fast
// during initialization. The catalog is loaded once and treated as immutable.
func NewService(ctx context.Context, src plan.Source, store Store, opts ...Option) (Service, error) {
	if store == nil {
		panic("metering: Store is required")
	}
	if src == nil {
		src = plan.NewStaticSource(plan.Default())
	}

	catalog, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.Get(plan.TypeTrial); err != nil {
		return nil, errors.Join(plan.ErrInvalidPlanConfiguration, errors.New("catalog has no trial plan"))
	}

	s := &service{
		store:   store,
		catalog: catalog,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// EnsureSubscription implements the lazy singleton-per-user lifecycle: absent
// subscriptions become active trials spanning the catalog's trial window, and
// trials past their period end are flipped to expired without touching the
// period bounds.
func (s *service) EnsureSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.SubscriptionByUser(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, ErrSubscriptionNotFound):
		return s.createTrial(ctx, userID)
	default:
		return nil, err
	}

	if sub.IsTrial() && sub.Status == StatusActive && s.now().After(sub.CurrentPeriodEnd) {
		if err := s.store.UpdateSubscriptionStatus(ctx, sub.ID, StatusExpired); err != nil {
			return nil, err
		}
		sub.Status = StatusExpired
		sub.UpdatedAt = s.now()
	}

	return sub, nil
}

func (s *service) createTrial(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	trial, err := s.catalog.Get(plan.TypeTrial)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanType:           plan.TypeTrial,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   trial.TrialEndsAt(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		// Unique constraint on user_id: a concurrent first call won the race.
		if errors.Is(err, ErrSubscriptionExists) {
			return s.store.SubscriptionByUser(ctx, userID)
		}
		return nil, err
	}

	return sub, nil
}

// CurrentUsageRecord re-fetches the subscription so callers holding a stale
// copy still resolve against current period bounds.
func (s *service) CurrentUsageRecord(ctx context.Context, subscriptionID uuid.UUID) (*UsageRecord, error) {
	sub, err := s.store.SubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return s.resolveUsage(ctx, sub)
}

// resolveUsage is the single implementation of the period-resolution
// branching shared by the increments, the limit checks and the summary:
//
//   - within the subscription's period: find-or-create the record keyed by
//     (subscription, period start), counters seeded to zero;
//   - past the period end on a trial: best-effort expiry flip, then fall back
//     to the latest existing record (trials never roll over);
//   - past the period end on a paid plan: roll the usage period forward one
//     calendar month from the old period end. The subscription's own bounds
//     are deliberately left behind; the renewal webhook owns them.
func (s *service) resolveUsage(ctx context.Context, sub *Subscription) (*UsageRecord, error) {
	now := s.now()

	within := !now.Before(sub.CurrentPeriodStart) && !now.After(sub.CurrentPeriodEnd)
	if within {
		return s.findOrCreateRecord(ctx, sub.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	}

	if sub.IsTrial() {
		if sub.Status == StatusActive {
			// Fire-and-forget correction: the flip is retried on the next
			// call, so a failure here must not poison the read path.
			if err := s.store.UpdateSubscriptionStatus(ctx, sub.ID, StatusExpired); err != nil {
				s.log.WarnContext(ctx, "failed to mark trial subscription expired",
					slog.String("subscription_id", sub.ID.String()),
					slog.Any("error", err))
			}
		}
		// Exactly one record exists if EnsureSubscription ran before any
		// usage; none at all means the orchestration skipped it.
		return s.store.LatestUsageRecord(ctx, sub.ID)
	}

	periodStart := sub.CurrentPeriodEnd
	periodEnd := periodStart.AddDate(0, 1, 0)
	return s.findOrCreateRecord(ctx, sub.ID, periodStart, periodEnd)
}

func (s *service) findOrCreateRecord(ctx context.Context, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) (*UsageRecord, error) {
	rec, err := s.store.UsageRecord(ctx, subscriptionID, periodStart)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrUsageRecordNotFound) {
		return nil, err
	}

	rec = &UsageRecord{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}

	if err := s.store.CreateUsageRecord(ctx, rec); err != nil {
		// Unique constraint on (subscription_id, period_start): a concurrent
		// call materialized the period first.
		if errors.Is(err, ErrUsageRecordExists) {
			return s.store.UsageRecord(ctx, subscriptionID, periodStart)
		}
		return nil, err
	}

	return rec, nil
}

// IncrementEmailSent implements Service.
func (s *service) IncrementEmailSent(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	return s.increment(ctx, userID, CounterEmailsSent)
}

// IncrementEmailReceived implements Service.
func (s *service) IncrementEmailReceived(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	return s.increment(ctx, userID, CounterEmailsReceived)
}

// IncrementAISuggestion implements Service.
func (s *service) IncrementAISuggestion(ctx context.Context, userID uuid.UUID) (*UsageRecord, error) {
	return s.increment(ctx, userID, CounterAISuggestions)
}

func (s *service) increment(ctx context.Context, userID uuid.UUID, counter Counter) (*UsageRecord, error) {
	sub, err := s.EnsureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Only the email counters are guarded; AI suggestions keep flowing after
	// trial expiry until product decides otherwise.
	if counter != CounterAISuggestions && sub.IsTrial() && sub.Status == StatusExpired {
		return nil, ErrTrialExpired
	}

	rec, err := s.resolveUsage(ctx, sub)
	if err != nil {
		return nil, err
	}

	return s.store.IncrementCounter(ctx, rec.ID, counter)
}

// CanSendEmail implements Service.
func (s *service) CanSendEmail(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error) {
	return s.check(ctx, userID, CounterEmailsSent)
}

// CanReceiveEmail implements Service.
func (s *service) CanReceiveEmail(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error) {
	return s.check(ctx, userID, CounterEmailsReceived)
}

// CanUseAI implements Service.
func (s *service) CanUseAI(ctx context.Context, userID uuid.UUID) (*LimitCheckResult, error) {
	return s.check(ctx, userID, CounterAISuggestions)
}

func (s *service) check(ctx context.Context, userID uuid.UUID, counter Counter) (*LimitCheckResult, error) {
	sub, err := s.EnsureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	pl, err := s.catalog.Get(sub.PlanType)
	if err != nil {
		return nil, err
	}

	trial := s.trialInfo(sub)

	rec, err := s.resolveUsage(ctx, sub)
	if err != nil {
		return nil, err
	}

	current := rec.Value(counter)
	limit := capFor(pl, counter)

	result := &LimitCheckResult{
		Current:  current,
		Limit:    limit,
		PlanType: sub.PlanType,
		Trial:    trial,
	}

	if limit == plan.Unlimited {
		result.Allowed = true
		result.Remaining = plan.Unlimited
		return result, nil
	}

	result.Percentage = round2(float64(current) / float64(limit) * 100)
	result.Remaining = max(0, limit-current)
	if trial.IsTrial && trial.Expired {
		result.Remaining = 0
	}
	result.Allowed = current < limit && !(trial.IsTrial && trial.Expired)

	return result, nil
}

// UsageSummary implements Service. The CanSendMore/CanUseAIMore booleans must
// stay equivalent to the limit checks' allowed formula; drift here shows up
// as a dashboard that disagrees with the actual gates.
func (s *service) UsageSummary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	sub, err := s.EnsureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	pl, err := s.catalog.Get(sub.PlanType)
	if err != nil {
		return nil, err
	}

	trial := s.trialInfo(sub)

	rec, err := s.resolveUsage(ctx, sub)
	if err != nil {
		return nil, err
	}

	blocked := trial.IsTrial && trial.Expired

	sum := &Summary{
		PlanType:       sub.PlanType,
		PlanName:       pl.Name,
		PeriodStart:    rec.PeriodStart,
		PeriodEnd:      rec.PeriodEnd,
		EmailsSent:     rec.EmailsSent,
		EmailsReceived: rec.EmailsReceived,
		AISuggestions:  rec.AISuggestions,
		EmailLimit:     pl.EmailsPerMonth,
		AILimit:        pl.AIReplies,
		StoreLimit:     pl.Stores,
		CanSendMore:    (pl.EmailsPerMonth == plan.Unlimited || rec.EmailsSent < pl.EmailsPerMonth) && !blocked,
		CanUseAIMore:   (pl.AIReplies == plan.Unlimited || rec.AISuggestions < pl.AIReplies) && !blocked,
		Trial:          trial,
	}

	if pl.EmailsPerMonth == plan.Unlimited {
		sum.EmailsRemaining = plan.Unlimited
	} else {
		sum.EmailUsagePercentage = round2(float64(rec.EmailsSent) / float64(pl.EmailsPerMonth) * 100)
		sum.EmailsRemaining = max(0, pl.EmailsPerMonth-rec.EmailsSent)
		if blocked {
			sum.EmailsRemaining = 0
		}
	}

	if pl.AIReplies == plan.Unlimited {
		sum.AIRemaining = plan.Unlimited
	} else {
		sum.AIUsagePercentage = round2(float64(rec.AISuggestions) / float64(pl.AIReplies) * 100)
		sum.AIRemaining = max(0, pl.AIReplies-rec.AISuggestions)
		if blocked {
			sum.AIRemaining = 0
		}
	}

	return sum, nil
}

// UsageHistory implements Service.
func (s *service) UsageHistory(ctx context.Context, userID uuid.UUID) ([]HistoryEntry, error) {
	sub, err := s.EnsureSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.RecentUsageRecords(ctx, sub.ID, historyLimit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			PeriodStart:    rec.PeriodStart,
			PeriodEnd:      rec.PeriodEnd,
			EmailsSent:     rec.EmailsSent,
			EmailsReceived: rec.EmailsReceived,
			AISuggestions:  rec.AISuggestions,
		})
	}

	return entries, nil
}

// trialInfo derives trial metadata from the subscription's period bounds.
// Expiry is time-based here, independent of whether the status flip has
// landed yet.
func (s *service) trialInfo(sub *Subscription) TrialInfo {
	if !sub.IsTrial() {
		return TrialInfo{}
	}

	now := s.now()
	endsAt := sub.CurrentPeriodEnd
	info := TrialInfo{
		IsTrial: true,
		Expired: now.After(endsAt),
		EndsAt:  &endsAt,
	}

	if !info.Expired {
		// Round partial days up so "6.2 days left" reads as 7.
		days := int(math.Ceil(endsAt.Sub(now).Hours() / 24))
		info.DaysRemaining = max(0, days)
	}

	return info
}

// capFor maps a counter to the plan cap that governs it.
func capFor(p plan.Plan, c Counter) int64 {
	switch c {
	case CounterEmailsSent:
		return p.EmailsPerMonth
	case CounterEmailsReceived:
		return p.EmailsReceived
	case CounterAISuggestions:
		return p.AIReplies
	}
	return 0
}

// round2 rounds to two decimal places, matching the dashboard's display
// precision so boundary values like 50.00 don't flap.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
