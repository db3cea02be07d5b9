package metering_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyhq/metering/pkg/metering"
	"github.com/replyhq/metering/pkg/plan"
)

// fakeClock lets tests walk a subscription past its period end.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, store metering.Store, clock *fakeClock) metering.Service {
	t.Helper()

	svc, err := metering.NewService(context.Background(),
		plan.NewStaticSource(plan.Default()), store,
		metering.WithClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func trialPlan(t *testing.T) plan.Plan {
	t.Helper()

	p, err := plan.Default().Get(plan.TypeTrial)
	require.NoError(t, err)
	return p
}

func TestEnsureSubscription(t *testing.T) {
	t.Parallel()

	t.Run("creates trial on first access", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)

		sub, err := svc.EnsureSubscription(context.Background(), uuid.New())
		require.NoError(t, err)

		assert.Equal(t, plan.TypeTrial, sub.PlanType)
		assert.Equal(t, metering.StatusActive, sub.Status)
		assert.True(t, sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart))

		wantDays := trialPlan(t).TrialDays
		assert.Equal(t, float64(wantDays)*24, sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart).Hours())
	})

	t.Run("idempotent for the same user", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()

		first, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)
		second, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("flips overrun trial to expired in place", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()

		sub, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)

		clock.Advance(8 * 24 * time.Hour)

		expired, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)

		assert.Equal(t, metering.StatusExpired, expired.Status)
		// Trial bounds are never advanced.
		assert.Equal(t, sub.CurrentPeriodStart, expired.CurrentPeriodStart)
		assert.Equal(t, sub.CurrentPeriodEnd, expired.CurrentPeriodEnd)
	})

	t.Run("create race falls back to winner's subscription", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		userID := uuid.New()

		rival := &metering.Subscription{
			ID:                 uuid.New(),
			UserID:             userID,
			PlanType:           plan.TypeTrial,
			Status:             metering.StatusActive,
			CurrentPeriodStart: clock.Now(),
			CurrentPeriodEnd:   clock.Now().AddDate(0, 0, 7),
		}

		svc := newTestService(t, &racingStore{Store: store, rival: rival}, clock)

		sub, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, rival.ID, sub.ID)
	})
}

// racingStore injects a competing subscription insert just before the
// service's own create lands, exercising the duplicate-key re-fetch path.
type racingStore struct {
	metering.Store
	rival *metering.Subscription
	once  sync.Once
}

func (r *racingStore) CreateSubscription(ctx context.Context, sub *metering.Subscription) error {
	r.once.Do(func() {
		_ = r.Store.CreateSubscription(ctx, r.rival)
	})
	return r.Store.CreateSubscription(ctx, sub)
}

func TestCurrentUsageRecord(t *testing.T) {
	t.Parallel()

	t.Run("idempotent within a period, counters start at zero", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)

		sub, err := svc.EnsureSubscription(context.Background(), uuid.New())
		require.NoError(t, err)

		first, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)
		second, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Zero(t, first.EmailsSent)
		assert.Zero(t, first.EmailsReceived)
		assert.Zero(t, first.AISuggestions)
		assert.Equal(t, sub.CurrentPeriodStart, first.PeriodStart)
		assert.Equal(t, sub.CurrentPeriodEnd, first.PeriodEnd)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Now().UTC())
		svc := newTestService(t, metering.NewMemoryStore(), clock)

		_, err := svc.CurrentUsageRecord(context.Background(), uuid.New())
		assert.ErrorIs(t, err, metering.ErrSubscriptionNotFound)
	})

	t.Run("expired trial returns the latest record without rolling over", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, store, clock)
		userID := uuid.New()

		sub, err := svc.EnsureSubscription(context.Background(), userID)
		require.NoError(t, err)
		rec, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)

		clock.Advance(10 * 24 * time.Hour)

		after, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, after.ID)

		// The read path opportunistically flips the status.
		flipped, err := store.SubscriptionByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, metering.StatusExpired, flipped.Status)
	})

	t.Run("expired trial with no record is an invariant violation", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, store, clock)

		sub, err := svc.EnsureSubscription(context.Background(), uuid.New())
		require.NoError(t, err)

		clock.Advance(10 * 24 * time.Hour)

		_, err = svc.CurrentUsageRecord(context.Background(), sub.ID)
		assert.ErrorIs(t, err, metering.ErrUsageRecordNotFound)
	})

	t.Run("paid plan rolls the usage period forward one month", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		clock := newFakeClock(start.Add(24 * time.Hour))
		svc := newTestService(t, store, clock)

		sub := &metering.Subscription{
			ID:                 uuid.New(),
			UserID:             uuid.New(),
			PlanType:           plan.TypeGrowth,
			Status:             metering.StatusActive,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   end,
		}
		require.NoError(t, store.CreateSubscription(context.Background(), sub))

		first, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, start, first.PeriodStart)

		clock.Advance(35 * 24 * time.Hour)

		rolled, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, rolled.ID)
		assert.Equal(t, end, rolled.PeriodStart)
		assert.Equal(t, end.AddDate(0, 1, 0), rolled.PeriodEnd)
		assert.Zero(t, rolled.EmailsSent)

		// The subscription's own bounds lag behind on purpose; the renewal
		// webhook owns them.
		unchanged, err := store.SubscriptionByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, start, unchanged.CurrentPeriodStart)
		assert.Equal(t, end, unchanged.CurrentPeriodEnd)
	})

	t.Run("concurrent first materialization yields one record", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		race := &recordRaceStore{Store: store}
		svc := newTestService(t, race, clock)

		sub, err := svc.EnsureSubscription(context.Background(), uuid.New())
		require.NoError(t, err)

		rec, err := svc.CurrentUsageRecord(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, race.rivalID, rec.ID)

		records, err := store.RecentUsageRecords(context.Background(), sub.ID, 10)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

// recordRaceStore sneaks an identical usage record in just before the
// service's create, so the create hits the uniqueness constraint.
type recordRaceStore struct {
	metering.Store
	once    sync.Once
	rivalID uuid.UUID
}

func (r *recordRaceStore) CreateUsageRecord(ctx context.Context, rec *metering.UsageRecord) error {
	r.once.Do(func() {
		rival := *rec
		rival.ID = uuid.New()
		r.rivalID = rival.ID
		_ = r.Store.CreateUsageRecord(ctx, &rival)
	})
	return r.Store.CreateUsageRecord(ctx, rec)
}

func TestIncrements(t *testing.T) {
	t.Parallel()

	t.Run("each increment moves only its own counter", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		rec, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, rec.EmailsSent)
		assert.EqualValues(t, 0, rec.EmailsReceived)
		assert.EqualValues(t, 0, rec.AISuggestions)

		rec, err = svc.IncrementEmailReceived(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, rec.EmailsReceived)

		rec, err = svc.IncrementAISuggestion(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, rec.AISuggestions)
		assert.EqualValues(t, 1, rec.EmailsSent)
	})

	t.Run("sequential increments accumulate", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		var last *metering.UsageRecord
		for i := 0; i < 5; i++ {
			var err error
			last, err = svc.IncrementEmailSent(ctx, userID)
			require.NoError(t, err)
		}
		assert.EqualValues(t, 5, last.EmailsSent)
	})

	t.Run("concurrent increments lose nothing", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		// Materialize the subscription and period first so the goroutines
		// only contend on the counter itself.
		_, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)

		const n = 50
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.IncrementEmailSent(ctx, userID)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		sum, err := svc.UsageSummary(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, n+1, sum.EmailsSent)
	})

	t.Run("expired trial blocks email counters but not AI", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		_, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)

		clock.Advance(8 * 24 * time.Hour)

		_, err = svc.IncrementEmailSent(ctx, userID)
		assert.ErrorIs(t, err, metering.ErrTrialExpired)
		_, err = svc.IncrementEmailReceived(ctx, userID)
		assert.ErrorIs(t, err, metering.ErrTrialExpired)

		rec, err := svc.IncrementAISuggestion(ctx, userID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, rec.AISuggestions)
	})
}

func TestLimitChecks(t *testing.T) {
	t.Parallel()

	t.Run("fresh trial user can send", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)

		res, err := svc.CanSendEmail(context.Background(), uuid.New())
		require.NoError(t, err)

		trial := trialPlan(t)
		assert.True(t, res.Allowed)
		assert.EqualValues(t, 0, res.Current)
		assert.Equal(t, trial.EmailsPerMonth, res.Limit)
		assert.Zero(t, res.Percentage)
		assert.Equal(t, trial.EmailsPerMonth, res.Remaining)
		assert.Equal(t, plan.TypeTrial, res.PlanType)
		assert.True(t, res.Trial.IsTrial)
		assert.False(t, res.Trial.Expired)
		assert.Equal(t, trial.TrialDays, res.Trial.DaysRemaining)
	})

	t.Run("at the limit sending is blocked", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, store, clock)
		userID := uuid.New()
		ctx := context.Background()

		sub, err := svc.EnsureSubscription(ctx, userID)
		require.NoError(t, err)

		trial := trialPlan(t)
		require.NoError(t, store.CreateUsageRecord(ctx, &metering.UsageRecord{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			PeriodStart:    sub.CurrentPeriodStart,
			PeriodEnd:      sub.CurrentPeriodEnd,
			EmailsSent:     trial.EmailsPerMonth,
		}))

		res, err := svc.CanSendEmail(ctx, userID)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.EqualValues(t, 0, res.Remaining)
		assert.InDelta(t, 100, res.Percentage, 0.001)
	})

	t.Run("halfway usage reads as fifty percent", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, store, clock)
		userID := uuid.New()
		ctx := context.Background()

		sub, err := svc.EnsureSubscription(ctx, userID)
		require.NoError(t, err)

		trial := trialPlan(t)
		require.NoError(t, store.CreateUsageRecord(ctx, &metering.UsageRecord{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			PeriodStart:    sub.CurrentPeriodStart,
			PeriodEnd:      sub.CurrentPeriodEnd,
			EmailsSent:     trial.EmailsPerMonth / 2,
		}))

		res, err := svc.CanSendEmail(ctx, userID)
		require.NoError(t, err)
		assert.InDelta(t, 50, res.Percentage, 0.5)
	})

	t.Run("enterprise is unlimited regardless of usage", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		clock := newFakeClock(start.Add(time.Hour))
		svc := newTestService(t, store, clock)
		userID := uuid.New()
		ctx := context.Background()

		sub := &metering.Subscription{
			ID:                 uuid.New(),
			UserID:             userID,
			PlanType:           plan.TypeEnterprise,
			Status:             metering.StatusActive,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		}
		require.NoError(t, store.CreateSubscription(ctx, sub))
		require.NoError(t, store.CreateUsageRecord(ctx, &metering.UsageRecord{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			PeriodStart:    start,
			PeriodEnd:      sub.CurrentPeriodEnd,
			EmailsSent:     1_000_000,
		}))

		res, err := svc.CanSendEmail(ctx, userID)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, plan.Unlimited, res.Limit)
		assert.Equal(t, plan.Unlimited, res.Remaining)
		assert.Zero(t, res.Percentage)
		assert.False(t, res.Trial.IsTrial)
	})

	t.Run("expired trial blocks all checks", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		_, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)

		clock.Advance(8 * 24 * time.Hour)

		for _, check := range []func(context.Context, uuid.UUID) (*metering.LimitCheckResult, error){
			svc.CanSendEmail, svc.CanReceiveEmail, svc.CanUseAI,
		} {
			res, err := check(ctx, userID)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.EqualValues(t, 0, res.Remaining)
			assert.True(t, res.Trial.Expired)
			assert.Zero(t, res.Trial.DaysRemaining)
		}
	})
}

func TestUsageSummary(t *testing.T) {
	t.Parallel()

	t.Run("reports current period counters", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			_, err := svc.IncrementEmailSent(ctx, userID)
			require.NoError(t, err)
		}
		_, err := svc.IncrementEmailReceived(ctx, userID)
		require.NoError(t, err)
		_, err = svc.IncrementAISuggestion(ctx, userID)
		require.NoError(t, err)

		sum, err := svc.UsageSummary(ctx, userID)
		require.NoError(t, err)

		assert.EqualValues(t, 2, sum.EmailsSent)
		assert.EqualValues(t, 1, sum.EmailsReceived)
		assert.EqualValues(t, 1, sum.AISuggestions)
		assert.Greater(t, sum.EmailUsagePercentage, 0.0)
		assert.True(t, sum.CanSendMore)
		assert.True(t, sum.CanUseAIMore)
		assert.Equal(t, plan.TypeTrial, sum.PlanType)

		trial := trialPlan(t)
		assert.Equal(t, trial.EmailsPerMonth, sum.EmailLimit)
		assert.Equal(t, trial.AIReplies, sum.AILimit)
		assert.Equal(t, trial.Stores, sum.StoreLimit)
	})

	t.Run("summary agrees with the gates after expiry", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		_, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)

		clock.Advance(8 * 24 * time.Hour)

		sum, err := svc.UsageSummary(ctx, userID)
		require.NoError(t, err)
		assert.False(t, sum.CanSendMore)
		assert.False(t, sum.CanUseAIMore)
		assert.EqualValues(t, 0, sum.EmailsRemaining)
		assert.EqualValues(t, 0, sum.AIRemaining)
		assert.True(t, sum.Trial.Expired)
	})
}

func TestUsageHistory(t *testing.T) {
	t.Parallel()

	t.Run("empty for a brand-new user", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Now().UTC())
		svc := newTestService(t, metering.NewMemoryStore(), clock)

		history, err := svc.UsageHistory(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("one entry after the first increment", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := newTestService(t, metering.NewMemoryStore(), clock)
		userID := uuid.New()
		ctx := context.Background()

		rec, err := svc.IncrementEmailSent(ctx, userID)
		require.NoError(t, err)

		history, err := svc.UsageHistory(ctx, userID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, rec.PeriodStart, history[0].PeriodStart)
		assert.Equal(t, rec.PeriodEnd, history[0].PeriodEnd)
		assert.EqualValues(t, 1, history[0].EmailsSent)
	})

	t.Run("caps at six periods, newest first", func(t *testing.T) {
		t.Parallel()

		store := metering.NewMemoryStore()
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := newFakeClock(start.Add(time.Hour))
		svc := newTestService(t, store, clock)
		userID := uuid.New()
		ctx := context.Background()

		sub := &metering.Subscription{
			ID:                 uuid.New(),
			UserID:             userID,
			PlanType:           plan.TypePro,
			Status:             metering.StatusActive,
			CurrentPeriodStart: start,
			CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		}
		require.NoError(t, store.CreateSubscription(ctx, sub))

		for i := 0; i < 9; i++ {
			ps := start.AddDate(0, i, 0)
			require.NoError(t, store.CreateUsageRecord(ctx, &metering.UsageRecord{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				PeriodStart:    ps,
				PeriodEnd:      ps.AddDate(0, 1, 0),
				EmailsSent:     int64(i),
			}))
		}

		history, err := svc.UsageHistory(ctx, userID)
		require.NoError(t, err)
		require.Len(t, history, 6)
		assert.EqualValues(t, 8, history[0].EmailsSent)
		for i := 1; i < len(history); i++ {
			assert.True(t, history[i].PeriodStart.Before(history[i-1].PeriodStart))
		}
	})
}
