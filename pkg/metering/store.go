package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence contract for subscriptions and usage records.
//
// Create operations must rely on the storage layer's uniqueness constraints
// (UserID for subscriptions, SubscriptionID+PeriodStart for usage records)
// and report ErrSubscriptionExists/ErrUsageRecordExists on conflict, so the
// service can treat a lost create race as "someone else created it first" and
// re-fetch.
//
// IncrementCounter must be a single atomic increment-by-1 in the storage
// engine (the SQL "SET col = col + 1" shape), never an application-level
// read-modify-write. This is the one hard concurrency invariant here.
type Store interface {
	// SubscriptionByUser returns the subscription owned by the given user.
	// Returns ErrSubscriptionNotFound if none exists.
	SubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// SubscriptionByID returns a subscription by its primary key.
	// Returns ErrSubscriptionNotFound if none exists.
	SubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// CreateSubscription inserts a new subscription.
	// Returns ErrSubscriptionExists if the user already has one.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// UpdateSubscriptionStatus flips a subscription's status in place,
	// leaving the period bounds untouched.
	UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error

	// UsageRecord returns the record keyed by (subscriptionID, periodStart).
	// Returns ErrUsageRecordNotFound if the period is not materialized yet.
	UsageRecord(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*UsageRecord, error)

	// CreateUsageRecord inserts a new usage record with its counters as given
	// (zero for a fresh period). Returns ErrUsageRecordExists if the period
	// was materialized concurrently.
	CreateUsageRecord(ctx context.Context, rec *UsageRecord) error

	// LatestUsageRecord returns the record with the most recent period start
	// for the subscription, or ErrUsageRecordNotFound.
	LatestUsageRecord(ctx context.Context, subscriptionID uuid.UUID) (*UsageRecord, error)

	// RecentUsageRecords returns up to n records ordered by period start
	// descending. An empty slice is not an error.
	RecentUsageRecords(ctx context.Context, subscriptionID uuid.UUID, n int) ([]UsageRecord, error)

	// IncrementCounter atomically adds 1 to the given counter and returns the
	// updated record. Returns ErrUsageRecordNotFound if the record is gone.
	IncrementCounter(ctx context.Context, recordID uuid.UUID, counter Counter) (*UsageRecord, error)
}
