package metering

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// recordKey identifies a usage record by its uniqueness constraint.
type recordKey struct {
	subscriptionID uuid.UUID
	periodStart    int64 // unix micros, UTC
}

// MemoryStore is a mutex-guarded in-memory Store. It backs unit tests and
// local development; the mutex gives it the same effective atomicity as the
// SQL store's single-statement increments.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Subscription
	byUser  map[uuid.UUID]*Subscription
	records map[recordKey]*UsageRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*Subscription),
		byUser:  make(map[uuid.UUID]*Subscription),
		records: make(map[recordKey]*UsageRecord),
	}
}

func keyFor(subscriptionID uuid.UUID, periodStart time.Time) recordKey {
	return recordKey{subscriptionID: subscriptionID, periodStart: periodStart.UTC().UnixMicro()}
}

// SubscriptionByUser implements Store.
func (m *MemoryStore) SubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.byUser[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// SubscriptionByID implements Store.
func (m *MemoryStore) SubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.byID[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// CreateSubscription implements Store.
func (m *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUser[sub.UserID]; exists {
		return ErrSubscriptionExists
	}

	cp := *sub
	m.byID[cp.ID] = &cp
	m.byUser[cp.UserID] = &cp
	return nil
}

// UpdateSubscriptionStatus implements Store.
func (m *MemoryStore) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.byID[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// UsageRecord implements Store.
func (m *MemoryStore) UsageRecord(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[keyFor(subscriptionID, periodStart)]
	if !ok {
		return nil, ErrUsageRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// CreateUsageRecord implements Store.
func (m *MemoryStore) CreateUsageRecord(ctx context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(rec.SubscriptionID, rec.PeriodStart)
	if _, exists := m.records[key]; exists {
		return ErrUsageRecordExists
	}

	cp := *rec
	m.records[key] = &cp
	return nil
}

// LatestUsageRecord implements Store.
func (m *MemoryStore) LatestUsageRecord(ctx context.Context, subscriptionID uuid.UUID) (*UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *UsageRecord
	for _, rec := range m.records {
		if rec.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || rec.PeriodStart.After(latest.PeriodStart) {
			latest = rec
		}
	}

	if latest == nil {
		return nil, ErrUsageRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

// RecentUsageRecords implements Store.
func (m *MemoryStore) RecentUsageRecords(ctx context.Context, subscriptionID uuid.UUID, n int) ([]UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []UsageRecord
	for _, rec := range m.records {
		if rec.SubscriptionID == subscriptionID {
			out = append(out, *rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PeriodStart.After(out[j].PeriodStart)
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// IncrementCounter implements Store. The increment happens under the store
// mutex, mirroring the row-level atomicity of the SQL implementation.
func (m *MemoryStore) IncrementCounter(ctx context.Context, recordID uuid.UUID, counter Counter) (*UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.ID != recordID {
			continue
		}
		switch counter {
		case CounterEmailsSent:
			rec.EmailsSent++
		case CounterEmailsReceived:
			rec.EmailsReceived++
		case CounterAISuggestions:
			rec.AISuggestions++
		default:
			return nil, ErrUnknownCounter
		}
		cp := *rec
		return &cp, nil
	}

	return nil, ErrUsageRecordNotFound
}
