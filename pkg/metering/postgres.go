package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/replyhq/metering/pkg/pg"
)

// PostgresStore implements Store on top of a pgx connection pool.
//
// Counter increments are single UPDATE statements ("SET col = col + 1"), so
// concurrent requests for the same user serialize on the row and never lose
// updates. Unique-constraint violations on insert surface as the package's
// *Exists sentinels for the service's race handling.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, user_id, plan_type, status, current_period_start, current_period_end, created_at, updated_at`

func (p *PostgresStore) scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanType,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SubscriptionByUser implements Store.
func (p *PostgresStore) SubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	return p.scanSubscription(p.db.QueryRow(ctx, query, userID))
}

// SubscriptionByID implements Store.
func (p *PostgresStore) SubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return p.scanSubscription(p.db.QueryRow(ctx, query, id))
}

// CreateSubscription implements Store.
func (p *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (id, user_id, plan_type, status, current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.db.Exec(ctx, query,
		sub.ID,
		sub.UserID,
		sub.PlanType,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return err
	}
	return nil
}

// UpdateSubscriptionStatus implements Store.
func (p *PostgresStore) UpdateSubscriptionStatus(ctx context.Context, id uuid.UUID, status Status) error {
	query := `UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := p.db.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

const usageColumns = `id, subscription_id, period_start, period_end, emails_sent, emails_received, ai_suggestions`

func (p *PostgresStore) scanUsageRecord(row interface{ Scan(...any) error }) (*UsageRecord, error) {
	var rec UsageRecord
	err := row.Scan(
		&rec.ID,
		&rec.SubscriptionID,
		&rec.PeriodStart,
		&rec.PeriodEnd,
		&rec.EmailsSent,
		&rec.EmailsReceived,
		&rec.AISuggestions,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUsageRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UsageRecord implements Store.
func (p *PostgresStore) UsageRecord(ctx context.Context, subscriptionID uuid.UUID, periodStart time.Time) (*UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE subscription_id = $1 AND period_start = $2`
	return p.scanUsageRecord(p.db.QueryRow(ctx, query, subscriptionID, periodStart))
}

// CreateUsageRecord implements Store.
func (p *PostgresStore) CreateUsageRecord(ctx context.Context, rec *UsageRecord) error {
	query := `
		INSERT INTO usage_records (id, subscription_id, period_start, period_end, emails_sent, emails_received, ai_suggestions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := p.db.Exec(ctx, query,
		rec.ID,
		rec.SubscriptionID,
		rec.PeriodStart,
		rec.PeriodEnd,
		rec.EmailsSent,
		rec.EmailsReceived,
		rec.AISuggestions,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrUsageRecordExists
		}
		return err
	}
	return nil
}

// LatestUsageRecord implements Store.
func (p *PostgresStore) LatestUsageRecord(ctx context.Context, subscriptionID uuid.UUID) (*UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE subscription_id = $1 ORDER BY period_start DESC LIMIT 1`
	return p.scanUsageRecord(p.db.QueryRow(ctx, query, subscriptionID))
}

// RecentUsageRecords implements Store.
func (p *PostgresStore) RecentUsageRecords(ctx context.Context, subscriptionID uuid.UUID, n int) ([]UsageRecord, error) {
	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE subscription_id = $1 ORDER BY period_start DESC LIMIT $2`
	rows, err := p.db.Query(ctx, query, subscriptionID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		rec, err := p.scanUsageRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// IncrementCounter implements Store. The column is derived from the counter
// enum, never from caller input, so building it into the statement is safe.
func (p *PostgresStore) IncrementCounter(ctx context.Context, recordID uuid.UUID, counter Counter) (*UsageRecord, error) {
	var column string
	switch counter {
	case CounterEmailsSent:
		column = "emails_sent"
	case CounterEmailsReceived:
		column = "emails_received"
	case CounterAISuggestions:
		column = "ai_suggestions"
	default:
		return nil, ErrUnknownCounter
	}

	query := `UPDATE usage_records SET ` + column + ` = ` + column + ` + 1 WHERE id = $1 RETURNING ` + usageColumns
	return p.scanUsageRecord(p.db.QueryRow(ctx, query, recordID))
}
