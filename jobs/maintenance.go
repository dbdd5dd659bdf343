package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendaflow/vendaflow/internal/observability"
	"github.com/vendaflow/vendaflow/internal/shared"
)

// IdempotencyCleanupJob prunes idempotency keys past their retention window.
type IdempotencyCleanupJob struct {
	Store     *shared.IdempotencyStore
	Retention time.Duration
	Logger    *slog.Logger
}

// Handle processes one cleanup task.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	retention := j.Retention
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err == nil && payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return fmt.Errorf("jobs: idempotency cleanup: %w", err)
	}
	j.Logger.Info("idempotency keys pruned",
		slog.Int64("removed", removed),
		slog.Duration("retention", retention))
	return nil
}

// OverdueScanJob recomputes the overdue exposure gauges from the database.
// Overdue is derived at read time, so the scan only aggregates open items
// whose due date has passed; it never mutates stored statuses.
type OverdueScanJob struct {
	Pool    *pgxpool.Pool
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

type overdueBucket struct {
	count  int
	amount float64
}

// Handle processes one overdue scan task.
func (j *OverdueScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	now := time.Now()
	if j.Clock != nil {
		now = j.Clock()
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	buckets := map[string]overdueBucket{
		"PAYABLE":    {},
		"RECEIVABLE": {},
	}

	rows, err := j.Pool.Query(ctx, `SELECT a.kind, COUNT(*),
		COALESCE(SUM(i.value - COALESCE(i.paid_amount, 0)), 0)::float8
		FROM installments i
		JOIN accounts a ON a.document_number = i.document_number
		WHERE i.due_date < $1 AND i.status <> 'PAID'
		GROUP BY a.kind`, today)
	if err != nil {
		return fmt.Errorf("jobs: overdue scan installments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var bucket overdueBucket
		if err := rows.Scan(&kind, &bucket.count, &bucket.amount); err != nil {
			return fmt.Errorf("jobs: overdue scan installments: %w", err)
		}
		buckets[kind] = bucket
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("jobs: overdue scan installments: %w", err)
	}

	// Single accounts have no installment rows; their due date is start_date.
	single, err := j.Pool.Query(ctx, `SELECT kind, COUNT(*),
		COALESCE(SUM(total_value - COALESCE(paid_amount, 0)), 0)::float8
		FROM accounts
		WHERE creation_type = 'SINGLE' AND start_date < $1 AND status <> 'PAID'
		GROUP BY kind`, today)
	if err != nil {
		return fmt.Errorf("jobs: overdue scan accounts: %w", err)
	}
	defer single.Close()
	for single.Next() {
		var kind string
		var count int
		var amount float64
		if err := single.Scan(&kind, &count, &amount); err != nil {
			return fmt.Errorf("jobs: overdue scan accounts: %w", err)
		}
		bucket := buckets[kind]
		bucket.count += count
		bucket.amount += amount
		buckets[kind] = bucket
	}
	if err := single.Err(); err != nil {
		return fmt.Errorf("jobs: overdue scan accounts: %w", err)
	}

	for kind, bucket := range buckets {
		j.Metrics.SetOverdueExposure(kind, bucket.count, bucket.amount)
	}
	j.Logger.Info("overdue exposure refreshed",
		slog.Int("payable_count", buckets["PAYABLE"].count),
		slog.Int("receivable_count", buckets["RECEIVABLE"].count))
	return nil
}
