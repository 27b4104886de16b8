package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/delivery-stats/internal/aggregate"
	"github.com/ignite/delivery-stats/internal/domain"
)

// DailyStatRepo implements aggregate.Repository against PostgreSQL. Each
// platform namespace is stored as one JSONB column.
type DailyStatRepo struct{ db *sql.DB }

// NewDailyStatRepo creates a Postgres-backed daily stat repository.
func NewDailyStatRepo(db *sql.DB) *DailyStatRepo { return &DailyStatRepo{db: db} }

func (r *DailyStatRepo) Get(ctx context.Context, accountID string, date domain.Date) (*domain.DailyStat, error) {
	var (
		grab, gojek []byte
		rec         = domain.DailyStat{AccountID: accountID, Date: date}
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT grab, gojek, total_sales, total_orders, synced_at
		FROM daily_stats
		WHERE account_id = $1 AND stat_date = $2
	`, accountID, date.String()).Scan(&grab, &gojek, &rec.TotalSales, &rec.TotalOrders, &rec.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, aggregate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stat: %w", err)
	}
	if err := decodeNamespaces(&rec, grab, gojek); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update runs fn inside a transaction holding the row lock for (accountID,
// date). The row is seeded first so concurrent first writers serialize on it
// instead of racing on the insert.
func (r *DailyStatRepo) Update(ctx context.Context, accountID string, date domain.Date, fn func(*domain.DailyStat)) (*domain.DailyStat, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin daily stat update: %w", err)
	}
	defer tx.Rollback()

	day := date.String()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_stats (account_id, stat_date)
		VALUES ($1, $2)
		ON CONFLICT (account_id, stat_date) DO NOTHING
	`, accountID, day); err != nil {
		return nil, fmt.Errorf("seed daily stat: %w", err)
	}

	var (
		grab, gojek []byte
		rec         = domain.DailyStat{AccountID: accountID, Date: date}
	)
	err = tx.QueryRowContext(ctx, `
		SELECT grab, gojek, total_sales, total_orders, synced_at
		FROM daily_stats
		WHERE account_id = $1 AND stat_date = $2
		FOR UPDATE
	`, accountID, day).Scan(&grab, &gojek, &rec.TotalSales, &rec.TotalOrders, &rec.SyncedAt)
	if err != nil {
		return nil, fmt.Errorf("lock daily stat: %w", err)
	}
	if err := decodeNamespaces(&rec, grab, gojek); err != nil {
		return nil, err
	}

	fn(&rec)

	grabCol, err := encodeNamespace(rec.GrabCollected, rec.Grab)
	if err != nil {
		return nil, fmt.Errorf("encode grab stats: %w", err)
	}
	gojekCol, err := encodeNamespace(rec.GojekCollected, rec.Gojek)
	if err != nil {
		return nil, fmt.Errorf("encode gojek stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE daily_stats
		SET grab = $3, gojek = $4, total_sales = $5, total_orders = $6, synced_at = $7
		WHERE account_id = $1 AND stat_date = $2
	`, accountID, day, grabCol, gojekCol, rec.TotalSales, rec.TotalOrders, rec.SyncedAt); err != nil {
		return nil, fmt.Errorf("update daily stat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit daily stat: %w", err)
	}
	return &rec, nil
}

func (r *DailyStatRepo) ListRange(ctx context.Context, accountID string, from, to domain.Date) ([]domain.DailyStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stat_date, grab, gojek, total_sales, total_orders, synced_at
		FROM daily_stats
		WHERE account_id = $1 AND stat_date BETWEEN $2 AND $3
		ORDER BY stat_date
	`, accountID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyStat
	for rows.Next() {
		var (
			day         time.Time
			grab, gojek []byte
			rec         = domain.DailyStat{AccountID: accountID}
		)
		if err := rows.Scan(&day, &grab, &gojek, &rec.TotalSales, &rec.TotalOrders, &rec.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		rec.Date = domain.DateOf(day)
		if err := decodeNamespaces(&rec, grab, gojek); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// decodeNamespaces fills the platform namespaces from their JSONB columns. A
// NULL column means the platform was never collected for that day.
func decodeNamespaces(rec *domain.DailyStat, grab, gojek []byte) error {
	if len(grab) > 0 {
		if err := json.Unmarshal(grab, &rec.Grab); err != nil {
			return fmt.Errorf("decode grab stats: %w", err)
		}
		rec.GrabCollected = true
	}
	if len(gojek) > 0 {
		if err := json.Unmarshal(gojek, &rec.Gojek); err != nil {
			return fmt.Errorf("decode gojek stats: %w", err)
		}
		rec.GojekCollected = true
	}
	return nil
}

func encodeNamespace(collected bool, stats domain.PlatformStats) (any, error) {
	if !collected {
		return nil, nil
	}
	return json.Marshal(stats)
}
