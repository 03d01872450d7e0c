// Package sqlite provides the SQLite-backed market rate and history store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/emberworks/duskspire/internal/market"
	"github.com/emberworks/duskspire/internal/market/sqlite/migrations"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
	"github.com/emberworks/duskspire/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists exchange rates and price history in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite market store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetRate reads the live record for one resource type.
func (s *Store) GetRate(ctx context.Context, resourceType string) (market.Rate, error) {
	if err := ctx.Err(); err != nil {
		return market.Rate{}, err
	}
	if s == nil || s.sqlDB == nil {
		return market.Rate{}, fmt.Errorf("storage is not configured")
	}
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return market.Rate{}, fmt.Errorf("resource type is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT resource_type, current_rate, base_rate, min_rate, max_rate,
       volatility, trend, trend_strength, last_event, updated_ms
FROM exchange_rates WHERE resource_type = ?`, resourceType)

	var rate market.Rate
	var trend string
	var updatedMs int64
	if err := row.Scan(&rate.ResourceType, &rate.Current, &rate.Base, &rate.Min, &rate.Max,
		&rate.Volatility, &trend, &rate.TrendStrength, &rate.LastEvent, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.Rate{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"exchange rate not found", map[string]string{"resource_type": resourceType})
		}
		return market.Rate{}, fmt.Errorf("scan rate: %w", err)
	}
	rate.Trend = market.Trend(trend)
	rate.UpdatedAt = fromMillis(updatedMs)
	return rate, nil
}

// InitRate registers a resource type, starting its rate at the base rate.
// Existing records are left untouched so seeding is idempotent.
func (s *Store) InitRate(ctx context.Context, def market.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	resourceType := strings.TrimSpace(def.ResourceType)
	if resourceType == "" {
		return fmt.Errorf("resource type is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO exchange_rates
    (resource_type, current_rate, base_rate, min_rate, max_rate, volatility, trend, trend_strength, last_event, updated_ms)
VALUES (?, ?, ?, ?, ?, ?, 'stable', 0, '', ?)`,
		resourceType, def.Base, def.Base, def.Min, def.Max, def.Volatility, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("init rate: %w", err)
	}
	return nil
}

// ListResourceTypes returns every registered resource type.
func (s *Store) ListResourceTypes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT resource_type FROM exchange_rates ORDER BY resource_type`)
	if err != nil {
		return nil, fmt.Errorf("list resource types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var types []string
	for rows.Next() {
		var resourceType string
		if err := rows.Scan(&resourceType); err != nil {
			return nil, fmt.Errorf("scan resource type: %w", err)
		}
		types = append(types, resourceType)
	}
	return types, rows.Err()
}

// CompareAndSwapRate writes the new record only if the stored rate/timestamp
// pair is unchanged since the caller's read.
func (s *Store) CompareAndSwapRate(ctx context.Context, resourceType string, expectCurrent float64, expectUpdatedAt time.Time, next market.Rate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE exchange_rates
SET current_rate = ?, trend = ?, trend_strength = ?, last_event = ?, updated_ms = ?
WHERE resource_type = ? AND current_rate = ? AND updated_ms = ?`,
		next.Current, string(next.Trend), next.TrendStrength, next.LastEvent, toMillis(next.UpdatedAt),
		resourceType, expectCurrent, toMillis(expectUpdatedAt))
	if err != nil {
		return false, fmt.Errorf("update rate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// AppendHistory inserts one immutable chart sample.
func (s *Store) AppendHistory(ctx context.Context, point market.HistoryPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO price_history (resource_type, rate, volume, event, recorded_ms)
VALUES (?, ?, ?, ?, ?)`,
		point.ResourceType, point.Rate, point.Volume, point.Event, toMillis(point.At))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns samples for one resource recorded at or after since,
// oldest first.
func (s *Store) History(ctx context.Context, resourceType string, since time.Time) ([]market.HistoryPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT resource_type, rate, volume, event, recorded_ms
FROM price_history
WHERE resource_type = ? AND recorded_ms >= ?
ORDER BY recorded_ms ASC`, resourceType, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []market.HistoryPoint
	for rows.Next() {
		var point market.HistoryPoint
		var recordedMs int64
		if err := rows.Scan(&point.ResourceType, &point.Rate, &point.Volume, &point.Event, &recordedMs); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		point.At = fromMillis(recordedMs)
		points = append(points, point)
	}
	return points, rows.Err()
}

// PruneHistory deletes samples older than the retention horizon and reports
// how many were dropped.
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM price_history WHERE recorded_ms < ?`, toMillis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return result.RowsAffected()
}

var _ market.RateStore = (*Store)(nil)
