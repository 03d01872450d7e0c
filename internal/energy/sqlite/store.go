// Package sqlite provides the SQLite-backed energy pool store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/emberworks/duskspire/internal/energy"
	"github.com/emberworks/duskspire/internal/energy/sqlite/migrations"
	apperrors "github.com/emberworks/duskspire/internal/platform/errors"
	"github.com/emberworks/duskspire/internal/platform/storage/sqlitemigrate"
)

// Store persists energy pools in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite energy store and applies embedded migrations.
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

// GetPool reads one pool record.
func (s *Store) GetPool(ctx context.Context, ownerID string) (energy.Pool, error) {
	if err := ctx.Err(); err != nil {
		return energy.Pool{}, err
	}
	if s == nil || s.sqlDB == nil {
		return energy.Pool{}, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return energy.Pool{}, fmt.Errorf("owner id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT owner_id, current_amount, capacity, regen_multiplier, updated_ms
FROM energy_pools WHERE owner_id = ?`, ownerID)

	var pool energy.Pool
	var updatedMs int64
	if err := row.Scan(&pool.OwnerID, &pool.Current, &pool.Capacity, &pool.RegenMultiplier, &updatedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return energy.Pool{}, apperrors.WithMetadata(apperrors.CodeNotFound,
				"energy pool not found", map[string]string{"owner_id": ownerID})
		}
		return energy.Pool{}, fmt.Errorf("scan pool: %w", err)
	}
	pool.UpdatedAt = fromMillis(updatedMs)
	return pool, nil
}

// CreatePool inserts one pool record. Duplicate owners are rejected.
func (s *Store) CreatePool(ctx context.Context, pool energy.Pool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	ownerID := strings.TrimSpace(pool.OwnerID)
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if pool.Capacity <= 0 {
		return fmt.Errorf("capacity must be greater than zero")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO energy_pools (owner_id, current_amount, capacity, regen_multiplier, updated_ms)
VALUES (?, ?, ?, ?, ?)`,
		ownerID, pool.Current, pool.Capacity, pool.RegenMultiplier, toMillis(pool.UpdatedAt))
	if err != nil {
		if isConstraintError(err) {
			return apperrors.WithMetadata(apperrors.CodeAlreadyExists,
				"energy pool already exists", map[string]string{"owner_id": ownerID})
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// CompareAndSwapPool writes the new amount only if the stored
// amount/timestamp pair is unchanged since the caller's read.
func (s *Store) CompareAndSwapPool(ctx context.Context, ownerID string, expectCurrent int64, expectUpdatedAt time.Time, newCurrent int64, newUpdatedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return false, fmt.Errorf("owner id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE energy_pools
SET current_amount = ?, updated_ms = ?
WHERE owner_id = ? AND current_amount = ? AND updated_ms = ?`,
		newCurrent, toMillis(newUpdatedAt), ownerID, expectCurrent, toMillis(expectUpdatedAt))
	if err != nil {
		return false, fmt.Errorf("update pool: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// isConstraintError reports whether err is a SQLite uniqueness violation.
func isConstraintError(err error) bool {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

var _ energy.PoolStore = (*Store)(nil)
