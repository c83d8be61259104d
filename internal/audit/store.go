// Package audit records delivery outcomes in a local SQLite database.
// Only metadata is stored: never message text, URLs or captions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"slack2tg/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditLogger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditLogger = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// LogDelivery appends one delivery record.
func (s *SQLiteStore) LogDelivery(ctx context.Context, rec domain.DeliveryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (request_id, route_key, destination, photos, documents, chunks,
		                         outcome, error_class, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.RouteKey, rec.Destination, rec.Photos, rec.Documents, rec.Chunks,
		rec.Outcome, rec.ErrorClass, rec.DurationMS, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, route_key, destination, photos, documents, chunks,
		        outcome, error_class, duration_ms, created_at
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.RouteKey, &rec.Destination,
			&rec.Photos, &rec.Documents, &rec.Chunks, &rec.Outcome, &rec.ErrorClass,
			&rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats summarizes outcomes per route key.
type Stats struct {
	RouteKey  string `json:"route_key"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// StatsByRoute aggregates outcomes recorded since the given time.
func (s *SQLiteStore) StatsByRoute(ctx context.Context, since time.Time) ([]Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT route_key,
		        SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END),
		        SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END)
		 FROM deliveries WHERE created_at >= ?
		 GROUP BY route_key ORDER BY route_key`,
		domain.OutcomeOK, domain.OutcomeFailed, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var st Stats
		if err := rows.Scan(&st.RouteKey, &st.Delivered, &st.Failed); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Prune deletes records older than the cutoff and reports how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("audit records pruned", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
