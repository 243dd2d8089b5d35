// Package aggregator persists analytics snapshots in the records database,
// so the aggregated counters survive a restart of the analytics service.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ippousyuga/search-lucene/internal/analytics"
	"github.com/ippousyuga/search-lucene/internal/records"
	"github.com/ippousyuga/search-lucene/pkg/config"
)

var schema = map[string]string{
	config.DriverPostgres: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	data        TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
)`,
	config.DriverSQLite: `CREATE TABLE IF NOT EXISTS analytics_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	data        TEXT NOT NULL,
	captured_at TIMESTAMP NOT NULL
)`,
}

// Store keeps aggregated stats snapshots in the analytics_snapshots table.
type Store struct {
	db     *records.DB
	logger *slog.Logger
}

// NewStore creates the snapshot table if it does not exist.
func NewStore(ctx context.Context, db *records.DB) (*Store, error) {
	ddl, ok := schema[db.Driver()]
	if !ok {
		return nil, fmt.Errorf("no analytics schema for driver %q", db.Driver())
	}
	if _, err := db.SQL().ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "analytics-store"),
	}, nil
}

func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO analytics_snapshots (data, captured_at) VALUES (%s, %s)`,
		s.db.Placeholder(1), s.db.Placeholder(2))
	if _, err := s.db.SQL().ExecContext(ctx, q, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot saved", "total_searches", stats.TotalSearches)
	return nil
}

// LatestSnapshot loads the most recent snapshot, or nil if none exists.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	snaps, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// ListSnapshots returns the last limit snapshots, newest first. Rows that
// no longer decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	q := fmt.Sprintf(`SELECT data FROM analytics_snapshots ORDER BY id DESC LIMIT %s`, s.db.Placeholder(1))
	rows, err := s.db.SQL().QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal([]byte(data), &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// Run snapshots agg every interval until ctx is done, then once more.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}
