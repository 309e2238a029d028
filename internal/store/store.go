// Package store is the per-environment cache backing the HTTP API. Each
// (environment, kind) pair holds at most one record; writes are full
// replaces and atomic with respect to concurrent reads.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ninebot-ops/vmboard/internal/inventory"
	"github.com/ninebot-ops/vmboard/internal/metrics"
)

// Record kinds. One row per (environment, kind).
const (
	kindSnapshot = "snapshot"
	kindMetrics  = "metrics"
	kindLayout   = "layout"
)

// ErrNotFound reports an absent record. Absence is a normal state before the
// first refresh cycle, not a failure.
var ErrNotFound = errors.New("store: record not found")

// Store is a SQLite-backed cache. The database serializes writers per key
// while readers run concurrently (WAL mode), which gives the single-writer
// replace semantics the refresh loops rely on.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `CREATE TABLE IF NOT EXISTS cache_records (
		environment TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (environment, kind)
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// put replaces the record for (environment, kind) in one statement; readers
// observe either the prior payload or the new one, never a mix.
func (s *Store) put(ctx context.Context, env, kind string, payload []byte) error {
	query := `
		INSERT INTO cache_records (environment, kind, payload, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(environment, kind) DO UPDATE SET
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query, env, kind, string(payload))
	return err
}

func (s *Store) get(ctx context.Context, env, kind string) ([]byte, error) {
	query := `SELECT payload FROM cache_records WHERE environment = ? AND kind = ?`
	var payload string
	err := s.db.QueryRowContext(ctx, query, env, kind).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// SaveSnapshot replaces the inventory snapshot for one environment and
// stamps it with the write time.
func (s *Store) SaveSnapshot(ctx context.Context, env string, snap inventory.Snapshot) error {
	snap.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.put(ctx, env, kindSnapshot, payload)
}

// Snapshot reads the cached snapshot for one environment. Returns
// ErrNotFound before the first successful inventory cycle.
func (s *Store) Snapshot(ctx context.Context, env string) (inventory.Snapshot, error) {
	payload, err := s.get(ctx, env, kindSnapshot)
	if err != nil {
		return inventory.Snapshot{}, err
	}
	var snap inventory.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return inventory.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// metricsRecord is the stored shape of one environment's metrics set.
type metricsRecord struct {
	ByIP        metrics.Set `json:"metrics_by_ip"`
	LastUpdated string      `json:"last_updated"`
}

// SaveMetrics replaces the metrics set for one environment.
func (s *Store) SaveMetrics(ctx context.Context, env string, set metrics.Set) error {
	record := metricsRecord{
		ByIP:        set,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	return s.put(ctx, env, kindMetrics, payload)
}

// Metrics reads the cached metrics set for one environment. Returns
// ErrNotFound before the first metrics cycle.
func (s *Store) Metrics(ctx context.Context, env string) (metrics.Set, error) {
	payload, err := s.get(ctx, env, kindMetrics)
	if err != nil {
		return nil, err
	}
	var record metricsRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	if record.ByIP == nil {
		record.ByIP = metrics.Set{}
	}
	return record.ByIP, nil
}

// SaveLayout stores a user layout document verbatim.
func (s *Store) SaveLayout(ctx context.Context, env string, doc json.RawMessage) error {
	return s.put(ctx, env, kindLayout, doc)
}

// Layout reads the stored layout document, verbatim. Returns ErrNotFound
// when no layout has been saved (or it was deleted).
func (s *Store) Layout(ctx context.Context, env string) (json.RawMessage, error) {
	payload, err := s.get(ctx, env, kindLayout)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

// DeleteLayout removes the layout record. Deleting an absent layout is not
// an error.
func (s *Store) DeleteLayout(ctx context.Context, env string) error {
	query := `DELETE FROM cache_records WHERE environment = ? AND kind = ?`
	_, err := s.db.ExecContext(ctx, query, env, kindLayout)
	return err
}

// MemberIPs collects the non-empty VM addresses of one environment's cached
// snapshot. An absent snapshot yields no addresses and no error, so the
// metrics loop stays quiet until inventory has run once.
func (s *Store) MemberIPs(ctx context.Context, env string) ([]string, error) {
	snap, err := s.Snapshot(ctx, env)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, svc := range snap.Services {
		for _, vm := range svc.VMs {
			if vm.IP != "" {
				ips = append(ips, vm.IP)
			}
		}
	}
	return ips, nil
}
