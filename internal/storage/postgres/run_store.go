// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evidentlabs/rivalscan/internal/store"
)

// execQuerier is the subset of pgxpool.Pool the store needs. pgxmock
// implements it, which lets tests drive the store without a database.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool used for run history.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool execQuerier
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool execQuerier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts a scan run in the running state; repeated starts
// for the same run are idempotent.
func (s *RunStore) UpsertRunStart(ctx context.Context, scanID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO scan_runs (id, scan_id, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, scanID, scanID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	scanID uuid.UUID,
	finishedAt time.Time,
	status store.ScanRunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE scan_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, scanID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// UpsertDomainStats applies fetch deltas for a (scan, domain) pair.
func (s *RunStore) UpsertDomainStats(
	ctx context.Context,
	scanID uuid.UUID,
	domain string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	column, ok := statusColumn(statusClass)
	if !ok {
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	query := fmt.Sprintf(`UPDATE domain_stats SET visits = visits + $1,
		bytes_total = bytes_total + $2,
		%s = %s + $1,
		last_update = $3
		WHERE scan_id = $4 AND domain = $5;`, column, column)

	res, err := s.pool.Exec(ctx, query, deltaVisits, deltaBytes, at, scanID, domain)
	if err != nil {
		return fmt.Errorf("update domain stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var fetch2xx, fetch3xx, fetch4xx, fetch5xx int64
		switch statusClass {
		case "2xx":
			fetch2xx = deltaVisits
		case "3xx":
			fetch3xx = deltaVisits
		case "4xx":
			fetch4xx = deltaVisits
		case "5xx":
			fetch5xx = deltaVisits
		}

		query = `
			INSERT INTO domain_stats (scan_id, domain, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (scan_id, domain) DO NOTHING;
		`
		if _, err = s.pool.Exec(
			ctx,
			query,
			scanID,
			domain,
			at,
			deltaVisits,
			deltaBytes,
			fetch2xx,
			fetch3xx,
			fetch4xx,
			fetch5xx,
		); err != nil {
			return fmt.Errorf("insert domain stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a single scan run by its ID.
func (s *RunStore) GetRun(ctx context.Context, scanID uuid.UUID) (store.ScanRun, error) {
	query := `
		SELECT id, scan_id, started_at, finished_at, status, error_message
		FROM scan_runs
		WHERE id = $1;
	`
	var run store.ScanRun
	err := s.pool.QueryRow(ctx, query, scanID).Scan(
		&run.ID,
		&run.ScanID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ScanRun{}, store.ErrNotFound
		}
		return store.ScanRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves a list of scan runs, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.ScanRunStatus,
	limit,
	offset int,
) ([]store.ScanRun, error) {
	query := `
		SELECT id, scan_id, started_at, finished_at, status, error_message
		FROM scan_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.ScanRun
	for rows.Next() {
		var run store.ScanRun
		err := rows.Scan(
			&run.ID,
			&run.ScanID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListRunDomains retrieves aggregated domain statistics for a given scan.
func (s *RunStore) ListRunDomains(
	ctx context.Context,
	scanID uuid.UUID,
	limit,
	offset int,
) ([]store.DomainStats, error) {
	query := `
		SELECT scan_id, domain, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM domain_stats
		WHERE scan_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, scanID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run domains: %w", err)
	}
	defer rows.Close()

	var stats []store.DomainStats
	for rows.Next() {
		var stat store.DomainStats
		err := rows.Scan(
			&stat.ScanID,
			&stat.Domain,
			&stat.LastUpdate,
			&stat.Visits,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("scan domain stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func statusColumn(statusClass string) (string, bool) {
	switch statusClass {
	case "2xx":
		return "fetch_2xx", true
	case "3xx":
		return "fetch_3xx", true
	case "4xx":
		return "fetch_4xx", true
	case "5xx":
		return "fetch_5xx", true
	default:
		return "", false
	}
}
