// Package store declares interfaces for persisting scan-run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// ScanRunStatus mirrors the scan_runs status column.
type ScanRunStatus string

// Scan run statuses persisted in scan_runs.status.
const (
	RunRunning ScanRunStatus = "running"
	RunSuccess ScanRunStatus = "success"
	RunError   ScanRunStatus = "error"
)

// ScanRun models the scan_runs table for API responses.
type ScanRun struct {
	// ID is the primary key of scan_runs (may match ScanID depending on schema).
	ID uuid.UUID
	// ScanID is the logical scan identifier shared with workers.
	ScanID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status ScanRunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// DomainStats captures per-domain fetch aggregation for a scan.
type DomainStats struct {
	// ScanID is the owning scan.
	ScanID uuid.UUID
	// Domain is the normalized host label (e.g., example.com).
	Domain string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Visits counts completed pages for the domain.
	Visits int64
	// BytesTotal accumulates response bytes.
	BytesTotal int64
	// Fetch2xx-5xx hold per-status counts for diagnostics.
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
}

// RunRepository persists incremental scan progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, scanID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, scanID uuid.UUID, finishedAt time.Time, status ScanRunStatus, errMsg *string) error
	// UpsertDomainStats applies visit/byte deltas per (scan, domain, statusClass).
	UpsertDomainStats(
		ctx context.Context,
		scanID uuid.UUID,
		domain string,
		deltaVisits int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error

	// GetRun loads a single scan run or returns ErrNotFound.
	GetRun(ctx context.Context, scanID uuid.UUID) (ScanRun, error)
	// ListRuns returns scan runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *ScanRunStatus, limit, offset int) ([]ScanRun, error)
	// ListRunDomains returns aggregated domain stats for one scan.
	ListRunDomains(ctx context.Context, scanID uuid.UUID, limit, offset int) ([]DomainStats, error)
}
