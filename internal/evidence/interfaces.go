package evidence

import (
	"context"
	"time"
)

// ScanStore persists scan and source-record metadata.
type ScanStore interface {
	CreateScan(ctx context.Context, scan Scan) error
	UpdateScanStatus(ctx context.Context, scanID string, status ScanStatus, errText string, counters ScanCounters) error
	AppendRunScore(ctx context.Context, scanID string, score RunScore) error
	RecordSource(ctx context.Context, record SourceRecord) error
	GetScan(ctx context.Context, scanID string) (Scan, error)
	ListSources(ctx context.Context, scanID string) ([]SourceRecord, error)
}

// SnapshotStore writes raw page snapshots and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes scan completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a single URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a headless re-fetch is warranted for a
// probe response that looks like an unrendered JavaScript shell.
type RenderDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Searcher augments target lists with externally discovered URLs. A failed
// search degrades gracefully; callers proceed with their original targets.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Queue provides enqueue/dequeue semantics for scan jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy encapsulates admission control and per-domain rate limiting.
type Policy interface {
	Wait(ctx context.Context, url string) error
	AllowHeadless(scanID string, url string) bool
}

// Hasher computes digests for snapshot content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces scan IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
