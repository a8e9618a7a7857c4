// Package evidence defines core types shared across subsystems.
package evidence

import (
	"net/http"
	"time"
)

// SourceType classifies what kind of evidence a page represents.
type SourceType string

// The fixed evidence taxonomy. Classification always resolves to one of
// these members; there is no "unknown".
const (
	SourceMarketing SourceType = "marketing_site"
	SourcePricing   SourceType = "pricing"
	SourceChangelog SourceType = "changelog"
	SourceReviews   SourceType = "reviews"
	SourceJobs      SourceType = "jobs"
	SourceDocs      SourceType = "docs"
	SourceStatus    SourceType = "status"
)

// AllSourceTypes returns the taxonomy in declaration order.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceMarketing,
		SourcePricing,
		SourceChangelog,
		SourceReviews,
		SourceJobs,
		SourceDocs,
		SourceStatus,
	}
}

// Valid reports whether t is a member of the taxonomy.
func (t SourceType) Valid() bool {
	switch t {
	case SourceMarketing, SourcePricing, SourceChangelog, SourceReviews,
		SourceJobs, SourceDocs, SourceStatus:
		return true
	default:
		return false
	}
}

// ParseSourceType maps s onto the taxonomy. Anything unrecognized resolves
// to SourceMarketing so callers never handle a failed classification.
func ParseSourceType(s string) SourceType {
	if t := SourceType(s); t.Valid() {
		return t
	}
	return SourceMarketing
}

// Target is one candidate page produced for a collection run.
type Target struct {
	URL          string     `json:"url"`
	Label        string     `json:"label"`
	ExpectedType SourceType `json:"expected_type,omitempty"`
	Priority     int        `json:"priority"`
	FromSearch   bool       `json:"from_search,omitempty"`
}

// FetchedPage is the outcome of one fetch attempt. Failures travel as data:
// Err is populated and the content fields stay empty. A page failure never
// aborts its batch.
type FetchedPage struct {
	URL          string        `json:"url"`
	FinalURL     string        `json:"final_url,omitempty"`
	Label        string        `json:"label,omitempty"`
	ExpectedType SourceType    `json:"expected_type,omitempty"`
	Title        string        `json:"title,omitempty"`
	Text         string        `json:"text,omitempty"`
	Truncated    bool          `json:"truncated"`
	HTML         []byte        `json:"-"`
	StatusCode   int           `json:"status_code,omitempty"`
	Bytes        int           `json:"bytes,omitempty"`
	UsedHeadless bool          `json:"used_headless,omitempty"`
	Duration     time.Duration `json:"-"`
	RetrievedAt  time.Time     `json:"retrieved_at"`
	Err          string        `json:"error,omitempty"`
}

// Failed reports whether the fetch produced an error instead of content.
func (p FetchedPage) Failed() bool {
	return p.Err != ""
}

// DateRange bounds the dated sections retained from a page.
type DateRange struct {
	Oldest time.Time `json:"oldest"`
	Newest time.Time `json:"newest"`
}

// ExtractedSource is the classified, type-specialized result for one page.
type ExtractedSource struct {
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Text        string     `json:"text"`
	Type        SourceType `json:"source_type"`
	Confidence  float64    `json:"confidence"`
	Truncated   bool       `json:"truncated"`
	DateRange   *DateRange `json:"date_range,omitempty"`
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// EvidenceItem is a bundle member. Durable identity belongs to an external
// persistence layer; this core only reads items.
type EvidenceItem struct {
	ID          string     `json:"id"`
	Type        SourceType `json:"type"`
	URL         string     `json:"url"`
	Domain      string     `json:"domain,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// Bundle is an accumulated evidence bundle, possibly spanning many
// collection runs. Invariant: items unique by canonical URL.
type Bundle struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	PrimaryURL string         `json:"primary_url,omitempty"`
	Items      []EvidenceItem `json:"items"`
}

// Normalize returns a copy of the bundle with items deduplicated by
// canonical URL, first occurrence winning.
func (b Bundle) Normalize() Bundle {
	out := b
	out.Items = make([]EvidenceItem, 0, len(b.Items))
	seen := make(map[string]struct{}, len(b.Items))
	for _, item := range b.Items {
		key := CanonicalKey(item.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Items = append(out.Items, item)
	}
	return out
}

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ScanStatus represents the lifecycle state of a scan job.
type ScanStatus string

// Scan status values persisted in the scan store.
const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusSucceeded ScanStatus = "succeeded"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCanceled  ScanStatus = "canceled"
)

// ScanParameters captures per-scan configuration knobs requested by the client.
type ScanParameters struct {
	Domains           []string          `json:"domains"`
	ProductHint       string            `json:"product_hint,omitempty"`
	MaxTargetPages    int               `json:"max_target_pages"`
	FetchBudgetMs     int               `json:"fetch_budget_ms"`
	RequestTimeoutMs  int               `json:"request_timeout_ms"`
	FetchConcurrency  int               `json:"fetch_concurrency"`
	ShortlistQuota    int               `json:"shortlist_quota"`
	UseSearch         bool              `json:"use_search" mapstructure:"use_search"`
	UseSearchProvided bool              `json:"-" mapstructure:"use_search_provided"`
	HeadlessAllowed   bool              `json:"headless_allowed" mapstructure:"headless_allowed"`
	HeadlessProvided  bool              `json:"-" mapstructure:"headless_provided"`
	DenyDomains       []string          `json:"deny_domains,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// Scan represents the metadata persisted for each submitted scan request.
type Scan struct {
	ID         string         `json:"id"`
	Status     ScanStatus     `json:"status"`
	Submitted  time.Time      `json:"submitted_at"`
	Started    *time.Time     `json:"started_at,omitempty"`
	Finished   *time.Time     `json:"finished_at,omitempty"`
	ErrorText  string         `json:"error_text,omitempty"`
	Parameters ScanParameters `json:"parameters"`
	Counters   ScanCounters   `json:"counters"`
	Scores     []RunScore     `json:"scores,omitempty"`
}

// ScanCounters tracks per-scan outcomes.
type ScanCounters struct {
	PagesFetched      int `json:"pages_fetched"`
	PagesFailed       int `json:"pages_failed"`
	SourcesClassified int `json:"sources_classified"`
	Shortlisted       int `json:"shortlisted"`
}

// RunScore summarizes the coverage score computed at the end of one
// domain's collection run.
type RunScore struct {
	Domain       string   `json:"domain"`
	Sufficient   bool     `json:"sufficient"`
	Score10      *float64 `json:"score10,omitempty"`
	Label        string   `json:"label,omitempty"`
	FailedChecks []string `json:"failed_checks,omitempty"`
}

// SourceRecord is persisted for each classified source.
type SourceRecord struct {
	ScanID       string     `json:"scan_id"`
	Domain       string     `json:"domain"`
	URL          string     `json:"url"`
	Type         SourceType `json:"source_type"`
	Title        string     `json:"title,omitempty"`
	Confidence   float64    `json:"confidence"`
	Truncated    bool       `json:"truncated"`
	TextChars    int        `json:"text_chars"`
	StatusCode   int        `json:"status_code"`
	UsedHeadless bool       `json:"used_headless"`
	RetrievedAt  time.Time  `json:"retrieved_at"`
	DurationMs   int64      `json:"duration_ms"`
	ContentHash  string     `json:"content_hash,omitempty"`
	SnapshotURI  string     `json:"snapshot_uri,omitempty"`
	Shortlisted  bool       `json:"shortlisted"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// FetchRequest captures everything needed to fetch a single URL.
type FetchRequest struct {
	ScanID      string
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ScanResult is returned by the API result endpoint.
type ScanResult struct {
	Scan    Scan           `json:"scan"`
	Sources []SourceRecord `json:"sources"`
}

// QueueItem wraps a scan ready to run.
type QueueItem struct {
	ScanID    string
	Params    ScanParameters
	Attempt   int
	Submitted int64
}
