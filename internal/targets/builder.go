// Package targets produces the bounded, priority-ordered page catalog
// attempted for each competitor domain.
package targets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Config controls Builder behavior.
type Config struct {
	// MaxPages bounds the catalog per competitor. Zero falls back to 10.
	MaxPages int
}

// Builder expands a competitor domain into candidate page targets.
type Builder struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Builder.
func New(cfg Config, logger *zap.Logger) *Builder {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// pathCatalog is ordered by signal value: if the fetch budget runs out early,
// the highest-value pages were attempted first.
var pathCatalog = []struct {
	path         string
	label        string
	expectedType evidence.SourceType
}{
	{"", "homepage", evidence.SourceMarketing},
	{"/pricing", "pricing", evidence.SourcePricing},
	{"/changelog", "changelog", evidence.SourceChangelog},
	{"/releases", "releases", evidence.SourceChangelog},
	{"/updates", "updates", evidence.SourceChangelog},
	{"/docs", "docs", evidence.SourceDocs},
	{"/careers", "careers", evidence.SourceJobs},
	{"/jobs", "jobs", evidence.SourceJobs},
	{"/status", "status", evidence.SourceStatus},
	{"/features", "features", evidence.SourceMarketing},
	{"/product", "product", evidence.SourceMarketing},
	{"/blog", "blog", evidence.SourceMarketing},
}

// Build normalizes the input domain and emits an ordered, deduplicated target
// list truncated to MaxPages. It never fails: unparseable input degrades to a
// best-effort host string.
func (b *Builder) Build(domain string) []evidence.Target {
	host := evidence.Domain(domain)
	if host == "" {
		b.logger.Warn("could not derive host from domain input", zap.String("input", domain))
		return nil
	}

	out := make([]evidence.Target, 0, b.cfg.MaxPages)
	seen := make(map[string]struct{}, b.cfg.MaxPages)
	for priority, entry := range pathCatalog {
		if len(out) >= b.cfg.MaxPages {
			break
		}
		target := evidence.Target{
			URL:          fmt.Sprintf("https://%s%s", host, entry.path),
			Label:        entry.label,
			ExpectedType: entry.expectedType,
			Priority:     priority,
		}
		key := evidence.CanonicalKey(target.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, target)
	}
	return out
}

// AugmentWithSearch appends review-site URLs discovered via the injected
// searcher. Search failure logs and returns the original list unchanged; it
// never aborts a collection run.
func (b *Builder) AugmentWithSearch(
	ctx context.Context,
	targets []evidence.Target,
	searcher evidence.Searcher,
	domain string,
	productHint string,
	maxResults int,
) []evidence.Target {
	if searcher == nil || maxResults <= 0 {
		return targets
	}
	host := evidence.Domain(domain)
	query := fmt.Sprintf("%s reviews", host)
	if productHint != "" {
		query = fmt.Sprintf("%s %s reviews", host, productHint)
	}

	results, err := searcher.Search(ctx, query, maxResults)
	if err != nil {
		b.logger.Warn("search augmentation failed, continuing with catalog targets",
			zap.String("domain", host),
			zap.Error(err),
		)
		return targets
	}

	seen := make(map[string]struct{}, len(targets)+len(results))
	for _, t := range targets {
		seen[evidence.CanonicalKey(t.URL)] = struct{}{}
	}
	priority := len(targets)
	for _, result := range results {
		if result.URL == "" {
			continue
		}
		// Review evidence is third-party by definition; skip hits that
		// point back at the competitor's own site.
		if evidence.SameDomain(result.URL, host) {
			continue
		}
		key := evidence.CanonicalKey(result.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, evidence.Target{
			URL:          result.URL,
			Label:        "review: " + result.Title,
			ExpectedType: evidence.SourceReviews,
			Priority:     priority,
			FromSearch:   true,
		})
		priority++
	}
	return targets
}
