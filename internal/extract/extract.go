package extract

import (
	"strings"
	"time"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// Config controls type-specific extraction.
type Config struct {
	// TextCharCap bounds normalized text length. Zero falls back to 20000.
	TextCharCap int
	// RecencyWindowDays bounds how old a dated changelog section may be and
	// still be retained. Zero falls back to 270 days.
	RecencyWindowDays int
}

// Per-type confidence tiers. Structured page types carry stronger signal
// than marketing or third-party review copy.
const (
	confidenceStructured        = 0.85
	confidenceDefault           = 0.6
	confidenceChangelogUndated  = 0.5
	confidenceChangelogFiltered = confidenceStructured
)

func (c Config) textCap() int {
	if c.TextCharCap <= 0 {
		return 20000
	}
	return c.TextCharCap
}

func (c Config) recencyWindow() time.Duration {
	days := c.RecencyWindowDays
	if days <= 0 {
		days = 270
	}
	return time.Duration(days) * 24 * time.Hour
}

// Classify converts a fetched page into an ExtractedSource. It returns nil
// when the page carries a fetch error; otherwise the result is always a
// complete, valid shape. The asOf time anchors the changelog recency window
// so identical inputs produce identical outputs.
func Classify(page evidence.FetchedPage, cfg Config, asOf time.Time) *evidence.ExtractedSource {
	if page.Failed() {
		return nil
	}

	sourceType := page.ExpectedType
	detected := DetectSourceType(page.URL, page.Title, page.Text)
	// The expected type from the target catalog is only a hint; the detected
	// type wins whenever any rule fired.
	if detected != evidence.SourceMarketing || sourceType == "" {
		sourceType = detected
	}

	out := &evidence.ExtractedSource{
		URL:         page.URL,
		Title:       page.Title,
		Type:        sourceType,
		RetrievedAt: page.RetrievedAt,
	}

	if sourceType == evidence.SourceChangelog {
		applyChangelogRecency(out, page.Text, cfg, asOf)
		return out
	}

	out.Text, out.Truncated = Truncate(page.Text, cfg.textCap())
	out.Truncated = out.Truncated || page.Truncated
	out.Confidence = defaultConfidence(sourceType)
	return out
}

func defaultConfidence(t evidence.SourceType) float64 {
	switch t {
	case evidence.SourcePricing, evidence.SourceJobs, evidence.SourceDocs, evidence.SourceStatus:
		return confidenceStructured
	default:
		return confidenceDefault
	}
}

// applyChangelogRecency scans for date-stamped sections and retains only
// those inside the rolling window. When no dated section is found, the full
// truncated text is kept at a lower confidence tier.
func applyChangelogRecency(out *evidence.ExtractedSource, text string, cfg Config, asOf time.Time) {
	cutoff := asOf.Add(-cfg.recencyWindow())

	lines := strings.Split(text, "\n")
	var (
		kept      []string
		keeping   bool
		sawDate   bool
		dateRange *evidence.DateRange
	)
	for _, line := range lines {
		if ts, ok := parseSectionDate(line); ok {
			sawDate = true
			keeping = !ts.Before(cutoff)
			if keeping {
				if dateRange == nil {
					dateRange = &evidence.DateRange{Oldest: ts, Newest: ts}
				} else {
					if ts.Before(dateRange.Oldest) {
						dateRange.Oldest = ts
					}
					if ts.After(dateRange.Newest) {
						dateRange.Newest = ts
					}
				}
			}
		}
		if keeping {
			kept = append(kept, line)
		}
	}

	if !sawDate || len(kept) == 0 {
		out.Text, out.Truncated = Truncate(text, cfg.textCap())
		out.Confidence = confidenceChangelogUndated
		return
	}

	out.Text, out.Truncated = Truncate(strings.Join(kept, "\n"), cfg.textCap())
	out.Confidence = confidenceChangelogFiltered
	out.DateRange = dateRange
}
