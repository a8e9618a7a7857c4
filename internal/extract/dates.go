package extract

import (
	"regexp"
	"time"

	"github.com/araddon/dateparse"
)

// Explicit layouts are tried before the fuzzy parser because they are cheap
// and cover the bulk of changelog headings in the wild.
var sectionDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	"January 2006",
	"Jan 2006",
}

// dateTokenRe pulls date-looking fragments out of a heading line so the
// layouts above can be applied to just the fragment.
var dateTokenRe = regexp.MustCompile(
	`(\d{4}[-/]\d{1,2}[-/]\d{1,2})|` +
		`((January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+\d{4})|` +
		`(\d{1,2}\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{4})|` +
		`((January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})`,
)

// parseSectionDate recognizes a date stamp inside a changelog heading line.
// It returns false when the line carries no parseable date.
func parseSectionDate(line string) (time.Time, bool) {
	token := dateTokenRe.FindString(line)
	if token == "" {
		return time.Time{}, false
	}
	for _, layout := range sectionDateLayouts {
		if ts, err := time.Parse(layout, token); err == nil {
			return ts.UTC(), true
		}
	}
	// Fuzzy fallback for formats the fixed layouts miss (ordinals, extra
	// punctuation, locale variants).
	if ts, err := dateparse.ParseAny(token); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}
