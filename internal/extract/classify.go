package extract

import (
	"strings"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// The rule table maps predicates onto taxonomy members and is evaluated in
// declaration order; the first match wins. URL path keywords are checked
// before title keywords before content keywords, so a "/pricing" URL beats a
// title that merely mentions reviews. Adding an evidence type is an addition
// to this table, not a rewrite.
var classifyRules = []struct {
	name  string
	match func(urlPath, title, text string) bool
	typ   evidence.SourceType
}{
	{"url-pricing", urlContains("pricing", "plans", "tarif"), evidence.SourcePricing},
	{"url-changelog", urlContains("changelog", "releases", "release-notes", "updates", "whats-new"), evidence.SourceChangelog},
	{"url-status", urlContains("status"), evidence.SourceStatus},
	{"url-jobs", urlContains("careers", "jobs", "join-us", "hiring"), evidence.SourceJobs},
	{"url-docs", urlContains("docs", "documentation", "developer", "api-reference", "help-center"), evidence.SourceDocs},
	{"url-reviews", urlContains("reviews", "g2.com", "capterra", "trustpilot", "trustradius", "producthunt"), evidence.SourceReviews},
	{"title-pricing", titleContains("pricing", "plans & pricing"), evidence.SourcePricing},
	{"title-changelog", titleContains("changelog", "release notes", "what's new"), evidence.SourceChangelog},
	{"title-status", titleContains("status", "uptime"), evidence.SourceStatus},
	{"title-jobs", titleContains("careers", "jobs", "we're hiring"), evidence.SourceJobs},
	{"title-docs", titleContains("documentation", "docs", "api reference"), evidence.SourceDocs},
	{"title-reviews", titleContains("reviews", "ratings"), evidence.SourceReviews},
	{"content-pricing", contentContains("per month", "per seat", "/mo", "free trial", "billed annually"), evidence.SourcePricing},
	{"content-jobs", contentContains("open positions", "job openings", "apply now"), evidence.SourceJobs},
	{"content-status", contentContains("all systems operational", "service status", "incident history"), evidence.SourceStatus},
}

// DetectSourceType maps (url, title, text) to exactly one taxonomy member.
// Classification never fails: when no rule matches it defaults to
// marketing_site. Identical input always yields the same type.
func DetectSourceType(url, title, text string) evidence.SourceType {
	urlLower := strings.ToLower(url)
	titleLower := strings.ToLower(title)
	textLower := strings.ToLower(headOf(text, 4000))

	for _, rule := range classifyRules {
		if rule.match(urlLower, titleLower, textLower) {
			return rule.typ
		}
	}
	return evidence.SourceMarketing
}

func urlContains(keywords ...string) func(urlPath, title, text string) bool {
	return func(urlPath, _, _ string) bool {
		return containsAny(urlPath, keywords)
	}
}

func titleContains(keywords ...string) func(urlPath, title, text string) bool {
	return func(_, title, _ string) bool {
		return containsAny(title, keywords)
	}
}

func contentContains(keywords ...string) func(urlPath, title, text string) bool {
	return func(_, _, text string) bool {
		return containsAny(text, keywords)
	}
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// headOf bounds the content scan so classification cost stays flat for very
// large pages.
func headOf(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
