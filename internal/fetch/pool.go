// Package fetch runs budget-bounded parallel page collection.
package fetch

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/evidence"
	"github.com/evidentlabs/rivalscan/internal/extract"
)

const (
	defaultBudget         = 20 * time.Second
	defaultRequestTimeout = 8 * time.Second
	defaultConcurrency    = 5
	defaultTextCharCap    = 20000
)

// Config bounds one collection pass.
type Config struct {
	// Budget caps the whole pass. When it expires, in-flight fetches are
	// abandoned and whatever settled so far is returned.
	Budget time.Duration
	// RequestTimeout bounds one page fetch, headless re-fetch included.
	RequestTimeout time.Duration
	// Concurrency is the number of fetches in flight at once.
	Concurrency int
	// TextCharCap truncates normalized page text.
	TextCharCap int
}

// Pool fans a target list out over a probe fetcher, with optional headless
// promotion for pages that come back as unrendered JavaScript shells.
type Pool struct {
	cfg      Config
	probe    evidence.Fetcher
	headless evidence.Fetcher
	detector evidence.RenderDetector
	policy   evidence.Policy
	clock    evidence.Clock
	logger   *zap.Logger
}

// NewPool builds a Pool. The probe fetcher and clock are required; headless
// fetcher, detector, and policy may be nil, which disables promotion and
// admission control respectively.
func NewPool(
	cfg Config,
	probe evidence.Fetcher,
	headless evidence.Fetcher,
	detector evidence.RenderDetector,
	policy evidence.Policy,
	clock evidence.Clock,
	logger *zap.Logger,
) (*Pool, error) {
	if probe == nil {
		return nil, fmt.Errorf("probe fetcher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.TextCharCap <= 0 {
		cfg.TextCharCap = defaultTextCharCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		probe:    probe,
		headless: headless,
		detector: detector,
		policy:   policy,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Collect fetches every distinct target and returns one FetchedPage per
// dispatched target that settled within the budget. Individual failures
// travel inside the page as Err; Collect itself never fails. Targets still
// in flight when the budget expires are abandoned.
func (p *Pool) Collect(ctx context.Context, scanID string, targets []evidence.Target) []evidence.FetchedPage {
	deduped := dedupeTargets(targets)
	if len(deduped) == 0 {
		return nil
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	results := make(chan evidence.FetchedPage, len(deduped))
	slots := make(chan struct{}, p.cfg.Concurrency)

	for _, target := range deduped {
		target := target
		go func() {
			select {
			case slots <- struct{}{}:
			case <-budgetCtx.Done():
				return
			}
			defer func() { <-slots }()
			results <- p.fetchOne(budgetCtx, scanID, target)
		}()
	}

	pages := make([]evidence.FetchedPage, 0, len(deduped))
	for range deduped {
		select {
		case page := <-results:
			pages = append(pages, page)
		case <-budgetCtx.Done():
			p.logger.Warn("fetch budget expired",
				zap.String("scan_id", scanID),
				zap.Int("settled", len(pages)),
				zap.Int("abandoned", len(deduped)-len(pages)),
			)
			return pages
		}
	}
	return pages
}

func (p *Pool) fetchOne(ctx context.Context, scanID string, target evidence.Target) evidence.FetchedPage {
	page := evidence.FetchedPage{
		URL:          target.URL,
		Label:        target.Label,
		ExpectedType: target.ExpectedType,
		RetrievedAt:  p.clock.Now().UTC(),
	}

	if p.policy != nil {
		if err := p.policy.Wait(ctx, target.URL); err != nil {
			page.Err = fmt.Sprintf("rate limit wait: %v", err)
			return page
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	resp, err := p.probe.Fetch(reqCtx, evidence.FetchRequest{ScanID: scanID, URL: target.URL})
	if err != nil {
		page.Err = err.Error()
		return page
	}

	if p.shouldPromote(scanID, target.URL, resp) {
		rendered, renderErr := p.headless.Fetch(reqCtx, evidence.FetchRequest{
			ScanID:      scanID,
			URL:         target.URL,
			UseHeadless: true,
		})
		if renderErr != nil {
			p.logger.Debug("headless promotion failed, keeping probe response",
				zap.String("url", target.URL),
				zap.Error(renderErr),
			)
		} else {
			resp = rendered
		}
	}

	return p.finishPage(page, resp)
}

func (p *Pool) shouldPromote(scanID, url string, resp evidence.FetchResponse) bool {
	if p.headless == nil || p.detector == nil {
		return false
	}
	if !p.detector.ShouldPromote(resp) {
		return false
	}
	if p.policy != nil && !p.policy.AllowHeadless(scanID, url) {
		return false
	}
	return true
}

func (p *Pool) finishPage(page evidence.FetchedPage, resp evidence.FetchResponse) evidence.FetchedPage {
	page.FinalURL = resp.URL
	page.StatusCode = resp.StatusCode
	page.Bytes = len(resp.Body)
	page.UsedHeadless = resp.UsedHeadless
	page.Duration = resp.Duration

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		page.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return page
	}
	contentType := ""
	if resp.Headers != nil {
		contentType = resp.Headers.Get("Content-Type")
	}
	if !htmlContentType(contentType) {
		page.Err = fmt.Sprintf("unsupported content type %q", contentType)
		return page
	}

	page.HTML = resp.Body
	page.Title = extract.Title(resp.Body)
	page.Text, page.Truncated = extract.Truncate(extract.Text(resp.Body), p.cfg.TextCharCap)
	return page
}

// htmlContentType treats a missing header as HTML; plenty of small sites
// omit it and the extractor degrades safely on non-HTML bytes anyway.
func htmlContentType(value string) bool {
	if value == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(value, ";", 2)[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

func dedupeTargets(targets []evidence.Target) []evidence.Target {
	seen := make(map[string]struct{}, len(targets))
	out := make([]evidence.Target, 0, len(targets))
	for _, target := range targets {
		key := evidence.CanonicalKey(target.URL)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, target)
	}
	return out
}
