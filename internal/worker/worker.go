// Package worker implements the scan pipeline execution loop.
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evidentlabs/rivalscan/internal/evidence"
	"github.com/evidentlabs/rivalscan/internal/extract"
	"github.com/evidentlabs/rivalscan/internal/fetch"
	"github.com/evidentlabs/rivalscan/internal/progress"
	"github.com/evidentlabs/rivalscan/internal/scoring"
	"github.com/evidentlabs/rivalscan/internal/shortlist"
	"github.com/evidentlabs/rivalscan/internal/targets"
)

// Config controls Worker behavior.
type Config struct {
	// SnapshotPrefix prefixes every snapshot object path.
	SnapshotPrefix string
	// ContentType is stored with each snapshot object.
	ContentType string
	// Topic receives scan completion events; empty disables publishing.
	Topic string
	// SearchResults caps search augmentation hits per domain.
	SearchResults int
	// DenyDomains is the operator-level blocklist merged with each scan's
	// own deny list.
	DenyDomains []string
	// Fetch supplies pool defaults for parameters the scan leaves unset.
	Fetch fetch.Config
	// Extract controls text capping and changelog recency filtering.
	Extract extract.Config
	// Scoring carries threshold/weight/bucket overrides for run scoring.
	Scoring scoring.Options
	// ShortlistQuota is the default shortlist size. Zero falls back to 5.
	ShortlistQuota int
}

// ScanReleaser is implemented by policies that keep per-scan state, so the
// worker can release it once a scan finishes.
type ScanReleaser interface {
	ReleaseScan(scanID string)
}

// Worker consumes queue items and executes the collection pipeline.
type Worker struct {
	queue           evidence.Queue
	scanStore       evidence.ScanStore
	snapshotStore   evidence.SnapshotStore
	publisher       evidence.Publisher
	searcher        evidence.Searcher
	hasher          evidence.Hasher
	clock           evidence.Clock
	probeFetcher    evidence.Fetcher
	headlessFetcher evidence.Fetcher
	detector        evidence.RenderDetector
	policy          evidence.Policy
	hub             *progress.Hub
	cfg             Config
	logger          *zap.Logger
}

// New constructs a Worker. Searcher, headless fetcher, detector, policy,
// publisher, and hub may all be nil; the corresponding pipeline stage is
// skipped.
func New(
	queue evidence.Queue,
	scanStore evidence.ScanStore,
	snapshotStore evidence.SnapshotStore,
	publisher evidence.Publisher,
	searcher evidence.Searcher,
	hasher evidence.Hasher,
	clock evidence.Clock,
	probe evidence.Fetcher,
	headless evidence.Fetcher,
	detector evidence.RenderDetector,
	policy evidence.Policy,
	hub *progress.Hub,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 5
	}
	if cfg.ShortlistQuota <= 0 {
		cfg.ShortlistQuota = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:           queue,
		scanStore:       scanStore,
		snapshotStore:   snapshotStore,
		publisher:       publisher,
		searcher:        searcher,
		hasher:          hasher,
		clock:           clock,
		probeFetcher:    probe,
		headlessFetcher: headless,
		detector:        detector,
		policy:          policy,
		hub:             hub,
		cfg:             cfg,
		logger:          logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued scan", zap.String("scan_id", item.ScanID))
		w.processScan(ctx, item)
	}
}

// domainRun aggregates one domain's pipeline outcome for merging back into
// the scan record.
type domainRun struct {
	counters     evidence.ScanCounters
	snapshotURIs []string
	errText      string
}

func (w *Worker) processScan(ctx context.Context, item evidence.QueueItem) {
	scanUUID := scanIdentity(item.ScanID)
	started := w.clock.Now().UTC()

	if w.probeFetcher == nil {
		w.failScan(ctx, item.ScanID, "no probe fetcher configured")
		return
	}
	if err := w.scanStore.UpdateScanStatus(
		ctx, item.ScanID, evidence.ScanStatusRunning, "", evidence.ScanCounters{},
	); err != nil {
		w.logger.Error("mark scan running failed", zap.String("scan_id", item.ScanID), zap.Error(err))
		return
	}
	w.emit(progress.Event{
		ScanID: progress.UUIDToBytes(scanUUID),
		TS:     started,
		Stage:  progress.StageScanStart,
	})

	pool, err := w.newPool(item.Params)
	if err != nil {
		w.failScan(ctx, item.ScanID, fmt.Sprintf("build fetch pool: %v", err))
		w.emitScanEnd(scanUUID, progress.StageScanError, started, err.Error())
		return
	}
	blocklist := evidence.NewBlocklist(append(
		append([]string(nil), w.cfg.DenyDomains...), item.Params.DenyDomains...))

	var (
		mu       sync.Mutex
		counters evidence.ScanCounters
		errText  string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, domain := range item.Params.Domains {
		g.Go(func() error {
			run := w.runDomain(gctx, item, pool, blocklist, scanUUID, domain)
			mu.Lock()
			defer mu.Unlock()
			counters.PagesFetched += run.counters.PagesFetched
			counters.PagesFailed += run.counters.PagesFailed
			counters.SourcesClassified += run.counters.SourcesClassified
			counters.Shortlisted += run.counters.Shortlisted
			if run.errText != "" {
				errText = run.errText
			}
			return nil
		})
	}
	// Domain failures travel inside domainRun, so Wait never reports one.
	_ = g.Wait()

	status, errText := w.deriveFinalStatus(ctx, counters, errText)
	if err := w.scanStore.UpdateScanStatus(ctx, item.ScanID, status, errText, counters); err != nil {
		w.logger.Error("final scan status update failed", zap.String("scan_id", item.ScanID), zap.Error(err))
	}

	endStage := progress.StageScanDone
	if status != evidence.ScanStatusSucceeded {
		endStage = progress.StageScanError
	}
	w.emitScanEnd(scanUUID, endStage, started, errText)

	if releaser, ok := w.policy.(ScanReleaser); ok {
		releaser.ReleaseScan(item.ScanID)
	}
	w.logger.Info("scan finished",
		zap.String("scan_id", item.ScanID),
		zap.String("status", string(status)),
		zap.Int("pages_fetched", counters.PagesFetched),
		zap.Int("sources_classified", counters.SourcesClassified),
		zap.Int("shortlisted", counters.Shortlisted),
	)
}

// runDomain executes the full pipeline for one competitor domain: targets,
// optional search augmentation, parallel fetch, classification, shortlist,
// snapshots, source records, run score, completion event.
func (w *Worker) runDomain(
	ctx context.Context,
	item evidence.QueueItem,
	pool *fetch.Pool,
	blocklist *evidence.Blocklist,
	scanUUID uuid.UUID,
	domain string,
) domainRun {
	run := domainRun{}
	host := evidence.Domain(domain)
	if host == "" {
		run.errText = fmt.Sprintf("unusable domain %q", domain)
		return run
	}
	if blocklist.IsBlocked(host) {
		w.logger.Warn("domain blocked by deny list",
			zap.String("scan_id", item.ScanID), zap.String("domain", host))
		run.errText = fmt.Sprintf("domain %q is deny-listed", host)
		return run
	}

	builder := targets.New(targets.Config{MaxPages: item.Params.MaxTargetPages}, w.logger)
	targetList := builder.Build(domain)
	if item.Params.UseSearch && w.searcher != nil {
		targetList = builder.AugmentWithSearch(
			ctx, targetList, w.searcher, domain, item.Params.ProductHint, w.cfg.SearchResults)
	}
	targetList = filterBlocked(targetList, blocklist)
	if len(targetList) == 0 {
		run.errText = fmt.Sprintf("no targets for domain %q", host)
		return run
	}

	pages := pool.Collect(ctx, item.ScanID, targetList)
	asOf := w.clock.Now().UTC()

	var sources []evidence.ExtractedSource
	pageByURL := make(map[string]evidence.FetchedPage, len(pages))
	for _, page := range pages {
		w.emitFetch(scanUUID, host, page)
		if page.Failed() {
			run.counters.PagesFailed++
			continue
		}
		run.counters.PagesFetched++
		source := extract.Classify(page, w.cfg.Extract, asOf)
		if source == nil {
			continue
		}
		run.counters.SourcesClassified++
		sources = append(sources, *source)
		pageByURL[source.URL] = page
		w.emit(progress.Event{
			ScanID:     progress.UUIDToBytes(scanUUID),
			TS:         asOf,
			Stage:      progress.StageSourceClassified,
			Domain:     host,
			URL:        source.URL,
			SourceType: string(source.Type),
		})
	}

	quota := item.Params.ShortlistQuota
	if quota <= 0 {
		quota = w.cfg.ShortlistQuota
	}
	picked := shortlist.Select(sources, quota)
	shortlisted := make(map[string]struct{}, len(picked))
	for _, s := range picked {
		shortlisted[s.URL] = struct{}{}
	}
	run.counters.Shortlisted = len(picked)

	for _, source := range sources {
		page := pageByURL[source.URL]
		record := w.buildRecord(item.ScanID, host, source, page)
		_, record.Shortlisted = shortlisted[source.URL]
		if uri, hash, err := w.snapshot(ctx, item.ScanID, page); err != nil {
			w.logger.Warn("snapshot failed",
				zap.String("scan_id", item.ScanID), zap.String("url", source.URL), zap.Error(err))
		} else if uri != "" {
			record.SnapshotURI = uri
			record.ContentHash = hash
			run.snapshotURIs = append(run.snapshotURIs, uri)
		}
		if err := w.scanStore.RecordSource(ctx, record); err != nil {
			w.logger.Error("record source failed",
				zap.String("scan_id", item.ScanID), zap.String("url", source.URL), zap.Error(err))
			run.errText = fmt.Sprintf("record source: %v", err)
		}
	}

	score := w.scoreRun(item.ScanID, host, sources, asOf)
	if err := w.scanStore.AppendRunScore(ctx, item.ScanID, score); err != nil {
		w.logger.Error("append run score failed",
			zap.String("scan_id", item.ScanID), zap.String("domain", host), zap.Error(err))
	}

	if err := w.publishCompletion(ctx, item.ScanID, host, run, score); err != nil {
		w.logger.Error("publish completion failed",
			zap.String("scan_id", item.ScanID), zap.String("domain", host), zap.Error(err))
		run.errText = fmt.Sprintf("publish completion: %v", err)
	}
	return run
}

// newPool builds a fetch pool with scan parameters overriding the defaults.
func (w *Worker) newPool(params evidence.ScanParameters) (*fetch.Pool, error) {
	cfg := w.cfg.Fetch
	if params.FetchBudgetMs > 0 {
		cfg.Budget = time.Duration(params.FetchBudgetMs) * time.Millisecond
	}
	if params.RequestTimeoutMs > 0 {
		cfg.RequestTimeout = time.Duration(params.RequestTimeoutMs) * time.Millisecond
	}
	if params.FetchConcurrency > 0 {
		cfg.Concurrency = params.FetchConcurrency
	}
	headless := w.headlessFetcher
	if !params.HeadlessAllowed {
		headless = nil
	}
	return fetch.NewPool(cfg, w.probeFetcher, headless, w.detector, w.policy, w.clock, w.logger)
}

// snapshot stores the raw HTML under a content-addressed path and returns
// the object URI plus the content hash. Both come back empty when there is
// no store or no body.
func (w *Worker) snapshot(ctx context.Context, scanID string, page evidence.FetchedPage) (string, string, error) {
	if w.snapshotStore == nil || len(page.HTML) == 0 {
		return "", "", nil
	}
	hash, err := w.hasher.Hash(page.HTML)
	if err != nil {
		return "", "", fmt.Errorf("hash body: %w", err)
	}
	uri, err := w.snapshotStore.PutObject(ctx, w.buildSnapshotPath(scanID, hash), w.cfg.ContentType, page.HTML)
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	return uri, hash, nil
}

func (w *Worker) buildSnapshotPath(scanID, hash string) string {
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", scanID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, scanID, hash)
}

func (w *Worker) buildRecord(
	scanID, host string,
	source evidence.ExtractedSource,
	page evidence.FetchedPage,
) evidence.SourceRecord {
	return evidence.SourceRecord{
		ScanID:       scanID,
		Domain:       host,
		URL:          source.URL,
		Type:         source.Type,
		Title:        source.Title,
		Confidence:   source.Confidence,
		Truncated:    source.Truncated,
		TextChars:    len(source.Text),
		StatusCode:   page.StatusCode,
		UsedHeadless: page.UsedHeadless,
		RetrievedAt:  source.RetrievedAt,
		DurationMs:   page.Duration.Milliseconds(),
	}
}

// scoreRun converts the domain's classified sources into a bundle and runs
// the coverage scorer against it.
func (w *Worker) scoreRun(
	scanID, host string,
	sources []evidence.ExtractedSource,
	asOf time.Time,
) evidence.RunScore {
	items := make([]evidence.EvidenceItem, 0, len(sources))
	for i, source := range sources {
		item := evidence.EvidenceItem{
			ID:          fmt.Sprintf("%s/%s/%d", scanID, host, i),
			Type:        source.Type,
			URL:         source.URL,
			Domain:      evidence.Domain(source.URL),
			RetrievedAt: &source.RetrievedAt,
		}
		if source.DateRange != nil {
			published := source.DateRange.Newest
			item.PublishedAt = &published
		}
		items = append(items, item)
	}
	bundle := evidence.Bundle{
		ID:         fmt.Sprintf("%s/%s", scanID, host),
		CreatedAt:  asOf,
		PrimaryURL: "https://" + host,
		Items:      items,
	}
	opts := w.cfg.Scoring
	opts.AsOf = asOf
	opts.FirstPartyDomains = append(append([]string(nil), opts.FirstPartyDomains...), host)
	result := scoring.Score(bundle, opts)

	return evidence.RunScore{
		Domain:       host,
		Sufficient:   result.IsSufficient,
		Score10:      result.Score10,
		Label:        result.ScoreLabel,
		FailedChecks: result.FailedChecks,
	}
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	scanID, host string,
	run domainRun,
	score evidence.RunScore,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"scan_id":       scanID,
		"domain":        host,
		"sources":       run.counters.SourcesClassified,
		"shortlisted":   run.counters.Shortlisted,
		"sufficient":    score.Sufficient,
		"score_label":   score.Label,
		"snapshot_uris": run.snapshotURIs,
		"timestamp":     w.clock.Now().UTC().Format(time.RFC3339),
	}
	if score.Score10 != nil {
		payload["score10"] = *score.Score10
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("scan completion published",
		zap.String("scan_id", scanID),
		zap.String("domain", host),
		zap.Int("sources", run.counters.SourcesClassified),
		zap.Int("shortlisted", run.counters.Shortlisted),
	)
	return nil
}

func (w *Worker) failScan(ctx context.Context, scanID, reason string) {
	w.logger.Error("scan failed before pipeline start",
		zap.String("scan_id", scanID), zap.String("reason", reason))
	if err := w.scanStore.UpdateScanStatus(
		ctx, scanID, evidence.ScanStatusFailed, reason, evidence.ScanCounters{},
	); err != nil {
		w.logger.Error("fail scan status update", zap.String("scan_id", scanID), zap.Error(err))
	}
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	counters evidence.ScanCounters,
	errText string,
) (evidence.ScanStatus, string) {
	if counters.SourcesClassified == 0 && errText == "" {
		errText = "no sources were collected"
	}

	switch {
	case ctx.Err() != nil:
		return evidence.ScanStatusCanceled, errText
	case counters.SourcesClassified == 0:
		return evidence.ScanStatusFailed, errText
	default:
		return evidence.ScanStatusSucceeded, errText
	}
}

func (w *Worker) emit(evt progress.Event) {
	if w.hub == nil {
		return
	}
	w.hub.Emit(evt)
}

func (w *Worker) emitFetch(scanUUID uuid.UUID, host string, page evidence.FetchedPage) {
	domain := evidence.Domain(page.URL)
	if domain == "" {
		domain = host
	}
	visits := int64(1)
	if page.Failed() {
		visits = 0
	}
	w.emit(progress.Event{
		ScanID:      progress.UUIDToBytes(scanUUID),
		TS:          page.RetrievedAt,
		Stage:       progress.StageFetchDone,
		Domain:      domain,
		URL:         page.URL,
		Bytes:       int64(page.Bytes),
		Visits:      visits,
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Dur:         page.Duration,
		Note:        page.Err,
	})
}

func (w *Worker) emitScanEnd(scanUUID uuid.UUID, stage progress.Stage, started time.Time, note string) {
	now := w.clock.Now().UTC()
	w.emit(progress.Event{
		ScanID: progress.UUIDToBytes(scanUUID),
		TS:     now,
		Stage:  stage,
		Dur:    now.Sub(started),
		Note:   note,
	})
}

// scanIdentity maps the scan ID onto a UUID for progress events. Non-UUID
// IDs hash deterministically so every event for a scan shares one identity.
func scanIdentity(scanID string) uuid.UUID {
	if parsed, err := uuid.Parse(scanID); err == nil {
		return parsed
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(scanID))
}

func filterBlocked(list []evidence.Target, blocklist *evidence.Blocklist) []evidence.Target {
	if blocklist == nil {
		return list
	}
	out := list[:0]
	for _, t := range list {
		if blocklist.IsBlocked(evidence.Domain(t.URL)) {
			continue
		}
		out = append(out, t)
	}
	return out
}
