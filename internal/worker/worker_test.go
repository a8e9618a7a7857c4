package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

func htmlBody(title, text string) []byte {
	return []byte(fmt.Sprintf("<html><head><title>%s</title></head><body><p>%s</p></body></html>", title, text))
}

func okResponse(url string, body []byte) evidence.FetchResponse {
	return evidence.FetchResponse{
		URL:        url,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       body,
		Duration:   10 * time.Millisecond,
	}
}

func TestWorker_ProcessScan_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-success",
			Params: evidence.ScanParameters{
				Domains:        []string{"acme.io"},
				MaxTargetPages: 2,
				ShortlistQuota: 1,
			},
		}},
	}
	scanStore := newFakeScanStore()
	snapshots := newFakeSnapshotStore()
	publisher := newFakePublisher()
	fetcher := &fakeFetcher{
		responses: map[string]evidence.FetchResponse{
			"https://acme.io":         okResponse("https://acme.io", htmlBody("Acme", "The Acme platform")),
			"https://acme.io/pricing": okResponse("https://acme.io/pricing", htmlBody("Acme Pricing", "Plans start at $49 per month")),
		},
	}

	w := New(
		queue,
		scanStore,
		snapshots,
		publisher,
		nil,
		&fakeHasher{hash: "abc123"},
		&fakeClock{now: time.Unix(1000, 0)},
		fetcher,
		nil,
		nil,
		nil,
		nil,
		Config{
			SnapshotPrefix: "snapshots",
			Topic:          "scan-events",
		},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return scanStore.lastStatus() == evidence.ScanStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	counters := scanStore.lastCounters()
	require.Equal(t, 2, counters.PagesFetched)
	require.Equal(t, 2, counters.SourcesClassified)
	require.Equal(t, 1, counters.Shortlisted)

	records := scanStore.allRecords()
	require.Len(t, records, 2)
	shortlistedCount := 0
	for _, rec := range records {
		require.Equal(t, "scan-success", rec.ScanID)
		require.Equal(t, "acme.io", rec.Domain)
		require.Equal(t, "snapshots/scan-success/abc123.html", snapshots.lastPath)
		require.Equal(t, "abc123", rec.ContentHash)
		if rec.Shortlisted {
			shortlistedCount++
		}
	}
	require.Equal(t, 1, shortlistedCount)

	scores := scanStore.allScores()
	require.Len(t, scores, 1)
	require.Equal(t, "acme.io", scores[0].Domain)

	msgs := publisher.all()
	require.Len(t, msgs, 1)
	require.Equal(t, "scan-events", msgs[0].topic)
	require.Equal(t, "scan-success", msgs[0].payload["scan_id"])
	require.Equal(t, "acme.io", msgs[0].payload["domain"])
	cancel()
}

func TestWorker_ProcessScan_AllPagesFailMarksScanFailed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-fail",
			Params: evidence.ScanParameters{
				Domains:        []string{"acme.io"},
				MaxTargetPages: 2,
			},
		}},
	}
	scanStore := newFakeScanStore()
	fetcher := &fakeFetcher{
		errs: map[string]error{
			"https://acme.io":         errors.New("connection refused"),
			"https://acme.io/pricing": errors.New("connection refused"),
		},
	}

	w := New(
		queue,
		scanStore,
		newFakeSnapshotStore(),
		nil,
		nil,
		&fakeHasher{hash: "x"},
		&fakeClock{now: time.Unix(2000, 0)},
		fetcher,
		nil,
		nil,
		nil,
		nil,
		Config{},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return scanStore.lastStatus() == evidence.ScanStatusFailed
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 2, scanStore.lastCounters().PagesFailed)
	require.Equal(t, "no sources were collected", scanStore.lastErrText())
	cancel()
}

func TestWorker_ProcessScan_NoPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-quiet",
			Params: evidence.ScanParameters{
				Domains:        []string{"acme.io"},
				MaxTargetPages: 1,
			},
		}},
	}
	scanStore := newFakeScanStore()
	publisher := newFakePublisher()
	fetcher := &fakeFetcher{
		responses: map[string]evidence.FetchResponse{
			"https://acme.io": okResponse("https://acme.io", htmlBody("Acme", "welcome")),
		},
	}

	w := New(
		queue,
		scanStore,
		newFakeSnapshotStore(),
		publisher,
		nil,
		&fakeHasher{hash: "h"},
		&fakeClock{now: time.Unix(3000, 0)},
		fetcher,
		nil,
		nil,
		nil,
		nil,
		Config{},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return scanStore.lastStatus() == evidence.ScanStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	require.Empty(t, publisher.all())
	cancel()
}

func TestWorker_ProcessScan_DenyListedDomain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-denied",
			Params: evidence.ScanParameters{
				Domains:     []string{"tracker.net"},
				DenyDomains: []string{"*.tracker.net", "tracker.net"},
			},
		}},
	}
	scanStore := newFakeScanStore()
	fetcher := &fakeFetcher{}

	w := New(
		queue,
		scanStore,
		newFakeSnapshotStore(),
		nil,
		nil,
		&fakeHasher{hash: "h"},
		&fakeClock{now: time.Unix(4000, 0)},
		fetcher,
		nil,
		nil,
		nil,
		nil,
		Config{},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return scanStore.lastStatus() == evidence.ScanStatusFailed
	}, time.Second, 10*time.Millisecond)

	require.Contains(t, scanStore.lastErrText(), "deny-listed")
	require.Zero(t, fetcher.calls())
	cancel()
}

func TestWorker_ProcessScan_SearchAugmentation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-search",
			Params: evidence.ScanParameters{
				Domains:        []string{"acme.io"},
				MaxTargetPages: 1,
				UseSearch:      true,
			},
		}},
	}
	scanStore := newFakeScanStore()
	searcher := &fakeSearcher{
		results: []evidence.SearchResult{
			{URL: "https://g2.example/reviews/acme", Title: "Acme Reviews"},
		},
	}
	fetcher := &fakeFetcher{
		responses: map[string]evidence.FetchResponse{
			"https://acme.io": okResponse("https://acme.io", htmlBody("Acme", "welcome")),
			"https://g2.example/reviews/acme": okResponse(
				"https://g2.example/reviews/acme",
				htmlBody("Acme Reviews", "4.5 stars from verified users"),
			),
		},
	}

	w := New(
		queue,
		scanStore,
		newFakeSnapshotStore(),
		nil,
		searcher,
		&fakeHasher{hash: "h"},
		&fakeClock{now: time.Unix(5000, 0)},
		fetcher,
		nil,
		nil,
		nil,
		nil,
		Config{SearchResults: 3},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return scanStore.lastStatus() == evidence.ScanStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	records := scanStore.allRecords()
	require.Len(t, records, 2)
	var reviewFound bool
	for _, rec := range records {
		if rec.URL == "https://g2.example/reviews/acme" {
			reviewFound = true
			require.Equal(t, evidence.SourceReviews, rec.Type)
		}
	}
	require.True(t, reviewFound)
	cancel()
}

func TestWorkerBuildSnapshotPath(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
		Config{SnapshotPrefix: "/snapshots/"}, zap.NewNop())
	if got := w.buildSnapshotPath("scan", "hash"); got != "snapshots/scan/hash.html" {
		t.Fatalf("unexpected snapshot path: %s", got)
	}
	w.cfg.SnapshotPrefix = ""
	if got := w.buildSnapshotPath("scan", "hash"); got != "scan/hash.html" {
		t.Fatalf("unexpected fallback snapshot path: %s", got)
	}
}

func TestWorkerReleasesScanPolicy(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := &fakeQueue{
		items: []evidence.QueueItem{{
			ScanID: "scan-release",
			Params: evidence.ScanParameters{
				Domains:        []string{"acme.io"},
				MaxTargetPages: 1,
			},
		}},
	}
	scanStore := newFakeScanStore()
	policy := &releasingPolicy{}
	fetcher := &fakeFetcher{
		responses: map[string]evidence.FetchResponse{
			"https://acme.io": okResponse("https://acme.io", htmlBody("Acme", "welcome")),
		},
	}

	w := New(
		queue,
		scanStore,
		newFakeSnapshotStore(),
		nil,
		nil,
		&fakeHasher{hash: "h"},
		&fakeClock{now: time.Unix(6000, 0)},
		fetcher,
		nil,
		nil,
		policy,
		nil,
		Config{},
		zap.NewNop(),
	)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		return policy.released() == "scan-release"
	}, time.Second, 10*time.Millisecond)
	cancel()
}

// --- fakes ---

type fakeQueue struct {
	mu    sync.Mutex
	items []evidence.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item evidence.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (evidence.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return evidence.QueueItem{}, fmt.Errorf("queue dequeue context done: %w", ctx.Err())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type statusUpdate struct {
	status   evidence.ScanStatus
	errText  string
	counters evidence.ScanCounters
}

type fakeScanStore struct {
	mu       sync.Mutex
	statuses []statusUpdate
	records  []evidence.SourceRecord
	scores   []evidence.RunScore
}

func newFakeScanStore() *fakeScanStore {
	return &fakeScanStore{}
}

func (f *fakeScanStore) CreateScan(context.Context, evidence.Scan) error {
	return nil
}

func (f *fakeScanStore) UpdateScanStatus(
	_ context.Context,
	_ string,
	status evidence.ScanStatus,
	errText string,
	counters evidence.ScanCounters,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{status: status, errText: errText, counters: counters})
	return nil
}

func (f *fakeScanStore) AppendRunScore(_ context.Context, _ string, score evidence.RunScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeScanStore) RecordSource(_ context.Context, record evidence.SourceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeScanStore) GetScan(context.Context, string) (evidence.Scan, error) {
	return evidence.Scan{}, nil
}

func (f *fakeScanStore) ListSources(context.Context, string) ([]evidence.SourceRecord, error) {
	return nil, nil
}

func (f *fakeScanStore) lastStatus() evidence.ScanStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1].status
}

func (f *fakeScanStore) lastCounters() evidence.ScanCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return evidence.ScanCounters{}
	}
	return f.statuses[len(f.statuses)-1].counters
}

func (f *fakeScanStore) lastErrText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1].errText
}

func (f *fakeScanStore) allRecords() []evidence.SourceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]evidence.SourceRecord, len(f.records))
	copy(out, f.records)
	return out
}

func (f *fakeScanStore) allScores() []evidence.RunScore {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]evidence.RunScore, len(f.scores))
	copy(out, f.scores)
	return out
}

type fakeSnapshotStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	lastPath string
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{objects: make(map[string][]byte)}
}

func (s *fakeSnapshotStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	s.lastPath = path
	return "memory://" + path, nil
}

type publishedMessage struct {
	topic   string
	payload map[string]any
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{}
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := payload.(map[string]any); ok {
		p.messages = append(p.messages, publishedMessage{topic: topic, payload: m})
	}
	return "msgid", nil
}

func (p *fakePublisher) all() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

type fakeFetcher struct {
	mu        sync.Mutex
	count     int
	responses map[string]evidence.FetchResponse
	errs      map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, req evidence.FetchRequest) (evidence.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if err, ok := f.errs[req.URL]; ok {
		return evidence.FetchResponse{}, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return evidence.FetchResponse{}, errors.New("not found")
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeSearcher struct {
	results []evidence.SearchResult
	err     error
}

func (s *fakeSearcher) Search(context.Context, string, int) ([]evidence.SearchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type fakeHasher struct {
	hash string
	err  error
}

func (h *fakeHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	if h.hash != "" {
		return h.hash, nil
	}
	return string(data), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type releasingPolicy struct {
	mu     sync.Mutex
	scanID string
}

func (p *releasingPolicy) Wait(context.Context, string) error {
	return nil
}

func (p *releasingPolicy) AllowHeadless(string, string) bool {
	return true
}

func (p *releasingPolicy) ReleaseScan(scanID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanID = scanID
}

func (p *releasingPolicy) released() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scanID
}
