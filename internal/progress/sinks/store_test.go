package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evidentlabs/rivalscan/internal/progress"
	"github.com/evidentlabs/rivalscan/internal/store"
)

// TestStoreSinkPersistsEvents ensures visits/bytes are collapsed per domain before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	scanUUID := uuid.New()
	scanID := progress.UUIDToBytes(scanUUID)
	now := time.Now()

	batch := []progress.Event{
		{ScanID: scanID, Stage: progress.StageScanStart, TS: now},
		{
			ScanID:      scanID,
			Stage:       progress.StageFetchDone,
			Domain:      "example.com",
			Bytes:       100,
			Visits:      1,
			StatusClass: progress.Status2xx,
			TS:          now.Add(1 * time.Second),
		},
		{
			ScanID:      scanID,
			Stage:       progress.StageFetchDone,
			Domain:      "example.com",
			Bytes:       50,
			Visits:      2,
			StatusClass: progress.Status2xx,
			TS:          now.Add(2 * time.Second),
		},
		{ScanID: scanID, Stage: progress.StageScanDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Len(t, repo.completes, 1)
	require.Len(t, repo.domainStats, 1)
	stats := repo.domainStats[0]
	require.Equal(t, int64(3), stats.deltaVisits)
	require.Equal(t, int64(150), stats.deltaBytes)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	scanID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{ScanID: scanID, Stage: progress.StageScanStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeRunRepo struct {
	fail        bool
	starts      []uuid.UUID
	completes   []uuid.UUID
	domainStats []domainCall
}

type domainCall struct {
	scanID      uuid.UUID
	domain      string
	deltaVisits int64
	deltaBytes  int64
	statusClass string
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, scanID uuid.UUID, startedAt time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	_ = startedAt
	f.starts = append(f.starts, scanID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	scanID uuid.UUID,
	finishedAt time.Time,
	status store.ScanRunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	_ = finishedAt
	_ = status
	_ = errMsg
	f.completes = append(f.completes, scanID)
	return nil
}

func (f *fakeRunRepo) UpsertDomainStats(
	_ context.Context,
	scanID uuid.UUID,
	domain string,
	deltaVisits int64,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	if f.fail {
		return assertErr("domain")
	}
	_ = at
	f.domainStats = append(f.domainStats, domainCall{
		scanID:      scanID,
		domain:      domain,
		deltaVisits: deltaVisits,
		deltaBytes:  deltaBytes,
		statusClass: statusClass,
	})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.ScanRun, error) {
	return store.ScanRun{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.ScanRunStatus, int, int) ([]store.ScanRun, error) {
	return nil, assertErr("list")
}

func (f *fakeRunRepo) ListRunDomains(context.Context, uuid.UUID, int, int) ([]store.DomainStats, error) {
	return nil, assertErr("domains")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
