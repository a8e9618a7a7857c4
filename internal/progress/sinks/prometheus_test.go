package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/evidentlabs/rivalscan/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	scanID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{ScanID: scanID, TS: time.Now(), Stage: progress.StageScanStart},
		{
			ScanID:      scanID,
			TS:          time.Now().Add(10 * time.Second),
			Stage:       progress.StageFetchDone,
			Domain:      "example.com",
			Bytes:       1024,
			Visits:      1,
			StatusClass: progress.Status2xx,
			Dur:         200 * time.Millisecond,
		},
		{
			ScanID:     scanID,
			TS:         time.Now().Add(11 * time.Second),
			Stage:      progress.StageSourceClassified,
			Domain:     "example.com",
			SourceType: "pricing",
		},
		{ScanID: scanID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageScanDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(
		t,
		1.0,
		testutil.ToFloat64(sink.fetchRequests.WithLabelValues("example.com", string(progress.Status2xx))),
		1e-9,
	)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "rivalscan_fetch_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sourcesClassified.WithLabelValues("pricing")))
}
