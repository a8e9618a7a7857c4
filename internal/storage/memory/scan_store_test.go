package memory

import (
	"context"
	"testing"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

func TestScanStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewScanStore()
	ctx := context.Background()
	scan := evidence.Scan{ID: "scan-1", Status: evidence.ScanStatusQueued}

	if err := store.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}
	if err := store.CreateScan(ctx, scan); err == nil {
		t.Fatal("expected duplicate scan error")
	}
	if err := store.UpdateScanStatus(ctx, scan.ID, evidence.ScanStatusRunning, "", evidence.ScanCounters{}); err != nil {
		t.Fatalf("UpdateScanStatus running error = %v", err)
	}
	record := evidence.SourceRecord{ScanID: scan.ID, URL: "https://example.com/pricing", Type: evidence.SourcePricing}
	if err := store.RecordSource(ctx, record); err != nil {
		t.Fatalf("RecordSource() error = %v", err)
	}
	sources, err := store.ListSources(ctx, scan.ID)
	if err != nil || len(sources) != 1 {
		t.Fatalf("ListSources() unexpected result: sources=%v err=%v", sources, err)
	}
	sources[0].URL = "modified"
	if store.sources[scan.ID][0].URL != "https://example.com/pricing" {
		t.Fatal("expected ListSources to return a copy")
	}

	score10 := 7.5
	if err := store.AppendRunScore(ctx, scan.ID, evidence.RunScore{
		Domain:     "example.com",
		Sufficient: true,
		Score10:    &score10,
		Label:      "High",
	}); err != nil {
		t.Fatalf("AppendRunScore() error = %v", err)
	}

	err = store.UpdateScanStatus(
		ctx,
		scan.ID,
		evidence.ScanStatusSucceeded,
		"",
		evidence.ScanCounters{PagesFetched: 1, SourcesClassified: 1},
	)
	if err != nil {
		t.Fatalf("UpdateScanStatus succeeded error = %v", err)
	}
	final, err := store.GetScan(ctx, scan.ID)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if final.Status != evidence.ScanStatusSucceeded || final.Started == nil || final.Finished == nil {
		t.Fatalf("expected timestamps set, got %+v", final)
	}
	if final.Counters.PagesFetched != 1 || len(final.Scores) != 1 {
		t.Fatalf("expected counters and scores to persist, got %+v", final)
	}
	if final.Scores[0].Label != "High" {
		t.Fatalf("expected run score label to persist, got %+v", final.Scores[0])
	}
}

func TestScanStoreUnknownScan(t *testing.T) {
	t.Parallel()

	store := NewScanStore()
	ctx := context.Background()

	if _, err := store.GetScan(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown scan")
	}
	if err := store.UpdateScanStatus(ctx, "missing", evidence.ScanStatusRunning, "", evidence.ScanCounters{}); err == nil {
		t.Fatal("expected error for unknown scan update")
	}
	if err := store.AppendRunScore(ctx, "missing", evidence.RunScore{}); err == nil {
		t.Fatal("expected error for unknown scan score")
	}
}
