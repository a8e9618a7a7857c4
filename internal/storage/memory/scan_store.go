// Package memory stores scans and snapshots in-memory for development.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evidentlabs/rivalscan/internal/evidence"
)

// ScanStore provides an in-memory evidence.ScanStore for development/testing.
type ScanStore struct {
	mu      sync.RWMutex
	scans   map[string]evidence.Scan
	sources map[string][]evidence.SourceRecord
}

// NewScanStore constructs a ScanStore.
func NewScanStore() *ScanStore {
	return &ScanStore{
		scans:   make(map[string]evidence.Scan),
		sources: make(map[string][]evidence.SourceRecord),
	}
}

// CreateScan stores a new scan in queued status.
func (s *ScanStore) CreateScan(_ context.Context, scan evidence.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scans[scan.ID]; exists {
		return errors.New("scan already exists")
	}
	s.scans[scan.ID] = scan
	return nil
}

// UpdateScanStatus updates the status and counters for a scan.
func (s *ScanStore) UpdateScanStatus(
	_ context.Context,
	scanID string,
	status evidence.ScanStatus,
	errText string,
	counters evidence.ScanCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return errors.New("scan not found")
	}
	scan.Status = status
	scan.ErrorText = errText
	scan.Counters = counters
	now := time.Now().UTC()
	if status == evidence.ScanStatusRunning && scan.Started == nil {
		scan.Started = pointerTime(now)
	}
	if isTerminal(status) {
		scan.Finished = pointerTime(now)
	}
	s.scans[scanID] = scan
	return nil
}

// AppendRunScore attaches a per-domain run score to the scan.
func (s *ScanStore) AppendRunScore(_ context.Context, scanID string, score evidence.RunScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return errors.New("scan not found")
	}
	scan.Scores = append(scan.Scores, score)
	s.scans[scanID] = scan
	return nil
}

// RecordSource appends a classified source row for a scan.
func (s *ScanStore) RecordSource(_ context.Context, record evidence.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[record.ScanID] = append(s.sources[record.ScanID], record)
	return nil
}

// GetScan fetches a scan by ID.
func (s *ScanStore) GetScan(_ context.Context, scanID string) (evidence.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scan, ok := s.scans[scanID]
	if !ok {
		return evidence.Scan{}, errors.New("scan not found")
	}
	return scan, nil
}

// ListSources returns all recorded sources for a scan.
func (s *ScanStore) ListSources(_ context.Context, scanID string) ([]evidence.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := s.sources[scanID]
	out := make([]evidence.SourceRecord, len(sources))
	copy(out, sources)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status evidence.ScanStatus) bool {
	switch status {
	case evidence.ScanStatusSucceeded, evidence.ScanStatusFailed, evidence.ScanStatusCanceled:
		return true
	default:
		return false
	}
}
