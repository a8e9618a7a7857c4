package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/progress"
	"github.com/evidentlabs/rivalscan/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It batches
// domain-level counters to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses domain deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		scanID := evt.ScanUUID()
		switch evt.Stage {
		case progress.StageScanStart, progress.StageScanDone, progress.StageScanError:
			if err := s.handleRunEvent(ctx, scanID, evt); err != nil {
				return err
			}
		case progress.StageFetchDone:
			s.recordDomainStats(stats, scanID, evt)
		}
	}

	for key, delta := range stats {
		if delta.visits == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertDomainStats(
			ctx,
			key.scanID,
			key.domain,
			delta.visits,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert domain stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, scanID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageScanStart:
		if err := s.repo.UpsertRunStart(ctx, scanID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageScanDone:
		if err := s.repo.CompleteRun(ctx, scanID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageScanError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, scanID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordDomainStats(stats map[statsKey]*statsDelta, scanID uuid.UUID, evt progress.Event) {
	if evt.Domain == "" {
		return
	}
	key := statsKey{
		scanID:      scanID,
		domain:      evt.Domain,
		statusClass: string(evt.StatusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.visits += evt.Visits
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	scanID      uuid.UUID
	domain      string
	statusClass string
}

type statsDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}
