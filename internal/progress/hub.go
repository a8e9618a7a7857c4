package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how the Hub buffers scan events before handing them to sinks.
//   - BufferSize: capacity of the intake channel (default 4096).
//   - MaxBatchEvents: deliver once this many events are pending (default 1000).
//   - MaxBatchWait: deliver a partial batch after this long (default 500ms).
//   - SinkTimeout: per-sink deadline on each delivery (default 10s).
//   - BaseContext: parent context for sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	shedWarnEvery         = 5 * time.Second
)

// Hub collects per-scan progress events from the fetch and classify pipeline
// and fans them out to sinks in batches. Emit never blocks a running scan;
// when sinks fall behind, events are shed and counted instead.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	shed     atomic.Int64
	warnGate warnGate
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub pumping events to the supplied sinks. The returned Hub
// accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
		warnGate: warnGate{every: shedWarnEvery},
	}
	go h.pump()
	return h
}

// Emit queues an Event for delivery. It never blocks; a full intake buffer
// sheds the event and logs a throttled warning with the shed count.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding malformed scan event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.shed.Add(1)
		if h.warnGate.open(time.Now()) {
			n := h.shed.Swap(0)
			h.logger.Warn("scan event buffer full, shedding events",
				zap.Int64("shed", n),
				zap.Int("buffer_size", h.cfg.BufferSize))
		}
	}
}

// Close delivers any pending events, closes the sinks, and waits for the
// pump goroutine to exit. Repeat calls after shutdown begins are no-ops.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub shutdown: %w", ctx.Err())
	}
}

// pump is the single goroutine that owns batching. A batch goes out when it
// reaches MaxBatchEvents or when MaxBatchWait has elapsed since its first
// event, whichever comes first.
func (h *Hub) pump() {
	defer close(h.doneCh)
	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	wait := time.NewTimer(h.cfg.MaxBatchWait)
	disarm(wait)
	armed := false
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
				if armed {
					disarm(wait)
					armed = false
				}
			} else if !armed && h.cfg.MaxBatchWait > 0 {
				wait.Reset(h.cfg.MaxBatchWait)
				armed = true
			}
		case <-wait.C:
			armed = false
			h.deliver(pending)
			pending = pending[:0]
		case <-h.stopCh:
			if armed {
				disarm(wait)
			}
			h.drain(pending)
			return
		}
	}
}

// drain empties the intake buffer after shutdown has been requested so that
// late events from finishing scans still reach the sinks.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			h.deliver(pending)
			h.shutdownSinks()
			return
		}
	}
}

func (h *Hub) deliver(pending []Event) {
	if len(pending) == 0 {
		return
	}
	// Sinks may retain the slice, so hand each delivery its own copy.
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx := h.cfg.BaseContext
		cancel := func() {}
		if h.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, h.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("scan event sink rejected batch",
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) shutdownSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("scan event sink close failed", zap.Error(err))
		}
	}
}

func disarm(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// warnGate throttles the shed warning so a sustained overload does not
// itself flood the log.
type warnGate struct {
	every time.Duration
	last  atomic.Int64
}

func (g *warnGate) open(now time.Time) bool {
	if g == nil || g.every <= 0 {
		return true
	}
	n := now.UnixNano()
	prev := g.last.Load()
	if n-prev < g.every.Nanoseconds() {
		return false
	}
	return g.last.CompareAndSwap(prev, n)
}
