// Package api exposes the HTTP interface for the scan service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentlabs/rivalscan/internal/config"
	"github.com/evidentlabs/rivalscan/internal/dispatcher"
	"github.com/evidentlabs/rivalscan/internal/evidence"
	"github.com/evidentlabs/rivalscan/internal/metrics"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	scanStore  evidence.ScanStore
	dispatcher *dispatcher.Dispatcher
	runs       *RunHandler
	idGen      evidence.IDGenerator
	clock      evidence.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The runs handler
// may be built with a nil repository when run history is not configured.
func NewServer(
	scanStore evidence.ScanStore,
	dispatch *dispatcher.Dispatcher,
	runs *RunHandler,
	idGen evidence.IDGenerator,
	clock evidence.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runs == nil {
		runs = NewRunHandler(nil, logger)
	}
	s := &Server{
		scanStore:  scanStore,
		dispatcher: dispatch,
		runs:       runs,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.submitScan)
			r.Post("/watchlist", s.submitWatchlistScan)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/status", s.getScanStatus)
				r.Get("/result", s.getScanResult)
				r.Post("/cancel", s.cancelScan)
			})
		})
		r.Post("/score", s.scoreBundle)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", runs.ListRuns)
			r.Route("/{scan_id}", func(r chi.Router) {
				r.Get("/", runs.GetRun)
				r.Get("/domains", runs.ListRunDomains)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toScanParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scanID, err := s.enqueueScan(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scan_id": scanID})
}

func (s *Server) submitWatchlistScan(w http.ResponseWriter, r *http.Request) {
	var req watchlistScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing watchlist name")
		return
	}
	watchlist, ok := s.cfg.Watchlists[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "watchlist not found")
		return
	}
	params := s.applyDefaults(evidence.ScanParameters{
		Domains:           cloneStringSlice(watchlist.Domains),
		ProductHint:       watchlist.ProductHint,
		UseSearch:         watchlist.UseSearch,
		UseSearchProvided: true,
	})
	scanID, err := s.enqueueScan(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scan_id": scanID})
}

func (s *Server) getScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scan_id")
	scan, err := s.scanStore.GetScan(r.Context(), scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan": scan})
}

func (s *Server) getScanResult(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scan_id")
	scan, err := s.scanStore.GetScan(r.Context(), scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	sources, err := s.scanStore.ListSources(r.Context(), scanID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch scan sources")
		return
	}
	writeJSON(w, http.StatusOK, evidence.ScanResult{Scan: scan, Sources: sources})
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scan_id")
	if err := s.scanStore.UpdateScanStatus(
		r.Context(),
		scanID,
		evidence.ScanStatusCanceled,
		"canceled via API",
		evidence.ScanCounters{},
	); err != nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"scan_id": scanID,
		"status":  string(evidence.ScanStatusCanceled),
	})
}

func (s *Server) enqueueScan(ctx context.Context, params evidence.ScanParameters) (string, error) {
	if len(params.Domains) == 0 {
		return "", errors.New("at least one domain required")
	}
	scanID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate scan id: %w", err)
	}
	now := s.clock.Now()
	scan := evidence.Scan{
		ID:         scanID,
		Status:     evidence.ScanStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   evidence.ScanCounters{},
	}
	if err := s.scanStore.CreateScan(ctx, scan); err != nil {
		return "", fmt.Errorf("create scan: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := evidence.QueueItem{
		ScanID:    scanID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue scan: %w", err)
	}
	return scanID, nil
}

func (s *Server) toScanParameters(req scanRequest) (evidence.ScanParameters, error) {
	if len(req.Domains) == 0 {
		return evidence.ScanParameters{}, errors.New("domains required")
	}
	params := evidence.ScanParameters{
		Domains:     req.Domains,
		ProductHint: req.ProductHint,
		DenyDomains: req.DenyDomains,
		Tags:        req.Tags,
	}
	params.MaxTargetPages = valueOrDefault(req.MaxPages, s.cfg.Scan.MaxTargetPages)
	params.FetchBudgetMs = valueOrDefault(req.BudgetMs, s.cfg.Scan.FetchBudgetMs)
	params.RequestTimeoutMs = valueOrDefault(req.RequestTimeoutMs, s.cfg.Scan.RequestTimeoutMs)
	params.FetchConcurrency = valueOrDefault(req.Concurrency, s.cfg.Scan.FetchConcurrency)
	params.ShortlistQuota = valueOrDefault(req.Quota, s.cfg.Scan.ShortlistQuota)
	params.UseSearch = boolOrDefault(req.UseSearch, s.cfg.Search.Enabled)
	params.UseSearchProvided = req.UseSearch != nil
	params.HeadlessAllowed = boolOrDefault(req.HeadlessAllowed, s.cfg.Headless.Enabled)
	params.HeadlessProvided = req.HeadlessAllowed != nil

	params = s.applyDefaults(params)
	return params, nil
}

type watchlistScanRequest struct {
	Name string `json:"name"`
}

type scanRequest struct {
	Domains          []string          `json:"domains"`
	ProductHint      string            `json:"product_hint"`
	MaxPages         *int              `json:"max_pages"`
	BudgetMs         *int              `json:"budget_ms"`
	RequestTimeoutMs *int              `json:"request_timeout_ms"`
	Concurrency      *int              `json:"concurrency"`
	Quota            *int              `json:"quota"`
	UseSearch        *bool             `json:"use_search"`
	HeadlessAllowed  *bool             `json:"headless_allowed"`
	DenyDomains      []string          `json:"deny_domains"`
	Tags             map[string]string `json:"tags"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) applyDefaults(params evidence.ScanParameters) evidence.ScanParameters {
	if params.MaxTargetPages == 0 {
		params.MaxTargetPages = s.cfg.Scan.MaxTargetPages
	}
	if params.FetchBudgetMs == 0 {
		params.FetchBudgetMs = s.cfg.Scan.FetchBudgetMs
	}
	if params.RequestTimeoutMs == 0 {
		params.RequestTimeoutMs = s.cfg.Scan.RequestTimeoutMs
	}
	if params.FetchConcurrency == 0 {
		params.FetchConcurrency = s.cfg.Scan.FetchConcurrency
	}
	if params.ShortlistQuota == 0 {
		params.ShortlistQuota = s.cfg.Scan.ShortlistQuota
	}
	if !params.UseSearchProvided {
		params.UseSearch = s.cfg.Search.Enabled
		params.UseSearchProvided = true
	}
	if !params.HeadlessProvided {
		params.HeadlessAllowed = s.cfg.Headless.Enabled
		params.HeadlessProvided = true
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors after WriteHeader can only be logged, not surfaced.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
