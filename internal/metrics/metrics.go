// Package metrics exposes Prometheus collectors for the scan service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanPagesTotal             *prometheus.CounterVec
	scanBytesTotal             *prometheus.CounterVec
	scanSourcesTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scansTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	headlessPromotionsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rivalscan_pages_total",
				Help: "Total number of pages fetched, labeled by domain and status class.",
			},
			[]string{"domain", "status"},
		)

		scanBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rivalscan_bytes_total",
				Help: "Total number of bytes fetched, labeled by domain.",
			},
			[]string{"domain"},
		)

		scanSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rivalscan_sources_total",
				Help: "Total number of classified evidence sources, labeled by source type.",
			},
			[]string{"source_type"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rivalscan_scans_total",
				Help: "Total number of scans processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rivalscan_active_workers",
				Help: "Number of workers currently processing a scan.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rivalscan_fetch_duration_seconds",
				Help:    "Histogram of single-page fetch durations, labeled by domain.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"domain"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rivalscan_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rivalscan_headless_promotions_total",
				Help: "Total number of headless re-fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// SanitizeDomain sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeDomain(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page fetch metrics.
func ObservePage(domain string, status string, bytesFetched int, duration time.Duration) {
	sanitized := SanitizeDomain(domain)
	scanPagesTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		scanBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
	}
}

// ObserveSource increments the classified source counter for a type.
func ObserveSource(sourceType string) {
	scanSourcesTotal.WithLabelValues(sourceType).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScan increments the scan counter for the given status.
func ObserveScan(status string) {
	scansTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a headless re-fetch attempt by outcome.
func ObserveHeadlessPromotion(outcome string) {
	headlessPromotionsTotal.WithLabelValues(outcome).Inc()
}
