package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	PagesTotal          prometheus.Counter
	ItemsExtractedTotal prometheus.Counter
	ItemsSkippedTotal   *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	CategoryEndsTotal   *prometheus.CounterVec
	LastRunRecords      prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the crawler, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Listing pages that yielded item nodes.",
		},
	)
	itemsExtracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_extracted_total",
			Help: "Item nodes turned into records.",
		},
	)
	itemsSkipped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_skipped_total",
			Help: "Item nodes skipped because a required field could not be parsed.",
		},
		[]string{"reason"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	categoryEnds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_category_end_total",
			Help: "Category traversals by the reason pagination ended.",
		},
		[]string{"reason"},
	)
	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_last_run_records",
			Help: "Records persisted by the most recent successful run.",
		},
	)

	registry.MustRegister(requests, requestDuration, pages, itemsExtracted, itemsSkipped, errorsTotal, categoryEnds, lastRun)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		PagesTotal:          pages,
		ItemsExtractedTotal: itemsExtracted,
		ItemsSkippedTotal:   itemsSkipped,
		ErrorsTotal:         errorsTotal,
		CategoryEndsTotal:   categoryEnds,
		LastRunRecords:      lastRun,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the crawled pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// AddItems adds to the extracted items counter.
func (m *Metrics) AddItems(n int) {
	if m == nil {
		return
	}
	m.ItemsExtractedTotal.Add(float64(n))
}

// IncSkipped increments the skipped items counter for a reason.
func (m *Metrics) IncSkipped(reason string) {
	if m == nil {
		return
	}
	m.ItemsSkippedTotal.WithLabelValues(reason).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCategoryEnd records why a category traversal stopped.
func (m *Metrics) IncCategoryEnd(reason string) {
	if m == nil {
		return
	}
	m.CategoryEndsTotal.WithLabelValues(reason).Inc()
}

// SetLastRun records the size of the last persisted dataset.
func (m *Metrics) SetLastRun(records int) {
	if m == nil {
		return
	}
	m.LastRunRecords.Set(float64(records))
}
