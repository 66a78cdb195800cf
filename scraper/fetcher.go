package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-books-dataset/config"
)

// Response is a completed GET, whatever its status.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Fetcher issues single blocking GETs through a colly collector. It never
// retries; callers own pacing between calls.
type Fetcher struct {
	base    *colly.Collector
	metrics *Metrics
}

// NewFetcher builds a fetcher restricted to the configured site.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	// Status handling belongs to the caller; only transport failures reach OnError.
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Fetcher{base: collector, metrics: metrics}, nil
}

// WithTransport swaps the HTTP transport, mostly for tests.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.base.WithTransport(rt)
}

// Fetch performs one GET. A non-nil error means the request never produced
// a response (timeout, connection or DNS failure, cancellation).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		f.metrics.IncRequest("canceled")
		return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, err)
	}
	collector := f.base.Clone()

	var (
		resp     *Response
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		resp = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		f.metrics.IncRequest("canceled")
		return nil, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case visitErr = <-done:
	}
	f.metrics.ObserveDuration(time.Since(start))

	if visitErr == nil {
		visitErr = fetchErr
	}
	if visitErr == nil && resp == nil {
		visitErr = fmt.Errorf("no response received")
	}
	if visitErr != nil {
		f.metrics.IncRequest("transport_error")
		return nil, fmt.Errorf("fetch %s: %w", rawURL, classifyError(visitErr, 0))
	}

	if resp.OK() {
		f.metrics.IncRequest("ok")
	} else {
		f.metrics.IncRequest("http_error")
	}
	return resp, nil
}
