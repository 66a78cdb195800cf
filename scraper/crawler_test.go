package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-books-dataset/config"
	"github.com/aluiziolira/go-books-dataset/models"
)

// fakeFetcher serves canned responses; unknown URLs answer 404.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*Response
	errs    map[string]error
	calls   []string
	onFetch func(url string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	hook := f.onFetch
	resp, hasResp := f.pages[rawURL]
	err, hasErr := f.errs[rawURL]
	f.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if hasErr {
		return nil, err
	}
	if hasResp {
		return resp, nil
	}
	return &Response{URL: rawURL, StatusCode: http.StatusNotFound}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func okPage(url string, titles ...string) *Response {
	return &Response{URL: url, StatusCode: http.StatusOK, Body: []byte(buildCatalogPage(titles...))}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	if r.err != nil {
		return r.err
	}
	return ctx.Err()
}

func newTestCrawler(t *testing.T, f pageFetcher, sleeper *sleepRecorder) *pageCrawler {
	t.Helper()
	seen, err := lru.New[string, struct{}](64)
	require.NoError(t, err)
	return &pageCrawler{
		fetcher:  f,
		baseURL:  testBase,
		delay:    500 * time.Millisecond,
		maxPages: 100,
		seen:     seen,
		metrics:  NewMetrics(),
		sleep:    sleeper.sleep,
	}
}

func alpha() models.Category {
	return models.Category{Name: "Alpha", URL: categoryURL("Alpha")}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		page int
		want string
	}{
		{page: 1, want: categoryURL("Alpha")},
		{page: 2, want: testBase + "/catalogue/category/books/alpha/page-2.html"},
		{page: 17, want: testBase + "/catalogue/category/books/alpha/page-17.html"},
	}
	for _, tt := range tests {
		got, err := PageURL(categoryURL("Alpha"), tt.page)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := PageURL("http://[::1", 2)
	assert.Error(t, err)
}

func TestPageEndReason(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		err  error
		want string
	}{
		{name: "ok", resp: &Response{StatusCode: http.StatusOK}, want: ""},
		{name: "not found", resp: &Response{StatusCode: http.StatusNotFound}, want: "status_404"},
		{name: "server error", resp: &Response{StatusCode: http.StatusBadGateway}, want: "status_502"},
		{name: "timeout", err: ErrTimeout{Err: context.DeadlineExceeded}, want: "transport_timeout"},
		{name: "connection", err: ErrConnection{Err: errors.New("refused")}, want: "transport_connection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pageEndReason(tt.resp, tt.err))
		})
	}
}

func TestCrawlSleepsAfterEveryPage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*Response{
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1", "A2"),
		categoryPageURL("Alpha", 2): okPage(categoryPageURL("Alpha", 2), "A3"),
	}}
	sleeper := &sleepRecorder{}
	pc := newTestCrawler(t, f, sleeper)

	res, err := pc.crawl(context.Background(), alpha())
	require.NoError(t, err)

	assert.Equal(t, []string{"A1", "A2", "A3"}, bookTitles(res.Books))
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 3, res.Requests)
	assert.Equal(t, "status_404", res.EndReason)
	assert.Equal(t, map[string]int{"not_found": 1}, res.Errors)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, sleeper.delays)
	for _, b := range res.Books {
		assert.Equal(t, 0, b.ID, "ids are assigned by the aggregator")
		assert.Equal(t, "Alpha", b.Category)
	}
}

func TestCrawlTransportErrorEndsCategory(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]*Response{
			categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
			categoryPageURL("Alpha", 3): okPage(categoryPageURL("Alpha", 3), "A3"),
		},
		errs: map[string]error{
			categoryPageURL("Alpha", 2): ErrTimeout{Err: context.DeadlineExceeded},
		},
	}
	pc := newTestCrawler(t, f, &sleepRecorder{})

	res, err := pc.crawl(context.Background(), alpha())
	require.NoError(t, err)

	assert.Equal(t, []string{"A1"}, bookTitles(res.Books))
	assert.Equal(t, "transport_timeout", res.EndReason)
	assert.Equal(t, 1, res.Errors["timeout"])
	assert.Len(t, f.Calls(), 2)
}

func TestCrawlErrorStatusIsCounted(t *testing.T) {
	tests := []struct {
		status int
		label  string
	}{
		{status: http.StatusForbidden, label: "forbidden"},
		{status: http.StatusNotFound, label: "not_found"},
		{status: http.StatusTooManyRequests, label: "rate_limited"},
		{status: http.StatusInternalServerError, label: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			f := &fakeFetcher{pages: map[string]*Response{
				categoryPageURL("Alpha", 1): {URL: categoryPageURL("Alpha", 1), StatusCode: tt.status},
			}}
			pc := newTestCrawler(t, f, &sleepRecorder{})

			res, err := pc.crawl(context.Background(), alpha())
			require.NoError(t, err)
			assert.Equal(t, map[string]int{tt.label: 1}, res.Errors)
			assert.Equal(t, fmt.Sprintf("status_%d", tt.status), res.EndReason)
		})
	}
}

func TestCrawlStopsOnRevisit(t *testing.T) {
	// page 2 lands on page 1 again, as a redirect back to the index would
	f := &fakeFetcher{pages: map[string]*Response{
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		categoryPageURL("Alpha", 2): okPage(categoryPageURL("Alpha", 1), "A1"),
	}}
	pc := newTestCrawler(t, f, &sleepRecorder{})

	res, err := pc.crawl(context.Background(), alpha())
	require.NoError(t, err)

	assert.Equal(t, []string{"A1"}, bookTitles(res.Books))
	assert.Equal(t, endRevisit, res.EndReason)
}

func TestCrawlMaxPages(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*Response{
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		categoryPageURL("Alpha", 2): okPage(categoryPageURL("Alpha", 2), "A2"),
	}}
	pc := newTestCrawler(t, f, &sleepRecorder{})
	pc.maxPages = 1

	res, err := pc.crawl(context.Background(), alpha())
	require.NoError(t, err)

	assert.Equal(t, []string{"A1"}, bookTitles(res.Books))
	assert.Equal(t, endMaxPages, res.EndReason)
	assert.Equal(t, []string{categoryPageURL("Alpha", 1)}, f.Calls())
}

func TestCrawlPageWithoutItems(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*Response{
		categoryPageURL("Alpha", 1): {URL: categoryPageURL("Alpha", 1), StatusCode: http.StatusOK, Body: []byte("<html><body>nothing here</body></html>")},
	}}
	pc := newTestCrawler(t, f, &sleepRecorder{})

	res, err := pc.crawl(context.Background(), alpha())
	require.NoError(t, err)
	assert.Empty(t, res.Books)
	assert.Equal(t, endEmptyPage, res.EndReason)
	assert.Equal(t, 0, res.Pages)
}

func TestCrawlAbortDuringDelay(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*Response{
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		categoryPageURL("Alpha", 2): okPage(categoryPageURL("Alpha", 2), "A2"),
	}}
	sleeper := &sleepRecorder{err: context.Canceled}
	pc := newTestCrawler(t, f, sleeper)

	res, err := pc.crawl(context.Background(), alpha())
	require.Error(t, err)
	assert.True(t, isAbort(err))
	assert.Equal(t, []string{"A1"}, bookTitles(res.Books))
	assert.Len(t, f.Calls(), 1)
}

func TestCrawlAbortDuringFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFetcher{
		pages: map[string]*Response{
			categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		},
		onFetch: func(string) { cancel() },
	}
	pc := newTestCrawler(t, f, &sleepRecorder{})

	_, err := pc.crawl(ctx, alpha())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func newFakeScraper(t *testing.T, f *fakeFetcher, sleeper *sleepRecorder) *Scraper {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBase
	return &Scraper{cfg: cfg, fetcher: f, Metrics: NewMetrics(), sleep: sleeper.sleep}
}

func TestRunDelaysOnlyBetweenPages(t *testing.T) {
	f := &fakeFetcher{pages: map[string]*Response{
		testBase:                    {URL: testBase + "/", StatusCode: http.StatusOK, Body: []byte(buildRootPage("Alpha", "Beta"))},
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		categoryPageURL("Beta", 1):  okPage(categoryPageURL("Beta", 1), "B1"),
	}}
	sleeper := &sleepRecorder{}
	s := newFakeScraper(t, f, sleeper)

	result, err := s.Run(context.Background(), &collectingWriter{}, nil)
	require.NoError(t, err)

	// one pause per extracted page; none after discovery or between categories
	assert.Len(t, sleeper.delays, result.PageCount)
	assert.Equal(t, []string{
		testBase,
		categoryPageURL("Alpha", 1),
		categoryPageURL("Alpha", 2),
		categoryPageURL("Beta", 1),
		categoryPageURL("Beta", 2),
	}, f.Calls())
}

func TestRunAbortWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFetcher{pages: map[string]*Response{
		testBase:                    {URL: testBase + "/", StatusCode: http.StatusOK, Body: []byte(buildRootPage("Alpha", "Beta"))},
		categoryPageURL("Alpha", 1): okPage(categoryPageURL("Alpha", 1), "A1"),
		categoryPageURL("Beta", 1):  okPage(categoryPageURL("Beta", 1), "B1"),
	}}
	f.onFetch = func(url string) {
		if url == categoryPageURL("Beta", 1) {
			cancel()
		}
	}
	s := newFakeScraper(t, f, &sleepRecorder{})
	writer := &collectingWriter{}

	_, err := s.Run(ctx, writer, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, writer.writes)
}

func TestRunStartsNoCategoryAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta"}
	f := &fakeFetcher{pages: map[string]*Response{
		testBase: {URL: testBase + "/", StatusCode: http.StatusOK, Body: []byte(buildRootPage(names...))},
	}}
	for _, name := range names {
		f.pages[categoryPageURL(name, 1)] = okPage(categoryPageURL(name, 1), name+" 1")
	}
	f.onFetch = func(url string) {
		if url == categoryPageURL("Alpha", 1) {
			cancel()
		}
	}
	s := newFakeScraper(t, f, &sleepRecorder{})
	s.cfg.Parallelism = 1
	writer := &collectingWriter{}

	_, err := s.Run(ctx, writer, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{testBase, categoryPageURL("Alpha", 1)}, f.Calls())
	assert.Zero(t, writer.writes)
}
