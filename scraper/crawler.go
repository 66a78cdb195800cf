package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-books-dataset/models"
	"github.com/aluiziolira/go-books-dataset/parser"
)

// Page end reasons. None of them is an error: each ends one category's
// traversal and keeps what earlier pages produced.
const (
	endEmptyPage   = "empty_page"
	endMaxPages    = "max_pages"
	endRevisit     = "revisit"
	endUnparseable = "unparseable"
	endInvalidURL  = "invalid_url"
)

type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Response, error)
}

// CategoryResult is what one category traversal produced.
type CategoryResult struct {
	Category  models.Category
	Books     []*models.Book
	Pages     int
	Requests  int
	Skipped   map[string]int
	Errors    map[string]int
	EndReason string
}

// pageCrawler walks the listing pages of one category at a time.
type pageCrawler struct {
	fetcher  pageFetcher
	baseURL  string
	delay    time.Duration
	maxPages int
	seen     *lru.Cache[string, struct{}]
	metrics  *Metrics
	sleep    func(context.Context, time.Duration) error
}

// PageURL returns the listing URL of page n of a category. Page 1 is the
// category URL itself; later pages replace its last path segment.
func PageURL(categoryURL string, n int) (string, error) {
	if n <= 1 {
		return categoryURL, nil
	}
	base, err := url.Parse(categoryURL)
	if err != nil {
		return "", fmt.Errorf("parse category url: %w", err)
	}
	return base.ResolveReference(&url.URL{Path: fmt.Sprintf("page-%d.html", n)}).String(), nil
}

// pageEndReason is the single decision point between "extract this page"
// and "pagination is over". A transport failure and a genuine last page are
// indistinguishable here: there is no retry.
func pageEndReason(resp *Response, fetchErr error) string {
	if fetchErr != nil {
		return "transport_" + errorTypeLabel(fetchErr)
	}
	if !resp.OK() {
		return fmt.Sprintf("status_%d", resp.StatusCode)
	}
	return ""
}

// crawl runs the Fetching(n) -> Done state machine for one category. The only
// error it returns is cancellation of ctx (the Aborted state).
func (pc *pageCrawler) crawl(ctx context.Context, category models.Category) (*CategoryResult, error) {
	result := &CategoryResult{
		Category: category,
		Skipped:  make(map[string]int),
		Errors:   make(map[string]int),
	}
	logger := slog.With(slog.String("category", category.Name))

	for page := 1; ; page++ {
		if page > pc.maxPages {
			pc.end(logger, result, endMaxPages)
			return result, nil
		}

		reason, err := pc.step(ctx, logger, result, page)
		if err != nil {
			return result, err
		}
		if reason != "" {
			pc.end(logger, result, reason)
			return result, nil
		}

		if err := pc.sleep(ctx, pc.delay); err != nil {
			return result, fmt.Errorf("category %q aborted after page %d: %w", category.Name, page, err)
		}
	}
}

// step fetches and extracts one page. It returns a non-empty end reason
// when pagination for the category is over.
func (pc *pageCrawler) step(ctx context.Context, logger *slog.Logger, result *CategoryResult, page int) (string, error) {
	pageURL, err := PageURL(result.Category.URL, page)
	if err != nil {
		logger.Warn("cannot build page url", slog.Int("page", page), slog.Any("error", err))
		return endInvalidURL, nil
	}

	result.Requests++
	resp, fetchErr := pc.fetcher.Fetch(ctx, pageURL)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("category %q aborted at page %d: %w", result.Category.Name, page, ctxErr)
	}
	if fetchErr != nil {
		label := errorTypeLabel(fetchErr)
		result.Errors[label]++
		pc.metrics.IncError(label)
		logger.Debug("page fetch failed", slog.Int("page", page), slog.String("url", pageURL), slog.Any("error", fetchErr))
	} else if !resp.OK() {
		label := errorTypeLabel(classifyError(nil, resp.StatusCode))
		result.Errors[label]++
		pc.metrics.IncError(label)
		logger.Debug("page returned error status", slog.Int("page", page), slog.String("url", pageURL), slog.Int("status", resp.StatusCode))
	}
	if reason := pageEndReason(resp, fetchErr); reason != "" {
		return reason, nil
	}

	if pc.seen != nil {
		if seen, _ := pc.seen.ContainsOrAdd(resp.URL, struct{}{}); seen {
			return endRevisit, nil
		}
	}

	doc, err := parser.Parse(resp.Body)
	if err != nil {
		logger.Warn("cannot parse listing page", slog.Int("page", page), slog.Any("error", err))
		return endUnparseable, nil
	}
	extracted := parser.ExtractPage(doc, pc.baseURL, result.Category.Name)
	if extracted.Nodes == 0 {
		return endEmptyPage, nil
	}

	for _, skip := range extracted.Skipped {
		reason := skip.Reason()
		result.Skipped[reason]++
		pc.metrics.IncSkipped(reason)
		logger.Warn("skipping item",
			slog.Int("page", page),
			slog.Int("index", skip.Index),
			slog.String("reason", reason),
			slog.Any("error", skip.Err),
		)
	}

	result.Books = append(result.Books, extracted.Books...)
	result.Pages++
	pc.metrics.IncPages()
	pc.metrics.AddItems(len(extracted.Books))
	logger.Debug("page extracted",
		slog.Int("page", page),
		slog.Int("items", len(extracted.Books)),
		slog.Int("skipped", len(extracted.Skipped)),
	)
	return "", nil
}

func (pc *pageCrawler) end(logger *slog.Logger, result *CategoryResult, reason string) {
	result.EndReason = reason
	pc.metrics.IncCategoryEnd(reason)
	logger.Info("category done",
		slog.Int("pages", result.Pages),
		slog.Int("items", len(result.Books)),
		slog.String("reason", reason),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isAbort reports whether err ended a run through cancellation.
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
