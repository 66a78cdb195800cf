// Package scraper crawls the catalog and produces the dataset.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-books-dataset/config"
	"github.com/aluiziolira/go-books-dataset/models"
	"github.com/aluiziolira/go-books-dataset/parser"
	"github.com/aluiziolira/go-books-dataset/pipeline"
	"github.com/aluiziolira/go-books-dataset/status"
)

// Scraper runs discovery, category traversal, aggregation and persistence.
// It holds no run lock of its own; pass a status.Tracker to Run to keep
// concurrent invocations out.
type Scraper struct {
	cfg     *config.Config
	fetcher pageFetcher
	Metrics *Metrics

	sleep func(context.Context, time.Duration) error
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		Metrics: metrics,
		sleep:   sleepContext,
	}, nil
}

// Run performs one complete crawl and replaces the dataset through w. When
// tracker is non-nil the run is registered there and refused with
// status.ErrAlreadyRunning if another run is active.
func (s *Scraper) Run(ctx context.Context, w pipeline.OutputWriter, tracker *status.Tracker) (result *models.RunResult, err error) {
	if tracker == nil {
		return s.RunWithID(ctx, "", w)
	}
	runID, err := tracker.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		count := 0
		if err == nil && result != nil {
			count = result.TotalCount
		}
		tracker.Finish(runID, count, err)
	}()
	return s.RunWithID(ctx, runID, w)
}

// RunFunc adapts the scraper to status.Tracker.Trigger. The tracker owns the
// run ID; done, when set, receives the outcome before the tracker records it.
func (s *Scraper) RunFunc(w pipeline.OutputWriter, done func(*models.RunResult, error)) status.RunFunc {
	return func(ctx context.Context, runID string) (int, error) {
		result, err := s.RunWithID(ctx, runID, w)
		if done != nil {
			done(result, err)
		}
		if err != nil {
			return 0, err
		}
		return result.TotalCount, nil
	}
}

// RunWithID performs one crawl under a run ID the caller already registered.
func (s *Scraper) RunWithID(ctx context.Context, runID string, w pipeline.OutputWriter) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := slog.With(slog.String("run_id", runID))
	result := &models.RunResult{
		RunID:        runID,
		StartTime:    time.Now(),
		SkippedItems: make(map[string]int),
		ErrorsByType: make(map[string]int),
	}
	if p, ok := w.(interface{ Path() string }); ok {
		result.OutputFile = p.Path()
	}

	books, err := s.collect(ctx, logger, result)
	result.EndTime = time.Now()
	if err != nil {
		if isAbort(err) {
			logger.Warn("run aborted", slog.Any("error", err))
		}
		return result, err
	}

	if err := w.Write(books); err != nil {
		return result, fmt.Errorf("write dataset: %w", err)
	}
	result.TotalCount = len(books)
	result.EndTime = time.Now()
	s.Metrics.SetLastRun(len(books))

	logger.Info("run complete",
		slog.Int("records", result.TotalCount),
		slog.Int("categories", result.Categories),
		slog.Int("pages", result.PageCount),
		slog.Duration("duration", result.Duration()),
	)
	return result, nil
}

// collect discovers categories, crawls them and returns the ID-assigned records.
func (s *Scraper) collect(ctx context.Context, logger *slog.Logger, result *models.RunResult) ([]*models.Book, error) {
	result.RequestCount++
	categories, err := s.discover(ctx)
	if err != nil {
		if errors.Is(err, ErrDiscovery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	result.Categories = len(categories)
	logger.Info("categories discovered", slog.Int("count", len(categories)))

	seen, err := lru.New[string, struct{}](s.cfg.SeenPagesMax)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	crawler := &pageCrawler{
		fetcher:  s.fetcher,
		baseURL:  s.cfg.BaseURL,
		delay:    s.cfg.PageDelay,
		maxPages: s.cfg.MaxPages,
		seen:     seen,
		metrics:  s.Metrics,
		sleep:    s.sleep,
	}

	agg := pipeline.NewAggregator(len(categories))
	outcomes := make([]*CategoryResult, len(categories))

	// With a limit of one the categories run strictly one after another in
	// discovery order; larger limits only change timing, never IDs.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, category := range categories {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			logger.Info("crawling category",
				slog.Int("index", i+1),
				slog.Int("of", len(categories)),
				slog.String("category", category.Name),
			)
			outcome, err := crawler.crawl(gctx, category)
			outcomes[i] = outcome
			if err != nil {
				return err
			}
			return agg.Add(i, outcome.Books)
		})
	}
	waitErr := g.Wait()

	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		result.PageCount += outcome.Pages
		result.RequestCount += outcome.Requests
		for reason, n := range outcome.Skipped {
			result.SkippedItems[reason] += n
		}
		for label, n := range outcome.Errors {
			result.ErrorsByType[label] += n
		}
	}
	if waitErr != nil {
		return nil, fmt.Errorf("crawl categories: %w", waitErr)
	}

	books := agg.Finalize()
	if validation, ok := agg.GetMetrics()["validation_errors"].(map[string]int); ok {
		for kind, n := range validation {
			result.SkippedItems[kind] += n
		}
	}
	if len(books) == 0 {
		return nil, ErrNoRecords
	}
	return books, nil
}

// discover fetches the site root and reads its category navigation.
func (s *Scraper) discover(ctx context.Context) ([]models.Category, error) {
	resp, err := s.fetcher.Fetch(ctx, s.cfg.BaseURL)
	if err != nil {
		s.Metrics.IncError(errorTypeLabel(err))
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	if !resp.OK() {
		s.Metrics.IncError(errorTypeLabel(classifyError(nil, resp.StatusCode)))
		return nil, fmt.Errorf("%w: root page returned status %d", ErrDiscovery, resp.StatusCode)
	}
	doc, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	categories, err := parser.DiscoverCategories(doc, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	return categories, nil
}
