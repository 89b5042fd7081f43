package stats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/enrich"
	"github.com/brettboylen/reddit-harvester/extract"
	"github.com/brettboylen/reddit-harvester/loader"
	"github.com/brettboylen/reddit-harvester/models"
	"github.com/brettboylen/reddit-harvester/profile"
	"github.com/brettboylen/reddit-harvester/scoring"
)

const (
	defaultTopItemsLimit   = 10
	defaultTopAuthorsLimit = 10
	defaultReadyTimeout    = 10 * time.Second
	statsInterval          = 10 * time.Second
)

// State is a step of a harvesting run
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateExtracting     State = "extracting"
	StateEnriching      State = "enriching"
	StateCategoryFailed State = "category_failed"
	StateScoring        State = "scoring"
	StateDone           State = "done"
)

// Store persists sessions and answers the statistics queries
type Store interface {
	SaveSession(ctx context.Context, session *models.ExtractionSession) error
	GetTopItems(ctx context.Context, limit int) ([]models.EnrichedItem, error)
	GetItemsByCategory(ctx context.Context, category string, limit int) ([]models.EnrichedItem, error)
	GetTopAuthors(ctx context.Context, limit int) (map[string]int, error)
	GetTotalItems(ctx context.Context) (int, error)
	GetSessionCount(ctx context.Context) (int, error)
	GetLatestSession(ctx context.Context) (*models.SessionSummary, error)
}

// rateLimitReporter is implemented by sources that track server rate limit headers
type rateLimitReporter interface {
	GetRateLimitStatus() (int, int, int)
}

// Options configures a collector
type Options struct {
	Categories      []models.Category
	Params          models.RunParams
	Concurrency     int
	RunTimeout      time.Duration
	PollingInterval time.Duration
	Retry           browser.RetryPolicy
}

// Collector runs harvesting sessions over the configured categories
type Collector struct {
	opener    browser.Opener
	store     Store
	profile   *profile.Profile
	extractor *extract.Extractor
	loader    *loader.Loader
	enricher  *enrich.Enricher
	scorer    *scoring.Scorer

	categories      []models.Category
	params          models.RunParams
	runTimeout      time.Duration
	pollingInterval time.Duration
	retry           browser.RetryPolicy
	topItemsLimit   int
	topAuthorsLimit int

	stats              models.Statistics
	state              State
	processedItemCount int
	log                *logrus.Logger
	mutex              sync.RWMutex
	now                func() time.Time
}

// NewCollector creates a new collector
func NewCollector(
	opener browser.Opener,
	p *profile.Profile,
	store Store,
	scorer *scoring.Scorer,
	opts Options,
	log *logrus.Logger,
) *Collector {
	if opts.Retry.Attempts == 0 {
		opts.Retry = browser.DefaultRetryPolicy()
	}

	extractor := extract.New(p, log)
	enricher := enrich.New(extractor, log)
	enricher.Retry = opts.Retry
	enricher.Ready = p.Detail.Ready
	if opts.Concurrency > 0 {
		enricher.Concurrency = opts.Concurrency
	}

	if scorer == nil {
		scorer = scoring.NewScorer()
	}

	return &Collector{
		opener:          opener,
		store:           store,
		profile:         p,
		extractor:       extractor,
		loader:          loader.New(p.Loader, extractor, log),
		enricher:        enricher,
		scorer:          scorer,
		categories:      opts.Categories,
		params:          opts.Params,
		runTimeout:      opts.RunTimeout,
		pollingInterval: opts.PollingInterval,
		retry:           opts.Retry,
		topItemsLimit:   defaultTopItemsLimit,
		topAuthorsLimit: defaultTopAuthorsLimit,
		stats: models.Statistics{
			TopItems:      make([]models.EnrichedItem, 0, defaultTopItemsLimit),
			TopAuthors:    make(map[string]int),
			StartTime:     time.Now(),
			LastUpdated:   time.Now(),
			CategoryStats: make(map[string]models.CategoryStats),
		},
		state: StateIdle,
		log:   log,
		now:   time.Now,
	}
}

// Start runs a session immediately and then once per polling interval, refreshing
// the statistics in between, until ctx is cancelled
func (c *Collector) Start(ctx context.Context) error {
	if c.pollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", c.pollingInterval)
	}

	ticker := time.NewTicker(c.pollingInterval)
	defer ticker.Stop()

	if _, err := c.RunOnce(ctx); err != nil {
		c.log.WithError(err).Error("Failed to store session")
	}

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				c.log.WithError(err).Error("Failed to store session")
			}
		case <-statsTicker.C:
			c.updateStatistics(ctx)
			c.logStatistics()
		}
	}
}

// RunOnce runs one session, persists it and refreshes the statistics. The session is
// returned even when it could not be stored.
func (c *Collector) RunOnce(ctx context.Context) (*models.ExtractionSession, error) {
	session := c.Run(ctx)

	c.mutex.Lock()
	c.processedItemCount += len(session.Collected)
	c.mutex.Unlock()

	if c.store == nil {
		return session, nil
	}
	// a cancelled run is still worth keeping
	if err := c.store.SaveSession(context.WithoutCancel(ctx), session); err != nil {
		return session, fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	c.updateStatistics(ctx)
	return session, nil
}

// Run harvests every category in order and returns the ranked session. Failures are
// recorded in the session and never abort the run; only a run without categories ends
// immediately.
func (c *Collector) Run(ctx context.Context) *models.ExtractionSession {
	session := models.NewExtractionSession(c.params.TargetCount, c.now())
	c.transition(StateIdle, "")

	if len(c.categories) == 0 {
		session.Record("run", models.KindConfiguration, models.ErrNoCategories.Error())
		return c.finish(session)
	}

	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}

	page, err := c.opener.Open(ctx)
	if err != nil {
		for _, category := range c.categories {
			session.Stats.CategoriesAttempted++
			c.failCategory(session, category, fmt.Errorf("%w: open page: %v", models.ErrCategoryFatal, err))
		}
		c.transition(StateScoring, "")
		return c.finish(session)
	}
	defer page.Close()

	seen := make(enrich.Seen)
	remaining := c.params.EnrichmentCap
	collected := make([]models.EnrichedItem, 0)

	for _, category := range c.categories {
		if ctx.Err() != nil {
			c.log.WithField("category", category.Key).Warn("Run budget exhausted, skipping category")
			session.Stats.CategoriesAttempted++
			c.failCategory(session, category, fmt.Errorf("%w: %v", models.ErrCategoryFatal, context.Cause(ctx)))
			continue
		}

		session.Stats.CategoriesAttempted++
		items, err := c.harvestCategory(ctx, page, category, session, seen, &remaining, len(collected))
		if err != nil {
			c.failCategory(session, category, err)
			continue
		}
		collected = append(collected, items...)
	}

	c.transition(StateScoring, "")
	session.Collected = c.scorer.Rank(collected, c.now(), session.StartedAt)
	return c.finish(session)
}

// harvestCategory loads, extracts and enriches one listing. remaining is the run-wide
// enrichment budget and firstIndex the discovery index of the category's first item.
func (c *Collector) harvestCategory(
	ctx context.Context,
	page browser.Page,
	category models.Category,
	session *models.ExtractionSession,
	seen enrich.Seen,
	remaining *int,
	firstIndex int,
) ([]models.EnrichedItem, error) {
	log := c.log.WithField("category", category.Key)

	c.transition(StateLoading, category.Key)
	if err := browser.NavigateWithRetry(ctx, page, category.ListingURL, c.retry, c.log); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCategoryFatal, err)
	}
	if ready := c.profile.Loader.WaitSelector; ready != "" {
		if err := page.WaitFor(ctx, ready, defaultReadyTimeout); err != nil && !errors.Is(err, browser.ErrUnsupported) {
			log.WithError(err).Debug("Listing ready selector did not appear")
		}
	}

	loaded, err := c.loader.LoadUntil(ctx, page, c.params.TargetCount, c.params.MaxStagnantRounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCategoryFatal, err)
	}
	session.Stats.LoaderRounds += loaded.Rounds

	c.transition(StateExtracting, category.Key)
	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrCategoryFatal, err)
	}
	extracted := c.extractor.ExtractAll(doc, category.Key)
	session.Errors = append(session.Errors, extracted.Errors...)
	session.Stats.Discovered += extracted.Discovered

	// dedup against a scratch copy so records cut by the cap stay available to later categories
	scratch := maps.Clone(seen)
	records, duplicates := enrich.Dedup(extracted.Records, scratch)
	session.Stats.Duplicates += duplicates
	if c.params.TargetCount > 0 && len(records) > c.params.TargetCount {
		records = records[:c.params.TargetCount]
	}
	enrich.Dedup(records, seen)
	session.Stats.Retained += len(records)

	c.transition(StateEnriching, category.Key)
	report := c.enricher.Enrich(ctx, page, c.opener, records, max(*remaining, 0), firstIndex)
	*remaining -= report.Attempted
	session.Errors = append(session.Errors, report.Errors...)
	session.Stats.Enriched += report.Enriched
	session.Stats.EnrichFailed += report.Failed
	session.Stats.Skipped += report.Skipped

	log.WithFields(logrus.Fields{
		"loaded":     loaded.FinalCount,
		"rounds":     loaded.Rounds,
		"reason":     loaded.Reason,
		"strategy":   extracted.Strategy,
		"retained":   len(records),
		"duplicates": duplicates,
		"enriched":   report.Enriched,
	}).Info("Harvested category")

	return report.Items, nil
}

func (c *Collector) failCategory(session *models.ExtractionSession, category models.Category, err error) {
	c.transition(StateCategoryFailed, category.Key)
	session.Stats.CategoriesFailed++
	session.Record("category:"+category.Key, models.KindCategoryFatal, err.Error())
	c.log.WithError(err).WithField("category", category.Key).Error("Category failed")
}

func (c *Collector) finish(session *models.ExtractionSession) *models.ExtractionSession {
	session.EndedAt = c.now()
	c.transition(StateDone, "")

	c.log.WithFields(logrus.Fields{
		"session":  session.ID,
		"items":    len(session.Collected),
		"errors":   len(session.Errors),
		"duration": session.Duration().String(),
	}).Info("Session finished")
	return session
}

func (c *Collector) transition(state State, category string) {
	c.mutex.Lock()
	c.state = state
	c.mutex.Unlock()

	fields := logrus.Fields{"state": state}
	if category != "" {
		fields["category"] = category
	}
	c.log.WithFields(fields).Debug("State transition")
}

// State returns the step the collector is currently in
func (c *Collector) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// updateStatistics refreshes the in-memory statistics from the store
func (c *Collector) updateStatistics(ctx context.Context) {
	if c.store == nil {
		return
	}

	topItems, err := c.store.GetTopItems(ctx, c.topItemsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top items")
		return
	}

	topAuthors, err := c.store.GetTopAuthors(ctx, c.topAuthorsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top authors")
		return
	}

	totalItems, err := c.store.GetTotalItems(ctx)
	if err != nil {
		c.log.WithError(err).Error("Failed to get total items")
		return
	}

	sessionCount, err := c.store.GetSessionCount(ctx)
	if err != nil {
		c.log.WithError(err).Error("Failed to get session count")
		return
	}

	latest, err := c.store.GetLatestSession(ctx)
	if err != nil {
		c.log.WithError(err).Error("Failed to get latest session")
		return
	}

	categoryStats := make(map[string]models.CategoryStats)
	for _, category := range c.categories {
		items, err := c.store.GetItemsByCategory(ctx, category.Key, 0)
		if err != nil {
			c.log.WithError(err).WithField("category", category.Key).Error("Failed to get items for category")
			continue
		}
		if len(items) == 0 {
			continue
		}
		// items come back ranked, the first one is the best scored
		categoryStats[category.Key] = models.CategoryStats{
			ItemCount: len(items),
			TopItem:   items[0],
		}
	}

	c.mutex.Lock()
	c.stats.TopItems = topItems
	c.stats.TopAuthors = topAuthors
	c.stats.TotalItems = totalItems
	c.stats.SessionCount = sessionCount
	c.stats.LastSession = latest
	c.stats.CategoryStats = categoryStats
	c.stats.LastUpdated = time.Now()
	c.mutex.Unlock()
}

// logStatistics logs the current statistics
func (c *Collector) logStatistics() {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	fields := logrus.Fields{
		"total_items":           c.stats.TotalItems,
		"sessions":              c.stats.SessionCount,
		"processed_in_run":      c.processedItemCount,
		"category_count":        len(c.categories),
		"categories_with_items": len(c.stats.CategoryStats),
		"running_since":         time.Since(c.stats.StartTime).String(),
	}
	if reporter, ok := c.opener.(rateLimitReporter); ok {
		remaining, reset, used := reporter.GetRateLimitStatus()
		fields["rate_remaining"] = remaining
		fields["rate_reset_sec"] = reset
		fields["rate_used"] = used
	}
	c.log.WithFields(fields).Info("Statistics updated")
}

// GetStatistics returns a copy of the current statistics
// note: we are using a mutex to lock the stats object so it can't be modified while we are reading it
func (c *Collector) GetStatistics() models.Statistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := c.stats
	stats.TopItems = slices.Clone(c.stats.TopItems)
	stats.TopAuthors = maps.Clone(c.stats.TopAuthors)
	stats.CategoryStats = maps.Clone(c.stats.CategoryStats)
	return stats
}
