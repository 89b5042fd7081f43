// Package enrich revisits listing items on their own pages and merges the detail data
// into them.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/models"
)

const (
	defaultItemTimeout  = 90 * time.Second
	defaultReadyTimeout = 5 * time.Second
)

// DetailReader builds a detail record from a detail page snapshot
type DetailReader interface {
	ExtractDetail(doc *goquery.Document) models.DetailRecord
}

// Enricher fetches detail pages for listing records
type Enricher struct {
	reader DetailReader
	log    *logrus.Logger

	// ItemTimeout bounds one item including its retries
	ItemTimeout time.Duration
	// Concurrency above 1 fetches through isolated pages from an Opener
	Concurrency  int
	Retry        browser.RetryPolicy
	Ready        string
	ReadyTimeout time.Duration
}

// Report is the outcome of one Enrich call
type Report struct {
	Items     []models.EnrichedItem
	Errors    []models.SessionError
	Attempted int
	Enriched  int
	Failed    int
	Skipped   int
}

// New creates an enricher with the default retry policy
func New(reader DetailReader, log *logrus.Logger) *Enricher {
	return &Enricher{
		reader:       reader,
		log:          log,
		ItemTimeout:  defaultItemTimeout,
		Concurrency:  1,
		Retry:        browser.DefaultRetryPolicy(),
		ReadyTimeout: defaultReadyTimeout,
	}
}

type job struct {
	index int
	url   string
}

type outcome struct {
	detail models.DetailRecord
	err    error
}

// Enrich returns one item per record in input order. At most limit records with a
// detail URL are fetched; the rest, records without a detail URL and records whose
// fetch fails keep their listing data with FetchSucceeded=false.
func (e *Enricher) Enrich(ctx context.Context, page browser.Page, opener browser.Opener, records []models.ListingRecord, limit int, firstIndex int) Report {
	report := Report{
		Items:  make([]models.EnrichedItem, len(records)),
		Errors: make([]models.SessionError, 0),
	}

	jobs := make([]job, 0, len(records))
	for i, record := range records {
		report.Items[i] = NewItem(record, firstIndex+i)
		switch {
		case record.DetailURL == "":
			report.Skipped++
		case len(jobs) >= limit:
			report.Skipped++
		default:
			jobs = append(jobs, job{index: i, url: record.DetailURL})
		}
	}
	report.Attempted = len(jobs)

	outcomes := make([]outcome, len(jobs))
	if e.Concurrency > 1 && opener != nil && len(jobs) > 1 {
		e.fetchParallel(ctx, opener, jobs, outcomes)
	} else {
		for i, j := range jobs {
			detail, err := e.fetch(ctx, page, j.url)
			outcomes[i] = outcome{detail: detail, err: err}
		}
	}

	// merge in input order so the result does not depend on completion order
	for i, j := range jobs {
		o := outcomes[i]
		if o.err != nil {
			report.Failed++
			report.Errors = append(report.Errors, models.SessionError{
				Scope:   "item:" + j.url,
				Kind:    models.KindOf(o.err, models.KindDetailFetchFailed),
				Message: o.err.Error(),
			})
			e.log.WithError(o.err).WithField("url", j.url).Warn("Failed to fetch item details")
			continue
		}
		report.Items[j.index] = Merge(report.Items[j.index], o.detail)
		report.Enriched++
	}

	e.log.WithFields(logrus.Fields{
		"records":  len(records),
		"enriched": report.Enriched,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
	}).Info("Enrichment finished")

	return report
}

func (e *Enricher) fetchParallel(ctx context.Context, opener browser.Opener, jobs []job, outcomes []outcome) {
	var g errgroup.Group
	g.SetLimit(e.Concurrency)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			page, err := opener.Open(ctx)
			if err != nil {
				outcomes[i] = outcome{err: fmt.Errorf("%w: open page: %v", models.ErrDetailFetchFailed, err)}
				return nil
			}
			defer page.Close()
			detail, err := e.fetch(ctx, page, j.url)
			outcomes[i] = outcome{detail: detail, err: err}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Enricher) fetch(ctx context.Context, page browser.Page, target string) (models.DetailRecord, error) {
	if e.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.ItemTimeout)
		defer cancel()
	}

	if err := browser.NavigateWithRetry(ctx, page, target, e.Retry, e.log); err != nil {
		return models.DetailRecord{}, fmt.Errorf("%w: %v", models.ErrDetailFetchFailed, err)
	}
	if e.Ready != "" {
		if err := page.WaitFor(ctx, e.Ready, e.ReadyTimeout); err != nil {
			e.log.WithError(err).WithField("url", target).Debug("Detail page not ready, reading anyway")
		}
	}

	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return models.DetailRecord{}, fmt.Errorf("%w: %v", models.ErrDetailFetchFailed, err)
	}
	return e.reader.ExtractDetail(doc), nil
}
