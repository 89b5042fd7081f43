// Package extract turns page snapshots into listing and detail records.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/models"
	"github.com/brettboylen/reddit-harvester/profile"
	"github.com/brettboylen/reddit-harvester/resolve"
)

const (
	defaultBodyCap       = 10000
	defaultMaxReplyDepth = 8
	defaultMaxReplies    = 500
)

type selectionStrategies = []resolve.Strategy[*goquery.Selection]

// ContainerStrategy finds candidate item containers under a root
type ContainerStrategy struct {
	Name string
	Find func(root *goquery.Selection) *goquery.Selection
}

// Extractor reads listing and detail records using a site profile
type Extractor struct {
	containers       []ContainerStrategy
	title            selectionStrategies
	author           selectionStrategies
	detailURL        selectionStrategies
	timestamp        selectionStrategies
	score            selectionStrategies
	replyCount       selectionStrategies
	preview          selectionStrategies
	previewThreshold int
	detail           detailStrategies

	BodyCap       int
	MaxReplyDepth int
	MaxReplies    int

	log *logrus.Logger
}

// Result is the outcome of extracting one listing snapshot
type Result struct {
	Records    []models.ListingRecord
	Errors     []models.SessionError
	Strategy   string
	Discovered int
	Dropped    int
}

// New builds an extractor from a profile
func New(p *profile.Profile, log *logrus.Logger) *Extractor {
	containers := make([]ContainerStrategy, 0, len(p.Containers)+3)
	for _, sel := range p.Containers {
		containers = append(containers, SelectorContainers(sel))
	}
	containers = append(containers, BuiltinContainers()...)

	return &Extractor{
		containers:       containers,
		title:            resolve.Selections(p.Fields.Title),
		author:           resolve.Selections(p.Fields.Author),
		detailURL:        resolve.Selections(p.Fields.DetailURL),
		timestamp:        resolve.Selections(p.Fields.Timestamp),
		score:            resolve.Selections(p.Fields.Score),
		replyCount:       resolve.Selections(p.Fields.ReplyCount),
		preview:          resolve.Selections(p.Fields.Preview),
		previewThreshold: p.PreviewThreshold,
		detail:           newDetailStrategies(p.Detail),
		BodyCap:          defaultBodyCap,
		MaxReplyDepth:    defaultMaxReplyDepth,
		MaxReplies:       defaultMaxReplies,
		log:              log,
	}
}

// Discover adopts the first container strategy that yields at least one container.
// Results of different strategies are never merged.
func (e *Extractor) Discover(root *goquery.Selection) (*goquery.Selection, string) {
	for _, strategy := range e.containers {
		found := strategy.Find(root)
		if found != nil && found.Length() > 0 {
			return found, strategy.Name
		}
	}
	return nil, ""
}

// Count returns how many containers the snapshot currently holds
func (e *Extractor) Count(doc *goquery.Document) int {
	found, _ := e.Discover(doc.Selection)
	if found == nil {
		return 0
	}
	return found.Length()
}

// ExtractAll turns every discovered container into a listing record, in DOM order.
// Containers failing the retention rule are dropped; a container whose extraction
// panics is recorded and skipped without affecting its siblings.
func (e *Extractor) ExtractAll(doc *goquery.Document, categoryKey string) Result {
	result := Result{
		Records: make([]models.ListingRecord, 0),
		Errors:  make([]models.SessionError, 0),
	}

	found, strategy := e.Discover(doc.Selection)
	if found == nil {
		result.Errors = append(result.Errors, models.SessionError{
			Scope:   "category:" + categoryKey,
			Kind:    models.KindContainerDiscoveryExhausted,
			Message: models.ErrContainerDiscoveryExhausted.Error(),
		})
		return result
	}
	result.Strategy = strategy
	result.Discovered = found.Length()

	found.Each(func(i int, container *goquery.Selection) {
		record, err := e.extractRecord(doc, container, categoryKey)
		if err != nil {
			result.Errors = append(result.Errors, models.SessionError{
				Scope:   fmt.Sprintf("category:%s/container[%d]", categoryKey, i),
				Kind:    models.KindContainerFailed,
				Message: err.Error(),
			})
			return
		}
		if !Retain(record, e.previewThreshold) {
			result.Dropped++
			return
		}
		result.Records = append(result.Records, record)
	})

	e.log.WithFields(logrus.Fields{
		"category":       categoryKey,
		"strategy":       strategy,
		"title_strategy": resolve.Which(found.First(), e.title),
		"discovered":     result.Discovered,
		"retained":       len(result.Records),
		"dropped":        result.Dropped,
	}).Debug("Extracted listing records")

	return result
}

func (e *Extractor) extractRecord(doc *goquery.Document, container *goquery.Selection, categoryKey string) (record models.ListingRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("container extraction panicked: %v", r)
		}
	}()

	title, ok := resolve.Resolve(container, e.title)
	if !ok {
		// not a session error: the retention rule drops the record
		e.log.WithFields(logrus.Fields{
			"category": categoryKey,
			"field":    "title",
			"kind":     models.KindFieldResolutionExhausted,
		}).Debug("No title strategy matched")
	}
	author, _ := resolve.Resolve(container, e.author)
	href, _ := resolve.Resolve(container, e.detailURL)
	timestamp, _ := resolve.Resolve(container, e.timestamp)
	score, _ := resolve.ResolveNumber(container, e.score)
	replies, _ := resolve.ResolveNumber(container, e.replyCount)
	preview, _ := resolve.Resolve(container, e.preview)

	detailURL := browser.AbsoluteURL(doc, href)

	return models.ListingRecord{
		SourceID:     SourceID(detailURL),
		Title:        title,
		Author:       author,
		DetailURL:    detailURL,
		TimestampRaw: timestamp,
		Score:        score,
		ReplyCount:   replies,
		PreviewText:  preview,
		CategoryKey:  categoryKey,
	}, nil
}

// Retain reports whether a record is real content: it needs a title and at least one
// engagement signal or a preview longer than threshold characters
func Retain(record models.ListingRecord, threshold int) bool {
	if strings.TrimSpace(record.Title) == "" {
		return false
	}
	return record.Score > 0 ||
		record.ReplyCount > 0 ||
		len([]rune(record.PreviewText)) > threshold
}

// SourceID derives an item id from its detail URL: the segment after "comments" on
// reddit-style paths, otherwise the last path segment. Unparsable URLs give "".
func SourceID(detailURL string) string {
	if detailURL == "" {
		return ""
	}
	u, err := url.Parse(detailURL)
	if err != nil {
		return ""
	}

	segments := make([]string, 0)
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	for i, seg := range segments {
		if seg == "comments" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
