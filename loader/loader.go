// Package loader reveals more items on incrementally loading listings until a target
// count is reached or the page stops producing new content.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/profile"
)

const (
	defaultMaxRounds = 100
	scrollScript     = `window.scrollTo(0, document.body.scrollHeight)`
)

// Reason says why loading stopped
type Reason string

const (
	ReasonTarget    Reason = "target"
	ReasonExhausted Reason = "exhausted"
	ReasonMaxRounds Reason = "max_rounds"
	ReasonCancelled Reason = "cancelled"
)

// Counter counts the item containers in a snapshot
type Counter interface {
	Count(doc *goquery.Document) int
}

// CounterFunc adapts a function to Counter
type CounterFunc func(doc *goquery.Document) int

func (f CounterFunc) Count(doc *goquery.Document) int {
	return f(doc)
}

// Result reports how a load ended
type Result struct {
	FinalCount int    `json:"final_count"`
	Rounds     int    `json:"rounds"`
	Reason     Reason `json:"reason"`
}

// Loader drives reveal rounds on a page
type Loader struct {
	counter  Counter
	spec     profile.LoaderSpec
	keywords []string

	// Settle is the pause after every reveal before counting again
	Settle time.Duration
	// MaxRounds bounds the rounds even when counts keep changing
	MaxRounds int

	log *logrus.Logger
}

// New creates a loader using the profile's reveal settings
func New(spec profile.LoaderSpec, counter Counter, log *logrus.Logger) *Loader {
	keywords := make([]string, 0, len(spec.Keywords))
	for _, k := range spec.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Loader{
		counter:   counter,
		spec:      spec,
		keywords:  keywords,
		Settle:    time.Duration(spec.SettleMs) * time.Millisecond,
		MaxRounds: defaultMaxRounds,
		log:       log,
	}
}

// LoadUntil issues reveal rounds until the page holds at least target containers or
// the count has not changed for maxStagnantRounds consecutive rounds. Running out of
// content is a normal outcome, not an error; an error is returned only when the page
// content cannot be read before the first round.
func (l *Loader) LoadUntil(ctx context.Context, page browser.Page, target, maxStagnantRounds int) (Result, error) {
	if maxStagnantRounds < 1 {
		maxStagnantRounds = 1
	}
	maxRounds := l.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	count, err := l.count(ctx, page)
	if err != nil {
		return Result{}, fmt.Errorf("failed to count items: %w", err)
	}

	result := Result{FinalCount: count}
	if count >= target {
		result.Reason = ReasonTarget
		return result, nil
	}

	stagnant := 0
	for result.Rounds < maxRounds {
		if ctx.Err() != nil {
			result.Reason = ReasonCancelled
			return result, nil
		}
		result.Rounds++

		revealed := l.reveal(ctx, page)
		if err := sleep(ctx, l.Settle); err != nil {
			result.Reason = ReasonCancelled
			return result, nil
		}

		next, err := l.count(ctx, page)
		if err != nil {
			l.log.WithError(err).WithField("round", result.Rounds).Warn("Failed to recount items")
			next = count
		}

		l.log.WithFields(logrus.Fields{
			"round":    result.Rounds,
			"revealed": revealed,
			"count":    next,
			"target":   target,
		}).Debug("Loader round finished")

		if next >= target {
			result.FinalCount = next
			result.Reason = ReasonTarget
			return result, nil
		}
		if next == count {
			stagnant++
			if stagnant >= maxStagnantRounds {
				result.FinalCount = next
				result.Reason = ReasonExhausted
				return result, nil
			}
		} else {
			stagnant = 0
		}
		count = next
		result.FinalCount = count
	}

	result.Reason = ReasonMaxRounds
	return result, nil
}

func (l *Loader) count(ctx context.Context, page browser.Page) (int, error) {
	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		return 0, err
	}
	return l.counter.Count(doc), nil
}

// reveal scrolls when enabled and then tries the click strategies in order; the first
// click that makes progress ends the action
func (l *Loader) reveal(ctx context.Context, page browser.Page) bool {
	scrolled := false
	if l.spec.Scroll {
		err := page.Evaluate(ctx, scrollScript, nil)
		switch {
		case err == nil:
			scrolled = true
		case errors.Is(err, browser.ErrUnsupported):
		default:
			l.log.WithError(err).Debug("Scroll failed")
		}
	}

	doc, err := browser.Snapshot(ctx, page)
	if err != nil {
		l.log.WithError(err).Debug("Failed to snapshot page for reveal")
		return scrolled
	}

	for _, selector := range l.spec.LoadMore {
		for i := 0; i < doc.Find(selector).Length(); i++ {
			if l.click(ctx, page, selector, i) {
				return true
			}
		}
	}

	if len(l.keywords) == 0 || l.spec.ButtonSelector == "" {
		return scrolled
	}
	clicked := false
	doc.Find(l.spec.ButtonSelector).EachWithBreak(func(i int, button *goquery.Selection) bool {
		if !l.matchesKeyword(button) || !usable(button) {
			return true
		}
		clicked = l.click(ctx, page, l.spec.ButtonSelector, i)
		return !clicked
	})
	return clicked || scrolled
}

func (l *Loader) click(ctx context.Context, page browser.Page, selector string, index int) bool {
	ok, err := page.Click(ctx, selector, index)
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"selector": selector,
			"index":    index,
		}).Debug("Reveal click failed")
		return false
	}
	return ok
}

func (l *Loader) matchesKeyword(button *goquery.Selection) bool {
	text := strings.ToLower(strings.Join(strings.Fields(button.Text()), " "))
	if text == "" {
		text = strings.ToLower(button.AttrOr("aria-label", ""))
	}
	for _, keyword := range l.keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// usable reports whether a control is visible and enabled as far as markup tells
func usable(s *goquery.Selection) bool {
	if _, disabled := s.Attr("disabled"); disabled {
		return false
	}
	if _, hidden := s.Attr("hidden"); hidden {
		return false
	}
	if s.AttrOr("aria-disabled", "") == "true" || s.AttrOr("aria-hidden", "") == "true" {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
	return !strings.Contains(style, "display:none") && !strings.Contains(style, "visibility:hidden")
}

func sleep(ctx context.Context, d time.Duration) error {
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
