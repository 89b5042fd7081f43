package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-harvester/browser"
	"github.com/brettboylen/reddit-harvester/profile"
)

// growingPage simulates a listing whose item count grows by a fixed increment on every
// successful reveal, up to a ceiling
type growingPage struct {
	count       int
	increment   int
	ceiling     int
	scrollGrows bool
	oscillate   bool
	controls    string
	contentErr  error
	clicks      []string
}

func (p *growingPage) grow() {
	if p.oscillate {
		if p.count%2 == 0 {
			p.count++
		} else {
			p.count--
		}
		return
	}
	p.count = min(p.count+p.increment, p.ceiling)
}

func (p *growingPage) html() string {
	var b strings.Builder
	b.WriteString("<html><body><div id=\"list\">")
	for i := 0; i < p.count; i++ {
		fmt.Fprintf(&b, `<div class="item">item %d</div>`, i)
	}
	b.WriteString("</div>")
	b.WriteString(p.controls)
	b.WriteString("</body></html>")
	return b.String()
}

func (p *growingPage) Navigate(context.Context, string) error { return nil }

func (p *growingPage) Content(context.Context) (string, error) {
	if p.contentErr != nil {
		return "", p.contentErr
	}
	return p.html(), nil
}

func (p *growingPage) Evaluate(context.Context, string, any) error {
	if !p.scrollGrows {
		return browser.ErrUnsupported
	}
	p.grow()
	return nil
}

func (p *growingPage) Click(_ context.Context, selector string, index int) (bool, error) {
	p.clicks = append(p.clicks, fmt.Sprintf("%s#%d", selector, index))
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.html()))
	if err != nil {
		return false, err
	}
	if doc.Find(selector).Length() <= index {
		return false, nil
	}
	p.grow()
	return true, nil
}

func (p *growingPage) WaitFor(context.Context, string, time.Duration) error { return nil }
func (p *growingPage) URL() string                                          { return "https://example.com/list" }
func (p *growingPage) Close() error                                         { return nil }

var itemCounter = CounterFunc(func(doc *goquery.Document) int {
	return doc.Find("div.item").Length()
})

func newLoader(t *testing.T, spec profile.LoaderSpec) *Loader {
	t.Helper()
	log, _ := test.NewNullLogger()
	l := New(spec, itemCounter, log)
	l.Settle = 0
	return l
}

const loadMoreButton = `<button class="more">Load more</button>`

func TestLoadUntilConvergesBelowTarget(t *testing.T) {
	tests := []struct {
		start     int
		increment int
		ceiling   int
	}{
		{start: 0, increment: 10, ceiling: 50},
		{start: 10, increment: 10, ceiling: 50},
		{start: 5, increment: 5, ceiling: 100},
		{start: 0, increment: 25, ceiling: 25},
		{start: 3, increment: 7, ceiling: 73},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("ceiling=%d/increment=%d", tc.ceiling, tc.increment), func(t *testing.T) {
			page := &growingPage{count: tc.start, increment: tc.increment, ceiling: tc.ceiling, controls: loadMoreButton}
			l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}})

			result, err := l.LoadUntil(context.Background(), page, tc.ceiling+10, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.ceiling, result.FinalCount)
			assert.Equal(t, ReasonExhausted, result.Reason)
			assert.LessOrEqual(t, result.Rounds, tc.ceiling/tc.increment+2)
		})
	}
}

func TestLoadUntilReachesTarget(t *testing.T) {
	page := &growingPage{count: 10, increment: 10, ceiling: 200, controls: loadMoreButton}
	l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}})

	result, err := l.LoadUntil(context.Background(), page, 35, 2)
	require.NoError(t, err)
	assert.Equal(t, Result{FinalCount: 40, Rounds: 3, Reason: ReasonTarget}, result)
}

func TestLoadUntilAlreadyAtTarget(t *testing.T) {
	page := &growingPage{count: 30, increment: 10, ceiling: 200, controls: loadMoreButton}
	l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}})

	result, err := l.LoadUntil(context.Background(), page, 25, 2)
	require.NoError(t, err)
	assert.Equal(t, Result{FinalCount: 30, Rounds: 0, Reason: ReasonTarget}, result)
	assert.Empty(t, page.clicks)
}

func TestLoadUntilNoRevealControl(t *testing.T) {
	page := &growingPage{count: 12, increment: 10, ceiling: 200}
	l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}, Scroll: true})

	result, err := l.LoadUntil(context.Background(), page, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, Result{FinalCount: 12, Rounds: 3, Reason: ReasonExhausted}, result)
}

func TestLoadUntilInfiniteScroll(t *testing.T) {
	page := &growingPage{count: 0, increment: 20, ceiling: 60, scrollGrows: true}
	l := newLoader(t, profile.LoaderSpec{Scroll: true})

	result, err := l.LoadUntil(context.Background(), page, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, 60, result.FinalCount)
	assert.Equal(t, ReasonExhausted, result.Reason)
	assert.Equal(t, 5, result.Rounds)
}

func TestLoadUntilKeywordButtons(t *testing.T) {
	controls := `<button disabled>Load more</button>` +
		`<button style="display: none">Load more</button>` +
		`<button aria-hidden="true">See more</button>` +
		`<a role="button">Share</a>` +
		`<button class="real">  Show MORE posts </button>`
	page := &growingPage{count: 5, increment: 5, ceiling: 100, controls: controls}
	p, err := profile.Parse([]byte("name: kw\nfields:\n  title: [{selector: h3}]\n  detail_url: [{selector: a, attr: href}]\n"))
	require.NoError(t, err)
	l := newLoader(t, p.Loader)

	result, err := l.LoadUntil(context.Background(), page, 15, 2)
	require.NoError(t, err)
	assert.Equal(t, ReasonTarget, result.Reason)
	assert.Equal(t, 15, result.FinalCount)
	require.NotEmpty(t, page.clicks)
	assert.Equal(t, `button, [role="button"]#4`, page.clicks[0])
}

func TestLoadUntilExplicitSelectorsFirst(t *testing.T) {
	controls := `<a class="next" href="/p2">next</a><button>Load more</button>`
	page := &growingPage{count: 5, increment: 5, ceiling: 100, controls: controls}
	l := newLoader(t, profile.LoaderSpec{
		LoadMore:       []string{"nav.missing a", "a.next"},
		Keywords:       []string{"load more"},
		ButtonSelector: "button",
	})

	_, err := l.LoadUntil(context.Background(), page, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.next#0"}, page.clicks)
}

func TestLoadUntilMaxRounds(t *testing.T) {
	page := &growingPage{count: 10, oscillate: true, controls: loadMoreButton}
	l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}})
	l.MaxRounds = 5

	result, err := l.LoadUntil(context.Background(), page, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxRounds, result.Reason)
	assert.Equal(t, 5, result.Rounds)
}

func TestLoadUntilCancelled(t *testing.T) {
	page := &growingPage{count: 10, increment: 1, ceiling: 1000, controls: loadMoreButton}
	l := newLoader(t, profile.LoaderSpec{LoadMore: []string{"button.more"}})
	l.Settle = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := l.LoadUntil(ctx, page, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, result.Reason)
	assert.Equal(t, 1, result.Rounds)
}

func TestLoadUntilUnreadablePage(t *testing.T) {
	page := &growingPage{contentErr: errors.New("target closed")}
	l := newLoader(t, profile.LoaderSpec{})

	_, err := l.LoadUntil(context.Background(), page, 10, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")
}
