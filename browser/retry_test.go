package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-harvester/models"
)

type flakyPage struct {
	failures int
	calls    int
	block    bool
	html     string
	url      string
}

func (p *flakyPage) Navigate(ctx context.Context, target string) error {
	p.calls++
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.calls <= p.failures {
		return errors.New("connection reset")
	}
	p.url = target
	return nil
}

func (p *flakyPage) Content(context.Context) (string, error) { return p.html, nil }
func (p *flakyPage) Evaluate(context.Context, string, any) error {
	return ErrUnsupported
}
func (p *flakyPage) Click(context.Context, string, int) (bool, error) { return false, nil }
func (p *flakyPage) WaitFor(context.Context, string, time.Duration) error {
	return nil
}
func (p *flakyPage) URL() string  { return p.url }
func (p *flakyPage) Close() error { return nil }

func TestNavigateWithRetryRecovers(t *testing.T) {
	log, hook := test.NewNullLogger()
	page := &flakyPage{failures: 2}
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond, Timeout: time.Second}

	err := NavigateWithRetry(context.Background(), page, "https://example.com/r/golang", policy, log)
	require.NoError(t, err)
	assert.Equal(t, 3, page.calls)
	assert.Equal(t, "https://example.com/r/golang", page.URL())
	assert.Len(t, hook.AllEntries(), 2, "one warning per retry")
}

func TestNavigateWithRetryExhausts(t *testing.T) {
	log, _ := test.NewNullLogger()
	page := &flakyPage{failures: 10}
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond, Timeout: time.Second}

	err := NavigateWithRetry(context.Background(), page, "https://example.com", policy, log)
	require.Error(t, err)
	assert.Equal(t, 3, page.calls)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNavigateWithRetryTimeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	page := &flakyPage{block: true}
	policy := RetryPolicy{Attempts: 2, Delay: time.Millisecond, Timeout: 10 * time.Millisecond}

	err := NavigateWithRetry(context.Background(), page, "https://example.com", policy, log)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNavigationTimeout))
	assert.Equal(t, 2, page.calls)
}

func TestSnapshotResolvesURLs(t *testing.T) {
	page := &flakyPage{
		html: `<html><body><a class="x" href="/r/golang/comments/abc/t/">x</a></body></html>`,
		url:  "https://old.reddit.com/r/golang/",
	}

	doc, err := Snapshot(context.Background(), page)
	require.NoError(t, err)
	href, _ := doc.Find("a.x").Attr("href")
	assert.Equal(t, "https://old.reddit.com/r/golang/comments/abc/t/", AbsoluteURL(doc, href))
	assert.Equal(t, "", AbsoluteURL(doc, "  "))

	bare, err := goquery.NewDocumentFromReader(strings.NewReader("<p></p>"))
	require.NoError(t, err)
	assert.Equal(t, "/relative", AbsoluteURL(bare, "/relative"))
}
