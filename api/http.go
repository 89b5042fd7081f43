package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/reddit-harvester/browser"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodyBytes     = 8 << 20
)

// RateLimitedError indicates a 429 response; Wait is how long the server asked us to back off
type RateLimitedError struct {
	URL  string
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s (retry in %s)", e.URL, e.Wait)
}

// Source opens static HTTP pages that share one client and one request pacer
type Source struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	log       *logrus.Logger

	rateHeadersMutex    sync.RWMutex
	rateRemainingCached int
	rateResetCached     int
	rateUsedCached      int
	pausedUntil         time.Time
}

// NewSource creates a source; requestDelay is the minimum gap between two requests
func NewSource(client *http.Client, userAgent string, requestDelay time.Duration, log *logrus.Logger) *Source {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	limit := rate.Inf
	if requestDelay > 0 {
		limit = rate.Every(requestDelay)
	}

	return &Source{
		client:          client,
		userAgent:       userAgent,
		limiter:         rate.NewLimiter(limit, 1),
		log:             log,
		rateResetCached: 600,
	}
}

// Open returns a fresh page; pages are independent and safe to use in parallel
func (s *Source) Open(ctx context.Context) (browser.Page, error) {
	return s.NewPage(), nil
}

// NewPage returns a fresh page
func (s *Source) NewPage() *Page {
	return &Page{source: s, visited: make(map[string]bool)}
}

// GetRateLimitStatus returns the last seen rate limit headers (remaining, reset seconds, used)
func (s *Source) GetRateLimitStatus() (int, int, int) {
	s.rateHeadersMutex.RLock()
	defer s.rateHeadersMutex.RUnlock()
	return s.rateRemainingCached, s.rateResetCached, s.rateUsedCached
}

// fetch performs one paced GET and returns the body
func (s *Source) fetch(ctx context.Context, target string) (string, error) {
	if err := s.waitForWindow(ctx); err != nil {
		return "", err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	s.updateRateLimits(resp)

	s.log.WithFields(logrus.Fields{
		"url":         target,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("HTTP request completed")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := time.Duration(getHeaderAsInt(resp.Header, "Retry-After")) * time.Second
		s.pause(wait)
		return "", &RateLimitedError{URL: target, Wait: wait}
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("request failed with status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		// 4xx other than 429 will not get better on retry
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", retry.Unrecoverable(fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// updateRateLimits caches the X-Ratelimit-* headers and pauses when the window is spent
func (s *Source) updateRateLimits(resp *http.Response) {
	// X-Ratelimit-Used: requests used in the current period
	// X-Ratelimit-Remaining: requests left in the current period
	// X-Ratelimit-Reset: seconds until the period ends
	if resp.Header.Get("X-Ratelimit-Reset") == "" && resp.Header.Get("X-Ratelimit-Used") == "" {
		return
	}
	used := getHeaderAsInt(resp.Header, "X-Ratelimit-Used")
	remaining := getHeaderAsInt(resp.Header, "X-Ratelimit-Remaining")
	reset := getHeaderAsInt(resp.Header, "X-Ratelimit-Reset")

	s.rateHeadersMutex.Lock()
	s.rateRemainingCached = remaining
	s.rateResetCached = reset
	s.rateUsedCached = used
	s.rateHeadersMutex.Unlock()

	if resp.Header.Get("X-Ratelimit-Remaining") != "" && remaining < 1 && reset > 0 {
		s.pause(time.Duration(reset) * time.Second)
	}

	s.log.WithFields(logrus.Fields{
		"used":      used,
		"remaining": remaining,
		"reset_sec": reset,
	}).Debug("Updated rate limit status from headers")
}

func (s *Source) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	s.rateHeadersMutex.Lock()
	defer s.rateHeadersMutex.Unlock()
	until := time.Now().Add(d)
	if until.After(s.pausedUntil) {
		s.pausedUntil = until
	}
}

func (s *Source) waitForWindow(ctx context.Context) error {
	s.rateHeadersMutex.RLock()
	wait := time.Until(s.pausedUntil)
	s.rateHeadersMutex.RUnlock()
	if wait <= 0 {
		return nil
	}

	s.log.WithField("wait", wait.String()).Warn("Rate limit window spent, waiting")
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Page is a static HTML page. Clicking a link follows its href and appends the new
// document's body to the accumulated content, which is how paginated listings
// "load more" without script support.
type Page struct {
	source *Source

	mutex   sync.Mutex
	url     string
	bodies  []string
	visited map[string]bool
}

var _ browser.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, target string) error {
	body, err := p.source.fetch(ctx, target)
	if err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.url = target
	p.bodies = []string{body}
	p.visited = map[string]bool{target: true}
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mutex.Lock()
	bodies := append([]string(nil), p.bodies...)
	p.mutex.Unlock()

	if len(bodies) == 0 {
		return "", errors.New("page has not been navigated")
	}
	if len(bodies) == 1 {
		return bodies[0], nil
	}

	base, err := goquery.NewDocumentFromReader(strings.NewReader(bodies[0]))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	target := base.Find("body").First()
	for _, body := range bodies[1:] {
		next, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to parse appended page: %w", err)
		}
		target.AppendSelection(next.Find("body").Children())
	}
	return goquery.OuterHtml(base.Find("html").First())
}

// Evaluate is not available without a script engine
func (p *Page) Evaluate(context.Context, string, any) error {
	return browser.ErrUnsupported
}

func (p *Page) Click(ctx context.Context, selector string, index int) (bool, error) {
	doc, err := browser.Snapshot(ctx, p)
	if err != nil {
		return false, err
	}

	el := doc.Find(selector).Eq(index)
	if el.Length() == 0 {
		return false, nil
	}
	href, ok := el.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return false, nil
	}
	next := browser.AbsoluteURL(doc, href)

	p.mutex.Lock()
	seen := p.visited[next]
	p.mutex.Unlock()
	if seen {
		return false, nil
	}

	body, err := p.source.fetch(ctx, next)
	if err != nil {
		return false, fmt.Errorf("follow %s: %w", next, err)
	}

	p.mutex.Lock()
	p.bodies = append(p.bodies, body)
	p.visited[next] = true
	p.mutex.Unlock()

	p.source.log.WithFields(logrus.Fields{
		"selector": selector,
		"next_url": next,
	}).Debug("Followed pagination link")
	return true, nil
}

// WaitFor checks the selector once; static content does not change while waiting
func (p *Page) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	doc, err := browser.Snapshot(ctx, p)
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("selector %q not present on %s", selector, p.URL())
	}
	return nil
}

func (p *Page) URL() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.url
}

func (p *Page) Close() error {
	return nil
}

func getHeaderAsInt(header http.Header, name string) int {
	value := header.Get(name)
	if value == "" {
		return 0
	}

	// reddit reports some counters as floats, e.g. "598.0"
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return int(f)
	}
	return 0
}
