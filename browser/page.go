// Package browser defines the page capability the harvesting pipeline drives.
//
// A Page is an I/O boundary only: it navigates, serializes its DOM, evaluates an
// expression or clicks an element. All querying and parsing happens host side on the
// serialized DOM through goquery, so extraction logic never runs inside the page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupported is returned by pages that cannot perform an operation, e.g. script
// evaluation on a static HTTP page
var ErrUnsupported = errors.New("operation not supported by page")

// Page is one browsing context
type Page interface {
	// Navigate loads url and replaces the page content.
	Navigate(ctx context.Context, url string) error
	// Content returns the current DOM serialized as HTML.
	Content(ctx context.Context) (string, error)
	// Evaluate runs a script expression and decodes its result into res (res may be nil).
	Evaluate(ctx context.Context, expression string, res any) error
	// Click clicks the index-th element matching selector. It reports false when the
	// element is missing or the click could not make progress.
	Click(ctx context.Context, selector string, index int) (bool, error)
	// WaitFor blocks until selector matches or timeout expires.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// URL is the address of the current document.
	URL() string
	Close() error
}

// Opener creates isolated pages, used when detail pages are fetched in parallel
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

// Snapshot parses the page's current DOM for host-side querying
func Snapshot(ctx context.Context, page Page) (*goquery.Document, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	if u, err := url.Parse(page.URL()); err == nil && u.Scheme != "" {
		doc.Url = u
	}
	return doc, nil
}

// AbsoluteURL resolves href against the document's URL; it returns href unchanged when
// the document has no URL or href does not parse
func AbsoluteURL(doc *goquery.Document, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || doc == nil || doc.Url == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return doc.Url.ResolveReference(ref).String()
}
