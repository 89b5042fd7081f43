package enrich

import (
	"net/url"
	"strings"

	"github.com/brettboylen/reddit-harvester/models"
)

var trackingParams = map[string]bool{
	"ref":          true,
	"ref_source":   true,
	"ref_campaign": true,
	"share_id":     true,
	"context":      true,
	"rdt":          true,
	"fbclid":       true,
	"gclid":        true,
}

// NewItem wraps a listing record as an item that has not been enriched yet
func NewItem(record models.ListingRecord, discoveryIndex int) models.EnrichedItem {
	return models.EnrichedItem{
		ListingRecord:  record,
		Tags:           []string{},
		Replies:        []models.Reply{},
		DiscoveryIndex: discoveryIndex,
	}
}

// Merge folds detail data into an item. It never moves toward emptier data: a failed
// fetch leaves the item untouched, counters only grow and text, tags and replies are
// replaced only by non-empty values.
func Merge(item models.EnrichedItem, detail models.DetailRecord) models.EnrichedItem {
	if !detail.FetchSucceeded {
		return item
	}

	if detail.BodyText != "" {
		item.BodyText = detail.BodyText
	}
	if len(detail.Tags) > 0 {
		item.Tags = append([]string(nil), detail.Tags...)
	}
	if len(detail.Replies) > 0 {
		item.Replies = detail.Replies
	}
	item.Score = max(item.Score, detail.ScoreOverride)
	item.ReplyCount = max(item.ReplyCount, detail.ReplyCountOverride)
	if detail.ApprovalRatio != nil {
		ratio := *detail.ApprovalRatio
		item.ApprovalRatio = &ratio
	}
	if item.TimestampRaw == "" {
		item.TimestampRaw = detail.TimestampRaw
	}
	item.FetchSucceeded = true
	return item
}

// CanonicalURL reduces a detail URL to its identity: scheme, host, fragment, trailing
// slashes and tracking parameters are ignored. Reddit paths are case-insensitive.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Host == "" && u.Path == "") {
		return raw
	}

	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/"
	}
	if isReddit(u.Hostname()) {
		path = strings.ToLower(path)
	}

	query := u.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") || trackingParams[strings.ToLower(key)] {
			query.Del(key)
		}
	}
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func isReddit(host string) bool {
	host = strings.ToLower(host)
	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com") || host == "redd.it"
}

// Seen tracks canonical URLs already collected in a run
type Seen map[string]struct{}

// Dedup keeps the first record for every canonical detail URL, preserving order.
// Records without a detail URL are always kept. seen may carry keys from earlier
// calls and is updated in place; it may be nil.
func Dedup(records []models.ListingRecord, seen Seen) ([]models.ListingRecord, int) {
	if seen == nil {
		seen = make(Seen)
	}
	kept := make([]models.ListingRecord, 0, len(records))
	dropped := 0
	for _, record := range records {
		if record.DetailURL == "" {
			kept = append(kept, record)
			continue
		}
		key := CanonicalURL(record.DetailURL)
		if _, ok := seen[key]; ok {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, record)
	}
	return kept, dropped
}
