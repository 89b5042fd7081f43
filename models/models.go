package models

import (
	"time"

	"github.com/google/uuid"
)

// Category is a listing to harvest, e.g. a subreddit feed or a search result page
type Category struct {
	Key        string `json:"key"`
	ListingURL string `json:"listing_url"`
}

// RunParams holds the per-run limits handed to the collector
type RunParams struct {
	TargetCount       int `json:"target_count"`
	MaxStagnantRounds int `json:"max_stagnant_rounds"`
	EnrichmentCap     int `json:"enrichment_cap"`
	RequestDelayMs    int `json:"request_delay_ms"`
}

// ListingRecord is one item discovered on a listing page, before enrichment
type ListingRecord struct {
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	DetailURL    string `json:"detail_url"`
	TimestampRaw string `json:"timestamp_raw"`
	Score        int    `json:"score"`
	ReplyCount   int    `json:"reply_count"`
	PreviewText  string `json:"preview_text"`
	CategoryKey  string `json:"category_key"`
}

// Reply is a comment on an item's detail page; Children holds nested replies
type Reply struct {
	Author       string  `json:"author"`
	BodyText     string  `json:"body_text"`
	Score        int     `json:"score"`
	TimestampRaw string  `json:"timestamp_raw"`
	Children     []Reply `json:"children,omitempty"`
}

// DetailRecord holds what was read from an item's own page
type DetailRecord struct {
	BodyText           string   `json:"body_text"`
	Tags               []string `json:"tags"`
	Replies            []Reply  `json:"replies"`
	ScoreOverride      int      `json:"score_override"`
	ReplyCountOverride int      `json:"reply_count_override"`
	ApprovalRatio      *float64 `json:"approval_ratio,omitempty"`
	TimestampRaw       string   `json:"timestamp_raw"`
	FetchSucceeded     bool     `json:"fetch_succeeded"`
}

// EnrichedItem is a listing record merged with its detail data and scored
type EnrichedItem struct {
	ListingRecord
	BodyText        string    `json:"body_text"`
	Tags            []string  `json:"tags"`
	Replies         []Reply   `json:"replies"`
	ApprovalRatio   *float64  `json:"approval_ratio,omitempty"`
	FetchSucceeded  bool      `json:"fetch_succeeded"`
	PublishedAt     time.Time `json:"published_at"`
	AgeHours        float64   `json:"age_hours"`
	EngagementScore float64   `json:"engagement_score"`
	DiscoveryIndex  int       `json:"discovery_index"`
}

// CountReplies returns the number of replies in the whole tree
func (e EnrichedItem) CountReplies() int {
	return countReplies(e.Replies)
}

func countReplies(replies []Reply) int {
	n := len(replies)
	for _, r := range replies {
		n += countReplies(r.Children)
	}
	return n
}

// RunStats holds counters accumulated over one session
type RunStats struct {
	CategoriesAttempted int `json:"categories_attempted"`
	CategoriesFailed    int `json:"categories_failed"`
	LoaderRounds        int `json:"loader_rounds"`
	Discovered          int `json:"discovered"`
	Retained            int `json:"retained"`
	Duplicates          int `json:"duplicates"`
	Enriched            int `json:"enriched"`
	EnrichFailed        int `json:"enrich_failed"`
	Skipped             int `json:"skipped"`
}

// ExtractionSession is the result of one harvesting run
type ExtractionSession struct {
	ID          uuid.UUID      `json:"id"`
	TargetCount int            `json:"target_count"`
	Collected   []EnrichedItem `json:"collected"`
	Errors      []SessionError `json:"errors"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Stats       RunStats       `json:"stats"`
}

// NewExtractionSession starts an empty session
func NewExtractionSession(targetCount int, now time.Time) *ExtractionSession {
	return &ExtractionSession{
		ID:          uuid.New(),
		TargetCount: targetCount,
		Collected:   make([]EnrichedItem, 0),
		Errors:      make([]SessionError, 0),
		StartedAt:   now,
	}
}

// Record appends an error to the session
func (s *ExtractionSession) Record(scope string, kind ErrorKind, message string) {
	s.Errors = append(s.Errors, SessionError{Scope: scope, Kind: kind, Message: message})
}

// Duration returns how long the session ran
func (s *ExtractionSession) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// CategoryStats holds statistics for a single category
type CategoryStats struct {
	ItemCount int          `json:"item_count"`
	TopItem   EnrichedItem `json:"top_item"`
}

// Statistics holds statistics about the harvested items
type Statistics struct {
	TotalItems    int                      `json:"total_items"`
	SessionCount  int                      `json:"session_count"`
	TopItems      []EnrichedItem           `json:"top_items"`
	TopAuthors    map[string]int           `json:"top_authors"`
	LastSession   *SessionSummary          `json:"last_session,omitempty"`
	StartTime     time.Time                `json:"start_time"`
	LastUpdated   time.Time                `json:"last_updated"`
	CategoryStats map[string]CategoryStats `json:"category_stats"`
}

// SessionSummary is a session without its collected items
type SessionSummary struct {
	ID         uuid.UUID      `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	ItemCount  int            `json:"item_count"`
	ErrorCount int            `json:"error_count"`
	Errors     []SessionError `json:"errors"`
	Stats      RunStats       `json:"stats"`
}

// Summary returns the session without its collected items
func (s *ExtractionSession) Summary() SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		ItemCount:  len(s.Collected),
		ErrorCount: len(s.Errors),
		Errors:     s.Errors,
		Stats:      s.Stats,
	}
}
