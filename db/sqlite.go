package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/models"
)

var itemColumns = []string{
	"source_id", "title", "author", "category", "detail_url", "timestamp_raw",
	"score", "reply_count", "preview_text", "body_text", "tags", "replies",
	"approval_ratio", "fetch_succeeded", "published_at", "age_hours",
	"engagement_score", "discovery_index",
}

var itemInsertColumns = append(append([]string{"item_key", "session_id"}, itemColumns...), "harvested_at")

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Database stores harvesting sessions and the latest snapshot of every item
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		ended_at TEXT NOT NULL,
		target_count INTEGER NOT NULL,
		item_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		errors TEXT NOT NULL,
		stats TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS items (
		item_key TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		category TEXT NOT NULL,
		detail_url TEXT NOT NULL,
		timestamp_raw TEXT NOT NULL,
		score INTEGER NOT NULL,
		reply_count INTEGER NOT NULL,
		preview_text TEXT NOT NULL,
		body_text TEXT NOT NULL,
		tags TEXT NOT NULL,
		replies TEXT NOT NULL,
		approval_ratio REAL,
		fetch_succeeded BOOLEAN NOT NULL,
		published_at TEXT NOT NULL,
		age_hours REAL NOT NULL,
		engagement_score REAL NOT NULL,
		discovery_index INTEGER NOT NULL,
		harvested_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_engagement ON items(engagement_score DESC);
	CREATE INDEX IF NOT EXISTS idx_items_author ON items(author);
	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
	`

	_, err := d.db.Exec(query)
	return err
}

// itemKey identifies an item across sessions so later harvests replace earlier snapshots
func itemKey(item models.EnrichedItem) string {
	switch {
	case item.SourceID != "":
		return item.CategoryKey + ":" + item.SourceID
	case item.DetailURL != "":
		return item.DetailURL
	default:
		return item.CategoryKey + ":" + item.Title
	}
}

// SaveSession stores a finished session and upserts its items in one transaction
func (d *Database) SaveSession(ctx context.Context, session *models.ExtractionSession) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	errs, err := json.Marshal(session.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode session errors: %w", err)
	}
	stats, err := json.Marshal(session.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode session stats: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Insert("sessions").
		Options("OR REPLACE").
		Columns("id", "started_at", "ended_at", "target_count", "item_count", "error_count", "errors", "stats").
		Values(
			session.ID.String(), formatTime(session.StartedAt), formatTime(session.EndedAt),
			session.TargetCount, len(session.Collected), len(session.Errors), string(errs), string(stats),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build session insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	harvestedAt := formatTime(session.EndedAt)
	for _, item := range session.Collected {
		tags, err := json.Marshal(item.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		replies, err := json.Marshal(item.Replies)
		if err != nil {
			return fmt.Errorf("failed to encode replies: %w", err)
		}

		query, args, err := sq.Insert("items").
			Options("OR REPLACE").
			Columns(itemInsertColumns...).
			Values(
				itemKey(item), session.ID.String(),
				item.SourceID, item.Title, item.Author, item.CategoryKey, item.DetailURL, item.TimestampRaw,
				item.Score, item.ReplyCount, item.PreviewText, item.BodyText, string(tags), string(replies),
				item.ApprovalRatio, item.FetchSucceeded, formatTime(item.PublishedAt), item.AgeHours,
				item.EngagementScore, item.DiscoveryIndex, harvestedAt,
			).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build item insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to save item %s: %w", item.DetailURL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"items":      len(session.Collected),
		"errors":     len(session.Errors),
	}).Debug("Saved session")
	return nil
}

// GetTopItems returns the top N items by engagement score
func (d *Database) GetTopItems(ctx context.Context, limit int) ([]models.EnrichedItem, error) {
	return d.queryItems(ctx, sq.Select(itemColumns...).
		From("items").
		OrderBy("engagement_score DESC", "discovery_index ASC").
		Limit(uint64(limit)))
}

// GetItemsByCategory returns the top N items harvested from one category; a limit of
// 0 returns all of them
func (d *Database) GetItemsByCategory(ctx context.Context, category string, limit int) ([]models.EnrichedItem, error) {
	builder := sq.Select(itemColumns...).
		From("items").
		Where(sq.Eq{"category": category}).
		OrderBy("engagement_score DESC", "discovery_index ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return d.queryItems(ctx, builder)
}

func (d *Database) queryItems(ctx context.Context, builder sq.SelectBuilder) ([]models.EnrichedItem, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := make([]models.EnrichedItem, 0)
	for rows.Next() {
		var item models.EnrichedItem
		var tags, replies, publishedAt string
		var approval sql.NullFloat64

		err := rows.Scan(
			&item.SourceID, &item.Title, &item.Author, &item.CategoryKey, &item.DetailURL, &item.TimestampRaw,
			&item.Score, &item.ReplyCount, &item.PreviewText, &item.BodyText, &tags, &replies,
			&approval, &item.FetchSucceeded, &publishedAt, &item.AgeHours,
			&item.EngagementScore, &item.DiscoveryIndex,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
		if err := json.Unmarshal([]byte(replies), &item.Replies); err != nil {
			return nil, fmt.Errorf("failed to decode replies: %w", err)
		}
		if approval.Valid {
			ratio := approval.Float64
			item.ApprovalRatio = &ratio
		}
		item.PublishedAt = parseTime(publishedAt)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

// GetTopAuthors returns the top N authors by item count
func (d *Database) GetTopAuthors(ctx context.Context, limit int) (map[string]int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := sq.Select("author", "COUNT(*) AS item_count").
		From("items").
		Where(sq.NotEq{"author": ""}).
		GroupBy("author").
		OrderBy("item_count DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build author query: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query top authors: %w", err)
	}
	defer rows.Close()

	authors := make(map[string]int)
	for rows.Next() {
		var author string
		var count int

		if err := rows.Scan(&author, &count); err != nil {
			return nil, fmt.Errorf("failed to scan author item count: %w", err)
		}

		authors[author] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return authors, nil
}

// GetTotalItems returns the number of distinct items stored
func (d *Database) GetTotalItems(ctx context.Context) (int, error) {
	return d.count(ctx, "items")
}

// GetSessionCount returns the number of stored sessions
func (d *Database) GetSessionCount(ctx context.Context) (int, error) {
	return d.count(ctx, "sessions")
}

func (d *Database) count(ctx context.Context, table string) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := sq.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// GetLatestSession returns the most recently started session, or nil when none is stored
func (d *Database) GetLatestSession(ctx context.Context) (*models.SessionSummary, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query, args, err := sq.Select("id", "started_at", "ended_at", "item_count", "error_count", "errors", "stats").
		From("sessions").
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build session query: %w", err)
	}

	var summary models.SessionSummary
	var id, startedAt, endedAt, errs, stats string
	err = d.db.QueryRowContext(ctx, query, args...).Scan(
		&id, &startedAt, &endedAt, &summary.ItemCount, &summary.ErrorCount, &errs, &stats,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest session: %w", err)
	}

	if summary.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(errs), &summary.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode session errors: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &summary.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode session stats: %w", err)
	}
	summary.StartedAt = parseTime(startedAt)
	summary.EndedAt = parseTime(endedAt)
	return &summary, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
