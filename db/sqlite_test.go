package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-harvester/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	log, _ := test.NewNullLogger()
	database, err := NewDatabase(filepath.Join(t.TempDir(), "harvester.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func testItem(category, id, author string, score float64, index int) models.EnrichedItem {
	return models.EnrichedItem{
		ListingRecord: models.ListingRecord{
			SourceID:    id,
			Title:       "post " + id,
			Author:      author,
			DetailURL:   "https://old.reddit.com/r/" + category + "/comments/" + id + "/",
			Score:       int(score),
			CategoryKey: category,
		},
		Tags:            []string{"Discussion"},
		Replies:         []models.Reply{{Author: "alice", BodyText: "hi", Children: []models.Reply{{Author: "bob"}}}},
		FetchSucceeded:  true,
		PublishedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		AgeHours:        2,
		EngagementScore: score,
		DiscoveryIndex:  index,
	}
}

func testSession(started time.Time, items ...models.EnrichedItem) *models.ExtractionSession {
	session := models.NewExtractionSession(50, started)
	session.Collected = items
	session.EndedAt = started.Add(time.Minute)
	session.Record("category:golang", models.KindCategoryFatal, "navigation failed")
	session.Stats = models.RunStats{CategoriesAttempted: 2, CategoriesFailed: 1, Enriched: len(items)}
	return session
}

func TestSaveAndQuerySessions(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	ratio := 0.93
	first := testItem("golang", "a1", "gopher", 12.5, 0)
	first.ApprovalRatio = &ratio
	require.NoError(t, database.SaveSession(ctx, testSession(start,
		first,
		testItem("golang", "b2", "gopher", 40, 1),
		testItem("rust", "c3", "crab", 12.5, 2),
	)))

	top, err := database.GetTopItems(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b2", top[0].SourceID)
	assert.Equal(t, "a1", top[1].SourceID, "ties by discovery order")
	require.NotNil(t, top[1].ApprovalRatio)
	assert.Equal(t, 0.93, *top[1].ApprovalRatio)
	assert.Nil(t, top[0].ApprovalRatio)
	assert.Equal(t, []string{"Discussion"}, top[1].Tags)
	require.Len(t, top[1].Replies, 1)
	assert.Equal(t, "bob", top[1].Replies[0].Children[0].Author)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), top[1].PublishedAt)

	byCategory, err := database.GetItemsByCategory(ctx, "rust", 10)
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "crab", byCategory[0].Author)

	authors, err := database.GetTopAuthors(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"gopher": 2, "crab": 1}, authors)

	total, err := database.GetTotalItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSaveSessionReplacesItemSnapshots(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, database.SaveSession(ctx, testSession(start, testItem("golang", "a1", "gopher", 5, 0))))
	second := testSession(start.Add(time.Hour), testItem("golang", "a1", "gopher", 9, 0))
	require.NoError(t, database.SaveSession(ctx, second))

	total, err := database.GetTotalItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	sessions, err := database.GetSessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sessions)

	top, err := database.GetTopItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 9.0, top[0].EngagementScore)

	latest, err := database.GetLatestSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, second.StartedAt, latest.StartedAt)
	assert.Equal(t, 1, latest.ItemCount)
	assert.Equal(t, 1, latest.ErrorCount)
	assert.Equal(t, second.Errors, latest.Errors)
	assert.Equal(t, second.Stats, latest.Stats)
}

func TestEmptyDatabase(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	latest, err := database.GetLatestSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	top, err := database.GetTopItems(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)

	authors, err := database.GetTopAuthors(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, authors)
}

func TestItemKey(t *testing.T) {
	assert.Equal(t, "golang:a1", itemKey(testItem("golang", "a1", "x", 1, 0)))
	assert.Equal(t, "https://example.com/p", itemKey(models.EnrichedItem{ListingRecord: models.ListingRecord{DetailURL: "https://example.com/p"}}))
	assert.Equal(t, "news:Title", itemKey(models.EnrichedItem{ListingRecord: models.ListingRecord{CategoryKey: "news", Title: "Title"}}))
}
