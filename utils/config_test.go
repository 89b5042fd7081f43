package utils

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddit-harvester/models"
)

const testEnvPath = "./test.env"

func cleanup() {
	os.Remove(testEnvPath)
}

// TestMain handles test setup and cleanup for all tests in this package
func TestMain(m *testing.M) {
	exitCode := m.Run()

	cleanup()

	os.Exit(exitCode)
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_ENV_VAR", "test-value")
	defer os.Unsetenv("TEST_ENV_VAR")

	value := getEnv("TEST_ENV_VAR", "default-value")
	assert.Equal(t, "test-value", value)

	value = getEnv("NON_EXISTENT_VAR", "default-value")
	assert.Equal(t, "default-value", value)
}

func TestGetEnvAsInt(t *testing.T) {
	os.Setenv("TEST_INT_VAR", "42")
	defer os.Unsetenv("TEST_INT_VAR")

	value := getEnvAsInt("TEST_INT_VAR", 10)
	assert.Equal(t, 42, value)

	os.Setenv("TEST_INVALID_INT_VAR", "not-an-int")
	defer os.Unsetenv("TEST_INVALID_INT_VAR")

	value = getEnvAsInt("TEST_INVALID_INT_VAR", 10)
	assert.Equal(t, 10, value)

	value = getEnvAsInt("NON_EXISTENT_VAR", 10)
	assert.Equal(t, 10, value)
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT_VAR", "2.5")
	assert.Equal(t, 2.5, getEnvAsFloat("TEST_FLOAT_VAR", 1))
	assert.Equal(t, 1.0, getEnvAsFloat("NON_EXISTENT_VAR", 1))
}

func validHarvestConfig() *Config {
	return &Config{
		Harvest: HarvestConfig{
			Categories:        []models.Category{{Key: "golang", ListingURL: "https://old.reddit.com/r/golang/"}},
			TargetCount:       50,
			MaxStagnantRounds: 3,
			EnrichmentCap:     25,
			RequestDelayMs:    1000,
			Concurrency:       1,
			Source:            SourceHTTP,
			RunTimeout:        time.Minute,
			PollingInterval:   60,
			ApprovalPolicy:    "observed",
		},
		Database: DatabaseConfig{
			Path: "./test.db",
		},
	}
}

func TestValidateConfig(t *testing.T) {
	//valid
	assert.NoError(t, validateConfig(validHarvestConfig()))

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no categories", func(c *Config) { c.Harvest.Categories = nil }, "HARVEST_CATEGORIES"},
		{"zero target", func(c *Config) { c.Harvest.TargetCount = 0 }, "HARVEST_TARGET_COUNT"},
		{"zero stagnant rounds", func(c *Config) { c.Harvest.MaxStagnantRounds = 0 }, "HARVEST_MAX_STAGNANT_ROUNDS"},
		{"negative cap", func(c *Config) { c.Harvest.EnrichmentCap = -1 }, "HARVEST_ENRICHMENT_CAP"},
		{"negative delay", func(c *Config) { c.Harvest.RequestDelayMs = -5 }, "HARVEST_REQUEST_DELAY_MS"},
		{"zero concurrency", func(c *Config) { c.Harvest.Concurrency = 0 }, "HARVEST_CONCURRENCY"},
		{"unknown source", func(c *Config) { c.Harvest.Source = "ftp" }, "HARVEST_SOURCE"},
		{"zero timeout", func(c *Config) { c.Harvest.RunTimeout = 0 }, "HARVEST_RUN_TIMEOUT"},
		{"negative polling", func(c *Config) { c.Harvest.PollingInterval = -1 }, "HARVEST_POLLING_INTERVAL"},
		{"unknown policy", func(c *Config) { c.Harvest.ApprovalPolicy = "always" }, "HARVEST_APPROVAL_POLICY"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := validHarvestConfig()
			tc.mutate(config)
			err := validateConfig(config)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Single subreddit",
			input:    "AskReddit",
			expected: []string{"AskReddit"},
		},
		{
			name:     "Multiple subreddits",
			input:    "AskReddit,news,programming",
			expected: []string{"AskReddit", "news", "programming"},
		},
		{
			name:     "Subreddits with whitespace",
			input:    "AskReddit, news, programming",
			expected: []string{"AskReddit", "news", "programming"},
		},
		{
			name:     "Subreddits with extra commas",
			input:    "AskReddit,,news,,programming",
			expected: []string{"AskReddit", "news", "programming"},
		},
		{
			name:     "Subreddits with leading/trailing commas",
			input:    ",AskReddit,news,programming,",
			expected: []string{"AskReddit", "news", "programming"},
		},
		{
			name:     "Mixed case subreddits",
			input:    "askReddit,NEWS,Programming",
			expected: []string{"askReddit", "NEWS", "Programming"},
		},
		{
			name:     "Mixed whitespace",
			input:    " AskReddit ,\t news\n, programming ",
			expected: []string{"AskReddit", "news", "programming"},
		},
		{
			name:     "Only separators",
			input:    " , ,, ",
			expected: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := parseList(tc.input)
			if !reflect.DeepEqual(result, tc.expected) {
				t.Errorf("parseList(%q) = %v; want %v",
					tc.input, result, tc.expected)
			}
		})
	}
}

func TestParseCategories(t *testing.T) {
	categories, err := parseCategories(
		"golang, r/rust, frontpage=https://old.reddit.com/, https://news.ycombinator.com/newest, https://lobste.rs/",
		"reddit-old",
	)
	require.NoError(t, err)
	assert.Equal(t, []models.Category{
		{Key: "golang", ListingURL: "https://old.reddit.com/r/golang/"},
		{Key: "rust", ListingURL: "https://old.reddit.com/r/rust/"},
		{Key: "frontpage", ListingURL: "https://old.reddit.com/"},
		{Key: "newest", ListingURL: "https://news.ycombinator.com/newest"},
		{Key: "lobste.rs", ListingURL: "https://lobste.rs/"},
	}, categories)

	categories, err = parseCategories("golang", "reddit-new")
	require.NoError(t, err)
	assert.Equal(t, "https://www.reddit.com/r/golang/", categories[0].ListingURL)

	for _, bad := range []string{"news=ftp://example.com", "=https://example.com", "two words", "ftp://example.com"} {
		_, err := parseCategories(bad, "reddit-old")
		assert.Error(t, err, bad)
		assert.Contains(t, err.Error(), "HARVEST_CATEGORIES")
	}
}

func TestLoadConfig(t *testing.T) {
	content := "HARVEST_CATEGORIES=golang,news=https://news.ycombinator.com/\n" +
		"HARVEST_TARGET_COUNT=40\n" +
		"HARVEST_SOURCE=Chrome\n" +
		"HARVEST_RUN_TIMEOUT=120\n" +
		"HARVEST_APPROVAL_POLICY=estimated\n" +
		"HARVEST_MIN_SCORE=1.5\n" +
		"DATABASE_PATH=" + filepath.Join(t.TempDir(), "nested", "harvester.db") + "\n"
	require.NoError(t, os.WriteFile(testEnvPath, []byte(content), 0644))
	t.Cleanup(func() {
		for _, key := range []string{
			"HARVEST_CATEGORIES", "HARVEST_TARGET_COUNT", "HARVEST_SOURCE",
			"HARVEST_RUN_TIMEOUT", "HARVEST_APPROVAL_POLICY", "HARVEST_MIN_SCORE", "DATABASE_PATH",
		} {
			os.Unsetenv(key)
		}
	})

	log, _ := test.NewNullLogger()
	config, err := LoadConfig(testEnvPath, log)
	require.NoError(t, err)

	assert.Len(t, config.Harvest.Categories, 2)
	assert.Equal(t, "news", config.Harvest.Categories[1].Key)
	assert.Equal(t, 40, config.Harvest.TargetCount)
	assert.Equal(t, SourceChrome, config.Harvest.Source)
	assert.Equal(t, 2*time.Minute, config.Harvest.RunTimeout)
	assert.Equal(t, "estimated", config.Harvest.ApprovalPolicy)
	assert.Equal(t, 1.5, config.Harvest.MinScore)
	assert.Equal(t, 25, config.Harvest.EnrichmentCap)
	assert.Equal(t, 3, config.Harvest.MaxStagnantRounds)
	assert.Equal(t, models.RunParams{TargetCount: 40, MaxStagnantRounds: 3, EnrichmentCap: 25, RequestDelayMs: 1000}, config.Harvest.RunParams())
	assert.DirExists(t, filepath.Dir(config.Database.Path))
}

func TestLoadConfigWithoutEnvFile(t *testing.T) {
	t.Setenv("HARVEST_CATEGORIES", "golang")
	log, _ := test.NewNullLogger()

	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"), log)
	require.NoError(t, err)
	assert.Equal(t, "reddit-old", config.Harvest.Profile)
	assert.Equal(t, SourceHTTP, config.Harvest.Source)
}
