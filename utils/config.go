package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/models"
	"github.com/brettboylen/reddit-harvester/scoring"
)

const (
	SourceHTTP   = "http"
	SourceChrome = "chrome"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Harvest  HarvestConfig
	Database DatabaseConfig
	Server   ServerConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
}

// HarvestConfig holds the extraction run configuration
type HarvestConfig struct {
	Categories        []models.Category
	TargetCount       int
	MaxStagnantRounds int
	EnrichmentCap     int
	RequestDelayMs    int
	Concurrency       int
	Source            string
	Profile           string
	ProfilePath       string
	UserAgent         string
	ChromePath        string
	RunTimeout        time.Duration
	PollingInterval   int
	ApprovalPolicy    string
	MinScore          float64
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port                 int
	MaxRequestsPerMinute int
}

// RunParams returns the per-run limits
func (h HarvestConfig) RunParams() models.RunParams {
	return models.RunParams{
		TargetCount:       h.TargetCount,
		MaxStagnantRounds: h.MaxStagnantRounds,
		EnrichmentCap:     h.EnrichmentCap,
		RequestDelayMs:    h.RequestDelayMs,
	}
}

// LoadConfig loads configuration from a .env file and the environment. A missing
// .env file is not an error; the environment alone may configure a run.
func LoadConfig(envPath string, log *logrus.Logger) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}

	if err := godotenv.Load(envPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.WithField("file", envPath).Debug("No .env file, using environment only")
	}

	profileName := getEnv("HARVEST_PROFILE", "reddit-old")
	categories, err := parseCategories(getEnv("HARVEST_CATEGORIES", "golang"), profileName)
	if err != nil {
		return nil, err
	}

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Reddit Harvester"),
			Version: getEnv("APP_VERSION", "1.0.0"),
		},
		Harvest: HarvestConfig{
			Categories:        categories,
			TargetCount:       getEnvAsInt("HARVEST_TARGET_COUNT", 50),
			MaxStagnantRounds: getEnvAsInt("HARVEST_MAX_STAGNANT_ROUNDS", 3),
			EnrichmentCap:     getEnvAsInt("HARVEST_ENRICHMENT_CAP", 25),
			RequestDelayMs:    getEnvAsInt("HARVEST_REQUEST_DELAY_MS", 1000),
			Concurrency:       getEnvAsInt("HARVEST_CONCURRENCY", 1),
			Source:            strings.ToLower(getEnv("HARVEST_SOURCE", SourceHTTP)),
			Profile:           profileName,
			ProfilePath:       getEnv("HARVEST_PROFILE_PATH", ""),
			UserAgent:         getEnv("HARVEST_USER_AGENT", ""),
			ChromePath:        getEnv("HARVEST_CHROME_PATH", ""),
			RunTimeout:        time.Duration(getEnvAsInt("HARVEST_RUN_TIMEOUT", 1800)) * time.Second,
			PollingInterval:   getEnvAsInt("HARVEST_POLLING_INTERVAL", 3600),
			ApprovalPolicy:    getEnv("HARVEST_APPROVAL_POLICY", "observed"),
			MinScore:          getEnvAsFloat("HARVEST_MIN_SCORE", 0),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./harvester.db"),
		},
		Server: ServerConfig{
			Port:                 getEnvAsInt("SERVER_PORT", 8080),
			MaxRequestsPerMinute: getEnvAsInt("SERVER_MAX_REQUESTS_PER_MINUTE", 100),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	log.WithField("file", envPath).Info("Config loaded successfully")
	return config, nil
}

// parseList parses a comma-separated list, dropping blanks
func parseList(value string) []string {
	parts := strings.Split(value, ",")

	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// parseCategories reads "key=url" pairs, bare listing URLs and bare subreddit names.
// Subreddit names resolve against the reddit host matching the profile.
func parseCategories(value, profileName string) ([]models.Category, error) {
	entries := parseList(value)
	categories := make([]models.Category, 0, len(entries))
	for _, entry := range entries {
		category, err := parseCategory(entry, profileName)
		if err != nil {
			return nil, fmt.Errorf("HARVEST_CATEGORIES: %w", err)
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func parseCategory(entry, profileName string) (models.Category, error) {
	if key, rawURL, ok := strings.Cut(entry, "="); ok && !strings.Contains(key, "/") {
		key, rawURL = strings.TrimSpace(key), strings.TrimSpace(rawURL)
		if key == "" || !isListingURL(rawURL) {
			return models.Category{}, fmt.Errorf("invalid category %q, want key=https://...", entry)
		}
		return models.Category{Key: key, ListingURL: rawURL}, nil
	}

	if strings.Contains(entry, "://") {
		if !isListingURL(entry) {
			return models.Category{}, fmt.Errorf("invalid listing url %q", entry)
		}
		u, _ := url.Parse(entry)
		key := u.Hostname()
		if segments := strings.Split(strings.Trim(u.Path, "/"), "/"); segments[len(segments)-1] != "" {
			key = segments[len(segments)-1]
		}
		return models.Category{Key: key, ListingURL: entry}, nil
	}

	name := strings.TrimPrefix(strings.TrimPrefix(entry, "/"), "r/")
	if name == "" || strings.ContainsAny(name, "/ ?#") {
		return models.Category{}, fmt.Errorf("invalid subreddit name %q", entry)
	}
	host := "https://old.reddit.com"
	if profileName == "reddit-new" {
		host = "https://www.reddit.com"
	}
	return models.Category{Key: name, ListingURL: fmt.Sprintf("%s/r/%s/", host, name)}, nil
}

func isListingURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	h := config.Harvest
	if len(h.Categories) == 0 {
		return fmt.Errorf("HARVEST_CATEGORIES environment variable is required")
	}
	if h.TargetCount < 1 {
		return fmt.Errorf("HARVEST_TARGET_COUNT must be positive")
	}
	if h.MaxStagnantRounds < 1 {
		return fmt.Errorf("HARVEST_MAX_STAGNANT_ROUNDS must be positive")
	}
	if h.EnrichmentCap < 0 {
		return fmt.Errorf("HARVEST_ENRICHMENT_CAP must not be negative")
	}
	if h.RequestDelayMs < 0 {
		return fmt.Errorf("HARVEST_REQUEST_DELAY_MS must not be negative")
	}
	if h.Concurrency < 1 {
		return fmt.Errorf("HARVEST_CONCURRENCY must be positive")
	}
	if h.Source != SourceHTTP && h.Source != SourceChrome {
		return fmt.Errorf("HARVEST_SOURCE must be %q or %q", SourceHTTP, SourceChrome)
	}
	if h.RunTimeout <= 0 {
		return fmt.Errorf("HARVEST_RUN_TIMEOUT must be positive")
	}
	if h.PollingInterval < 1 {
		return fmt.Errorf("HARVEST_POLLING_INTERVAL must be positive")
	}
	if _, err := scoring.ParsePolicy(h.ApprovalPolicy); err != nil {
		return fmt.Errorf("HARVEST_APPROVAL_POLICY: %w", err)
	}

	// if we are storing the db in a nested directory, create the directory
	dbDir := filepath.Dir(config.Database.Path)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
