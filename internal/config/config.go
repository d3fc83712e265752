// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DBURL            string        `mapstructure:"DB_URL"`
	HTTPAddr         string        `mapstructure:"HTTP_ADDR"`
	GithubToken      string        `mapstructure:"GITHUB_TOKEN"`
	GithubStarFilter string        `mapstructure:"GITHUB_STAR_FILTER"`
	GitlabToken      string        `mapstructure:"GITLAB_TOKEN"`
	GitlabBaseURL    string        `mapstructure:"GITLAB_BASE_URL"`
	GitlabStarFilter int           `mapstructure:"GITLAB_STAR_FILTER"`
	GitlabStartID    int64         `mapstructure:"GITLAB_START_ID"`
	CrawlSinceDate   string        `mapstructure:"CRAWL_SINCE_DATE"`
	CrawlSinceTime   time.Time     `mapstructure:"-"`
	CrawlWindow      time.Duration `mapstructure:"CRAWL_WINDOW"`
	CrawlInterval    time.Duration `mapstructure:"CRAWL_INTERVAL"`
	CrawlMaxPages    int           `mapstructure:"CRAWL_MAX_PAGES"`
	Concurrency      int           `mapstructure:"CONCURRENCY"`
}

var defaults = map[string]any{
	"LOG_LEVEL":          "info",
	"DB_URL":             "",
	"HTTP_ADDR":          ":8080",
	"GITHUB_TOKEN":       "",
	"GITHUB_STAR_FILTER": ">=100",
	"GITLAB_TOKEN":       "",
	"GITLAB_BASE_URL":    "https://gitlab.com/api/v4",
	"GITLAB_STAR_FILTER": 10,
	"GITLAB_START_ID":    0,
	"CRAWL_SINCE_DATE":   "2008-01-01T00:00:00Z",
	"CRAWL_WINDOW":       "24h",
	"CRAWL_INTERVAL":     "1h",
	"CRAWL_MAX_PAGES":    50,
	"CONCURRENCY":        5,
}

// LoadConfig reads configuration from a .env file in the working directory
// and/or environment variables. Environment variables win.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Every key needs a default, otherwise AutomaticEnv values are invisible to Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	parsedTime, err := time.Parse(time.RFC3339, cfg.CrawlSinceDate)
	if err != nil {
		return nil, errors.New("CRAWL_SINCE_DATE must be in RFC3339 format (e.g. 2008-01-01T00:00:00Z)")
	}
	cfg.CrawlSinceTime = parsedTime

	if cfg.GithubToken == "" && cfg.GitlabToken == "" {
		return nil, errors.New("at least one of GITHUB_TOKEN or GITLAB_TOKEN is required")
	}
	if cfg.GitlabStarFilter < 0 {
		return nil, errors.New("GITLAB_STAR_FILTER must not be negative")
	}
	if cfg.CrawlWindow <= 0 {
		return nil, errors.New("CRAWL_WINDOW must be a positive duration")
	}
	if cfg.CrawlInterval <= 0 {
		return nil, errors.New("CRAWL_INTERVAL must be a positive duration")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("CONCURRENCY must be at least 1")
	}
	if cfg.CrawlMaxPages < 1 {
		return nil, errors.New("CRAWL_MAX_PAGES must be at least 1")
	}

	return &cfg, nil
}
