package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no explicit config path is given and it exists.
const DefaultConfigFile = ".harvester.yaml"

// Config holds harvester configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Selectors SelectorConfig  `yaml:"selectors"`
	Database  DatabaseConfig  `yaml:"database"`
	Handoff   HandoffConfig   `yaml:"handoff"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SourceConfig describes the search listing being harvested.
type SourceConfig struct {
	BaseURL    string            `yaml:"base_url"`
	SearchPath string            `yaml:"search_path"`
	Query      string            `yaml:"query"`
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    time.Duration     `yaml:"timeout"`
}

// HarvestConfig bounds a harvest session.
type HarvestConfig struct {
	Count    int `yaml:"count"`
	MaxPages int `yaml:"max_pages"`
}

// RateLimitConfig is the uniform delay interval applied before each fetch.
type RateLimitConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// Locator is one strategy for reading a field out of a result block. When Attr
// is empty the element text is used.
type Locator struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr,omitempty"`
}

// SelectorConfig holds the block marker and the ordered locator chain per field.
type SelectorConfig struct {
	Block  string    `yaml:"block"`
	Title  []Locator `yaml:"title"`
	Author []Locator `yaml:"author"`
	Price  []Locator `yaml:"price"`
	Rating []Locator `yaml:"rating"`
}

// DatabaseConfig selects the books store.
type DatabaseConfig struct {
	Driver         string `yaml:"driver"` // postgres or sqlite
	DSN            string `yaml:"dsn"`
	MaxConns       int    `yaml:"max_conns"`
	SimpleProtocol bool   `yaml:"simple_protocol"`
}

// HandoffConfig selects where the harvested batch is parked between stages.
type HandoffConfig struct {
	Backend  string        `yaml:"backend"` // memory or file
	Dir      string        `yaml:"dir"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// PipelineConfig holds stage-level retry policy and optional export.
type PipelineConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	ExportFile      string        `yaml:"export_file"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Addr           string `yaml:"addr"`
	PushGatewayURL string `yaml:"push_gateway_url"`
	JobName        string `yaml:"job_name"`
}

// DefaultConfig returns conservative defaults for the book search listing.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:    "https://www.amazon.com",
			SearchPath: "/s",
			Query:      "data engineering books",
			UserAgent:  "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headers: map[string]string{
				"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
				"Accept-Language":           "en-US,en;q=0.5",
				"Upgrade-Insecure-Requests": "1",
			},
			Timeout: 10 * time.Second,
		},
		Harvest: HarvestConfig{
			Count:    50,
			MaxPages: 10,
		},
		RateLimit: RateLimitConfig{
			MinDelay: 1 * time.Second,
			MaxDelay: 3 * time.Second,
		},
		Selectors: DefaultSelectors(),
		Database: DatabaseConfig{
			Driver:   "postgres",
			MaxConns: 2,
		},
		Handoff: HandoffConfig{
			Backend:  "file",
			Dir:      "output/handoff",
			Key:      "book_data",
			TTL:      24 * time.Hour,
			Capacity: 16,
		},
		Pipeline: PipelineConfig{
			MaxRetries:      2,
			RetryBackoff:    10 * time.Minute,
			RetryBackoffMax: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Metrics: MetricsConfig{
			JobName: "book_harvester",
		},
	}
}

// DefaultSelectors returns the locator chains for the search result listing.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Block: `div[data-component-type="s-search-result"]`,
		Title: []Locator{
			{Selector: "h2.a-size-mini"},
			{Selector: "span.a-text-normal"},
		},
		Author: []Locator{
			{Selector: "a.a-size-base"},
			{Selector: "span.a-size-base"},
		},
		Price: []Locator{
			{Selector: "span.a-price-whole"},
			{Selector: "span.a-offscreen"},
		},
		Rating: []Locator{
			{Selector: "span.a-icon-alt"},
			{Selector: `i[class*="a-star"]`, Attr: "aria-label"},
		},
	}
}

// LoadFromFile overlays values from a YAML file. An empty path falls back to
// DefaultConfigFile when present.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err != nil {
			return nil
		}
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Load builds a configuration from defaults, the config file, a .env file and
// the environment, in increasing order of precedence. Callers apply flags on
// top and then call Validate.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.BaseURL == "" {
		errs = append(errs, errors.New("base URL cannot be empty"))
	} else if parsed, err := url.Parse(c.Source.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid base URL: %w", err))
	} else if parsed.Host == "" {
		errs = append(errs, errors.New("base URL must include a host"))
	}
	if strings.TrimSpace(c.Source.Query) == "" {
		errs = append(errs, errors.New("search query cannot be empty"))
	}
	if c.Source.UserAgent == "" {
		errs = append(errs, errors.New("user agent cannot be empty"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.Harvest.Count <= 0 {
		errs = append(errs, errors.New("record count must be positive"))
	}
	if c.Harvest.MaxPages <= 0 {
		errs = append(errs, errors.New("max pages must be positive"))
	}

	if c.RateLimit.MinDelay < 0 {
		errs = append(errs, errors.New("min delay cannot be negative"))
	}
	if c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		errs = append(errs, fmt.Errorf("max delay (%s) cannot be below min delay (%s)", c.RateLimit.MaxDelay, c.RateLimit.MinDelay))
	}

	if c.Selectors.Block == "" {
		errs = append(errs, errors.New("block selector cannot be empty"))
	}
	if len(c.Selectors.Title) == 0 {
		errs = append(errs, errors.New("title selectors cannot be empty"))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, errors.New("max conns cannot be negative"))
	}

	switch c.Handoff.Backend {
	case "memory":
		if c.Handoff.Capacity <= 0 {
			errs = append(errs, errors.New("handoff capacity must be positive"))
		}
	case "file":
		if c.Handoff.Dir == "" {
			errs = append(errs, errors.New("handoff dir cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("handoff backend must be memory or file, got %q", c.Handoff.Backend))
	}
	if c.Handoff.Key == "" {
		errs = append(errs, errors.New("handoff key cannot be empty"))
	}
	if c.Handoff.TTL < 0 {
		errs = append(errs, errors.New("handoff ttl cannot be negative"))
	}

	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Pipeline.RetryBackoff < 0 {
		errs = append(errs, errors.New("retry backoff cannot be negative"))
	}
	if c.Pipeline.RetryBackoffMax < 0 {
		errs = append(errs, errors.New("retry backoff max cannot be negative"))
	}
	if c.Pipeline.RetryBackoffMax > 0 && c.Pipeline.RetryBackoff > c.Pipeline.RetryBackoffMax {
		errs = append(errs, fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.Pipeline.RetryBackoff, c.Pipeline.RetryBackoffMax))
	}
	if c.Pipeline.ExportFile != "" && exportFormat(c.Pipeline.ExportFile) == "" {
		errs = append(errs, errors.New("export file must end in .csv, .json or .jsonl"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be auto, console or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func exportFormat(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return "csv"
	case strings.HasSuffix(lower, ".json"), strings.HasSuffix(lower, ".jsonl"):
		return "json"
	default:
		return ""
	}
}
