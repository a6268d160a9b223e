package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero count",
			mutate: func(cfg *Config) {
				cfg.Harvest.Count = 0
			},
			wantErr: "record count",
		},
		{
			name: "zero max pages",
			mutate: func(cfg *Config) {
				cfg.Harvest.MaxPages = 0
			},
			wantErr: "max pages",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.Source.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.Source.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Source.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "inverted delay interval",
			mutate: func(cfg *Config) {
				cfg.RateLimit.MinDelay = 3 * time.Second
				cfg.RateLimit.MaxDelay = time.Second
			},
			wantErr: "max delay",
		},
		{
			name: "unknown driver",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "mysql"
			},
			wantErr: "database driver",
		},
		{
			name: "unknown handoff backend",
			mutate: func(cfg *Config) {
				cfg.Handoff.Backend = "redis"
			},
			wantErr: "handoff backend",
		},
		{
			name: "missing title selectors",
			mutate: func(cfg *Config) {
				cfg.Selectors.Title = nil
			},
			wantErr: "title selectors",
		},
		{
			name: "bad export extension",
			mutate: func(cfg *Config) {
				cfg.Pipeline.ExportFile = "books.xml"
			},
			wantErr: "export file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.Harvest.MaxPages != 10 || cfg.Source.Timeout != 10*time.Second {
		t.Fatalf("unexpected defaults: pages=%d timeout=%s", cfg.Harvest.MaxPages, cfg.Source.Timeout)
	}
	if cfg.RateLimit.MinDelay != time.Second || cfg.RateLimit.MaxDelay != 3*time.Second {
		t.Fatalf("unexpected delay interval: %s-%s", cfg.RateLimit.MinDelay, cfg.RateLimit.MaxDelay)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Harvest.Count = 0
	cfg.Handoff.Key = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"record count", "handoff key"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	body := `
source:
  query: "stream processing"
  timeout: 4s
harvest:
  count: 12
rate_limit:
  min_delay: 100ms
  max_delay: 200ms
selectors:
  title:
    - selector: "h2 a span"
database:
  driver: sqlite
  dsn: books.db
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Source.Query != "stream processing" || cfg.Source.Timeout != 4*time.Second {
		t.Fatalf("source not loaded: %+v", cfg.Source)
	}
	if cfg.Harvest.Count != 12 || cfg.Harvest.MaxPages != 10 {
		t.Fatalf("harvest = %+v", cfg.Harvest)
	}
	if cfg.RateLimit.MaxDelay != 200*time.Millisecond {
		t.Fatalf("max delay = %s", cfg.RateLimit.MaxDelay)
	}
	if len(cfg.Selectors.Title) != 1 || cfg.Selectors.Title[0].Selector != "h2 a span" {
		t.Fatalf("title selectors = %+v", cfg.Selectors.Title)
	}
	if len(cfg.Selectors.Author) == 0 {
		t.Fatalf("author selectors should keep defaults")
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "books.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HARVESTER_QUERY", "kafka books")
	t.Setenv("HARVESTER_COUNT", "7")
	t.Setenv("HARVESTER_MIN_DELAY", "0s")
	t.Setenv("HARVESTER_MAX_DELAY", "250ms")
	t.Setenv("HARVESTER_DB_DSN", "postgres://books@db/books")
	t.Setenv("HARVESTER_DB_SIMPLE_PROTOCOL", "true")

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("load env: %v", err)
	}

	if cfg.Source.Query != "kafka books" {
		t.Fatalf("query = %q", cfg.Source.Query)
	}
	if cfg.Harvest.Count != 7 {
		t.Fatalf("count = %d", cfg.Harvest.Count)
	}
	if cfg.RateLimit.MinDelay != 0 || cfg.RateLimit.MaxDelay != 250*time.Millisecond {
		t.Fatalf("delay = %s-%s", cfg.RateLimit.MinDelay, cfg.RateLimit.MaxDelay)
	}
	if cfg.Database.DSN != "postgres://books@db/books" || !cfg.Database.SimpleProtocol {
		t.Fatalf("database = %+v", cfg.Database)
	}
}

func TestLoadFromEnvRejectsBadNumber(t *testing.T) {
	t.Setenv("HARVESTER_MAX_PAGES", "many")

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "HARVESTER_MAX_PAGES") {
		t.Fatalf("expected HARVESTER_MAX_PAGES error, got %v", err)
	}
}
