package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv.
const EnvPrefix = "HARVESTER_"

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

// EnvDuration parses key as a Go duration string such as "1500ms".
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// LoadFromEnv overrides values from HARVESTER_* environment variables.
func (c *Config) LoadFromEnv() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"BASE_URL", &c.Source.BaseURL},
		{"SEARCH_PATH", &c.Source.SearchPath},
		{"QUERY", &c.Source.Query},
		{"USER_AGENT", &c.Source.UserAgent},
		{"DB_DRIVER", &c.Database.Driver},
		{"DB_DSN", &c.Database.DSN},
		{"HANDOFF_BACKEND", &c.Handoff.Backend},
		{"HANDOFF_DIR", &c.Handoff.Dir},
		{"HANDOFF_KEY", &c.Handoff.Key},
		{"EXPORT_FILE", &c.Pipeline.ExportFile},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
		{"METRICS_ADDR", &c.Metrics.Addr},
		{"PUSHGATEWAY_URL", &c.Metrics.PushGatewayURL},
	}
	for _, s := range strs {
		if v, ok := EnvString(EnvPrefix + s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"COUNT", &c.Harvest.Count},
		{"MAX_PAGES", &c.Harvest.MaxPages},
		{"DB_MAX_CONNS", &c.Database.MaxConns},
		{"MAX_RETRIES", &c.Pipeline.MaxRetries},
	}
	for _, i := range ints {
		v, ok, err := EnvInt(EnvPrefix + i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TIMEOUT", &c.Source.Timeout},
		{"MIN_DELAY", &c.RateLimit.MinDelay},
		{"MAX_DELAY", &c.RateLimit.MaxDelay},
		{"HANDOFF_TTL", &c.Handoff.TTL},
		{"RETRY_BACKOFF", &c.Pipeline.RetryBackoff},
		{"RETRY_BACKOFF_MAX", &c.Pipeline.RetryBackoffMax},
	}
	for _, d := range durations {
		v, ok, err := EnvDuration(EnvPrefix + d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = v
		}
	}

	if v, ok := EnvString(EnvPrefix + "DB_SIMPLE_PROTOCOL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDB_SIMPLE_PROTOCOL: %w", EnvPrefix, err)
		}
		c.Database.SimpleProtocol = b
	}

	return nil
}
