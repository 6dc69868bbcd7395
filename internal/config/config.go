// Package config loads agent settings from SITESENTINEL_* environment
// variables and the optional component policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Will-Luck/Site-Sentinel/internal/window"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcron"
)

// Config holds all Site-Sentinel configuration.
type Config struct {
	// Command tool
	WPCLI          string
	WPPath         string
	ContentDir     string
	CommandTimeout time.Duration
	ActionTimeout  time.Duration

	// Schedulers
	Workers       int
	CronWorkers   int
	ShutdownGrace time.Duration

	// Cron dispatch
	CronStrategy   string // "lowlatency" or "roundrobin"
	CronScanPeriod time.Duration
	CronPollPeriod time.Duration
	CronCoalesce   time.Duration
	CronJitter     time.Duration
	CronTimeout    time.Duration
	CacheTTL       time.Duration

	// Agents
	ComponentsFile     string
	InstallSchedule    string
	CoreUpdateSchedule string
	CoreUpdateWindow   string
	HistoryKeep        int

	// Storage
	DBPath string

	// Status API
	WebEnabled      bool
	WebPort         string
	MetricsTextfile string

	// Notifications
	WebhookURL     string
	WebhookHeaders map[string]string
	MQTTBroker     string
	MQTTTopic      string
	MQTTUsername   string
	MQTTPassword   string

	// Logging
	LogJSON  bool
	LogLevel string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	wpPath := envStr("SITESENTINEL_WP_PATH", "/var/www/html")
	return &Config{
		WPCLI:              envStr("SITESENTINEL_WP_CLI", "wp"),
		WPPath:             wpPath,
		ContentDir:         envStr("SITESENTINEL_WP_CONTENT", filepath.Join(wpPath, "wp-content")),
		CommandTimeout:     envDuration("SITESENTINEL_COMMAND_TIMEOUT", 2*time.Minute),
		ActionTimeout:      envDuration("SITESENTINEL_ACTION_TIMEOUT", 10*time.Minute),
		Workers:            envInt("SITESENTINEL_WORKERS", 4),
		CronWorkers:        envInt("SITESENTINEL_CRON_WORKERS", 8),
		ShutdownGrace:      envDuration("SITESENTINEL_SHUTDOWN_GRACE", 30*time.Second),
		CronStrategy:       envStr("SITESENTINEL_CRON_STRATEGY", "lowlatency"),
		CronScanPeriod:     envDuration("SITESENTINEL_CRON_SCAN_PERIOD", 5*time.Minute),
		CronPollPeriod:     envDuration("SITESENTINEL_CRON_POLL_PERIOD", time.Minute),
		CronCoalesce:       envDuration("SITESENTINEL_CRON_COALESCE", wpcron.DefaultCoalesceWindow),
		CronJitter:         envDuration("SITESENTINEL_CRON_JITTER", 10*time.Second),
		CronTimeout:        envDuration("SITESENTINEL_CRON_TIMEOUT", 10*time.Minute),
		CacheTTL:           envDuration("SITESENTINEL_CACHE_TTL", time.Minute),
		ComponentsFile:     envStr("SITESENTINEL_COMPONENTS_FILE", ""),
		InstallSchedule:    envStr("SITESENTINEL_INSTALL_SCHEDULE", "@hourly"),
		CoreUpdateSchedule: envStr("SITESENTINEL_CORE_UPDATE_SCHEDULE", "@daily"),
		CoreUpdateWindow:   envStr("SITESENTINEL_CORE_UPDATE_WINDOW", "02:00-05:00"),
		HistoryKeep:        envInt("SITESENTINEL_HISTORY_KEEP", 1000),
		DBPath:             envStr("SITESENTINEL_DB_PATH", "/data/site-sentinel.db"),
		WebEnabled:         envBool("SITESENTINEL_WEB_ENABLED", true),
		WebPort:            envStr("SITESENTINEL_WEB_PORT", "8090"),
		MetricsTextfile:    envStr("SITESENTINEL_METRICS_TEXTFILE", ""),
		WebhookURL:         envStr("SITESENTINEL_WEBHOOK_URL", ""),
		WebhookHeaders:     envHeaders("SITESENTINEL_WEBHOOK_HEADERS"),
		MQTTBroker:         envStr("SITESENTINEL_MQTT_BROKER", ""),
		MQTTTopic:          envStr("SITESENTINEL_MQTT_TOPIC", "site-sentinel/events"),
		MQTTUsername:       envStr("SITESENTINEL_MQTT_USERNAME", ""),
		MQTTPassword:       envStr("SITESENTINEL_MQTT_PASSWORD", ""),
		LogJSON:            envBool("SITESENTINEL_LOG_JSON", true),
		LogLevel:           envStr("SITESENTINEL_LOG_LEVEL", "info"),
	}
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	positive := []struct {
		key string
		v   time.Duration
	}{
		{"SITESENTINEL_COMMAND_TIMEOUT", c.CommandTimeout},
		{"SITESENTINEL_ACTION_TIMEOUT", c.ActionTimeout},
		{"SITESENTINEL_CRON_SCAN_PERIOD", c.CronScanPeriod},
		{"SITESENTINEL_CRON_POLL_PERIOD", c.CronPollPeriod},
		{"SITESENTINEL_CRON_TIMEOUT", c.CronTimeout},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %s", p.key, p.v))
		}
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.CronWorkers < 1 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_CRON_WORKERS must be >= 1, got %d", c.CronWorkers))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_SHUTDOWN_GRACE must be >= 0, got %s", c.ShutdownGrace))
	}
	if c.CronCoalesce < 0 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_CRON_COALESCE must be >= 0, got %s", c.CronCoalesce))
	}
	if c.CronJitter < 0 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_CRON_JITTER must be >= 0, got %s", c.CronJitter))
	}
	if c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_CACHE_TTL must be >= 0, got %s", c.CacheTTL))
	}
	if c.HistoryKeep < 1 {
		errs = append(errs, fmt.Errorf("SITESENTINEL_HISTORY_KEEP must be >= 1, got %d", c.HistoryKeep))
	}
	switch c.CronStrategy {
	case "lowlatency", "roundrobin":
	default:
		errs = append(errs, fmt.Errorf("SITESENTINEL_CRON_STRATEGY must be lowlatency or roundrobin, got %q", c.CronStrategy))
	}
	for key, spec := range map[string]string{
		"SITESENTINEL_INSTALL_SCHEDULE":     c.InstallSchedule,
		"SITESENTINEL_CORE_UPDATE_SCHEDULE": c.CoreUpdateSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if c.CoreUpdateWindow != "" {
		if _, err := window.ParseWindow(c.CoreUpdateWindow); err != nil {
			errs = append(errs, fmt.Errorf("SITESENTINEL_CORE_UPDATE_WINDOW: %w", err))
		}
	}
	if _, err := strconv.Atoi(c.WebPort); c.WebEnabled && err != nil {
		errs = append(errs, fmt.Errorf("SITESENTINEL_WEB_PORT must be a number, got %q", c.WebPort))
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envHeaders parses comma-separated "Key:Value" pairs. Malformed pairs are
// skipped.
func envHeaders(key string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		name, value, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers
}
