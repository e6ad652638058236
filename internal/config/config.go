package config

import "time"

// Config holds runtime settings for the sync daemon.
//
// Units: OnlineCheckInterval, CallTimeout and RetryBackoffBase are
// time.Durations (e.g., 3*time.Second).
type Config struct {
	// BaseURL is the REST gateway root, e.g. "https://api.example.com".
	BaseURL string

	// DatabasePath is the SQLite file holding entities, the pending-action
	// queue and sync bookkeeping.
	DatabasePath string

	// OnlineCheckInterval is how often the client probes gateway
	// reachability.
	OnlineCheckInterval time.Duration

	// CallTimeout bounds every individual gateway call.
	CallTimeout time.Duration

	// RetryBackoffBase is the first retry delay for transient dispatch
	// failures; subsequent delays double.
	RetryBackoffBase time.Duration

	// LogFile is the rotating JSON log destination; empty logs to stderr
	// only.
	LogFile string

	// AuthToken is the bearer token attached to gateway requests; empty
	// sends none.
	AuthToken string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.BaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "plansync.db"
	c.OnlineCheckInterval = 3 * time.Second
	c.CallTimeout = 15 * time.Second
	c.RetryBackoffBase = time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
