// Package config loads posync settings from YAML and the environment.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Ledger       LedgerConfig       `yaml:"ledger"`
	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Loyalty      LoyaltyConfig      `yaml:"loyalty"`
	Log          LogConfig          `yaml:"log"`
}

// LedgerConfig holds local storage settings.
type LedgerConfig struct {
	Path           string `yaml:"path"            env:"POSYNC_LEDGER_PATH"     env-default:"posync.db"`
	OversellPolicy string `yaml:"oversell_policy" env:"POSYNC_OVERSELL_POLICY" env-default:"defer"`
}

// RemoteConfig holds system-of-record settings. An empty BaseURL selects the
// in-process memory store.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url" env:"POSYNC_REMOTE_URL"`
	Token   string        `yaml:"token"    env:"POSYNC_REMOTE_TOKEN"`
	Timeout time.Duration `yaml:"timeout"  env:"POSYNC_REMOTE_TIMEOUT" env-default:"10s"`
	// Listen serves the memory store over HTTP when BaseURL is empty.
	Listen string `yaml:"listen" env:"POSYNC_REMOTE_LISTEN"`
}

// SyncConfig holds scheduler settings.
type SyncConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay"      env:"POSYNC_SYNC_BASE_DELAY"      env-default:"1s"`
	MaxDelay       time.Duration `yaml:"max_delay"       env:"POSYNC_SYNC_MAX_DELAY"       env-default:"5m"`
	MaxAttempts    int           `yaml:"max_attempts"    env:"POSYNC_SYNC_MAX_ATTEMPTS"    env-default:"8"`
	SafetyInterval time.Duration `yaml:"safety_interval" env:"POSYNC_SYNC_SAFETY_INTERVAL" env-default:"30s"`
	SettleDelay    time.Duration `yaml:"settle_delay"    env:"POSYNC_SYNC_SETTLE_DELAY"    env-default:"250ms"`
}

// ConnectivityConfig holds prober settings. An empty ProbeURL disables
// probing and the terminal starts online.
type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"      env:"POSYNC_PROBE_URL"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"POSYNC_PROBE_INTERVAL" env-default:"5s"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"  env:"POSYNC_PROBE_TIMEOUT"  env-default:"2s"`
}

// LoyaltyConfig holds point accrual settings.
type LoyaltyConfig struct {
	PointsPerUnit string `yaml:"points_per_unit" env:"POSYNC_POINTS_PER_UNIT" env-default:"1"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"POSYNC_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"POSYNC_LOG_FORMAT" env-default:"text"`
}
