package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// Validate checks cross-field rules. Load calls it automatically.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path is required")
	}
	if _, err := model.ParseOversellPolicy(c.Ledger.OversellPolicy); err != nil {
		return fmt.Errorf("ledger.oversell_policy: %w", err)
	}
	if c.Remote.BaseURL != "" {
		if err := validateURL(c.Remote.BaseURL); err != nil {
			return fmt.Errorf("remote.base_url: %w", err)
		}
	}
	if c.Connectivity.ProbeURL != "" {
		if err := validateURL(c.Connectivity.ProbeURL); err != nil {
			return fmt.Errorf("connectivity.probe_url: %w", err)
		}
	}
	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if _, err := c.Loyalty.Rate(); err != nil {
		return fmt.Errorf("loyalty: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

func (s SyncConfig) validate() error {
	if s.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be > 0 (got %v)", s.BaseDelay)
	}
	if s.MaxDelay < s.BaseDelay {
		return fmt.Errorf("max_delay must be >= base_delay (got %v < %v)", s.MaxDelay, s.BaseDelay)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", s.MaxAttempts)
	}
	if s.SafetyInterval <= 0 {
		return fmt.Errorf("safety_interval must be > 0 (got %v)", s.SafetyInterval)
	}
	if s.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must be >= 0 (got %v)", s.SettleDelay)
	}
	return nil
}

// Rate parses PointsPerUnit.
func (l LoyaltyConfig) Rate() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(l.PointsPerUnit))
	if err != nil {
		return decimal.Zero, fmt.Errorf("points_per_unit: %w", err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("points_per_unit must be >= 0 (got %s)", d)
	}
	return d, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
