package payoutd

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so configuration files can use "30s" style values.
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures the payout settings of the daemon.
type Config struct {
	Journal       string   `toml:"journal"`
	PauseOnStart  bool     `toml:"pause"`
	Confirmations int      `toml:"confirmations"`
	PollInterval  Duration `toml:"poll_interval"`
	MaxRetries    uint64   `toml:"max_retries"`
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Confirmations == 0 {
		c.Confirmations = 1
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval.Duration = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Confirmations < 0 {
		return fmt.Errorf("payouts.confirmations must not be negative")
	}
	if c.PollInterval.Duration < 0 {
		return fmt.Errorf("payouts.poll_interval must not be negative")
	}
	return nil
}

// Options translates the configuration into processor options. The journal,
// when configured, must be closed by the caller.
func (c Config) Options() ([]ProcessorOption, *Journal, error) {
	opts := []ProcessorOption{
		WithConfirmations(c.Confirmations, c.PollInterval.Duration),
		WithRetry(c.MaxRetries, nil),
	}
	var journal *Journal
	if path := strings.TrimSpace(c.Journal); path != "" {
		var err error
		journal, err = OpenJournal(path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, WithJournal(journal))
	}
	return opts, journal, nil
}
