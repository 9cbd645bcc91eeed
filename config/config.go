package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"revledger/services/payoutd"
	"revledger/storage"
)

// Duration accepts "30s" style values in TOML.
type Duration = payoutd.Duration

type Config struct {
	ListenAddress string   `toml:"ListenAddress"`
	Environment   string   `toml:"Environment"`
	ManagersFile  string   `toml:"ManagersFile"`
	ReadTimeout   Duration `toml:"ReadTimeout"`
	WriteTimeout  Duration `toml:"WriteTimeout"`

	Log       Log            `toml:"log"`
	Storage   Storage        `toml:"storage"`
	Auth      Auth           `toml:"auth"`
	RateLimit RateLimit      `toml:"rate_limit"`
	Telemetry Telemetry      `toml:"telemetry"`
	Audit     Audit          `toml:"audit"`
	Webhook   Webhook        `toml:"webhook"`
	Payouts   payoutd.Config `toml:"payouts"`
}

type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Storage selects the ledger backend: memory, leveldb or bolt.
type Storage struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Auth configures bearer-token checks on mutating routes.
type Auth struct {
	Enabled    bool     `toml:"Enabled"`
	HMACSecret string   `toml:"HMACSecret"`
	SecretEnv  string   `toml:"SecretEnv"`
	Issuer     string   `toml:"Issuer"`
	Audience   string   `toml:"Audience"`
	ScopeClaim string   `toml:"ScopeClaim"`
	ClockSkew  Duration `toml:"ClockSkew"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Audit configures the SQL event sink. An empty driver disables it.
type Audit struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Webhook configures claim notifications. An empty endpoint disables them.
type Webhook struct {
	Endpoint  string `toml:"Endpoint"`
	Secret    string `toml:"Secret"`
	SecretEnv string `toml:"SecretEnv"`
}

// Load reads the configuration at path, writing a default file when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8085"
	}
	if strings.TrimSpace(c.ManagersFile) == "" {
		c.ManagersFile = "managers.yaml"
	}
	if c.ReadTimeout.Duration == 0 {
		c.ReadTimeout.Duration = 15 * time.Second
	}
	if c.WriteTimeout.Duration == 0 {
		c.WriteTimeout.Duration = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "bolt"
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = "./treasury-data/ledger.db"
	}
	if c.Auth.ScopeClaim == "" {
		c.Auth.ScopeClaim = "scope"
	}
	if c.Auth.ClockSkew.Duration == 0 {
		c.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 50
	}
	c.Payouts.ApplyDefaults()
}

func (c *Config) resolveSecrets() {
	if env := strings.TrimSpace(c.Auth.SecretEnv); env != "" && c.Auth.HMACSecret == "" {
		c.Auth.HMACSecret = os.Getenv(env)
	}
	if env := strings.TrimSpace(c.Webhook.SecretEnv); env != "" && c.Webhook.Secret == "" {
		c.Webhook.Secret = os.Getenv(env)
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendLevelDB, storage.BackendBolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage: Path required for %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("auth: HMACSecret or SecretEnv required when enabled")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit: values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry: SampleRatio must be within [0,1]")
	}
	switch c.Audit.Driver {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Audit.DSN) == "" {
			return fmt.Errorf("audit: DSN required for %s driver", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("audit: unknown driver %q", c.Audit.Driver)
	}
	if strings.TrimSpace(c.Webhook.Endpoint) != "" && c.Webhook.Secret == "" {
		return errors.New("webhook: Secret or SecretEnv required with Endpoint")
	}
	return c.Payouts.Validate()
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
