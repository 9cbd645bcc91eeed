package treasury

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"revledger/native/splitter"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
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

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ShareConfig is a fixed cut in manager configuration.
type ShareConfig struct {
	Recipient string `yaml:"recipient"`
	Percent   uint64 `yaml:"percent"`
}

// RecipientConfig is one row of a revenue share table.
type RecipientConfig struct {
	Address string `yaml:"address"`
	Percent uint64 `yaml:"percent"`
}

// PoolConfig binds an escrow pool to its position owner.
type PoolConfig struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
}

// Config is the manager configData decoded once by the factory. JSON input is
// accepted because it is a subset of YAML.
type Config struct {
	Asset            string            `yaml:"asset"`
	Address          string            `yaml:"address"`
	UnwrapToNative   bool              `yaml:"unwrap_to_native"`
	MaxPercent       uint64            `yaml:"max_percent"`
	Protocol         ShareConfig       `yaml:"protocol"`
	Creator          ShareConfig       `yaml:"creator"`
	Fallback         string            `yaml:"fallback"`
	Recipients       []RecipientConfig `yaml:"recipients"`
	MinStakeDuration Duration          `yaml:"min_stake_duration"`
	Pools            []PoolConfig      `yaml:"pools"`
}

// DecodeConfig parses configData, rejecting unknown fields.
func DecodeConfig(data []byte) (Config, error) {
	cfg := Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode manager config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Asset) == "" {
		cfg.Asset = "NATIVE"
	}
	cfg.Asset = strings.ToUpper(strings.TrimSpace(cfg.Asset))
	if cfg.MaxPercent == 0 {
		cfg.MaxPercent = splitter.MaxPercent2dp
	}
}

// ParseAddress parses a hex address, returning the zero address for empty input.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func (c Config) address() (common.Address, error) { return ParseAddress(c.Address) }

func (c Config) share(kind splitter.Kind, share ShareConfig) (splitter.Share, error) {
	recipient, err := ParseAddress(share.Recipient)
	if err != nil {
		return splitter.Share{}, fmt.Errorf("%s recipient: %w", kind, err)
	}
	return splitter.Share{Kind: kind, Recipient: recipient, Percent: share.Percent}, nil
}

// policy builds the cascading split. Protocol is always taken first.
func (c Config) policy(withCreator bool) (splitter.Policy, error) {
	policy := splitter.Policy{MaxPercent: c.MaxPercent}
	protocol, err := c.share(splitter.KindProtocol, c.Protocol)
	if err != nil {
		return policy, err
	}
	policy.Cuts = append(policy.Cuts, protocol)
	if withCreator {
		creator, err := c.share(splitter.KindCreator, c.Creator)
		if err != nil {
			return policy, err
		}
		policy.Cuts = append(policy.Cuts, creator)
	} else if c.Creator.Percent != 0 {
		return policy, fmt.Errorf("%w: creator cut not supported by this manager", splitter.ErrInvalidShareTotal)
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

func (c Config) table() ([]splitter.Allocation, error) {
	rows := make([]splitter.Allocation, 0, len(c.Recipients))
	for i, row := range c.Recipients {
		addr, err := ParseAddress(row.Address)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		rows = append(rows, splitter.Allocation{Recipient: addr, Percent: row.Percent})
	}
	if err := splitter.ValidateTable(rows, c.MaxPercent); err != nil {
		return nil, err
	}
	return rows, nil
}
