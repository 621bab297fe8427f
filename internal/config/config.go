// Package config loads the monitor's configuration, per spec §6: a YAML
// file providing the base schema, with environment variables overriding any
// field, then validated before the facade is constructed.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/nodewatch/btcmonitor/internal/chain"
	"github.com/nodewatch/btcmonitor/internal/pegin"
	"github.com/nodewatch/btcmonitor/internal/pkg/validator"
)

// envPrefix namespaces every environment-variable override, so
// CONFIRMATION_THRESHOLD becomes BTCMONITOR_CONFIRMATION_THRESHOLD.
const envPrefix = "btcmonitor"

// IndexerConfig describes how to reach the external indexer.
type IndexerConfig struct {
	URL       string        `yaml:"url" envconfig:"indexer_url" validate:"required,url"`
	Auth      string        `yaml:"auth" envconfig:"indexer_auth"`
	TimeoutMS int           `yaml:"timeout_ms" envconfig:"indexer_timeout_ms" validate:"required,gt=0"`
	Retries   int           `yaml:"retries" envconfig:"indexer_retries" validate:"gte=0"`
	Timeout   time.Duration `yaml:"-"`
}

// StoreConfig describes how to reach the Redis-backed Monitor Store. The
// spec's `store.path` key is reinterpreted as a Redis address, per §4.1a.
type StoreConfig struct {
	Addr     string `yaml:"path" envconfig:"store_addr" validate:"required"`
	Password string `yaml:"password" envconfig:"store_password"`
	DB       int    `yaml:"db" envconfig:"store_db"`
}

// FederationConfig is one entry of the `peg_in` map, keyed by federation
// tag, per the Open Question resolution for multi-federation support.
type FederationConfig struct {
	DepositScriptHex string `yaml:"deposit_script_hex" validate:"required,hexadecimal"`
	MagicHex         string `yaml:"magic_hex" validate:"required,len=8,hexadecimal"`
	MinPeginAmount   uint64 `yaml:"min_pegin_amount_sats" validate:"required,gt=0"`
}

// Config is the fully resolved, validated configuration consumed by
// monitor.New and the CLI shell.
type Config struct {
	ConfirmationThreshold uint32                      `yaml:"confirmation_threshold" envconfig:"confirmation_threshold"`
	ReorgWindow           uint32                      `yaml:"reorg_window" envconfig:"reorg_window"`
	NewBlockEmitOnReplay  bool                        `yaml:"new_block_emit_on_replay" envconfig:"new_block_emit_on_replay"`
	TickIntervalMS        int                         `yaml:"tick_interval_ms" envconfig:"tick_interval_ms" validate:"gt=0"`
	Indexer               IndexerConfig               `yaml:"indexer"`
	Store                 StoreConfig                 `yaml:"store"`
	PegIn                 map[string]FederationConfig `yaml:"peg_in"`
}

// Load reads path as YAML, applies BTCMONITOR_* environment overrides, fills
// in spec-mandated defaults, and validates the result.
//
// confirmation_threshold defaults to 6 and reorg_window defaults to
// confirmation_threshold, matching monitor.New's own defaulting so a caller
// that skips config.Load (tests, for instance) still gets the same
// behavior.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ConfirmationThreshold: 6,
		TickIntervalMS:        30_000,
		Indexer: IndexerConfig{
			TimeoutMS: 10_000,
			Retries:   3,
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.ReorgWindow == 0 {
		cfg.ReorgWindow = cfg.ConfirmationThreshold
	}
	cfg.Indexer.Timeout = time.Duration(cfg.Indexer.TimeoutMS) * time.Millisecond

	if err := validator.Validate(cfg); err != nil {
		return nil, err
	}
	for tag, fed := range cfg.PegIn {
		if err := validator.Validate(fed); err != nil {
			return nil, fmt.Errorf("peg_in.%s: %w", tag, err)
		}
	}

	return cfg, nil
}

// toDomain decodes a FederationConfig's hex fields into the Federation the
// Detection Engine consumes.
func (f FederationConfig) toDomain(tag string) (pegin.Federation, error) {
	depositScript, err := hex.DecodeString(f.DepositScriptHex)
	if err != nil {
		return pegin.Federation{}, fmt.Errorf("deposit_script_hex: %w", err)
	}
	magicBytes, err := hex.DecodeString(f.MagicHex)
	if err != nil {
		return pegin.Federation{}, fmt.Errorf("magic_hex: %w", err)
	}

	var magic [4]byte
	copy(magic[:], magicBytes)

	return pegin.Federation{
		Tag:            tag,
		DepositScript:  chain.NewLockingScript(depositScript),
		Magic:          magic,
		MinPeginAmount: f.MinPeginAmount,
	}, nil
}

// Federations converts the validated peg_in map into the
// map[string]pegin.Federation the Detection Engine consumes.
func (c *Config) Federations() (map[string]pegin.Federation, error) {
	out := make(map[string]pegin.Federation, len(c.PegIn))
	for tag, fed := range c.PegIn {
		f, err := fed.toDomain(tag)
		if err != nil {
			return nil, err
		}
		out[tag] = f
	}
	return out, nil
}
