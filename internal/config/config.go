// Package config loads the layered application configuration:
// defaults, then config.yml, then config.local.yml, then environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openchw/meshdoc/internal/core/authorize"
	"github.com/openchw/meshdoc/internal/core/store"
	"github.com/openchw/meshdoc/internal/core/store/persist"
	"github.com/openchw/meshdoc/internal/logging"
	meshsync "github.com/openchw/meshdoc/internal/sync"
	"github.com/openchw/meshdoc/internal/transport/natscell"
	"github.com/openchw/meshdoc/internal/transport/proximity"
	"github.com/openchw/meshdoc/internal/transport/sms"
)

// ShareKey configures one share the node participates in.
type ShareKey struct {
	Name    string `yaml:"name"`    // e.g. +village.b... or plain "village"
	Address string `yaml:"address"` // share address with embedded public key
	Secret  string `yaml:"secret"`  // base64 seed; empty for read-only shares
}

// IdentityConfig holds the node author keypair and share memberships.
type IdentityConfig struct {
	AuthorAddress string     `yaml:"author_address"`
	AuthorSecret  string     `yaml:"author_secret"`
	Shares        []ShareKey `yaml:"shares"`
}

// TransportsConfig groups the channel settings.
type TransportsConfig struct {
	NATS      natscell.Config  `yaml:"nats"`
	Proximity proximity.Config `yaml:"proximity"`
	SMS       sms.Config       `yaml:"sms"`
}

// Config holds the application configuration.
type Config struct {
	Logging   logging.Config   `yaml:"logging"`
	Identity  IdentityConfig   `yaml:"identity"`
	Store     store.Config     `yaml:"store"`
	Persist   persist.Config   `yaml:"persist"`
	Authorize authorize.Config `yaml:"authorize"`
	Sync      meshsync.Config  `yaml:"sync"`
	Transport TransportsConfig `yaml:"transport"`
}

// Load reads configuration from the given directory. Order:
// defaults -> config.yml -> config.local.yml -> env overrides -> Validate.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Logging:   logging.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Persist:   persist.DefaultConfig(),
		Authorize: authorize.DefaultConfig(),
		Sync:      meshsync.DefaultConfig(),
		Transport: TransportsConfig{
			NATS: natscell.DefaultConfig(),
		},
	}

	if err := loadFile(filepath.Join(dir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(dir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.Logging.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Identity.AuthorAddress == "" {
		return fmt.Errorf("identity: author_address is required")
	}
	if c.Identity.AuthorSecret == "" {
		return fmt.Errorf("identity: author_secret is required")
	}
	if c.Persist.Path == "" {
		return fmt.Errorf("persist: path cannot be empty")
	}
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

// applyEnvOverrides maps a small set of deployment-critical settings to
// environment variables so packaged devices can be configured without
// editing files.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MESHDOC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MESHDOC_AUTHOR_ADDRESS"); v != "" {
		c.Identity.AuthorAddress = v
	}
	if v := os.Getenv("MESHDOC_AUTHOR_SECRET"); v != "" {
		c.Identity.AuthorSecret = v
	}
	if v := os.Getenv("MESHDOC_DATA_PATH"); v != "" {
		c.Persist.Path = v
	}
	if v := os.Getenv("MESHDOC_NATS_URL"); v != "" {
		c.Transport.NATS.URL = v
	}
	if v := os.Getenv("MESHDOC_PEER_URL"); v != "" {
		c.Transport.Proximity.PeerURL = v
	}
	if v := os.Getenv("MESHDOC_SMS_RECIPIENT"); v != "" {
		c.Transport.SMS.Recipient = v
	}
}
