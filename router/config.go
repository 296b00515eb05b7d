package router

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/wampcore/broker/wamp"
)

// RealmConfig describes one realm to create, either at router boot or
// lazily via auto-create on HELLO.
type RealmConfig struct {
	URI wamp.URI `toml:"uri"`

	// StrictURI is filled in by the router from its own Config for
	// realms auto-created on HELLO. AddRealm uses the value as given, so
	// callers populating RealmConfig for AddRealm set it themselves
	// (cmd/broker copies it from Config).
	StrictURI bool `toml:"-"`
}

// Config is the router-wide configuration loaded from a TOML file.
type Config struct {
	ListenAddr               string        `toml:"listen-addr"`
	ValidationMode           string        `toml:"validation-mode"`
	AutoCreateRealms         bool          `toml:"auto-create-realms"`
	DefaultRealm             string        `toml:"default-realm"`
	AbortOnProtocolViolation bool          `toml:"abort-on-protocol-violation"`
	LogFormat                string        `toml:"log-format"`
	Realms                   []RealmConfig `toml:"realms"`
}

// StrictURIValidation reports whether the configured validation-mode is
// "strict". Anything other than "strict" (including unset) is loose.
func (c *Config) StrictURIValidation() bool {
	return c.ValidationMode == "strict"
}

// LoadConfig reads and parses a TOML router configuration file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	return &cfg, nil
}

// MustLoadConfig is LoadConfig, exiting the process on error. It is used by
// the cmd/broker CLI, which has nothing sensible to do with a bad config
// file other than report it and stop.
func MustLoadConfig(path string) *Config {
	cfg, err := LoadConfig(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}
