package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors; silently ignoring a typo
// in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("unknown config key(s) in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values, supporting the zero-config
// first-run experience.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> CLI flags. CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
func Resolve(cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if cli.LibraryRoot != nil {
		cfg.Library.Root = *cli.LibraryRoot
	}

	if cli.Mirror != nil {
		cfg.Sync.Mirror = *cli.Mirror
	}

	if cli.DeleteRemoved != nil {
		cfg.Sync.DeleteRemoved = *cli.DeleteRemoved
	}

	if cli.ReferenceOnly != nil {
		cfg.Sync.ReferenceOnly = *cli.ReferenceOnly
	}

	cfg.Library.Root = ExpandHome(cfg.Library.Root)
	cfg.Storage.StateDB = ExpandHome(cfg.Storage.StateDB)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
