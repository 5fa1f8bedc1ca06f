package config

import (
	"os"

	"github.com/BurntSushi/toml"

	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
)

// LoadFile reads and validates a transport configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// Load parses and validates a transport configuration from TOML bytes.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, runtimeerrors.NewConfigValidationError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, runtimeerrors.NewConfigValidationError(err)
	}
	return &cfg, nil
}
