package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileLoader reads Config from a YAML file, then applies the .env file and
// environment overrides.
type FileLoader struct {
	// Path is the config file. Empty means DefaultPath().
	Path string

	// DotEnvPath is an optional .env file. A missing file is not an error.
	DotEnvPath string

	// Getenv reads the environment. Nil means os.Getenv.
	Getenv func(string) string
}

// DefaultPath returns ~/.config/cspm-auditor/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "cspm-auditor", "config.yaml")
	}
	return filepath.Join(home, ".config", "cspm-auditor", "config.yaml")
}

// ConfigPath implements Loader.
func (l FileLoader) ConfigPath() string {
	if l.Path != "" {
		return l.Path
	}
	return DefaultPath()
}

// Load implements Loader. A missing config file yields Default() with
// overrides applied. Validation errors are joined into one error.
func (l FileLoader) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(l.ConfigPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", l.ConfigPath(), err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", l.ConfigPath(), err)
		}
	}

	if l.DotEnvPath != "" {
		if err := LoadDotEnv(l.DotEnvPath); err != nil {
			return nil, err
		}
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	ApplyEnv(cfg, getenv)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", l.ConfigPath(), errors.Join(errs...))
	}
	return cfg, nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
