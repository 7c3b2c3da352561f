// Package config provides configuration management for the leaptx CLI.
//
// Configuration is layered with koanf: built-in defaults, then leaptx.yaml,
// then LEAPTX_ environment variables, then command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leaptx/pkg/adapter"
	"github.com/leapstack-labs/leaptx/pkg/txn"
)

// Config holds all CLI configuration options.
type Config struct {
	Environment  string               `koanf:"environment" yaml:"environment"`
	Verbose      bool                 `koanf:"verbose" yaml:"verbose"`
	OutputFormat string               `koanf:"output" yaml:"output"`
	Target       *TargetConfig        `koanf:"target" yaml:"target"`
	Tx           txn.Config           `koanf:"tx" yaml:"tx"`
	Environments map[string]EnvConfig `koanf:"environments" yaml:"environments,omitempty"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	Target *TargetConfig `koanf:"target" yaml:"target,omitempty"`
}

// TargetConfig describes the database the CLI connects to.
type TargetConfig struct {
	Type     string            `koanf:"type" yaml:"type"`
	Database string            `koanf:"database" yaml:"database"`
	Host     string            `koanf:"host" yaml:"host,omitempty"`
	Port     int               `koanf:"port" yaml:"port,omitempty"`
	User     string            `koanf:"user" yaml:"user,omitempty"`
	Password string            `koanf:"password" yaml:"password,omitempty"`
	Options  map[string]string `koanf:"options" yaml:"options,omitempty"`
	Params   map[string]any    `koanf:"params" yaml:"params,omitempty"`
}

// Default configuration values.
const (
	DefaultEnv        = "dev"
	DefaultOutput     = "auto" // Auto-detect: TTY=table, non-TTY=markdown
	DefaultTargetType = "sqlite"
	DefaultDatabase   = "leaptx.db"
)

// Validate checks the target configuration.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	t.Type = strings.ToLower(t.Type)
	if !adapter.IsRegistered(t.Type) {
		return &adapter.UnknownAdapterError{Type: t.Type, Available: adapter.ListAdapters()}
	}
	return nil
}

// AdapterConfig converts the target to the adapter configuration.
func (t *TargetConfig) AdapterConfig() adapter.Config {
	return adapter.Config{
		Type:     t.Type,
		Path:     t.Database,
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Options:  t.Options,
		Params:   t.Params,
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Target == nil {
		return fmt.Errorf("target is required")
	}
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("invalid target configuration: %w", err)
	}
	if err := c.Tx.Validate(); err != nil {
		return fmt.Errorf("invalid tx configuration: %w", err)
	}
	return nil
}

// Redacted returns a copy of c that is safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if c.Target != nil {
		t := *c.Target
		if t.Password != "" {
			t.Password = "****"
		}
		out.Target = &t
	}
	return &out
}
