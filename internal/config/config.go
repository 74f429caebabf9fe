// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// Known deployment tiers. Each tier has its own credential pool so batch
// jobs cannot burn the production quota.
const (
	TierProduction  = "production"
	TierBatch       = "batch"
	TierDevelopment = "development"
)

// Credential dispatch strategies.
const (
	StrategyFailover   = "failover"
	StrategyRoundRobin = "round-robin"
)

// Config is the top-level Tenderscope configuration.
type Config struct {
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
}

// GeminiConfig controls the generative-AI call layer.
type GeminiConfig struct {
	// Tier selects which credential pool to use. Defaults to development.
	Tier string `mapstructure:"tier"`

	// Strategy selects credential rotation. The production tier always
	// uses failover regardless of this setting.
	Strategy string `mapstructure:"strategy"`

	// Model is the generative model name passed to the provider.
	Model string `mapstructure:"model"`

	// Tiers maps tier name to its credential pair. Values may be plain
	// secrets or keyring://service/key references.
	Tiers map[string]TierKeys `mapstructure:"tiers"`

	// DailyFailureThreshold is the dailyFailures count above which a
	// credential is assumed quota-exhausted and cooled down until the
	// provider's daily reset.
	DailyFailureThreshold int `mapstructure:"daily_failure_threshold"`

	// BackoffCeilingMinutes caps the exponential backoff cooldown.
	BackoffCeilingMinutes int `mapstructure:"backoff_ceiling_minutes"`

	// TemplateDir holds the prompt-optimizer template files.
	TemplateDir string `mapstructure:"template_dir"`

	// CatalogPath points at the AI-tool catalog YAML file.
	CatalogPath string `mapstructure:"catalog_path"`
}

// TierKeys is the ordered credential pair for one tier.
type TierKeys struct {
	Primary string `mapstructure:"primary"`
	Backup  string `mapstructure:"backup"`
}

// StorageConfig selects the health-record store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// SetDefaults installs configuration defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("gemini.tier", TierDevelopment)
	v.SetDefault("gemini.strategy", StrategyFailover)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.daily_failure_threshold", 10)
	v.SetDefault("gemini.backoff_ceiling_minutes", 120)
	v.SetDefault("gemini.template_dir", "prompts")
	v.SetDefault("gemini.catalog_path", "prompts/tools.yaml")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "tenderscope.db")
	v.SetDefault("server.listen", "127.0.0.1:8488")
}

// SetupEnv binds environment variables with the TENDERSCOPE_ prefix, so
// e.g. TENDERSCOPE_GEMINI_TIERS_PRODUCTION_PRIMARY overrides
// gemini.tiers.production.primary.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("TENDERSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, tserr.Errorf(tserr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a Config from an already-populated
// Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, tserr.Errorf(tserr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, tserr.Errorf(tserr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateGemini()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func (c *Config) validateGemini() []error {
	var errs []error

	validTiers := map[string]bool{TierProduction: true, TierBatch: true, TierDevelopment: true}
	if !validTiers[c.Gemini.Tier] {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: gemini.tier must be one of [production, batch, development], got %q",
			c.Gemini.Tier,
		))
	}

	validStrategies := map[string]bool{StrategyFailover: true, StrategyRoundRobin: true}
	if !validStrategies[c.Gemini.Strategy] {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: gemini.strategy must be one of [failover, round-robin], got %q",
			c.Gemini.Strategy,
		))
	}

	for tier := range c.Gemini.Tiers {
		if !validTiers[tier] {
			errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
				"config: gemini.tiers contains unknown tier %q", tier,
			))
		}
	}

	if c.Gemini.Model == "" {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue, "config: gemini.model must not be empty"))
	}

	if c.Gemini.DailyFailureThreshold < 0 {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: gemini.daily_failure_threshold must be non-negative, got %d",
			c.Gemini.DailyFailureThreshold,
		))
	}

	if c.Gemini.BackoffCeilingMinutes <= 0 {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: gemini.backoff_ceiling_minutes must be greater than 0, got %d",
			c.Gemini.BackoffCeilingMinutes,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, tserr.Errorf(tserr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port,
		))
	}

	return errs
}
