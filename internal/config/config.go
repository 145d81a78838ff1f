// Package config loads and validates fixrev settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// FileName is the per-workspace config file.
const FileName = ".fixrev.toml"

// Config holds all fixrev configuration.
type Config struct {
	AI    AI                    `toml:"ai"`
	Group Group                 `toml:"group"`
	Tools map[string]ToolConfig `toml:"tools" validate:"dive"`
}

// AI configures the provider, the fix flow and retry behavior.
type AI struct {
	Enabled            bool    `toml:"enabled"`
	Provider           string  `toml:"provider" validate:"oneof=anthropic openai"`
	Model              string  `toml:"model"`
	APIKeyEnv          string  `toml:"api_key_env"`
	DefaultFix         bool    `toml:"default_fix"`
	AutoApply          bool    `toml:"auto_apply"`
	AutoApplySafeFixes bool    `toml:"auto_apply_safe_fixes"`
	MaxTokens          int     `toml:"max_tokens" validate:"gte=1"`
	MaxFixIssues       int     `toml:"max_fix_issues" validate:"gte=1"`
	MaxParallelCalls   int     `toml:"max_parallel_calls" validate:"gte=1,lte=20"`
	MaxRetries         int     `toml:"max_retries" validate:"gte=0,lte=10"`
	APITimeout         int     `toml:"api_timeout" validate:"gte=1"`
	ValidateAfterGroup bool    `toml:"validate_after_group"`
	ShowCostEstimate   bool    `toml:"show_cost_estimate"`
	ContextLines       int     `toml:"context_lines" validate:"gte=1,lte=100"`
	FixSearchRadius    int     `toml:"fix_search_radius" validate:"gte=1,lte=50"`
	RetryBaseDelay     float64 `toml:"retry_base_delay" validate:"gte=0.1"`
	RetryMaxDelay      float64 `toml:"retry_max_delay" validate:"gte=1,gtefield=RetryBaseDelay"`
	RetryBackoffFactor float64 `toml:"retry_backoff_factor" validate:"gte=1"`
}

// Group configures how findings are clustered into patch groups.
type Group struct {
	ProximityWindow   int `toml:"proximity_window" validate:"gte=0"`
	SystemicThreshold int `toml:"systemic_threshold" validate:"gte=0"`
	MaxGroupSize      int `toml:"max_group_size" validate:"gte=1,lte=50"`
}

// ToolConfig describes how to re-run a tool for validation. The command
// must print normalized findings JSON on stdout; touched files are
// appended as arguments.
type ToolConfig struct {
	Command []string `toml:"command" validate:"min=1"`
}

// Default returns config with the documented defaults.
func Default() Config {
	return Config{
		AI: AI{
			Provider:           ProviderAnthropic,
			AutoApplySafeFixes: true,
			MaxTokens:          4096,
			MaxFixIssues:       20,
			MaxParallelCalls:   5,
			MaxRetries:         2,
			APITimeout:         60,
			ShowCostEstimate:   true,
			ContextLines:       15,
			FixSearchRadius:    5,
			RetryBaseDelay:     1.0,
			RetryMaxDelay:      30.0,
			RetryBackoffFactor: 2.0,
		},
		Group: Group{
			ProximityWindow:   3,
			SystemicThreshold: 3,
			MaxGroupSize:      5,
		},
	}
}

var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-6",
	ProviderOpenAI:    "gpt-4o",
}

var defaultKeyEnvs = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// ModelName returns the configured model or the provider default.
func (a AI) ModelName() string {
	if a.Model != "" {
		return a.Model
	}
	return defaultModels[strings.ToLower(a.Provider)]
}

// KeyEnv returns the environment variable holding the API key.
func (a AI) KeyEnv() string {
	if a.APIKeyEnv != "" {
		return a.APIKeyEnv
	}
	if env, ok := defaultKeyEnvs[strings.ToLower(a.Provider)]; ok {
		return env
	}
	return strings.ToUpper(a.Provider) + "_API_KEY"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every bound. The returned error lists all violations.
func (c Config) Validate() error {
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Load reads the first config file found, starting from dir, and falls
// back to defaults. Unknown keys are rejected.
func Load(dir string) (Config, string, error) {
	for _, p := range Paths(dir) {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := LoadFile(p)
		return cfg, p, err
	}
	cfg := Default()
	return cfg, "", nil
}

// LoadFile decodes a single TOML file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("parse config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Paths lists candidate config files in lookup order.
func Paths(dir string) []string {
	var paths []string
	if dir != "" {
		paths = append(paths, filepath.Join(dir, FileName))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "fixrev", "config.toml"))
	}
	if home, _ := os.UserHomeDir(); home != "" {
		paths = append(paths, filepath.Join(home, ".config", "fixrev", "config.toml"))
	}
	return paths
}
