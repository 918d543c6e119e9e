// Package config loads the parley configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/parley/internal/inference"
)

// Config mirrors ~/.config/parley/config.yaml. Pointer fields distinguish
// "not set" from zero values so command-line flags and built-in defaults can
// be layered underneath.
type Config struct {
	Template     string `json:"template" yaml:"template" toml:"template"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`

	// Sampling defaults
	Temperature   *float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK          *int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP          *float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP          *float64 `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty *float64 `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	MaxTokens     *int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Seed          *int64   `json:"seed" yaml:"seed" toml:"seed"`

	// Toy model
	MaxContext *int   `json:"max_context" yaml:"max_context" toml:"max_context"`
	StepDelay  string `json:"step_delay" yaml:"step_delay" toml:"step_delay"`

	// Output
	Format    string `json:"format" yaml:"format" toml:"format"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// DefaultPath is $XDG_CONFIG_HOME/parley/config.yaml, or "" when no user
// config directory is known.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "parley", "config.yaml")
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, err := cfg.Delay(); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault reads the file at DefaultPath. A missing file yields a zero
// Config.
func LoadDefault() (Config, error) {
	path := DefaultPath()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// Delay parses StepDelay. An empty value is zero.
func (c Config) Delay() (time.Duration, error) {
	if c.StepDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StepDelay)
	if err != nil {
		return 0, fmt.Errorf("step_delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("step_delay: negative duration %s", d)
	}
	return d, nil
}

// GenDefaults returns the sampling settings of the file as model defaults.
func (c Config) GenDefaults() inference.GenDefaults {
	return inference.GenDefaults{
		Temperature:       c.Temperature,
		TopK:              c.TopK,
		TopP:              c.TopP,
		MinP:              c.MinP,
		RepetitionPenalty: c.RepeatPenalty,
		MaxTokens:         c.MaxTokens,
	}
}
