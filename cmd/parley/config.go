package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/config"
	"github.com/samcharles93/parley/internal/inference"
)

func loadConfig() (config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", config.DefaultPath(), err)
	}
	return cfg, nil
}

func isSet(c *cli.Command, names ...string) bool {
	for _, n := range names {
		if c.IsSet(n) {
			return true
		}
	}
	return false
}

// requestOptions collects the sampling flags the user set explicitly. Unset
// flags stay nil so config file values and built-in defaults show through.
func requestOptions(c *cli.Command, o samplingOpts, cfg config.Config) inference.RequestOptions {
	var opts inference.RequestOptions
	if isSet(c, "temp", "temperature") {
		opts.Temperature = &o.temp
	}
	if isSet(c, "top-k", "top_k", "topk") {
		k := int(o.topK)
		opts.TopK = &k
	}
	if isSet(c, "top-p", "top_p", "topp") {
		opts.TopP = &o.topP
	}
	if c.IsSet("min-p") {
		opts.MinP = &o.minP
	}
	if isSet(c, "repeat-penalty", "repeat_penalty") {
		opts.RepeatPenalty = &o.repeatPenalty
	}
	if c.IsSet("repeat-last-n") {
		n := int(o.repeatLastN)
		opts.RepeatLastN = &n
	}
	if isSet(c, "max-tokens", "n") {
		n := int(o.maxTokens)
		opts.MaxTokens = &n
	}
	switch {
	case c.IsSet("seed"):
		opts.Seed = &o.seed
	case cfg.Seed != nil:
		opts.Seed = cfg.Seed
	}
	return opts
}

// chatSettings are the non-sampling options of the chat command.
type chatSettings struct {
	template   string
	system     string
	maxContext int64
	stepDelay  time.Duration
	format     string
	streamMode string
}

// applyChatConfig applies config file defaults to chat settings when the
// corresponding flag was not explicitly set.
func applyChatConfig(c *cli.Command, cfg config.Config, s *chatSettings) error {
	if cfg.Template != "" && !c.IsSet("template") {
		s.template = cfg.Template
	}
	if cfg.SystemPrompt != "" && !c.IsSet("system") {
		s.system = cfg.SystemPrompt
	}
	if cfg.MaxContext != nil && !c.IsSet("max-context") {
		s.maxContext = int64(*cfg.MaxContext)
	}
	if cfg.StepDelay != "" && !c.IsSet("step-delay") {
		d, err := cfg.Delay()
		if err != nil {
			return err
		}
		s.stepDelay = d
	}
	if cfg.Format != "" && !c.IsSet("format") {
		s.format = cfg.Format
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	return nil
}
