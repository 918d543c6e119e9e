package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/logger"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	debug      bool
)

// samplingOpts holds the sampling flags of the chat command.
type samplingOpts struct {
	temp          float64
	topK          int64
	topP          float64
	minP          float64
	repeatPenalty float64
	repeatLastN   int64
	seed          int64
	maxTokens     int64
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "config file (.yaml, .yml, .toml, .json); defaults to $XDG_CONFIG_HOME/parley/config.yaml",
		Destination: &configPath,
	}
}

func samplingFlags(o *samplingOpts) []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &o.temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"top_k", "topk"},
			Usage:       "top-k sampling",
			Value:       40,
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p", "topp"},
			Usage:       "nucleus sampling threshold",
			Value:       0.95,
			Destination: &o.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Usage:       "min-p sampling threshold",
			Destination: &o.minP,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Aliases:     []string{"repeat_penalty"},
			Usage:       "repetition penalty (1 = off)",
			Value:       1.1,
			Destination: &o.repeatPenalty,
		},
		&cli.Int64Flag{
			Name:        "repeat-last-n",
			Usage:       "window of recent tokens the repetition penalty looks at",
			Value:       64,
			Destination: &o.repeatLastN,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed (-1 = time based)",
			Value:       -1,
			Destination: &o.seed,
		},
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate per reply (0 = until a stop condition)",
			Destination: &o.maxTokens,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, plain, text, json)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger(w io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, w, level)
	if err != nil {
		return nil, fmt.Errorf("--log-format: %w", err)
	}
	return log, nil
}
