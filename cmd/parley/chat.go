package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
	"github.com/samcharles93/parley/internal/metrics"
	"github.com/samcharles93/parley/internal/tokenizer"
	"github.com/samcharles93/parley/internal/toy"
	"github.com/samcharles93/parley/internal/tplparser"
	"github.com/samcharles93/parley/pkg/chat"
)

func chatCmd() *cli.Command {
	var (
		settings = chatSettings{template: "chatml", format: "text", streamMode: string(StreamAuto)}
		sampling samplingOpts
		prompt   string
		raw      bool
		sanitize bool
		stats    bool
		dumpMx   bool
		noThink  bool

		tokenizerJSON   string
		tokenizerConfig string
	)

	flags := []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:        "template",
			Aliases:     []string{"t"},
			Usage:       "chat template (" + strings.Join(tplparser.Names(), ", ") + ")",
			Value:       settings.template,
			Destination: &settings.template,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "system prompt, kept across /reset",
			Destination: &settings.system,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "send one message and exit instead of starting a REPL",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "byte-level BPE tokenizer.json to tokenize with instead of the built-in byte tokenizer",
			Destination: &tokenizerJSON,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "tokenizer_config.json naming the BOS and EOS tokens",
			Destination: &tokenizerConfig,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"ctx", "c"},
			Usage:       "context window of the model in tokens (0 = unlimited)",
			Value:       4096,
			Destination: &settings.maxContext,
		},
		&cli.DurationFlag{
			Name:        "step-delay",
			Usage:       "delay per forward pass of the model",
			Value:       15 * time.Millisecond,
			Destination: &settings.stepDelay,
		},
		&cli.StringFlag{
			Name:        "format",
			Usage:       "output format (text, json)",
			Value:       settings.format,
			Destination: &settings.format,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "text streaming (auto, instant, typewriter, quiet)",
			Value:       settings.streamMode,
			Destination: &settings.streamMode,
		},
		&cli.BoolFlag{
			Name:        "raw",
			Usage:       "escape control characters in streamed text",
			Destination: &raw,
		},
		&cli.BoolFlag{
			Name:        "sanitize-history",
			Usage:       "drop reasoning blocks from replies kept in the history",
			Destination: &sanitize,
		},
		&cli.BoolFlag{
			Name:        "hide-reasoning",
			Usage:       "do not print <think> blocks of replies",
			Destination: &noThink,
		},
		&cli.BoolFlag{
			Name:        "stats",
			Usage:       "print throughput after every reply",
			Destination: &stats,
		},
		&cli.BoolFlag{
			Name:        "metrics",
			Usage:       "print decode metrics in Prometheus text format on exit",
			Destination: &dumpMx,
		},
	}
	flags = append(flags, samplingFlags(&sampling)...)
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat with the built-in echo model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := applyChatConfig(c, cfg, &settings); err != nil {
				return cli.Exit(fmt.Sprintf("error: config: %v", err), 1)
			}
			log, err := newLogger(os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ctx = logger.WithContext(ctx, log)
			mode, err := parseStreamMode(settings.streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --stream-mode: %v", err), 1)
			}
			if mode == StreamAuto {
				mode = StreamQuiet
				if isTerminal(os.Stdout) {
					mode = StreamInstant
				}
			}
			if settings.format != "text" && settings.format != "json" {
				return cli.Exit(fmt.Sprintf("error: unknown --format %q (text, json)", settings.format), 1)
			}

			tpl, ok := tplparser.Lookup(settings.template)
			if !ok {
				return cli.Exit(fmt.Sprintf("error: unknown template %q (available: %s)", settings.template, strings.Join(tplparser.Names(), ", ")), 1)
			}

			tok, err := loadVocab(tokenizerJSON, tokenizerConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			backend := toy.NewModel(tok, nil)
			backend.MaxContext = int(settings.maxContext)
			backend.StepDelay = settings.stepDelay
			model := chat.Model{
				Backend:    backend,
				Tokenizer:  tok,
				Template:   tpl,
				StopTokens: chat.StopTokensFor(tok, tok.EOS()),
			}

			req := inference.ResolveRequest(requestOptions(c, sampling, cfg), cfg.GenDefaults())

			reg := prometheus.NewRegistry()
			opts := []chat.Option{
				chat.WithLogger(log),
				chat.WithMetrics(chat.NewMetrics(reg)),
			}
			if settings.system != "" {
				opts = append(opts, chat.WithSystemPrompt(settings.system))
			}
			if sanitize {
				opts = append(opts, chat.WithSanitizedHistory())
			}

			session, err := chat.NewSession(model,
				chat.StopConfig{MaxTokens: req.MaxTokens},
				req.SamplerConfig(model.StopTokens),
				opts...,
			)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Debug("chat ready",
				"session", session.ID(),
				"template", tpl.Name,
				"temperature", req.Temperature,
				"max_tokens", req.MaxTokens,
			)

			r := &repl{
				session: session,
				out:     c.Root().Writer,
				json:    settings.format == "json",
				mode:    mode,
				raw:     raw,
				stats:   stats,
				noThink: noThink,
			}
			if prompt != "" {
				err = r.turn(ctx, prompt)
			} else {
				err = r.loop(ctx)
			}

			if dumpMx {
				if werr := metrics.WriteText(os.Stderr, reg); werr != nil {
					log.Warn("write metrics", "error", werr)
				}
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			return nil
		},
	}
}

// vocab is a tokenizer the echo model can reply with.
type vocab interface {
	toy.Vocab
	TokenID(token string) (int, bool)
}

func loadVocab(path, configPath string) (vocab, error) {
	if path == "" {
		return toy.NewByteTokenizer(), nil
	}
	tok, err := tokenizer.Load(path, configPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if tok.EOS() < 0 {
		return nil, fmt.Errorf("tokenizer %s has no EOS token (pass --tokenizer-config)", path)
	}
	return tok, nil
}

type repl struct {
	session *chat.Session
	out     io.Writer
	json    bool
	mode    StreamMode
	raw     bool
	stats   bool
	noThink bool
}

func (r *repl) loop(ctx context.Context) error {
	interactive := isTerminal(os.Stdin)
	if interactive && !r.json {
		_, _ = fmt.Fprintln(os.Stderr, "Interactive mode. Commands: /reset, /trim [N], /history, /stats, /exit.")
	}
	for {
		line, err := readInteractiveLine("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input := strings.TrimSpace(line)
		if input == "/trim" || strings.HasPrefix(input, "/trim ") {
			dropped, err := r.trim(strings.TrimSpace(strings.TrimPrefix(input, "/trim")))
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			_, _ = fmt.Fprintf(os.Stderr, "dropped %d turn(s), %d left\n", dropped, len(r.session.History()))
			continue
		}
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			r.session.Reset()
			_, _ = fmt.Fprintln(os.Stderr, "conversation cleared")
			continue
		case "/history":
			for _, t := range r.session.History() {
				_, _ = fmt.Fprintf(r.out, "[%s] %s\n", t.Role, t.Content)
			}
			continue
		case "/stats":
			_, _ = fmt.Fprintln(os.Stderr, r.session.RuntimeStatsText())
			continue
		}
		if err := r.turn(ctx, line); err != nil {
			if errors.Is(err, chat.ErrCancelled) {
				continue
			}
			// Reply errors are reported per turn; the conversation goes on.
			if interactive {
				continue
			}
			return err
		}
	}
}

// turn sends one message. Ctrl+C while the reply streams cancels only that
// reply.
func (r *repl) turn(ctx context.Context, text string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var w replyWriter
	if r.json {
		w = NewEventWriter(r.out, r.session.ID())
	} else {
		w = NewStreamWriter(r.out, r.mode, r.raw)
	}
	if r.noThink {
		w = &reasoningFilter{next: w}
	}

	log := logger.FromContext(ctx)
	res, err := r.session.Send(ctx, text, w.Write)
	if werr := w.Finish(res, err); werr != nil {
		return werr
	}
	if err != nil {
		if !r.json {
			log.Error("reply failed", "error", err)
			if errors.Is(err, chat.ErrPromptTooLong) {
				_, _ = fmt.Fprintln(os.Stderr, "the conversation no longer fits the context window; /trim drops the oldest exchange, /reset starts over")
			}
		}
		return err
	}
	if res.Reason.LengthLimitReached() {
		log.Warn("reply truncated at the token limit", "tokens", res.Stats.GeneratedTokens)
	}
	if r.stats && !r.json {
		_, _ = fmt.Fprintln(os.Stderr, r.session.RuntimeStatsText())
	}
	return nil
}

// trim drops the oldest turns after the system prompt. The default is one
// exchange.
func (r *repl) trim(arg string) (int, error) {
	turns := 2
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("/trim wants a positive number of turns, got %q", arg)
		}
		turns = n
	}
	return r.session.DropOldest(turns), nil
}
