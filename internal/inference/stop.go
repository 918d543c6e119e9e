package inference

import (
	"slices"
	"strings"
)

// StopReason tells why a generation ended.
type StopReason string

const (
	StopNone      StopReason = "none"
	StopToken     StopReason = "stop_token"
	StopString    StopReason = "stop_string"
	StopLength    StopReason = "length"
	StopCancelled StopReason = "cancelled"
)

// LengthLimitReached reports whether the generation ended on the token budget
// rather than on a natural end of turn.
func (r StopReason) LengthLimitReached() bool {
	return r == StopLength
}

// StopConfig holds the stop conditions of a session.
type StopConfig struct {
	StopTokens  []int
	StopStrings []string
	// MaxTokens caps generated tokens per turn; 0 means unlimited.
	MaxTokens int
}

// Merge returns c extended with other's tokens and strings. MaxTokens from c
// wins when set.
func (c StopConfig) Merge(other StopConfig) StopConfig {
	out := StopConfig{
		StopTokens:  slices.Clone(c.StopTokens),
		StopStrings: slices.Clone(c.StopStrings),
		MaxTokens:   c.MaxTokens,
	}
	for _, id := range other.StopTokens {
		if !slices.Contains(out.StopTokens, id) {
			out.StopTokens = append(out.StopTokens, id)
		}
	}
	for _, s := range other.StopStrings {
		if !slices.Contains(out.StopStrings, s) {
			out.StopStrings = append(out.StopStrings, s)
		}
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = other.MaxTokens
	}
	return out
}

type Action int

const (
	Continue Action = iota
	// StopClean ends the turn keeping the decoded text. For StopToken the stop
	// token itself is not part of the output.
	StopClean
	// StopAndTrim ends the turn after removing Trim bytes from the end of the
	// decoded text.
	StopAndTrim
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case StopClean:
		return "stop"
	case StopAndTrim:
		return "stop_and_trim"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Trim   int
	Reason StopReason
}

// StopCriteria evaluates a StopConfig against the state of a decode step.
// It is immutable and safe for concurrent use.
type StopCriteria struct {
	tokens    map[int]struct{}
	strs      []string
	maxTokens int
}

func NewStopCriteria(cfg StopConfig) *StopCriteria {
	c := &StopCriteria{
		tokens:    make(map[int]struct{}, len(cfg.StopTokens)),
		maxTokens: max(cfg.MaxTokens, 0),
	}
	for _, id := range cfg.StopTokens {
		c.tokens[id] = struct{}{}
	}
	for _, s := range cfg.StopStrings {
		if s != "" {
			c.strs = append(c.strs, s)
		}
	}
	return c
}

// IsStopToken reports whether id ends the turn.
func (c *StopCriteria) IsStopToken(id int) bool {
	_, ok := c.tokens[id]
	return ok
}

// ShouldStop decides whether generation ends after the newest token. tokens is
// the generated sequence, text its decoding and generated the number of
// tokens produced this turn. A stop token wins over a stop string, which wins
// over the length limit.
func (c *StopCriteria) ShouldStop(tokens []int, text string, generated int) Decision {
	if len(tokens) > 0 && c.IsStopToken(tokens[len(tokens)-1]) {
		return Decision{Action: StopClean, Reason: StopToken}
	}
	if at := c.firstStopString(text); at >= 0 {
		return Decision{Action: StopAndTrim, Trim: len(text) - at, Reason: StopString}
	}
	if c.maxTokens > 0 && generated >= c.maxTokens {
		return Decision{Action: StopClean, Reason: StopLength}
	}
	return Decision{Action: Continue, Reason: StopNone}
}

func (c *StopCriteria) firstStopString(text string) int {
	first := -1
	for _, s := range c.strs {
		if i := strings.Index(text, s); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}

// HoldBack returns how many bytes at the end of text could still grow into a
// stop string and must not be shown yet.
func (c *StopCriteria) HoldBack(text string) int {
	held := 0
	for _, s := range c.strs {
		for n := min(len(s)-1, len(text)); n > held; n-- {
			if strings.HasSuffix(text, s[:n]) {
				held = n
				break
			}
		}
	}
	return held
}
