// Package reasoning separates <think>...</think> reasoning from the visible
// content of a reply.
package reasoning

import (
	"strings"

	"github.com/samcharles93/parley/internal/textdiff"
)

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

type SplitResult struct {
	Content   string
	Reasoning string
	// Open reports a reasoning block that has not been closed yet.
	Open bool
}

// SplitRaw separates content and reasoning from raw model output using
// <think>...</think> tags, matched case-insensitively. If a think block is
// opened but not closed, the remainder is treated as reasoning.
func SplitRaw(raw string) SplitResult {
	lower := strings.ToLower(raw)

	var content, reasoning strings.Builder
	cursor := 0
	open := false
	for cursor < len(raw) {
		start := strings.Index(lower[cursor:], openTag)
		if start < 0 {
			content.WriteString(raw[cursor:])
			break
		}
		start += cursor
		content.WriteString(raw[cursor:start])

		body := start + len(openTag)
		end := strings.Index(lower[body:], closeTag)
		if end < 0 {
			reasoning.WriteString(raw[body:])
			open = true
			break
		}
		reasoning.WriteString(raw[body : body+end])
		cursor = body + end + len(closeTag)
	}

	return SplitResult{
		Content:   content.String(),
		Reasoning: reasoning.String(),
		Open:      open,
	}
}

// Content returns raw without its reasoning blocks.
func Content(raw string) string {
	return SplitRaw(raw).Content
}

// Splitter turns the deltas of a streamed reply into separate content and
// reasoning deltas. A trailing partial tag is held back until it resolves.
type Splitter struct {
	raw       string
	content   string
	reasoning string
}

func (s *Splitter) Push(d textdiff.Delta) (content, reasoning textdiff.Delta) {
	s.raw = textdiff.Apply(s.raw, d)
	out := SplitRaw(s.raw)

	nextContent, nextReasoning := out.Content, out.Reasoning
	if out.Open {
		nextReasoning = nextReasoning[:len(nextReasoning)-partialTag(nextReasoning, closeTag)]
	} else {
		nextContent = nextContent[:len(nextContent)-partialTag(nextContent, openTag)]
	}

	content = textdiff.Compute(s.content, nextContent)
	reasoning = textdiff.Compute(s.reasoning, nextReasoning)
	s.content, s.reasoning = nextContent, nextReasoning
	return content, reasoning
}

// Flush releases any held back text, for the end of the reply.
func (s *Splitter) Flush() (content, reasoning textdiff.Delta) {
	out := SplitRaw(s.raw)
	content = textdiff.Compute(s.content, out.Content)
	reasoning = textdiff.Compute(s.reasoning, out.Reasoning)
	s.content, s.reasoning = out.Content, out.Reasoning
	return content, reasoning
}

// partialTag is the length of the longest suffix of s that is a proper
// prefix of tag.
func partialTag(s, tag string) int {
	lower := strings.ToLower(s)
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(lower, tag[:n]) {
			return n
		}
	}
	return 0
}
