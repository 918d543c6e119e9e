// Package textdiff computes the text to stream between two successive decodes
// of a growing token sequence.
//
// A tokenizer re-decodes the whole sequence on every step, so a new snapshot is
// not guaranteed to extend the previous one: merges can re-segment trailing
// bytes and change characters that were already shown. Compute reports those
// cases as correcting deltas instead of assuming append-only growth.
package textdiff

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Delta is the change from one shown snapshot to the next. Backtrack bytes of
// previously shown text are discarded before Text is appended.
type Delta struct {
	Backtrack int
	Text      string
}

// Correcting reports whether the delta rewrites text that was already shown.
func (d Delta) Correcting() bool {
	return d.Backtrack > 0
}

// Empty reports whether applying the delta is a no-op.
func (d Delta) Empty() bool {
	return d.Backtrack == 0 && d.Text == ""
}

// Compute returns the delta that turns previous into current.
func Compute(previous, current string) Delta {
	k := commonPrefix(previous, current)
	if k == len(previous) {
		return Delta{Text: current[k:]}
	}
	// Never cut a multi-byte character in half on either side.
	for k > 0 && !(runeBoundary(current, k) && runeBoundary(previous, k)) {
		k--
	}
	return Delta{
		Backtrack: len(previous) - k,
		Text:      current[k:],
	}
}

// ComputeDelta returns only the text to append for the step from previous to
// current. For a divergent pair it is the suffix of current after the longest
// common prefix; callers that need to know how much to discard use Compute.
func ComputeDelta(previous, current string) string {
	return Compute(previous, current).Text
}

// Apply applies d to shown. A backtrack larger than shown clears it; a
// negative one is ignored.
func Apply(shown string, d Delta) string {
	keep := min(max(len(shown)-d.Backtrack, 0), len(shown))
	return shown[:keep] + d.Text
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func runeBoundary(s string, i int) bool {
	return i >= len(s) || utf8.RuneStart(s[i])
}

// StableLen returns the length of the prefix of text that can be shown without
// risking a later rewrite of a half-decoded character: a trailing incomplete
// UTF-8 sequence or a trailing replacement rune is held back.
func StableLen(text string) int {
	end := len(text)
	for end > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:end])
		if r != utf8.RuneError {
			break
		}
		if size > 1 {
			// literal U+FFFD emitted by a byte-level decoder
			end -= size
			continue
		}
		start := end - 1
		for start > 0 && end-start < utf8.UTFMax && !utf8.RuneStart(text[start]) {
			start--
		}
		if utf8.RuneStart(text[start]) && !utf8.FullRuneInString(text[start:end]) {
			end = start
		} else {
			end--
		}
	}
	return end
}

// Terminal renders d for a character terminal that already displays shown,
// starting at the first column of a line: one backspace per discarded rune,
// the new text, then blanks over any cells the new text did not cover.
// Backspaces cannot cross a line break, so when the discarded text spans
// lines the cursor moves up with ANSI escapes, the screen below is cleared
// and the start of the line the reply resumes on is printed again. Cells are
// counted as one per rune; wide runes and soft-wrapped lines are not tracked.
func (d Delta) Terminal(shown string) string {
	if !d.Correcting() {
		return d.Text
	}
	back := min(d.Backtrack, len(shown))
	kept, discarded := shown[:len(shown)-back], shown[len(shown)-back:]
	var b strings.Builder
	if lines := strings.Count(discarded, "\n"); lines > 0 {
		fmt.Fprintf(&b, "\x1b[%dA\r\x1b[J", lines)
		b.WriteString(kept[strings.LastIndexByte(kept, '\n')+1:])
		b.WriteString(d.Text)
		return b.String()
	}
	erased := utf8.RuneCountInString(discarded)
	b.WriteString(strings.Repeat("\b", erased))
	b.WriteString(d.Text)
	if extra := erased - utf8.RuneCountInString(d.Text); extra > 0 {
		b.WriteString(strings.Repeat(" ", extra))
		b.WriteString(strings.Repeat("\b", extra))
	}
	return b.String()
}
