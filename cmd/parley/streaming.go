package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samcharles93/parley/internal/reasoning"
	"github.com/samcharles93/parley/internal/textdiff"
	"github.com/samcharles93/parley/pkg/chat"
)

type StreamMode string

const (
	StreamAuto       StreamMode = "auto"
	StreamInstant    StreamMode = "instant"
	StreamTypewriter StreamMode = "typewriter"
	StreamQuiet      StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(strings.ToLower(strings.TrimSpace(s))); m {
	case StreamAuto, StreamInstant, StreamTypewriter, StreamQuiet:
		return m, nil
	case "":
		return StreamAuto, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (auto, instant, typewriter, quiet)", s)
	}
}

// replyWriter renders one streamed reply.
type replyWriter interface {
	Write(d chat.Delta) error
	Finish(res *chat.Result, err error) error
}

// StreamWriter renders deltas as terminal text. Correcting deltas rewind the
// cursor with backspaces, so instant and typewriter modes need a terminal;
// quiet mode prints the settled reply once it is complete.
type StreamWriter struct {
	mode  StreamMode
	out   *bufio.Writer
	raw   bool
	shown string
}

func NewStreamWriter(w io.Writer, mode StreamMode, raw bool) *StreamWriter {
	return &StreamWriter{
		mode: mode,
		out:  bufio.NewWriterSize(w, 4096),
		raw:  raw,
	}
}

func (w *StreamWriter) Write(d chat.Delta) error {
	rendered := d.Terminal(w.shown)
	w.shown = textdiff.Apply(w.shown, d)

	switch w.mode {
	case StreamQuiet:
		return nil
	case StreamTypewriter:
		for _, r := range rendered {
			if err := w.writeText(string(r)); err != nil {
				return err
			}
			if err := w.out.Flush(); err != nil {
				return err
			}
		}
		return nil
	default:
		if err := w.writeText(rendered); err != nil {
			return err
		}
		return w.out.Flush()
	}
}

// Finish ends the reply line. A failed reply keeps whatever was shown.
func (w *StreamWriter) Finish(res *chat.Result, err error) error {
	if w.mode == StreamQuiet {
		text := w.shown
		if res != nil {
			text = res.Text
		}
		if werr := w.writeText(text); werr != nil {
			return werr
		}
	}
	if _, werr := w.out.WriteString("\n"); werr != nil {
		return werr
	}
	return w.out.Flush()
}

// Shown is the reply text as displayed so far.
func (w *StreamWriter) Shown() string {
	return w.shown
}

func (w *StreamWriter) writeText(s string) error {
	if w.raw {
		s = escapeRawOutput(s)
	}
	_, err := w.out.WriteString(s)
	return err
}

func escapeRawOutput(s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

// escapeRawOutputRune escapes a single rune for raw output
func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}

// reasoningFilter forwards only the content part of a reply, dropping
// <think> blocks as they stream.
type reasoningFilter struct {
	next     replyWriter
	splitter reasoning.Splitter
}

func (f *reasoningFilter) Write(d chat.Delta) error {
	content, _ := f.splitter.Push(d)
	if content.Empty() {
		return nil
	}
	return f.next.Write(content)
}

func (f *reasoningFilter) Finish(res *chat.Result, err error) error {
	if content, _ := f.splitter.Flush(); !content.Empty() {
		if werr := f.next.Write(content); werr != nil {
			return werr
		}
	}
	if res != nil {
		visible := *res
		visible.Text = reasoning.Content(res.Text)
		res = &visible
	}
	return f.next.Finish(res, err)
}
