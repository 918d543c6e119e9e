package main

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/pkg/chat"
)

func TestStreamWriterModes(t *testing.T) {
	t.Parallel()

	deltas := []chat.Delta{
		{Text: "ab"},
		{Text: "c"},
		{Backtrack: 1, Text: "d"},
	}
	cases := []struct {
		mode StreamMode
		raw  bool
		want string
	}{
		{mode: StreamInstant, want: "abc\bd\n"},
		{mode: StreamTypewriter, want: "abc\bd\n"},
		{mode: StreamQuiet, want: "abd\n"},
		{mode: StreamInstant, raw: true, want: `abc\u0008d` + "\n"},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			w := NewStreamWriter(&buf, tc.mode, tc.raw)
			for _, d := range deltas {
				if err := w.Write(d); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			if err := w.Finish(&chat.Result{Text: "abd"}, nil); err != nil {
				t.Fatalf("finish: %v", err)
			}
			if got := buf.String(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
			if w.Shown() != "abd" {
				t.Fatalf("shown = %q", w.Shown())
			}
		})
	}
}

func TestStreamWriterBlanksShorterCorrection(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewStreamWriter(&buf, StreamInstant, false)
	_ = w.Write(chat.Delta{Text: "héllo"})
	_ = w.Write(chat.Delta{Backtrack: len("éllo"), Text: "i"})
	if got, want := buf.String(), "héllo\b\b\b\bi   \b\b\b"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if w.Shown() != "hi" {
		t.Fatalf("shown = %q", w.Shown())
	}
}

func TestParseStreamMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]StreamMode{"": StreamAuto, " Quiet ": StreamQuiet, "typewriter": StreamTypewriter} {
		got, err := parseStreamMode(in)
		if err != nil || got != want {
			t.Fatalf("parseStreamMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := parseStreamMode("smooth"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestEventWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewEventWriter(&buf, "s1")
	_ = w.Write(chat.Delta{Text: "<b>"})
	_ = w.Write(chat.Delta{Backtrack: 1, Text: "i>"})
	_ = w.Finish(&chat.Result{Text: "<bi>", Reason: inference.StopToken, Stats: inference.Stats{GeneratedTokens: 4}}, nil)

	failed := &inference.GenerationError{Kind: inference.ErrBackend, Op: "decode", Partial: "<b", Err: errors.New("device lost")}
	_ = w.Finish(nil, failed)

	var events []event
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var ev event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != "delta" || events[0].Text != "<b>" || events[0].Session != "s1" {
		t.Fatalf("first event: %+v", events[0])
	}
	if events[1].Backtrack != 1 {
		t.Fatalf("correcting event lost backtrack: %+v", events[1])
	}
	if events[2].Type != "done" || events[2].Reason != "stop_token" || events[2].Tokens != 4 {
		t.Fatalf("done event: %+v", events[2])
	}
	if events[3].Type != "error" || events[3].Partial != "<b" || !strings.Contains(events[3].Error, "device lost") {
		t.Fatalf("error event: %+v", events[3])
	}
	if strings.Contains(buf.String(), `\u003c`) {
		t.Fatalf("html escaping should be off: %s", buf.String())
	}
}

func TestReasoningFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &reasoningFilter{next: NewStreamWriter(&buf, StreamInstant, false)}
	for _, d := range []chat.Delta{{Text: "<thi"}, {Text: "nk>plan</think>"}, {Text: "Hi <"}} {
		if err := w.Write(d); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Finish(&chat.Result{Text: "<think>plan</think>Hi <"}, nil); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got := buf.String(); got != "Hi <\n" {
		t.Fatalf("got %q", got)
	}
}
