package main

import (
	"io"

	"github.com/goccy/go-json"

	"github.com/samcharles93/parley/pkg/chat"
)

// event is one NDJSON line of --format json output.
type event struct {
	Type      string `json:"type"`
	Session   string `json:"session,omitempty"`
	Backtrack int    `json:"backtrack,omitempty"`
	Text      string `json:"text,omitempty"`

	Reason     string  `json:"reason,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
	Cached     int     `json:"cached_tokens,omitempty"`
	PrefillTPS float64 `json:"prefill_tps,omitempty"`
	DecodeTPS  float64 `json:"decode_tps,omitempty"`

	Error   string `json:"error,omitempty"`
	Partial string `json:"partial,omitempty"`
}

// EventWriter writes a reply as NDJSON: one "delta" event per delta, then a
// "done" or "error" event.
type EventWriter struct {
	enc     *json.Encoder
	session string
}

func NewEventWriter(w io.Writer, session string) *EventWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &EventWriter{enc: enc, session: session}
}

func (w *EventWriter) Write(d chat.Delta) error {
	return w.enc.Encode(event{
		Type:      "delta",
		Session:   w.session,
		Backtrack: d.Backtrack,
		Text:      d.Text,
	})
}

func (w *EventWriter) Finish(res *chat.Result, err error) error {
	if err != nil {
		return w.enc.Encode(event{
			Type:    "error",
			Session: w.session,
			Error:   err.Error(),
			Partial: chat.PartialText(err),
		})
	}
	return w.enc.Encode(event{
		Type:       "done",
		Session:    w.session,
		Text:       res.Text,
		Reason:     string(res.Reason),
		Tokens:     res.Stats.GeneratedTokens,
		Cached:     res.Stats.CachedTokens,
		PrefillTPS: res.Stats.PrefillTPS(),
		DecodeTPS:  res.Stats.DecodeTPS(),
	})
}
