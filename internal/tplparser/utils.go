package tplparser

import (
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
	"github.com/samcharles93/parley/internal/reasoning"
)

func writeBOS(b *strings.Builder, opts RenderOptions) {
	if !opts.AddBOS && opts.BOSToken != "" {
		b.WriteString(opts.BOSToken)
	}
}

// splitSystem separates a leading system turn from the rest of the history.
func splitSystem(msgs []conversation.Turn) (string, bool, []conversation.Turn) {
	if len(msgs) > 0 && msgs[0].Role == conversation.RoleSystem {
		return msgs[0].Content, true, msgs[1:]
	}
	return "", false, msgs
}

func lastAssistant(msgs []conversation.Turn) int {
	last := -1
	for i, m := range msgs {
		if m.Role == conversation.RoleAssistant {
			last = i
		}
	}
	return last
}

// assistantText drops the reasoning block from assistant turns other than the
// most recent one.
func assistantText(opts RenderOptions, msgs []conversation.Turn, i int) string {
	text := msgs[i].Content
	if opts.KeepPastThinking || i == lastAssistant(msgs) {
		return text
	}
	return strings.TrimSpace(reasoning.Content(text))
}
