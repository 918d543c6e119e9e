package tplparser

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

func renderLlama3(opts RenderOptions) (string, error) {
	var b strings.Builder
	writeBOS(&b, opts)

	for i, m := range opts.Messages {
		var text string
		switch m.Role {
		case conversation.RoleSystem, conversation.RoleUser:
			text = strings.TrimSpace(m.Content)
		case conversation.RoleAssistant:
			text = strings.TrimSpace(assistantText(opts, opts.Messages, i))
		default:
			return "", fmt.Errorf("llama3: unsupported role %q", m.Role)
		}
		writeLlama3Header(&b, string(m.Role))
		b.WriteString(text)
		b.WriteString("<|eot_id|>")
	}

	if opts.AddGenerationPrompt {
		writeLlama3Header(&b, "assistant")
	}
	return b.String(), nil
}

func writeLlama3Header(b *strings.Builder, role string) {
	b.WriteString("<|start_header_id|>")
	b.WriteString(role)
	b.WriteString("<|end_header_id|>\n\n")
}
