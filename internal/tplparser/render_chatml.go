package tplparser

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

func renderChatML(opts RenderOptions) (string, error) {
	var b strings.Builder
	writeBOS(&b, opts)

	for i, m := range opts.Messages {
		var text string
		switch m.Role {
		case conversation.RoleSystem, conversation.RoleUser:
			text = m.Content
		case conversation.RoleAssistant:
			text = assistantText(opts, opts.Messages, i)
		default:
			return "", fmt.Errorf("chatml: unsupported role %q", m.Role)
		}
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("<|im_end|>\n")
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<|im_start|>assistant\n")
	}
	return b.String(), nil
}
