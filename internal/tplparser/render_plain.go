package tplparser

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

// renderPlain writes a marker-free transcript, for models without a chat
// template.
func renderPlain(opts RenderOptions) (string, error) {
	var b strings.Builder
	writeBOS(&b, opts)

	for i, m := range opts.Messages {
		switch m.Role {
		case conversation.RoleSystem:
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case conversation.RoleUser:
			b.WriteString("User: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		case conversation.RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(assistantText(opts, opts.Messages, i))
			b.WriteString("\n")
		default:
			return "", fmt.Errorf("plain: unsupported role %q", m.Role)
		}
	}

	if opts.AddGenerationPrompt {
		b.WriteString("Assistant:")
	}
	return b.String(), nil
}
