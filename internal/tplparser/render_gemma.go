package tplparser

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

func renderGemma(opts RenderOptions) (string, error) {
	var b strings.Builder
	writeBOS(&b, opts)

	system, hasSystem, msgs := splitSystem(opts.Messages)
	for i, m := range msgs {
		role := ""
		text := m.Content
		switch m.Role {
		case conversation.RoleUser:
			role = "user"
			if hasSystem && i == 0 {
				text = system + "\n\n" + text
			}
		case conversation.RoleAssistant:
			role = "model"
			text = assistantText(opts, msgs, i)
		default:
			return "", fmt.Errorf("gemma: unsupported role %q", m.Role)
		}
		b.WriteString("<start_of_turn>")
		b.WriteString(role)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("<end_of_turn>\n")
	}

	if opts.AddGenerationPrompt {
		b.WriteString("<start_of_turn>model\n")
	}
	return b.String(), nil
}
