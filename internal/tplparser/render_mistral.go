package tplparser

import (
	"fmt"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

// renderMistral folds the system prompt into the first user instruction and
// requires strict user/assistant alternation.
func renderMistral(opts RenderOptions) (string, error) {
	var b strings.Builder
	writeBOS(&b, opts)

	system, hasSystem, msgs := splitSystem(opts.Messages)
	if err := validateMistralAlternation(msgs); err != nil {
		return "", err
	}

	for i, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			b.WriteString("[INST] ")
			if hasSystem && i == 0 {
				b.WriteString(system)
				b.WriteString("\n\n")
			}
			b.WriteString(m.Content)
			b.WriteString(" [/INST]")
		case conversation.RoleAssistant:
			b.WriteString(assistantText(opts, msgs, i))
			b.WriteString("</s>")
		default:
			return "", fmt.Errorf("mistral: unsupported role %q", m.Role)
		}
	}
	return b.String(), nil
}

func validateMistralAlternation(msgs []conversation.Turn) error {
	for i, m := range msgs {
		if m.Role == conversation.RoleSystem {
			return fmt.Errorf("mistral: system turn must come first")
		}
		expectedUser := i%2 == 0
		if (m.Role == conversation.RoleUser) != expectedUser {
			return fmt.Errorf("mistral: messages must alternate user/assistant roles")
		}
	}
	return nil
}
