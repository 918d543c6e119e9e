package tplparser

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/parley/internal/conversation"
)

var templates = map[string]Template{
	"chatml": {
		Name:        "chatml",
		StopStrings: []string{"<|im_end|>", "<|im_start|>"},
		render:      renderChatML,
	},
	"llama3": {
		Name:        "llama3",
		BOSToken:    "<|begin_of_text|>",
		StopStrings: []string{"<|eot_id|>", "<|start_header_id|>"},
		render:      renderLlama3,
	},
	"mistral": {
		Name:        "mistral",
		BOSToken:    "<s>",
		StopStrings: []string{"</s>", "[INST]"},
		render:      renderMistral,
	},
	"gemma": {
		Name:        "gemma",
		BOSToken:    "<bos>",
		StopStrings: []string{"<end_of_turn>", "<start_of_turn>"},
		render:      renderGemma,
	},
	"plain": {
		Name:        "plain",
		StopStrings: []string{"\nUser:"},
		render:      renderPlain,
	},
}

// Names lists the registered templates in sorted order.
func Names() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup finds a template by name, falling back to recognising the markers of
// a raw chat template source.
func Lookup(name string) (Template, bool) {
	if t, ok := templates[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, true
	}
	return Detect(name)
}

// Detect picks a template from the control markers that appear in a chat
// template source.
func Detect(source string) (Template, bool) {
	switch {
	case strings.Contains(source, "<start_of_turn>"):
		return templates["gemma"], true
	case strings.Contains(source, "[INST]"):
		return templates["mistral"], true
	case strings.Contains(source, "<|start_header_id|>"):
		return templates["llama3"], true
	case strings.Contains(source, "<|im_start|>") && strings.Contains(source, "<|im_end|>"):
		return templates["chatml"], true
	default:
		return Template{}, false
	}
}

// Render renders opts through the template. The template's BOS token is used
// when opts does not name one.
func (t Template) Render(opts RenderOptions) (string, error) {
	if t.render == nil {
		return "", fmt.Errorf("tplparser: template %q has no renderer", t.Name)
	}
	if opts.BOSToken == "" {
		opts.BOSToken = t.BOSToken
	}
	return t.render(opts)
}

// Renderer adapts the template to a conversation renderer.
func (t Template) Renderer(addGenerationPrompt bool) conversation.Renderer {
	return conversation.RenderFunc(func(history []conversation.Turn) (string, error) {
		return t.Render(RenderOptions{
			AddGenerationPrompt: addGenerationPrompt,
			Messages:            history,
		})
	})
}
