package tplparser

import "github.com/samcharles93/parley/internal/conversation"

type RenderOptions struct {
	BOSToken string
	// AddBOS reports that the tokenizer prepends BOS itself, so the rendered
	// text must not.
	AddBOS              bool
	AddGenerationPrompt bool
	KeepPastThinking    bool
	Messages            []conversation.Turn
}

// Template is a named role template.
type Template struct {
	Name     string
	BOSToken string
	// StopStrings end the assistant turn when they appear in generated text.
	StopStrings []string

	render func(RenderOptions) (string, error)
}
