package inference

import (
	"strings"

	"github.com/samcharles93/parley/internal/reasoning"
)

var sentinelTokens = append([]string{"<|endoftext|>", "<|end_of_text|>"}, endOfTurnMarkers...)

// SanitizeAssistantForContext removes reasoning/sentinel artifacts before
// assistant text is fed back into subsequent turns.
func SanitizeAssistantForContext(text string) string {
	s := reasoning.Content(text)
	for _, token := range sentinelTokens {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}
