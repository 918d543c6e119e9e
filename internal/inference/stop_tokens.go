package inference

import "slices"

// Vocabulary resolves special token strings to ids.
type Vocabulary interface {
	TokenID(token string) (int, bool)
}

// endOfTurnMarkers are the end-of-turn tokens of the common chat formats.
var endOfTurnMarkers = []string{
	"<|im_end|>",
	"<|eot_id|>",
	"<end_of_turn>",
	"<|end|>",
	"</s>",
}

// BuildStopTokens returns eosID followed by every end-of-turn marker present
// in vocab, without duplicates. A negative eosID is skipped.
func BuildStopTokens(vocab Vocabulary, eosID int) []int {
	var stopTokens []int
	if eosID >= 0 {
		stopTokens = append(stopTokens, eosID)
	}
	if vocab == nil {
		return stopTokens
	}
	for _, marker := range endOfTurnMarkers {
		id, ok := vocab.TokenID(marker)
		if !ok || id < 0 || slices.Contains(stopTokens, id) {
			continue
		}
		stopTokens = append(stopTokens, id)
	}
	return stopTokens
}
