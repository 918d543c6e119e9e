package toy

import (
	"fmt"
	"slices"
	"strings"
)

// Special tokens follow the 256 byte tokens, in this order.
var specialTokens = []string{
	"<|endoftext|>",
	"<|im_start|>",
	"<|im_end|>",
	"<|begin_of_text|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"<|eot_id|>",
	"<s>",
	"</s>",
	"[INST]",
	"[/INST]",
	"<bos>",
	"<start_of_turn>",
	"<end_of_turn>",
}

// ByteTokenizer maps every byte to its own id and each special token to a
// single id above 255. Decoding replaces invalid UTF-8 with U+FFFD the way
// byte-level BPE decoders do.
type ByteTokenizer struct {
	specials []string
	ids      map[string]int
}

func NewByteTokenizer() *ByteTokenizer {
	t := &ByteTokenizer{
		specials: slices.Clone(specialTokens),
		ids:      make(map[string]int, len(specialTokens)),
	}
	// longest first so "<start_of_turn>" is not shadowed by a shorter match
	slices.SortStableFunc(t.specials, func(a, b string) int { return len(b) - len(a) })
	for i, s := range specialTokens {
		t.ids[s] = 256 + i
	}
	return t
}

func (t *ByteTokenizer) VocabSize() int {
	return 256 + len(specialTokens)
}

// EOS is the id of <|endoftext|>.
func (t *ByteTokenizer) EOS() int {
	return t.ids["<|endoftext|>"]
}

// TokenID resolves a special token string.
func (t *ByteTokenizer) TokenID(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}

// TokenString returns the text of a single id.
func (t *ByteTokenizer) TokenString(id int) string {
	switch {
	case id >= 0 && id < 256:
		return string([]byte{byte(id)})
	case id >= 256 && id < t.VocabSize():
		return specialTokens[id-256]
	default:
		return ""
	}
}

func (t *ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for i := 0; i < len(text); {
		if text[i] == '<' || text[i] == '[' {
			if s, ok := t.specialAt(text[i:]); ok {
				ids = append(ids, t.ids[s])
				i += len(s)
				continue
			}
		}
		ids = append(ids, int(text[i]))
		i++
	}
	return ids, nil
}

func (t *ByteTokenizer) specialAt(text string) (string, bool) {
	for _, s := range t.specials {
		if strings.HasPrefix(text, s) {
			return s, true
		}
	}
	return "", false
}

func (t *ByteTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		switch {
		case id >= 0 && id < 256:
			b.WriteByte(byte(id))
		case id >= 256 && id < t.VocabSize():
			b.WriteString(specialTokens[id-256])
		default:
			return "", fmt.Errorf("toy: token id %d outside vocabulary", id)
		}
	}
	return strings.ToValidUTF8(b.String(), "�"), nil
}
