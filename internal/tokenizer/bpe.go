package tokenizer

import "strings"

type pair struct {
	a, b string
}

type textPart struct {
	text    string
	special bool
}

func parseMerges(raw []any) map[pair]int {
	ranks := make(map[pair]int, len(raw))
	rank := 0
	for _, m := range raw {
		var a, b string
		switch v := m.(type) {
		case string:
			line := strings.TrimSpace(v)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.Split(line, " ")
			if len(parts) != 2 {
				continue
			}
			a, b = parts[0], parts[1]
		case []any:
			if len(v) != 2 {
				continue
			}
			var ok1, ok2 bool
			a, ok1 = v[0].(string)
			b, ok2 = v[1].(string)
			if !ok1 || !ok2 {
				continue
			}
		default:
			continue
		}
		p := pair{a, b}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func mergePair(word []string, p pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i+1 < len(word) && word[i] == p.a && word[i+1] == p.b {
			out = append(out, p.a+p.b)
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// splitSpecials cuts text around occurrences of special tokens. specials must
// be sorted longest first.
func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if sp != "" && strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if start < i {
			parts = append(parts, textPart{text: text[start:i]})
		}
		parts = append(parts, textPart{text: match, special: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		parts = append(parts, textPart{text: text[start:]})
	}
	return parts
}

// bytesToUnicode maps bytes to printable runes to make BPE reversible.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	enc := make(map[byte]string, 256)
	dec := make(map[string]byte, 256)
	n := 0
	for b := range 256 {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + n)
			n++
		}
		enc[byte(b)] = string(r)
		dec[string(r)] = byte(b)
	}
	return enc, dec
}
