// Package tokenizer implements byte-level BPE tokenizers loaded from a
// Hugging Face tokenizer.json.
package tokenizer

import (
	"cmp"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// BPE is a byte-level BPE tokenizer. Decode works on raw bytes, so a prefix
// of a token sequence may decode to a string ending in a partial UTF-8
// sequence.
type BPE struct {
	encoder     map[string]int
	decoder     []string
	ranks       map[pair]int
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	special     []string
	isSpecial   map[int]bool

	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool

	mu    sync.Mutex
	cache map[string][]string
}

type preTokenizer struct {
	Type          string `json:"type"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}

type tokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  preTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type tokenizerConfig struct {
	AddBOS bool   `json:"add_bos_token"`
	AddEOS bool   `json:"add_eos_token"`
	BOS    string `json:"bos_token"`
	EOS    string `json:"eos_token"`
}

// Load reads tokenizer.json and, when configPath is not empty,
// tokenizer_config.json.
func Load(path, configPath string) (*BPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if configPath != "" {
		cfg, err = os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
	}
	return Parse(data, cfg)
}

// Parse builds a tokenizer from the contents of tokenizer.json and an
// optional tokenizer_config.json.
func Parse(data, config []byte) (*BPE, error) {
	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(tj.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for token %q", id, tok)
		}
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			return nil, fmt.Errorf("negative id %d for added token %q", at.ID, at.Content)
		}
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		decoder[id] = tok
	}

	t := &BPE{
		encoder:      encoder,
		decoder:      decoder,
		ranks:        parseMerges(tj.Model.Merges),
		pattern:      buildPattern(tj.PreTokenizer),
		isSpecial:    make(map[int]bool),
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		ignoreMerges: tj.Model.IgnoreMerges,
		cache:        make(map[string][]string),
	}
	t.byteEncoder, t.byteDecoder = bytesToUnicode()

	for _, at := range tj.AddedTokens {
		if at.Special {
			t.special = append(t.special, at.Content)
			t.isSpecial[at.ID] = true
		}
	}
	// longest first so overlapping markers match greedily
	slices.SortFunc(t.special, func(a, b string) int { return cmp.Compare(len(b), len(a)) })

	if len(config) > 0 {
		var cfg tokenizerConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
		t.addBOS, t.addEOS = cfg.AddBOS, cfg.AddEOS
		if id, ok := encoder[cfg.BOS]; ok && cfg.BOS != "" {
			t.bosID = id
		}
		if id, ok := encoder[cfg.EOS]; ok && cfg.EOS != "" {
			t.eosID = id
		}
	}
	// A TemplateProcessing post-processor prepends its first special token.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, spec := range proc.SpecialTokens {
			if len(spec.IDs) > 0 {
				t.bosID = spec.IDs[0]
				t.addBOS = true
				break
			}
		}
	}
	if id, ok := encoder[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		t.unkID = id
	}
	return t, nil
}

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.special) {
		if part.special {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		for _, word := range t.pattern.FindAllString(part.text, -1) {
			for _, piece := range t.bpe(t.byteEncode(word)) {
				id, ok := t.encoder[piece]
				if !ok {
					if t.unkID < 0 {
						return nil, fmt.Errorf("unknown token %q", piece)
					}
					id = t.unkID
				}
				ids = append(ids, id)
			}
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

// Decode maps ids back to bytes. Special tokens decode to their literal text.
func (t *BPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if t.isSpecial[id] {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *BPE) VocabSize() int { return len(t.decoder) }
func (t *BPE) BOS() int       { return t.bosID }
func (t *BPE) EOS() int       { return t.eosID }
func (t *BPE) AddBOS() bool   { return t.addBOS }

// TokenID looks up the id of a vocabulary entry or added token.
func (t *BPE) TokenID(token string) (int, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *BPE) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteString(t.byteEncoder[s[i]])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	t.mu.Lock()
	cached, ok := t.cache[token]
	t.mu.Unlock()
	if ok {
		return cached
	}

	word := splitRunes(token)
	if _, known := t.encoder[token]; !t.ignoreMerges || !known {
		word = t.merge(word)
	} else {
		word = []string{token}
	}

	t.mu.Lock()
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

// merge applies the lowest ranked merge until none applies.
func (t *BPE) merge(word []string) []string {
	for len(word) > 1 {
		best, bestRank := pair{}, -1
		for i := 0; i+1 < len(word); i++ {
			p := pair{word[i], word[i+1]}
			if rank, ok := t.ranks[p]; ok && (bestRank < 0 || rank < bestRank) {
				best, bestRank = p, rank
			}
		}
		if bestRank < 0 {
			break
		}
		word = mergePair(word, best)
	}
	return word
}

func buildPattern(pre preTokenizer) *regexp.Regexp {
	// GPT-2 split
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre.Type == "Sequence" {
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Llama 3 style patterns use lookahead, which RE2 lacks; use the llama.cpp
	// equivalent.
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`\S+|\s+`)
	}
	return re
}
