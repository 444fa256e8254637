// Package vocab implements the character-level label encoder shared by
// the source and target sides of the segmentation models.
//
// The encoder maps characters to integer ids with four reserved
// specials (pad, start, end, unknown). In masked mode the target side
// uses a two-symbol mask alphabet instead of raw characters: "x" keeps
// the aligned source character, "|" marks a word boundary after it.
// The encoder is built once from the training corpus and is immutable
// afterwards; it is persisted inside the model archive and reloaded
// read-only at inference.
package vocab

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Reserved special tokens. Their ids are fixed so that a serialized
// vocabulary is valid across versions.
const (
	PadToken  = "<pad>"
	SOSToken  = "<start>"
	EOSToken  = "<end>"
	UnkToken  = "<unk>"
	MaskToken = "x"
	WBToken   = "|"
)

const numSpecials = 4

// LabelEncoder maps characters to integer ids.
type LabelEncoder struct {
	masked bool
	itos   []string
	stoi   map[string]int
}

// New creates an empty LabelEncoder holding only the special tokens.
// When masked is true the mask alphabet is registered as well, so that
// masked targets encode without hitting the unknown id.
func New(masked bool) *LabelEncoder {
	le := &LabelEncoder{
		masked: masked,
		itos:   []string{PadToken, SOSToken, EOSToken, UnkToken},
		stoi:   make(map[string]int),
	}
	for i, tok := range le.itos {
		le.stoi[tok] = i
	}
	if masked {
		le.add(MaskToken)
		le.add(WBToken)
	}
	return le
}

func (le *LabelEncoder) add(tok string) {
	if _, ok := le.stoi[tok]; ok {
		return
	}
	le.stoi[tok] = len(le.itos)
	le.itos = append(le.itos, tok)
}

// Fit registers every character of the given corpus lines.
//
// Characters are collected into a set and assigned ids in sorted rune
// order, so the resulting mapping is deterministic regardless of the
// order lines are supplied in.
func (le *LabelEncoder) Fit(lines ...string) {
	seen := make(map[rune]bool)
	for _, line := range lines {
		for _, r := range line {
			seen[r] = true
		}
	}
	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	for _, r := range runes {
		le.add(string(r))
	}
}

// MaskTarget converts a segmented text into its mask string: one
// class per non-space character, the boundary class when a space or
// the end of the text follows, the keep class otherwise.
//
//	MaskTarget("la dame") == "x|xxx|"
func MaskTarget(segmented string) string {
	runes := []rune(segmented)
	var sb strings.Builder
	for i, r := range runes {
		if r == ' ' {
			continue
		}
		if i+1 == len(runes) || runes[i+1] == ' ' {
			sb.WriteString(WBToken)
		} else {
			sb.WriteString(MaskToken)
		}
	}
	return sb.String()
}

// Masked reports whether targets use the mask alphabet.
func (le *LabelEncoder) Masked() bool { return le.masked }

// Len returns the vocabulary size including specials.
func (le *LabelEncoder) Len() int { return len(le.itos) }

// PadIndex returns the padding id.
func (le *LabelEncoder) PadIndex() int { return 0 }

// SOSIndex returns the start-of-sequence id.
func (le *LabelEncoder) SOSIndex() int { return 1 }

// EOSIndex returns the end-of-sequence id.
func (le *LabelEncoder) EOSIndex() int { return 2 }

// UnkIndex returns the unknown-character id.
func (le *LabelEncoder) UnkIndex() int { return 3 }

// Index returns the id for a token, or the unknown id.
func (le *LabelEncoder) Index(tok string) int {
	if id, ok := le.stoi[tok]; ok {
		return id
	}
	return le.UnkIndex()
}

// Encode converts a text into ids framed by start and end markers:
// [sos, c0, c1, ..., eos]. Unknown characters map to the unknown id.
func (le *LabelEncoder) Encode(text string) []int {
	ids := make([]int, 0, len(text)+2)
	ids = append(ids, le.SOSIndex())
	for _, r := range text {
		ids = append(ids, le.Index(string(r)))
	}
	ids = append(ids, le.EOSIndex())
	return ids
}

// Decode converts ids back into text, skipping pad, start and end
// markers. Unknown ids render as the unknown token literal.
func (le *LabelEncoder) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if le.isSpecial(id) {
			continue
		}
		sb.WriteString(le.token(id))
	}
	return sb.String()
}

// DecodeWithSource converts target-side ids into text using the
// aligned source ids.
//
// In masked mode each output class selects the aligned source
// character: the keep class emits it as-is and the boundary class
// emits it followed by a space. In plain mode the source is ignored
// and DecodeWithSource behaves like Decode.
func (le *LabelEncoder) DecodeWithSource(ids, src []int) string {
	if !le.masked {
		return le.Decode(ids)
	}
	srcChars := make([]string, 0, len(src))
	for _, id := range src {
		if le.isSpecial(id) {
			continue
		}
		srcChars = append(srcChars, le.token(id))
	}

	var sb strings.Builder
	pos := 0
	for _, id := range ids {
		if le.isSpecial(id) {
			continue
		}
		if pos >= len(srcChars) {
			break
		}
		sb.WriteString(srcChars[pos])
		if le.token(id) == WBToken {
			sb.WriteString(" ")
		}
		pos++
	}
	return strings.TrimRight(sb.String(), " ")
}

func (le *LabelEncoder) token(id int) string {
	if id < 0 || id >= len(le.itos) {
		return UnkToken
	}
	return le.itos[id]
}

func (le *LabelEncoder) isSpecial(id int) bool {
	return id == le.PadIndex() || id == le.SOSIndex() || id == le.EOSIndex()
}

type encoderJSON struct {
	Masked bool     `json:"masked"`
	ITOS   []string `json:"itos"`
}

// Dump serializes the encoder to JSON. The id-to-token list is stored
// in id order, so Dump is deterministic and Load rebuilds the exact
// same mapping.
func (le *LabelEncoder) Dump() ([]byte, error) {
	return json.Marshal(encoderJSON{Masked: le.masked, ITOS: le.itos})
}

// Load rebuilds a LabelEncoder from a Dump payload.
func Load(data []byte) (*LabelEncoder, error) {
	var payload encoderJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("vocabulary: invalid JSON: %w", err)
	}
	if len(payload.ITOS) < numSpecials {
		return nil, fmt.Errorf("vocabulary: expected at least %d tokens, got %d", numSpecials, len(payload.ITOS))
	}
	for i, want := range []string{PadToken, SOSToken, EOSToken, UnkToken} {
		if payload.ITOS[i] != want {
			return nil, fmt.Errorf("vocabulary: token %d is %q, want %q", i, payload.ITOS[i], want)
		}
	}
	le := &LabelEncoder{
		masked: payload.Masked,
		itos:   payload.ITOS,
		stoi:   make(map[string]int, len(payload.ITOS)),
	}
	for i, tok := range payload.ITOS {
		le.stoi[tok] = i
	}
	return le, nil
}
