//go:build RUST || ALL

package backends

import (
	"fmt"
	"os"

	"github.com/daulet/tokenizers"

	"github.com/farmhand-nlp/farmhand/util/safeconv"
)

// rustTokenizer wraps the HuggingFace rust tokenizer bindings. It yields the
// same encodings as the Go backend but is considerably faster on large
// documents.
type rustTokenizer struct {
	tk    *tokenizers.Tokenizer
	opts  []tokenizers.EncodeOption
	clsID int
	sepID int
	padID int
}

func loadRustTokenizer(tokenizerBytes []byte, config TokenizerConfig) (Tokenizer, error) {
	if config.SingleThreaded {
		// rayon reads its thread cap from the environment once, at pool
		// creation. Set it before the first tokenizer is constructed.
		if err := os.Setenv("RAYON_RS_NUM_CPUS", "1"); err != nil {
			return nil, err
		}
	}
	tk, tkErr := tokenizers.FromBytes(tokenizerBytes)
	if tkErr != nil {
		return nil, tkErr
	}
	r := &rustTokenizer{
		tk: tk,
		opts: []tokenizers.EncodeOption{
			tokenizers.WithReturnTokens(),
			tokenizers.WithReturnTypeIDs(),
			tokenizers.WithReturnOffsets(),
		},
	}
	var err error
	if r.clsID, err = r.singleTokenID("[CLS]"); err != nil {
		return nil, err
	}
	if r.sepID, err = r.singleTokenID("[SEP]"); err != nil {
		return nil, err
	}
	if r.padID, err = r.singleTokenID("[PAD]"); err != nil {
		r.padID = 0
	}
	return r, nil
}

func (r *rustTokenizer) singleTokenID(token string) (int, error) {
	output := r.tk.EncodeWithOptions(token, false)
	if len(output.IDs) != 1 {
		return 0, fmt.Errorf("tokenizer vocabulary has no %s token", token)
	}
	return int(output.IDs[0]), nil
}

func (r *rustTokenizer) Encode(text string) (*Encoding, error) {
	if text == "" {
		return &Encoding{}, nil
	}
	output := r.tk.EncodeWithOptions(text, false, r.opts...)
	enc := &Encoding{
		TokenIDs: safeconv.Uint32SliceToIntSlice(output.IDs),
		Tokens:   output.Tokens,
		TypeIDs:  safeconv.Uint32SliceToIntSlice(output.TypeIDs),
		Offsets:  safeconv.OffsetStartsToInts(output.Offsets),
	}
	enc.StartOfWord = startOfWordFlags(text, enc.Offsets)
	return enc, nil
}

func (r *rustTokenizer) BuildInputsWithSpecialTokens(a, b []int) []int {
	return bertBuildInputs(r.clsID, r.sepID, a, b)
}

func (r *rustTokenizer) CreateTokenTypeIDs(a, b []int) []int {
	return bertTokenTypeIDs(a, b)
}

func (r *rustTokenizer) NumSpecialTokensToAdd(pair bool) int {
	return bertNumSpecialTokens(pair)
}

func (r *rustTokenizer) PadTokenID() int {
	return r.padID
}

func (r *rustTokenizer) Name() string {
	return "RustTokenizer"
}

func (r *rustTokenizer) Destroy() error {
	return r.tk.Close()
}
