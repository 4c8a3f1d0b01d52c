package backends

import (
	"bytes"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// goTokenizer wraps the pure-Go sugarme tokenizer loaded from a HuggingFace
// tokenizer.json. It assumes a BERT-family vocabulary ([CLS]/[SEP]/[PAD]).
type goTokenizer struct {
	tk    *tokenizer.Tokenizer
	clsID int
	sepID int
	padID int
}

func loadGoTokenizer(tokenizerBytes []byte, _ TokenizerConfig) (Tokenizer, error) {
	tk, tkErr := pretrained.FromReader(bytes.NewReader(tokenizerBytes))
	if tkErr != nil {
		return nil, tkErr
	}
	g := &goTokenizer{tk: tk}
	var ok bool
	if g.clsID, ok = tk.TokenToId("[CLS]"); !ok {
		return nil, fmt.Errorf("tokenizer vocabulary has no [CLS] token")
	}
	if g.sepID, ok = tk.TokenToId("[SEP]"); !ok {
		return nil, fmt.Errorf("tokenizer vocabulary has no [SEP] token")
	}
	if g.padID, ok = tk.TokenToId("[PAD]"); !ok {
		g.padID = 0
	}
	return g, nil
}

func (g *goTokenizer) Encode(text string) (*Encoding, error) {
	if text == "" {
		return &Encoding{}, nil
	}
	output, err := g.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	starts := make([]int, len(output.Offsets))
	for i, offset := range output.Offsets {
		starts[i] = offset[0]
	}
	return &Encoding{
		TokenIDs:    append([]int(nil), output.Ids...),
		Tokens:      append([]string(nil), output.Tokens...),
		TypeIDs:     append([]int(nil), output.TypeIds...),
		Offsets:     starts,
		StartOfWord: startOfWordFlags(text, starts),
	}, nil
}

func (g *goTokenizer) BuildInputsWithSpecialTokens(a, b []int) []int {
	return bertBuildInputs(g.clsID, g.sepID, a, b)
}

func (g *goTokenizer) CreateTokenTypeIDs(a, b []int) []int {
	return bertTokenTypeIDs(a, b)
}

func (g *goTokenizer) NumSpecialTokensToAdd(pair bool) int {
	return bertNumSpecialTokens(pair)
}

func (g *goTokenizer) PadTokenID() int {
	return g.padID
}

func (g *goTokenizer) Name() string {
	return "GoTokenizer"
}

func (g *goTokenizer) Destroy() error {
	return nil
}
