package backends

import (
	"fmt"
	"strings"

	"github.com/farmhand-nlp/farmhand/util"
)

// Encoding is the result of running a tokenizer over a single text, without
// special tokens. Offsets hold the starting byte position of each token in
// the original UTF-8 text; all span arithmetic in the pipelines (answer
// starts, passage bounds, reconstruction slicing) is byte-based, matching Go
// string indexing. Implementations must convert if their bindings report
// offsets in another unit. StartOfWord flags (1/0) mark tokens that begin a
// new word rather than continuing the previous one.
type Encoding struct {
	TokenIDs    []int
	Tokens      []string
	TypeIDs     []int
	Offsets     []int
	StartOfWord []int
}

// Tokenizer is the capability the featurization pipelines require. Encode
// never adds special tokens; the structural joining of sequences is done
// explicitly through BuildInputsWithSpecialTokens so that the pipelines can
// account for every inserted position.
type Tokenizer interface {
	// Encode converts text into token ids with per-token metadata. No
	// special tokens are added.
	Encode(text string) (*Encoding, error)

	// BuildInputsWithSpecialTokens inserts the model-specific special
	// tokens around one sequence (b == nil) or around and between two
	// sequences. Input ids are passed through verbatim, so callers may
	// probe the template with sentinel ids.
	BuildInputsWithSpecialTokens(a, b []int) []int

	// CreateTokenTypeIDs returns the segment ids parallel to
	// BuildInputsWithSpecialTokens(a, b).
	CreateTokenTypeIDs(a, b []int) []int

	// NumSpecialTokensToAdd reports how many special tokens
	// BuildInputsWithSpecialTokens inserts for a single sequence or a pair.
	NumSpecialTokensToAdd(pair bool) int

	PadTokenID() int

	// Name identifies the tokenizer for parameter logging.
	Name() string

	Destroy() error
}

// TokenizerConfig controls tokenizer construction. SingleThreaded caps
// intra-tokenizer parallelism; set it when the caller itself runs multiple
// featurization workers, otherwise the two thread pools can deadlock.
type TokenizerConfig struct {
	Backend        string // "GO" (default) or "RUST"
	SingleThreaded bool
}

// LoadTokenizer reads a HuggingFace tokenizer.json from path (local or
// s3://) and constructs the configured backend.
func LoadTokenizer(path string, config TokenizerConfig) (Tokenizer, error) {
	if !strings.HasSuffix(path, "tokenizer.json") {
		path = util.PathJoinSafe(path, "tokenizer.json")
	}
	tokenizerBytes, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	switch config.Backend {
	case "", "GO":
		return loadGoTokenizer(tokenizerBytes, config)
	case "RUST":
		return loadRustTokenizer(tokenizerBytes, config)
	default:
		return nil, fmt.Errorf("tokenizer backend %s not recognized", config.Backend)
	}
}
