package farmhand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmhand-nlp/farmhand/backends"
	"github.com/farmhand-nlp/farmhand/processors"
)

type stubTokenizer struct{}

func stubWordID(word string) int {
	id := 200
	for _, b := range []byte(word) {
		id += int(b)
	}
	return id
}

func (stubTokenizer) Encode(text string) (*backends.Encoding, error) {
	encoding := &backends.Encoding{}
	offset := 0
	for _, word := range strings.Fields(text) {
		encoding.TokenIDs = append(encoding.TokenIDs, stubWordID(word))
		encoding.Tokens = append(encoding.Tokens, word)
		encoding.TypeIDs = append(encoding.TypeIDs, 0)
		encoding.Offsets = append(encoding.Offsets, strings.Index(text[offset:], word)+offset)
		encoding.StartOfWord = append(encoding.StartOfWord, 1)
		offset = encoding.Offsets[len(encoding.Offsets)-1] + len(word)
	}
	return encoding, nil
}

func (stubTokenizer) BuildInputsWithSpecialTokens(a, b []int) []int {
	out := append([]int{101}, a...)
	out = append(out, 102)
	if b != nil {
		out = append(out, b...)
		out = append(out, 102)
	}
	return out
}

func (stubTokenizer) CreateTokenTypeIDs(a, b []int) []int {
	out := make([]int, len(a)+2)
	if b != nil {
		for i := 0; i < len(b)+1; i++ {
			out = append(out, 1)
		}
	}
	return out
}

func (stubTokenizer) NumSpecialTokensToAdd(pair bool) int {
	if pair {
		return 3
	}
	return 2
}

func (stubTokenizer) PadTokenID() int { return 0 }

func (stubTokenizer) Name() string { return "StubTokenizer" }

func (stubTokenizer) Destroy() error { return nil }

func TestDefaultRegistry(t *testing.T) {
	registry := DefaultRegistry()
	assert.Equal(t, []string{"squad", "text_similarity"}, registry.Names())

	squad, err := registry.New("squad", ProcessorConfig{Tokenizer: stubTokenizer{}})
	require.NoError(t, err)
	assert.Equal(t, "squad", squad.Name())

	similarity, err := registry.New("text_similarity", ProcessorConfig{Tokenizer: stubTokenizer{}})
	require.NoError(t, err)
	assert.Equal(t, "text_similarity", similarity.Name())

	_, err = registry.New("unknown", ProcessorConfig{})
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	factory := func(config ProcessorConfig) (processors.Processor, error) {
		return processors.NewSquadProcessor(config.Tokenizer)
	}
	require.NoError(t, registry.Register("custom", factory))
	assert.Error(t, registry.Register("custom", factory))
	assert.Error(t, registry.Register("nil", nil))
}

func TestNewProcessorConfig(t *testing.T) {
	processor, err := NewProcessor("squad", ProcessorConfig{
		Tokenizer: stubTokenizer{},
		MaxSeqLen: 256,
		DocStride: 128,
	})
	require.NoError(t, err)
	assert.Equal(t, "squad", processor.Name())

	// A stride that cannot cover the passage budget is a construction error.
	_, err = NewProcessor("squad", ProcessorConfig{
		Tokenizer: stubTokenizer{},
		MaxSeqLen: 256,
		DocStride: 300,
	})
	assert.Error(t, err)

	// The query tokenizer is reused for the passage side when none is given.
	similarity, err := NewProcessor("text_similarity", ProcessorConfig{
		Tokenizer:        stubTokenizer{},
		NumPositives:     1,
		NumHardNegatives: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "text_similarity", similarity.Name())
}

func TestProcessorConfigBoolDefaults(t *testing.T) {
	dict := map[string]any{
		"query": "a query",
		"passages": []any{
			map[string]any{"title": "tt", "text": "xx", "label": "positive"},
		},
	}

	// A zero-value config keeps the processor defaults: titles embedded.
	processor, err := NewProcessor("text_similarity", ProcessorConfig{
		Tokenizer:    stubTokenizer{},
		NumPositives: 1,
	})
	require.NoError(t, err)
	dataset, _, _, err := processor.DatasetFromDicts([]map[string]any{dict}, nil, false)
	require.NoError(t, err)
	pids := dataset.Tensor("passage_input_ids").Data().([]int)
	assert.Equal(t, stubWordID("tt"), pids[1])

	// An explicit false overrides the default.
	off := false
	processor, err = NewProcessor("text_similarity", ProcessorConfig{
		Tokenizer:    stubTokenizer{},
		NumPositives: 1,
		EmbedTitle:   &off,
	})
	require.NoError(t, err)
	dataset, _, _, err = processor.DatasetFromDicts([]map[string]any{dict}, nil, false)
	require.NoError(t, err)
	pids = dataset.Tensor("passage_input_ids").Data().([]int)
	assert.Equal(t, stubWordID("xx"), pids[1])
}
