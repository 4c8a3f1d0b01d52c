package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func similarityDict(query string, passages []any) map[string]any {
	return map[string]any{
		"query":    query,
		"passages": passages,
	}
}

func passage(title, text, label string) map[string]any {
	return map[string]any{
		"title":       title,
		"text":        text,
		"label":       label,
		"external_id": "x",
	}
}

func newTestSimilarityProcessor(t *testing.T, opts ...SimilarityOption) *TextSimilarityProcessor {
	t.Helper()
	// Hard negatives are shuffled by default; tests assert on slot order.
	base := []SimilarityOption{
		WithMaxSeqLenQuery(8),
		WithMaxSeqLenPassage(12),
		WithShuffleNegatives(false),
	}
	p, err := NewTextSimilarityProcessor(fakeTokenizer{}, fakeTokenizer{}, append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestSimilarityDefaults(t *testing.T) {
	p, err := NewTextSimilarityProcessor(fakeTokenizer{}, fakeTokenizer{})
	require.NoError(t, err)
	assert.True(t, p.embedTitle)
	assert.True(t, p.shuffleNegatives)
	assert.False(t, p.shufflePositives)
	assert.Equal(t, 1, p.numPositives)
	assert.Equal(t, 0, p.numHardNegatives)
}

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "what is cheese", normalizeQuestion("what is cheese?"))
	assert.Equal(t, "what is cheese?", normalizeQuestion("what is cheese??"))
	assert.Equal(t, "what is cheese", normalizeQuestion("what is cheese"))
	assert.Equal(t, "", normalizeQuestion(""))
	assert.Equal(t, "", normalizeQuestion("?"))
}

func TestSimilarityFeatureRow(t *testing.T) {
	p := newTestSimilarityProcessor(t,
		WithNumPositives(1), WithNumHardNegatives(2), WithEmbedTitle(false))

	passages := []any{
		passage("t1", "french cheese is good", "positive"),
		passage("t2", "swiss cheese is better", "positive"),
		passage("t3", "rocks are hard", "hard_negative"),
		passage("t4", "the sky is blue", "hard_negative"),
		passage("t5", "grass is green", "hard_negative"),
	}
	dict := similarityDict("who makes the best cheese?", passages)

	dataset, names, problematic, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, false)
	require.NoError(t, err)
	assert.Empty(t, problematic)
	assert.Equal(t, 1, dataset.Len())
	assert.Equal(t, []string{
		"label_ids", "passage_input_ids", "passage_segment_ids",
		"query_input_ids", "query_segment_ids",
	}, names)

	queryIDs := dataset.Tensor("query_input_ids")
	assert.Equal(t, []int{1, 8}, []int(queryIDs.Shape()))
	qids := queryIDs.Data().([]int)
	assert.Equal(t, fakeCLS, qids[0])
	assert.Equal(t, wordID("who"), qids[1])
	// The trailing question mark is stripped before tokenization.
	assert.Equal(t, wordID("cheese"), qids[5])
	assert.Equal(t, fakeSEP, qids[6])
	assert.Equal(t, fakePAD, qids[7])

	assert.Equal(t, []int{1, 0, 0}, dataset.Tensor("label_ids").Data().([]int))

	passageIDs := dataset.Tensor("passage_input_ids")
	assert.Equal(t, []int{1, 3, 12}, []int(passageIDs.Shape()))
	pids := passageIDs.Data().([]int)
	// Without shuffling the selected contexts keep input order: the first
	// positive followed by the first two hard negatives.
	assert.Equal(t, wordID("french"), pids[0*12+1])
	assert.Equal(t, wordID("rocks"), pids[1*12+1])
	assert.Equal(t, wordID("the"), pids[2*12+1])
	assert.Equal(t, fakeCLS, pids[1*12])
}

func TestSimilarityEmbedTitle(t *testing.T) {
	p := newTestSimilarityProcessor(t,
		WithNumPositives(1), WithNumHardNegatives(0), WithEmbedTitle(true))

	dict := similarityDict("a query", []any{passage("paris", "capital of france", "positive")})
	dataset, _, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, false)
	require.NoError(t, err)

	pids := dataset.Tensor("passage_input_ids").Data().([]int)
	assert.Equal(t, fakeCLS, pids[0])
	assert.Equal(t, wordID("paris"), pids[1])
	assert.Equal(t, fakeSEP, pids[2])
	assert.Equal(t, wordID("capital"), pids[3])

	segments := dataset.Tensor("passage_segment_ids").Data().([]int)
	assert.Equal(t, 0, segments[1])
	assert.Equal(t, 1, segments[3])
}

func TestSimilarityPadsShortContextSets(t *testing.T) {
	p := newTestSimilarityProcessor(t,
		WithNumPositives(2), WithNumHardNegatives(1), WithEmbedTitle(false))

	dict := similarityDict("a query", []any{passage("t", "only positive", "positive")})
	dataset, _, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, false)
	require.NoError(t, err)

	// The label vector follows the slot layout, not the passages actually
	// present: numPositives ones then numHardNegatives zeros.
	assert.Equal(t, []int{1, 1, 0}, dataset.Tensor("label_ids").Data().([]int))
	pids := dataset.Tensor("passage_input_ids").Data().([]int)
	// Rows two and three are empty-context padding.
	assert.Equal(t, wordID("only"), pids[0*12+1])
	assert.Equal(t, []int{fakeCLS, fakeSEP, 0, 0}, pids[1*12:1*12+4])
	assert.Equal(t, []int{fakeCLS, fakeSEP, 0, 0}, pids[2*12:2*12+4])
}

func TestSimilarityEmptyQueryDropped(t *testing.T) {
	p := newTestSimilarityProcessor(t, WithNumPositives(1), WithEmbedTitle(false))

	bad := similarityDict("", []any{passage("t", "some text", "positive")})
	good := similarityDict("a query", []any{passage("t", "some text", "positive")})

	dataset, _, problematic, err := p.DatasetFromDicts(
		[]map[string]any{bad, good}, []int{0, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.Len())
	assert.True(t, problematic["0"])
	assert.False(t, problematic["1"])
}

func TestSimilarityShuffleSeedDeterministic(t *testing.T) {
	passages := []any{
		passage("t1", "first positive", "positive"),
		passage("t2", "second positive", "positive"),
		passage("t3", "third positive", "positive"),
	}
	dict := similarityDict("a query", passages)

	run := func() []int {
		p := newTestSimilarityProcessor(t,
			WithNumPositives(2), WithShufflePositives(true), WithShuffleSeed(7), WithEmbedTitle(false))
		dataset, _, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, false)
		require.NoError(t, err)
		return dataset.Tensor("passage_input_ids").Data().([]int)
	}

	assert.Equal(t, run(), run())
}

func TestSimilarityInferenceFeaturizesContexts(t *testing.T) {
	p := newTestSimilarityProcessor(t,
		WithNumPositives(1), WithNumHardNegatives(1), WithEmbedTitle(false))

	// Records carrying passages get their context matrix at inference too.
	dict := similarityDict("a query?", []any{
		passage("t1", "some text", "positive"),
		passage("t2", "other text", "hard_negative"),
	})
	dataset, names, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.Len())
	assert.Equal(t, []string{
		"label_ids", "passage_input_ids", "passage_segment_ids",
		"query_input_ids", "query_segment_ids",
	}, names)
	assert.Equal(t, []int{1, 0}, dataset.Tensor("label_ids").Data().([]int))
}

func TestSimilarityInferenceQueryOnly(t *testing.T) {
	p := newTestSimilarityProcessor(t, WithNumPositives(1))

	// A record without a passages list keeps query-only features.
	dict := map[string]any{"query": "a query?"}
	dataset, names, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.Len())
	assert.Equal(t, []string{"query_input_ids", "query_segment_ids"}, names)
}

func TestSimilarityDatasetFromDictsWithBaskets(t *testing.T) {
	p := newTestSimilarityProcessor(t, WithNumPositives(1), WithEmbedTitle(false))

	bad := similarityDict("", []any{passage("t", "some text", "positive")})
	good := similarityDict("a query", []any{passage("t", "some text", "positive")})

	dataset, _, kept, err := p.DatasetFromDictsWithBaskets(
		[]map[string]any{bad, good}, []int{0, 1}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.Len())
	require.Len(t, kept, 1)
	assert.Equal(t, "1", kept[0].IDInternal)
	assert.Equal(t, "a query", kept[0].Samples[0].ClearText["query_text"])
}

func TestSimilarityQueryTruncation(t *testing.T) {
	p := newTestSimilarityProcessor(t, WithNumPositives(1), WithEmbedTitle(false))

	dict := similarityDict("one two three four five six seven eight nine ten",
		[]any{passage("t", "some text", "positive")})
	dataset, _, _, err := p.DatasetFromDicts([]map[string]any{dict}, []int{0}, false)
	require.NoError(t, err)

	qids := dataset.Tensor("query_input_ids").Data().([]int)
	assert.Len(t, qids, 8)
	assert.Equal(t, wordID("seven"), qids[7])
}

func TestSimilarityRequiresPositive(t *testing.T) {
	_, err := NewTextSimilarityProcessor(fakeTokenizer{}, fakeTokenizer{}, WithNumPositives(0))
	assert.Error(t, err)
}
