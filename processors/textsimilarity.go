package processors

import (
	"fmt"
	"math/rand"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"

	"github.com/farmhand-nlp/farmhand/backends"
	"github.com/farmhand-nlp/farmhand/datasets"
)

// Passage labels accepted in retrieval training records.
const (
	labelPositive     = "positive"
	labelHardNegative = "hard_negative"
)

// SimilarityPassage is one candidate context attached to a query.
type SimilarityPassage struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	Label      string `json:"label"`
	ExternalID string `json:"external_id"`
}

// SimilarityRecord is one retrieval training record: a query plus its
// positive and hard negative contexts.
type SimilarityRecord struct {
	Query    string              `json:"query"`
	Passages []SimilarityPassage `json:"passages"`
}

// ContextTokens carries the token strings of the query and its selected
// contexts for inspection.
type ContextTokens struct {
	QueryTokens   []string
	PassageTokens [][]string
}

// SimilaritySample is one query with its context set.
type SimilaritySample = Sample[ContextTokens]

// SimilarityBasket wraps one retrieval record.
type SimilarityBasket = SampleBasket[SimilarityRecord, ContextTokens]

// TextSimilarityProcessor converts retrieval records into paired feature
// rows for a bi-encoder: the query through one tokenizer, a fixed-size
// matrix of contexts through another.
type TextSimilarityProcessor struct {
	*BaseProcessor
	queryTokenizer   backends.Tokenizer
	passageTokenizer backends.Tokenizer
	maxSeqLenQuery   int
	maxSeqLenPassage int
	embedTitle       bool
	numPositives     int
	numHardNegatives int
	shufflePositives bool
	shuffleNegatives bool
	rng              *rand.Rand
}

// SimilarityOption configures a TextSimilarityProcessor at construction.
type SimilarityOption func(*TextSimilarityProcessor)

// WithMaxSeqLenQuery sets the query-side sequence budget.
func WithMaxSeqLenQuery(n int) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.maxSeqLenQuery = n }
}

// WithMaxSeqLenPassage sets the context-side sequence budget.
func WithMaxSeqLenPassage(n int) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.maxSeqLenPassage = n }
}

// WithEmbedTitle prepends the passage title as the first sequence of each
// context pair.
func WithEmbedTitle(embed bool) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.embedTitle = embed }
}

// WithNumPositives sets how many positive contexts each row carries.
func WithNumPositives(n int) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.numPositives = n }
}

// WithNumHardNegatives sets how many hard negative contexts each row carries.
func WithNumHardNegatives(n int) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.numHardNegatives = n }
}

// WithShufflePositives shuffles positives before truncation so different
// epochs can sample different contexts.
func WithShufflePositives(shuffle bool) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.shufflePositives = shuffle }
}

// WithShuffleNegatives shuffles hard negatives before truncation.
func WithShuffleNegatives(shuffle bool) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.shuffleNegatives = shuffle }
}

// WithShuffleSeed fixes the shuffle order for reproducible runs.
func WithShuffleSeed(seed int64) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.rng = rand.New(rand.NewSource(seed)) }
}

// WithSimilarityTask overrides the default text similarity task registration.
func WithSimilarityTask(metric string, labelList []string) SimilarityOption {
	return func(p *TextSimilarityProcessor) {
		_ = p.AddTask("text_similarity", metric, labelList)
	}
}

// WithSimilarityDevSplit reserves a fraction of the training data for
// evaluation.
func WithSimilarityDevSplit(f float64) SimilarityOption {
	return func(p *TextSimilarityProcessor) { p.DevSplit = f }
}

// NewTextSimilarityProcessor builds a retrieval processor around separate
// query and passage tokenizers. Defaults: query budget 64, passage budget
// 256, one positive and zero hard negatives per row, titles embedded, hard
// negatives shuffled.
func NewTextSimilarityProcessor(queryTokenizer, passageTokenizer backends.Tokenizer, opts ...SimilarityOption) (*TextSimilarityProcessor, error) {
	if queryTokenizer == nil || passageTokenizer == nil {
		return nil, fmt.Errorf("both a query and a passage tokenizer are required")
	}
	p := &TextSimilarityProcessor{
		BaseProcessor:    newBaseProcessor(256, 0),
		queryTokenizer:   queryTokenizer,
		passageTokenizer: passageTokenizer,
		maxSeqLenQuery:   64,
		maxSeqLenPassage: 256,
		embedTitle:       true,
		numPositives:     1,
		numHardNegatives: 0,
		shuffleNegatives: true,
		rng:              rand.New(rand.NewSource(rand.Int63())),
	}
	if err := p.AddTask("text_similarity", "text_similarity_metric", []string{"hard_negative", "positive"}); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.numPositives < 1 {
		return nil, fmt.Errorf("at least one positive context is required per record, got %d", p.numPositives)
	}
	p.logParams("TextSimilarityProcessor", queryTokenizer.Name())
	return p, nil
}

// Name implements Processor.
func (p *TextSimilarityProcessor) Name() string { return "text_similarity" }

// DatasetFromDicts implements Processor for retrieval records.
func (p *TextSimilarityProcessor) DatasetFromDicts(dicts []map[string]any, indices []int, inference bool) (*datasets.Dataset, []string, map[string]bool, error) {
	dataset, names, _, err := p.DatasetFromDictsWithBaskets(dicts, indices, inference)
	return dataset, names, p.problematicSampleIDs, err
}

// DatasetFromDictsWithBaskets runs the stage pipeline and additionally
// returns the surviving baskets, which inference callers need to map
// embeddings back to text. Contexts are featurized whenever the record
// carries passages; the inference flag only selects the return shape of the
// Processor-level method.
func (p *TextSimilarityProcessor) DatasetFromDictsWithBaskets(dicts []map[string]any, indices []int, _ bool) (*datasets.Dataset, []string, []*SimilarityBasket, error) {
	indices, err := resolveIndices(dicts, indices)
	if err != nil {
		return nil, nil, nil, err
	}
	p.resetProblematic()

	baskets := p.fillBaskets(dicts, indices)
	p.convertQueries(baskets)
	p.convertContexts(baskets)

	dataset, names, kept, err := p.createDataset(baskets)
	if err != nil {
		return nil, nil, nil, err
	}
	logProblematic(p.problematicSampleIDs)
	return dataset, names, kept, nil
}

// fillBaskets decodes each record into its typed form. Records that do not
// decode yield a basket without raw data, dropped at dataset creation.
func (p *TextSimilarityProcessor) fillBaskets(dicts []map[string]any, indices []int) []*SimilarityBasket {
	baskets := make([]*SimilarityBasket, 0, len(dicts))
	for i, dict := range dicts {
		basket := &SimilarityBasket{
			IDInternal: fmt.Sprintf("%d", indices[i]),
		}
		raw, err := jsoniter.Marshal(dict)
		if err == nil {
			var record SimilarityRecord
			if err = jsoniter.Unmarshal(raw, &record); err == nil {
				basket.Raw = &record
			}
		}
		if basket.Raw == nil {
			log.Warn().Str("basket", basket.IDInternal).Err(err).Msg("malformed retrieval record, dropping basket")
		}
		baskets = append(baskets, basket)
	}
	return baskets
}

// normalizeQuestion strips a single trailing question mark.
func normalizeQuestion(question string) string {
	return strings.TrimSuffix(question, "?")
}

// convertQueries tokenizes and pads the query side of every basket. A
// query that yields zero tokens cannot be featurized and fails its basket.
func (p *TextSimilarityProcessor) convertQueries(baskets []*SimilarityBasket) {
	for _, basket := range baskets {
		sample := &SimilaritySample{
			ID:        basket.IDInternal,
			ClearText: map[string]string{},
			Tokenized: &ContextTokens{},
		}
		basket.Samples = []*SimilaritySample{sample}
		if basket.Raw == nil {
			continue
		}

		query := normalizeQuestion(basket.Raw.Query)
		enc, err := p.queryTokenizer.Encode(query)
		if err != nil {
			log.Warn().Str("basket", basket.IDInternal).Err(err).Msg("could not tokenize query")
			continue
		}
		if len(enc.TokenIDs) == 0 {
			log.Warn().
				Str("basket", basket.IDInternal).
				Str("query", query).
				Msg("the query could not be tokenized, likely because it contains a character that the query tokenizer does not recognize")
			continue
		}

		inputIDs := p.queryTokenizer.BuildInputsWithSpecialTokens(enc.TokenIDs, nil)
		segmentIDs := p.queryTokenizer.CreateTokenTypeIDs(enc.TokenIDs, nil)
		inputIDs = padTo(inputIDs, p.maxSeqLenQuery, p.queryTokenizer.PadTokenID())
		segmentIDs = padTo(segmentIDs, p.maxSeqLenQuery, 0)

		sample.ClearText["query_text"] = query
		sample.Tokenized.QueryTokens = enc.Tokens
		sample.Features = []datasets.FeatureVector{{
			"query_input_ids":   inputIDs,
			"query_segment_ids": segmentIDs,
		}}
	}
}

// convertContexts selects and tokenizes the fixed-size context set of every
// basket whose query side succeeded: numPositives positives followed by
// numHardNegatives hard negatives, short sets padded with empty contexts.
// Records without a passages list keep their query-only features.
func (p *TextSimilarityProcessor) convertContexts(baskets []*SimilarityBasket) {
	for _, basket := range baskets {
		sample := basket.Samples[0]
		if basket.Raw == nil || basket.Raw.Passages == nil || sample.Features == nil {
			continue
		}
		if err := p.convertBasketContexts(basket, sample); err != nil {
			log.Warn().Str("basket", basket.IDInternal).Err(err).Msg("could not tokenize contexts")
			sample.Features = nil
		}
	}
}

type contextPair struct {
	title string
	text  string
}

func (p *TextSimilarityProcessor) convertBasketContexts(basket *SimilarityBasket, sample *SimilaritySample) error {
	var positives, negatives []SimilarityPassage
	for _, passage := range basket.Raw.Passages {
		switch passage.Label {
		case labelPositive:
			positives = append(positives, passage)
		case labelHardNegative:
			negatives = append(negatives, passage)
		}
	}
	if p.shufflePositives {
		p.rng.Shuffle(len(positives), func(i, j int) {
			positives[i], positives[j] = positives[j], positives[i]
		})
	}
	if p.shuffleNegatives {
		p.rng.Shuffle(len(negatives), func(i, j int) {
			negatives[i], negatives[j] = negatives[j], negatives[i]
		})
	}
	if len(positives) > p.numPositives {
		positives = positives[:p.numPositives]
	}
	if len(negatives) > p.numHardNegatives {
		negatives = negatives[:p.numHardNegatives]
	}

	total := p.numPositives + p.numHardNegatives
	contexts := make([]contextPair, 0, total)
	for _, passage := range positives {
		contexts = append(contexts, p.contextFor(basket, passage))
	}
	for _, passage := range negatives {
		contexts = append(contexts, p.contextFor(basket, passage))
	}
	// Short context sets are padded with empty contexts so every row has
	// the same matrix shape. The label vector is implied by the slot
	// layout, not by the passages actually present.
	for len(contexts) < total {
		contexts = append(contexts, contextPair{})
	}
	labels := make([]int, total)
	for i := 0; i < p.numPositives; i++ {
		labels[i] = 1
	}

	inputMatrix := make([][]int, 0, total)
	segmentMatrix := make([][]int, 0, total)
	tokenMatrix := make([][]string, 0, total)
	for _, ctx := range contexts {
		inputIDs, segmentIDs, tokens, err := p.tokenizeContext(ctx)
		if err != nil {
			return err
		}
		inputMatrix = append(inputMatrix, inputIDs)
		segmentMatrix = append(segmentMatrix, segmentIDs)
		tokenMatrix = append(tokenMatrix, tokens)
	}

	sample.Tokenized.PassageTokens = tokenMatrix
	sample.Features[0]["passage_input_ids"] = inputMatrix
	sample.Features[0]["passage_segment_ids"] = segmentMatrix
	sample.Features[0]["label_ids"] = labels
	return nil
}

func (p *TextSimilarityProcessor) contextFor(basket *SimilarityBasket, passage SimilarityPassage) contextPair {
	if !p.embedTitle {
		return contextPair{text: passage.Text}
	}
	if passage.Title == "" {
		log.Warn().
			Str("basket", basket.IDInternal).
			Msg("embedding context titles is enabled but a passage has none, using an empty title")
	}
	return contextPair{title: passage.Title, text: passage.Text}
}

func (p *TextSimilarityProcessor) tokenizeContext(ctx contextPair) ([]int, []int, []string, error) {
	textEnc, err := p.passageTokenizer.Encode(ctx.text)
	if err != nil {
		return nil, nil, nil, err
	}
	var inputIDs, segmentIDs []int
	tokens := textEnc.Tokens
	if p.embedTitle {
		titleEnc, err := p.passageTokenizer.Encode(ctx.title)
		if err != nil {
			return nil, nil, nil, err
		}
		inputIDs = p.passageTokenizer.BuildInputsWithSpecialTokens(titleEnc.TokenIDs, textEnc.TokenIDs)
		segmentIDs = p.passageTokenizer.CreateTokenTypeIDs(titleEnc.TokenIDs, textEnc.TokenIDs)
		tokens = append(append([]string{}, titleEnc.Tokens...), textEnc.Tokens...)
	} else {
		inputIDs = p.passageTokenizer.BuildInputsWithSpecialTokens(textEnc.TokenIDs, nil)
		segmentIDs = p.passageTokenizer.CreateTokenTypeIDs(textEnc.TokenIDs, nil)
	}
	inputIDs = padTo(inputIDs, p.maxSeqLenPassage, p.passageTokenizer.PadTokenID())
	segmentIDs = padTo(segmentIDs, p.maxSeqLenPassage, 0)
	return inputIDs, segmentIDs, tokens, nil
}

// createDataset drops incomplete baskets, recording their ids, and converts
// the surviving rows into tensors.
func (p *TextSimilarityProcessor) createDataset(baskets []*SimilarityBasket) (*datasets.Dataset, []string, []*SimilarityBasket, error) {
	kept := make([]*SimilarityBasket, 0, len(baskets))
	var features []datasets.FeatureVector
	for _, basket := range baskets {
		if !CheckSampleFeatures(basket) {
			p.addProblematic(basket.IDInternal)
			continue
		}
		kept = append(kept, basket)
		for _, sample := range basket.Samples {
			features = append(features, sample.Features...)
		}
	}
	if len(p.problematicSampleIDs) > 0 {
		log.Error().
			Int("count", len(p.problematicSampleIDs)).
			Msg("some records could not be preprocessed, their positions are stored in the processor")
	}
	if len(features) == 0 {
		return nil, nil, kept, fmt.Errorf("no records could be converted to features, cannot create a dataset")
	}
	dataset, names, err := datasets.ConvertFeaturesToDataset(features)
	if err != nil {
		return nil, nil, nil, err
	}
	return dataset, names, kept, nil
}
