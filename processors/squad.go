package processors

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/phuslu/log"

	"github.com/farmhand-nlp/farmhand/backends"
	"github.com/farmhand-nlp/farmhand/datasets"
	"github.com/farmhand-nlp/farmhand/tokenization"
)

// Sentinel label values. Absent answer slots stay at -1; answers whose text
// cannot be reconciled with the document are forced to -100 so the length
// checks in featurization reject the sample.
const (
	labelAbsent         = -1
	labelUnreconcilable = -100
)

// QAAnswer is one annotated answer span. AnswerStart is the byte position of
// the answer's first character in the UTF-8 document text, the same unit the
// tokenizer offsets use.
type QAAnswer struct {
	Text        string `json:"text"`
	AnswerStart int    `json:"answer_start"`
}

// QAPair is one question over a shared document.
type QAPair struct {
	Question   string     `json:"question"`
	ID         any        `json:"id"`
	Answers    []QAAnswer `json:"answers"`
	AnswerType string     `json:"answer_type"`
}

type qaInput struct {
	Context string   `json:"context"`
	QAs     []QAPair `json:"qas"`
}

// QADocument holds the tokenization of one document/question pair before
// windowing. Offsets are character start positions per token.
type QADocument struct {
	DocumentText        string
	DocumentTokens      []int
	DocumentOffsets     []int
	DocumentStartOfWord []int
	QuestionText        string
	QuestionTokens      []int
	QuestionOffsets     []int
	QuestionStartOfWord []int
	Answers             []QAAnswer
	AnswerType          string
	ExternalID          string
}

// PassageTokens is the token-level form of one passage window paired with
// its (possibly truncated) question. Labels is maxAnswers rows of
// [startToken, endToken] in final-sequence coordinates; it stays nil during
// inference.
type PassageTokens struct {
	PassageStartT       int
	PassageStartC       int
	PassageTokens       []int
	PassageStartOfWord  []int
	QuestionTokens      []int
	QuestionOffsets     []int
	QuestionStartOfWord []int
	Labels              [][]int
}

// QASample is one passage window ready for featurization.
type QASample = Sample[PassageTokens]

// QABasket groups the samples derived from one document/question pair.
type QABasket = SampleBasket[QADocument, PassageTokens]

// SquadProcessor converts SQuAD-style question answering records into
// fixed-shape feature rows. Documents longer than the token budget are
// split into strided passage windows, each yielding one sample.
type SquadProcessor struct {
	*BaseProcessor
	tokenizer      backends.Tokenizer
	docStride      int
	maxQueryLength int
	maxAnswers     int

	// Counts of special tokens the joining template inserts before the
	// question, between question and passage, and after the passage.
	spToksStart int
	spToksMid   int
	spToksEnd   int
}

// SquadOption configures a SquadProcessor at construction.
type SquadOption func(*SquadProcessor)

// WithMaxSeqLen sets the final sequence length every feature row is padded
// or rejected against.
func WithMaxSeqLen(n int) SquadOption {
	return func(p *SquadProcessor) { p.MaxSeqLen = n }
}

// WithDocStride sets the token stride between consecutive passage windows.
func WithDocStride(n int) SquadOption {
	return func(p *SquadProcessor) { p.docStride = n }
}

// WithMaxQueryLength caps the number of question tokens kept per sample.
func WithMaxQueryLength(n int) SquadOption {
	return func(p *SquadProcessor) { p.maxQueryLength = n }
}

// WithMaxAnswers sets the number of answer rows in the label matrix.
func WithMaxAnswers(n int) SquadOption {
	return func(p *SquadProcessor) { p.maxAnswers = n }
}

// WithDevSplit reserves a fraction of the training data for evaluation.
func WithDevSplit(f float64) SquadOption {
	return func(p *SquadProcessor) { p.DevSplit = f }
}

// WithQATask overrides the default question answering task registration.
func WithQATask(metric string, labelList []string) SquadOption {
	return func(p *SquadProcessor) {
		_ = p.AddTask("question_answering", metric, labelList)
	}
}

// NewSquadProcessor builds a QA processor around the given tokenizer.
// Defaults: maxSeqLen 384, docStride 128, maxQueryLength 64, maxAnswers 6.
func NewSquadProcessor(tokenizer backends.Tokenizer, opts ...SquadOption) (*SquadProcessor, error) {
	if tokenizer == nil {
		return nil, fmt.Errorf("a tokenizer is required")
	}
	p := &SquadProcessor{
		BaseProcessor:  newBaseProcessor(384, 0),
		tokenizer:      tokenizer,
		docStride:      128,
		maxQueryLength: 64,
		maxAnswers:     6,
	}
	if err := p.AddTask("question_answering", "squad", []string{"start_token", "end_token"}); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.docStride >= p.MaxSeqLen-p.maxQueryLength {
		return nil, fmt.Errorf(
			"doc stride (%d) is longer than the maximum passage length (%d), which would mean that some passages are missed in windowing",
			p.docStride, p.MaxSeqLen-p.maxQueryLength)
	}
	if err := p.probeSpecialTokens(); err != nil {
		return nil, err
	}
	p.logParams("SquadProcessor", tokenizer.Name())
	return p, nil
}

// Name implements Processor.
func (p *SquadProcessor) Name() string { return "squad" }

// probeSpecialTokens derives the per-segment special token counts of the
// joining template by threading impossible ids through it and locating
// them in the output.
func (p *SquadProcessor) probeSpecialTokens() error {
	const probeA, probeB = -1, -2
	joined := p.tokenizer.BuildInputsWithSpecialTokens([]int{probeA}, []int{probeB})
	idxA, idxB := -1, -1
	for i, id := range joined {
		switch id {
		case probeA:
			idxA = i
		case probeB:
			idxB = i
		}
	}
	if idxA < 0 || idxB < 0 || idxB < idxA {
		return fmt.Errorf("tokenizer %s does not pass sequence ids through its special token template", p.tokenizer.Name())
	}
	p.spToksStart = idxA
	p.spToksMid = idxB - idxA - 1
	p.spToksEnd = len(joined) - idxB - 1
	return nil
}

// DatasetFromDicts implements Processor for SQuAD-style records.
func (p *SquadProcessor) DatasetFromDicts(dicts []map[string]any, indices []int, inference bool) (*datasets.Dataset, []string, map[string]bool, error) {
	dataset, names, _, err := p.DatasetFromDictsWithBaskets(dicts, indices, inference)
	return dataset, names, p.problematicSampleIDs, err
}

// DatasetFromDictsWithBaskets runs the full stage pipeline and additionally
// returns the surviving baskets, which inference callers need to map
// predictions back to text.
func (p *SquadProcessor) DatasetFromDictsWithBaskets(dicts []map[string]any, indices []int, inference bool) (*datasets.Dataset, []string, []*QABasket, error) {
	indices, err := resolveIndices(dicts, indices)
	if err != nil {
		return nil, nil, nil, err
	}
	p.resetProblematic()

	inputs := make([]*qaInput, len(dicts))
	for i, dict := range dicts {
		input, err := convertQAInput(dict)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("record at index %d: %w", indices[i], err)
		}
		inputs[i] = input
	}

	baskets := p.tokenizeBaskets(inputs, indices)
	p.splitDocsIntoPassages(baskets)
	if !inference {
		p.convertAnswers(baskets)
	}
	p.passagesToFeatures(baskets, inference)

	dataset, names, kept, err := p.createDataset(baskets)
	if err != nil {
		return nil, nil, nil, err
	}
	logProblematic(p.problematicSampleIDs)
	return dataset, names, kept, nil
}

// convertQAInput normalizes the two accepted record shapes into one. SQuAD
// records carry context/qas; inference records carry text/questions/id.
func convertQAInput(dict map[string]any) (*qaInput, error) {
	if _, hasContext := dict["context"]; hasContext {
		if _, hasQAs := dict["qas"]; hasQAs {
			raw, err := jsoniter.Marshal(dict)
			if err != nil {
				return nil, err
			}
			var input qaInput
			if err := jsoniter.Unmarshal(raw, &input); err != nil {
				return nil, fmt.Errorf("malformed context/qas record: %w", err)
			}
			return &input, nil
		}
	}
	text, hasText := dict["text"].(string)
	questions, hasQuestions := dict["questions"].([]any)
	if hasText && hasQuestions {
		input := &qaInput{Context: text}
		for _, q := range questions {
			question, ok := q.(string)
			if !ok {
				return nil, fmt.Errorf("questions must be strings, got %T", q)
			}
			pair := QAPair{Question: question}
			if id, ok := dict["id"]; ok {
				pair.ID = id
			}
			input.QAs = append(input.QAs, pair)
		}
		return input, nil
	}
	return nil, fmt.Errorf("input does not have the expected format: need either context/qas or text/questions")
}

// tokenizeBaskets encodes each document once and fans it out into one
// basket per question. Records whose text cannot be tokenized yield a
// basket without raw data, which later stages skip.
func (p *SquadProcessor) tokenizeBaskets(inputs []*qaInput, indices []int) []*QABasket {
	var baskets []*QABasket
	for i, input := range inputs {
		docEnc, docErr := tokenization.EncodeWithMetadata(p.tokenizer, input.Context)
		for qIdx, qa := range input.QAs {
			basket := &QABasket{
				IDInternal: fmt.Sprintf("%d-%d", indices[i], qIdx),
				IDExternal: externalID(qa.ID),
			}
			if docErr != nil {
				log.Warn().Str("basket", basket.IDInternal).Err(docErr).Msg("could not tokenize document, dropping basket")
				baskets = append(baskets, basket)
				continue
			}
			qEnc, qErr := tokenization.EncodeWithMetadata(p.tokenizer, qa.Question)
			if qErr != nil {
				log.Warn().Str("basket", basket.IDInternal).Err(qErr).Msg("could not tokenize question, dropping basket")
				baskets = append(baskets, basket)
				continue
			}
			basket.Raw = &QADocument{
				DocumentText:        input.Context,
				DocumentTokens:      docEnc.TokenIDs,
				DocumentOffsets:     docEnc.Offsets,
				DocumentStartOfWord: docEnc.StartOfWord,
				QuestionText:        qa.Question,
				QuestionTokens:      qEnc.TokenIDs,
				QuestionOffsets:     qEnc.Offsets,
				QuestionStartOfWord: qEnc.StartOfWord,
				Answers:             qa.Answers,
				AnswerType:          qa.AnswerType,
				ExternalID:          basket.IDExternal,
			}
			baskets = append(baskets, basket)
		}
	}
	return baskets
}

func externalID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// splitDocsIntoPassages windows each document into strided passages that
// fit the sequence budget together with the truncated question and the
// special tokens. A windowing failure empties the basket rather than
// aborting the batch.
func (p *SquadProcessor) splitDocsIntoPassages(baskets []*QABasket) {
	numSpecial := p.tokenizer.NumSpecialTokensToAdd(true)
	for _, basket := range baskets {
		raw := basket.Raw
		if raw == nil {
			continue
		}
		if raw.DocumentText == "" {
			log.Warn().Str("basket", basket.IDInternal).Msg("ignoring sample with empty context")
			continue
		}
		questionLenT := len(raw.QuestionTokens)
		if questionLenT > p.maxQueryLength {
			questionLenT = p.maxQueryLength
		}
		passageLenT := p.MaxSeqLen - questionLenT - numSpecial

		spans, err := tokenization.GetPassageOffsets(raw.DocumentOffsets, p.docStride, passageLenT, raw.DocumentText)
		if err != nil {
			log.Warn().Str("basket", basket.IDInternal).Err(err).Msg("could not split document into passages")
			basket.Samples = []*QASample{}
			continue
		}

		samples := make([]*QASample, 0, len(spans))
		for _, span := range spans {
			tokenized := &PassageTokens{
				PassageStartT:       span.PassageStartT,
				PassageStartC:       span.PassageStartC,
				PassageTokens:       raw.DocumentTokens[span.PassageStartT:span.PassageEndT],
				PassageStartOfWord:  raw.DocumentStartOfWord[span.PassageStartT:span.PassageEndT],
				QuestionTokens:      raw.QuestionTokens[:questionLenT],
				QuestionOffsets:     raw.QuestionOffsets[:questionLenT],
				QuestionStartOfWord: raw.QuestionStartOfWord[:questionLenT],
			}
			clearText := map[string]string{
				"passage_text":  raw.DocumentText[span.PassageStartC:span.PassageEndC],
				"question_text": raw.QuestionText,
				"passage_id":    fmt.Sprintf("%d", span.PassageID),
			}
			samples = append(samples, &QASample{
				ID:        fmt.Sprintf("%s-%d", basket.IDInternal, span.PassageID),
				ClearText: clearText,
				Tokenized: tokenized,
			})
		}
		basket.Samples = samples
	}
}

// convertAnswers fills the label matrix of every sample. Each row is a
// [startToken, endToken] pair in final-sequence coordinates; answers that
// fall outside the sample's window become the no-answer pair (0, 0), and an
// answer whose text cannot be matched against the document poisons the
// whole basket with -100 rows.
func (p *SquadProcessor) convertAnswers(baskets []*QABasket) {
	for _, basket := range baskets {
		raw := basket.Raw
		if raw == nil {
			continue
		}
		errorInAnswer := false
		for _, sample := range basket.Samples {
			labels := make([][]int, p.maxAnswers)
			for i := range labels {
				labels[i] = []int{labelAbsent, labelAbsent}
			}
			if len(raw.Answers) == 0 || errorInAnswer {
				labels[0][0] = 0
				labels[0][1] = 0
				sample.Tokenized.Labels = labels
				continue
			}
			passageLenT := len(sample.Tokenized.PassageTokens)
			questionLenT := len(sample.Tokenized.QuestionTokens)
			for i, answer := range raw.Answers {
				if i >= p.maxAnswers {
					break
				}
				answerStartC := answer.AnswerStart
				answerEndC := answerStartC + len(answer.Text) - 1
				answerStartT := tokenization.OffsetToTokenIdx(raw.DocumentOffsets, answerStartC) - sample.Tokenized.PassageStartT
				answerEndT := tokenization.OffsetToTokenIdx(raw.DocumentOffsets, answerEndC) - sample.Tokenized.PassageStartT

				if answerStartT >= 0 && answerStartT < passageLenT &&
					answerEndT >= 0 && answerEndT < passageLenT {
					shift := p.spToksStart + questionLenT + p.spToksMid
					labels[i][0] = shift + answerStartT
					labels[i][1] = shift + answerEndT
				} else {
					labels[i][0] = 0
					labels[i][1] = 0
				}

				if answerStartT >= 0 && answerEndT < passageLenT {
					if !strings.Contains(raw.DocumentText, answer.Text) {
						log.Warn().
							Str("basket", basket.IDInternal).
							Str("answer", answer.Text).
							Msg("answer using start/end indices does not appear in the document text")
						labels[i][0] = labelUnreconcilable
						labels[i][1] = labelUnreconcilable
						errorInAnswer = true
						break
					}
					reconstructed := sliceDocument(raw.DocumentText, answerStartC, answerEndC+1)
					if strings.TrimSpace(reconstructed) != strings.TrimSpace(answer.Text) {
						log.Warn().
							Str("basket", basket.IDInternal).
							Str("expected", answer.Text).
							Str("reconstructed", reconstructed).
							Msg("answer using start/end indices does not match the gold answer text")
						labels[i][0] = labelUnreconcilable
						labels[i][1] = labelUnreconcilable
						errorInAnswer = true
						break
					}
				}
			}
			sample.Tokenized.Labels = labels
		}
	}
}

func sliceDocument(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		start = len(text)
	}
	if end > len(text) {
		end = len(text)
	}
	if end < start {
		end = start
	}
	return text[start:end]
}

// passagesToFeatures assembles the final fixed-shape row per sample:
// question and passage joined by the tokenizer's template, five aligned
// arrays padded to the sequence budget, the window origin, and the labels.
// Samples that fail validation are recorded as problematic and excluded.
func (p *SquadProcessor) passagesToFeatures(baskets []*QABasket, inference bool) {
	for _, basket := range baskets {
		for _, sample := range basket.Samples {
			t := sample.Tokenized
			if t == nil {
				p.addProblematic(sample.ID)
				continue
			}
			questionLenT := len(t.QuestionTokens)
			passageLenT := len(t.PassageTokens)

			inputIDs := p.tokenizer.BuildInputsWithSpecialTokens(t.QuestionTokens, t.PassageTokens)
			segmentIDs := p.tokenizer.CreateTokenTypeIDs(t.QuestionTokens, t.PassageTokens)
			seq2StartT := p.spToksStart + questionLenT + p.spToksMid

			startOfWord := make([]int, 0, len(inputIDs))
			startOfWord = append(startOfWord, zeros(p.spToksStart)...)
			startOfWord = append(startOfWord, t.QuestionStartOfWord...)
			startOfWord = append(startOfWord, zeros(p.spToksMid)...)
			startOfWord = append(startOfWord, t.PassageStartOfWord...)
			startOfWord = append(startOfWord, zeros(p.spToksEnd)...)

			paddingMask := ones(len(inputIDs))

			// Special tokens framing the sequence may host no-answer
			// predictions, so they stay unmasked; question tokens are
			// masked out of the answer span space.
			spanMask := make([]int, 0, len(inputIDs))
			spanMask = append(spanMask, ones(p.spToksStart)...)
			spanMask = append(spanMask, zeros(questionLenT)...)
			spanMask = append(spanMask, zeros(p.spToksMid)...)
			spanMask = append(spanMask, ones(passageLenT)...)
			spanMask = append(spanMask, zeros(p.spToksEnd)...)

			if pad := p.MaxSeqLen - len(inputIDs); pad > 0 {
				inputIDs = padTo(inputIDs, p.MaxSeqLen, p.tokenizer.PadTokenID())
				paddingMask = padTo(paddingMask, p.MaxSeqLen, 0)
				segmentIDs = padTo(segmentIDs, p.MaxSeqLen, 0)
				startOfWord = padTo(startOfWord, p.MaxSeqLen, 0)
				spanMask = padTo(spanMask, p.MaxSeqLen, 0)
			}

			idParts, idOK := parseSampleID(sample.ID)
			lenOK := len(inputIDs) == p.MaxSeqLen &&
				len(paddingMask) == p.MaxSeqLen &&
				len(segmentIDs) == p.MaxSeqLen &&
				len(startOfWord) == p.MaxSeqLen &&
				len(spanMask) == p.MaxSeqLen
			labelsOK := inference || validLabels(t.Labels, p.maxAnswers)

			if !lenOK || !idOK || !labelsOK {
				p.addProblematic(sample.ID)
				sample.Features = nil
				continue
			}

			row := datasets.FeatureVector{
				"input_ids":       inputIDs,
				"padding_mask":    paddingMask,
				"segment_ids":     segmentIDs,
				"passage_start_t": t.PassageStartT,
				"start_of_word":   startOfWord,
				"id":              idParts,
				"seq_2_start_t":   seq2StartT,
				"span_mask":       spanMask,
			}
			if !inference {
				row["labels"] = t.Labels
			}
			sample.Features = []datasets.FeatureVector{row}
		}
	}
}

func validLabels(labels [][]int, maxAnswers int) bool {
	if len(labels) != maxAnswers {
		return false
	}
	for _, row := range labels {
		if len(row) != 2 {
			return false
		}
		for _, v := range row {
			if v <= -99 {
				return false
			}
		}
	}
	return true
}

// createDataset drops incomplete baskets, flattens the surviving feature
// rows and converts them into tensors.
func (p *SquadProcessor) createDataset(baskets []*QABasket) (*datasets.Dataset, []string, []*QABasket, error) {
	kept := make([]*QABasket, 0, len(baskets))
	var features []datasets.FeatureVector
	for _, basket := range baskets {
		if !CheckSampleFeatures(basket) {
			continue
		}
		kept = append(kept, basket)
		for _, sample := range basket.Samples {
			features = append(features, sample.Features...)
		}
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

func zeros(n int) []int {
	if n <= 0 {
		return nil
	}
	return make([]int, n)
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
