package processors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/farmhand-nlp/farmhand/datasets"
)

// Sample is one trainable unit derived from a basket: one passage window for
// question answering, or one query plus its context set for retrieval.
// ClearText carries the human-readable spans for inspection; Tokenized is
// the intermediate token-level form; Features is the final numeric row (nil
// means featurization failed and the sample must not reach a dataset).
type Sample[T any] struct {
	ID        string
	ClearText map[string]string
	Tokenized *T
	Features  []datasets.FeatureVector
}

func (s *Sample[T]) String() string {
	return fmt.Sprintf("sample %s: %v", s.ID, s.ClearText)
}

// SampleBasket ties one raw input record to the samples derived from it.
// Samples stay nil until the windowing/conversion stage has run; a basket
// whose samples cannot all be featurized is dropped at dataset creation.
type SampleBasket[R any, T any] struct {
	IDInternal string
	IDExternal string
	Raw        *R
	Samples    []*Sample[T]
}

// CheckSampleFeatures reports whether the basket is complete: a non-empty
// sample list in which every sample carries features.
func CheckSampleFeatures[R, T any](basket *SampleBasket[R, T]) bool {
	if len(basket.Samples) == 0 {
		return false
	}
	for _, sample := range basket.Samples {
		if sample.Features == nil {
			return false
		}
	}
	return true
}

// parseSampleID splits a QA sample id of the form
// "{docIndex}-{questionOrdinal}-{passageOrdinal}" into its integer
// components. The feature row requires exactly three.
func parseSampleID(id string) ([]int, bool) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return nil, false
	}
	out := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// padTo right-pads ids with padValue up to length. Sequences already at or
// beyond the target length are truncated to it.
func padTo(ids []int, length int, padValue int) []int {
	if len(ids) >= length {
		return ids[:length]
	}
	out := make([]int, length)
	copy(out, ids)
	for i := len(ids); i < length; i++ {
		out[i] = padValue
	}
	return out
}
