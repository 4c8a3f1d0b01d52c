package tokenization

import "fmt"

// PassageSpan bounds one passage window of a long document, on both the
// token level (_t fields, indices into the document token sequence) and the
// text level (_c fields, byte indices into the document text).
type PassageSpan struct {
	PassageID     int
	PassageStartT int
	PassageEndT   int
	PassageStartC int
	PassageEndC   int
}

// GetPassageOffsets slides a window of passageLen tokens over the document
// with the given stride and resolves each window to character bounds using
// the per-token start offsets. The final window is truncated at the document
// end. Degenerate inputs are an error so callers can treat the document as
// producing no passages.
func GetPassageOffsets(docOffsets []int, stride int, passageLen int, docText string) ([]PassageSpan, error) {
	if len(docOffsets) == 0 {
		return nil, fmt.Errorf("cannot split a document with no token offsets")
	}
	if stride <= 0 {
		return nil, fmt.Errorf("passage stride must be positive, got %d", stride)
	}
	if passageLen <= 0 {
		return nil, fmt.Errorf("passage token budget must be positive, got %d", passageLen)
	}

	docLenT := len(docOffsets)
	var spans []PassageSpan
	for passageID := 0; ; passageID++ {
		startT := passageID * stride
		if startT >= docLenT {
			break
		}
		endT := startT + passageLen
		if endT > docLenT {
			endT = docLenT
		}
		startC := docOffsets[startT]
		endC := len(docText)
		if endT < docLenT {
			endC = docOffsets[endT]
		}
		spans = append(spans, PassageSpan{
			PassageID:     passageID,
			PassageStartT: startT,
			PassageEndT:   endT,
			PassageStartC: startC,
			PassageEndC:   endC,
		})
		if endT == docLenT {
			break
		}
	}
	return spans, nil
}

// OffsetToTokenIdx maps a byte position to the index of the token containing
// it: the last token whose start offset is <= charPos. Positions before the
// first token map to token 0, positions past the last token start map to the
// last token.
func OffsetToTokenIdx(docOffsets []int, charPos int) int {
	for i, start := range docOffsets {
		if start > charPos {
			if i == 0 {
				return 0
			}
			return i - 1
		}
	}
	return len(docOffsets) - 1
}
