package tokenization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPassageOffsetsSingleWindow(t *testing.T) {
	// Four tokens at characters 0, 4, 8, 12 of a 15 character text.
	offsets := []int{0, 4, 8, 12}
	text := "aaa bbb ccc ddd"

	spans, err := GetPassageOffsets(offsets, 10, 10, text)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, PassageSpan{
		PassageID:     0,
		PassageStartT: 0,
		PassageEndT:   4,
		PassageStartC: 0,
		PassageEndC:   len(text),
	}, spans[0])
}

func TestGetPassageOffsetsStriding(t *testing.T) {
	offsets := make([]int, 10)
	textLen := 0
	for i := range offsets {
		offsets[i] = i * 4
		textLen = i*4 + 3
	}
	text := make([]byte, textLen)
	for i := range text {
		text[i] = 'x'
	}

	spans, err := GetPassageOffsets(offsets, 3, 4, string(text))
	require.NoError(t, err)
	require.Len(t, spans, 3)

	assert.Equal(t, 0, spans[0].PassageStartT)
	assert.Equal(t, 4, spans[0].PassageEndT)
	assert.Equal(t, 16, spans[0].PassageEndC)

	assert.Equal(t, 3, spans[1].PassageStartT)
	assert.Equal(t, 7, spans[1].PassageEndT)
	assert.Equal(t, 12, spans[1].PassageStartC)

	// The last window is truncated at the document end.
	assert.Equal(t, 6, spans[2].PassageStartT)
	assert.Equal(t, 10, spans[2].PassageEndT)
	assert.Equal(t, textLen, spans[2].PassageEndC)
}

func TestGetPassageOffsetsOverlap(t *testing.T) {
	// Stride smaller than the window means consecutive windows overlap and
	// every token is covered by at least one window.
	offsets := make([]int, 20)
	for i := range offsets {
		offsets[i] = i * 2
	}
	spans, err := GetPassageOffsets(offsets, 4, 8, string(make([]byte, 40)))
	require.NoError(t, err)

	covered := make(map[int]bool)
	for _, span := range spans {
		assert.LessOrEqual(t, span.PassageEndT-span.PassageStartT, 8)
		for tok := span.PassageStartT; tok < span.PassageEndT; tok++ {
			covered[tok] = true
		}
	}
	assert.Len(t, covered, 20)
}

func TestGetPassageOffsetsErrors(t *testing.T) {
	_, err := GetPassageOffsets(nil, 4, 8, "text")
	assert.Error(t, err)

	_, err = GetPassageOffsets([]int{0}, 0, 8, "text")
	assert.Error(t, err)

	_, err = GetPassageOffsets([]int{0}, 4, 0, "text")
	assert.Error(t, err)
}

func TestOffsetToTokenIdx(t *testing.T) {
	offsets := []int{0, 4, 8, 12}

	assert.Equal(t, 0, OffsetToTokenIdx(offsets, 0))
	assert.Equal(t, 0, OffsetToTokenIdx(offsets, 3))
	assert.Equal(t, 1, OffsetToTokenIdx(offsets, 4))
	assert.Equal(t, 2, OffsetToTokenIdx(offsets, 11))
	assert.Equal(t, 3, OffsetToTokenIdx(offsets, 12))
	// Positions past the last token start map to the last token.
	assert.Equal(t, 3, OffsetToTokenIdx(offsets, 100))
	// Positions before the first token map to token zero.
	assert.Equal(t, 0, OffsetToTokenIdx([]int{5, 9}, 2))
}
