package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputsBatching(t *testing.T) {
	batchSize = 2
	source := strings.NewReader(
		`{"query": "a", "passages": []}
{"query": "b", "passages": []}
{"query": "c", "passages": []}
`)
	inputChannel := make(chan batch, 10)

	next, err := readInputs(source, inputChannel, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	close(inputChannel)

	var batches []batch
	for b := range inputChannel {
		batches = append(batches, b)
	}
	require.Len(t, batches, 2)
	assert.Equal(t, []int{0, 1}, batches[0].indices)
	assert.Equal(t, []int{2}, batches[1].indices)
	assert.Equal(t, "c", batches[1].dicts[0]["query"])
}

func TestReadInputsContinuesIndices(t *testing.T) {
	batchSize = 10
	inputChannel := make(chan batch, 10)

	next, err := readInputs(strings.NewReader(`{"query": "a"}`), inputChannel, 0)
	require.NoError(t, err)
	next, err = readInputs(strings.NewReader(`{"query": "b"}`), inputChannel, next)
	require.NoError(t, err)
	assert.Equal(t, 2, next)
	close(inputChannel)

	first := <-inputChannel
	second := <-inputChannel
	assert.Equal(t, []int{0}, first.indices)
	assert.Equal(t, []int{1}, second.indices)
}

func TestReadInputsMalformedLine(t *testing.T) {
	batchSize = 10
	inputChannel := make(chan batch, 10)
	_, err := readInputs(strings.NewReader("{not json"), inputChannel, 0)
	assert.Error(t, err)
}
