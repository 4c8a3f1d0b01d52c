package datasets

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/farmhand-nlp/farmhand/util"
)

// squadFile mirrors the nested SQuAD JSON layout (data -> paragraphs ->
// qas). The reader flattens it into one record per paragraph.
type squadFile struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string           `json:"context"`
			QAs     []map[string]any `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

// SquadReader yields batches of {context, qas} dicts from a SQuAD-style
// JSON file. The whole file is decoded up front; SQuAD files are a single
// JSON document, not a line stream.
type SquadReader struct {
	records   []map[string]any
	batchSize int
	batchN    int
}

func NewSquadReader(path string, batchSize int) (*SquadReader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	raw, err := util.ReadFileBytes(path)
	if err != nil {
		return nil, err
	}
	var file squadFile
	if err := jsoniter.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse SQuAD file %s: %w", path, err)
	}
	var records []map[string]any
	for _, article := range file.Data {
		for _, paragraph := range article.Paragraphs {
			qas := make([]any, len(paragraph.QAs))
			for i, qa := range paragraph.QAs {
				qas[i] = qa
			}
			records = append(records, map[string]any{
				"context": paragraph.Context,
				"qas":     qas,
			})
		}
	}
	return &SquadReader{records: records, batchSize: batchSize}, nil
}

// YieldRaw returns the next batch of records, and io.EOF once the file is
// exhausted.
func (r *SquadReader) YieldRaw() ([]map[string]any, error) {
	start := r.batchN * r.batchSize
	if start >= len(r.records) {
		return nil, io.EOF
	}
	end := start + r.batchSize
	if end > len(r.records) {
		end = len(r.records)
	}
	r.batchN++
	return r.records[start:end], nil
}

// Reset rewinds the reader to the first batch (after the epoch is done).
func (r *SquadReader) Reset() {
	r.batchN = 0
}

func (r *SquadReader) Len() int {
	return len(r.records)
}

// SimilarityReader yields batches of {query, passages} dicts from a .jsonl
// file, one record per line.
type SimilarityReader struct {
	path       string
	batchSize  int
	sourceFile io.ReadCloser
	reader     *bufio.Reader
}

func NewSimilarityReader(path string, batchSize int) (*SimilarityReader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if filepath.Ext(path) != ".jsonl" {
		return nil, fmt.Errorf("similarity training path must be a .jsonl file")
	}
	sourceReadCloser, err := util.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &SimilarityReader{
		path:       path,
		batchSize:  batchSize,
		sourceFile: sourceReadCloser,
		reader:     bufio.NewReader(sourceReadCloser),
	}, nil
}

// YieldRaw returns the next batch of records. A final partial batch is
// returned together with io.EOF.
func (r *SimilarityReader) YieldRaw() ([]map[string]any, error) {
	batch := make([]map[string]any, 0, r.batchSize)
	for len(batch) < r.batchSize {
		lineBytes, readErr := util.ReadLine(r.reader)
		if readErr != nil {
			return batch, readErr
		}
		if len(lineBytes) == 0 {
			continue
		}
		var record map[string]any
		if err := jsoniter.Unmarshal(lineBytes, &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON line: %w", err)
		}
		batch = append(batch, record)
	}
	return batch, nil
}

// Reset reopens the source file so the next YieldRaw starts from the top.
func (r *SimilarityReader) Reset() error {
	if err := r.sourceFile.Close(); err != nil {
		return err
	}
	sourceReadCloser, err := util.OpenFile(r.path)
	if err != nil {
		return err
	}
	r.sourceFile = sourceReadCloser
	r.reader = bufio.NewReader(sourceReadCloser)
	return nil
}

func (r *SimilarityReader) Close() error {
	if r.sourceFile != nil {
		return r.sourceFile.Close()
	}
	return nil
}
