// Package processors converts raw question answering and retrieval records
// into fixed-shape numeric feature rows ready for dataset assembly. Each
// processor runs a fixed sequence of stages over baskets of samples and
// records the ids of samples it could not featurize instead of failing the
// whole batch.
package processors

import (
	"errors"
	"fmt"
	"sort"

	"github.com/phuslu/log"

	"github.com/farmhand-nlp/farmhand/datasets"
)

// Processor turns a batch of decoded input records into a dataset of
// fixed-shape tensors. Indices gives the position of each record inside the
// source corpus and seeds the internal sample ids; inference skips label
// construction.
type Processor interface {
	Name() string
	DatasetFromDicts(dicts []map[string]any, indices []int, inference bool) (*datasets.Dataset, []string, map[string]bool, error)
	AddTask(name, metric string, labelList []string, opts ...TaskOption) error
	Tasks() map[string]*Task
}

// Task describes one prediction head fed by the processor's output: its
// label vocabulary and the tensor/column names the labels travel under.
type Task struct {
	Name            string
	Metric          string
	LabelList       []string
	LabelName       string
	LabelTensorName string
	LabelColumnName string
	TextColumnName  string
	TaskType        string
}

// TaskOption customises a task registered via AddTask.
type TaskOption func(*Task)

// WithLabelName overrides the default "{task}_label" label name.
func WithLabelName(name string) TaskOption {
	return func(t *Task) { t.LabelName = name }
}

// WithLabelColumnName names the column the labels are read from.
func WithLabelColumnName(name string) TaskOption {
	return func(t *Task) { t.LabelColumnName = name }
}

// WithTextColumnName names the column the input text is read from.
func WithTextColumnName(name string) TaskOption {
	return func(t *Task) { t.TextColumnName = name }
}

// WithTaskType tags the task with a model head type.
func WithTaskType(taskType string) TaskOption {
	return func(t *Task) { t.TaskType = taskType }
}

// BaseProcessor carries the state shared by all processors: the sequence
// budget, the registered tasks, and the ids of samples that failed
// featurization in the current run.
type BaseProcessor struct {
	MaxSeqLen     int
	DevSplit      float64
	TrainFilename string
	DevFilename   string
	TestFilename  string
	DataDir       string

	tasks                map[string]*Task
	problematicSampleIDs map[string]bool
}

func newBaseProcessor(maxSeqLen int, devSplit float64) *BaseProcessor {
	return &BaseProcessor{
		MaxSeqLen:            maxSeqLen,
		DevSplit:             devSplit,
		tasks:                map[string]*Task{},
		problematicSampleIDs: map[string]bool{},
	}
}

// AddTask registers a prediction head. The label list must be non-empty so
// downstream code can derive a vocabulary size.
func (p *BaseProcessor) AddTask(name, metric string, labelList []string, opts ...TaskOption) error {
	if len(labelList) == 0 {
		return fmt.Errorf("task %s: the label list cannot be empty", name)
	}
	task := &Task{
		Name:      name,
		Metric:    metric,
		LabelList: labelList,
		LabelName: name + "_label",
	}
	for _, opt := range opts {
		opt(task)
	}
	task.LabelTensorName = task.LabelName + "_ids"
	p.tasks[name] = task
	return nil
}

// Tasks returns the registered prediction heads keyed by name.
func (p *BaseProcessor) Tasks() map[string]*Task {
	return p.tasks
}

// ProblematicSampleIDs returns the ids of samples the last DatasetFromDicts
// call could not featurize.
func (p *BaseProcessor) ProblematicSampleIDs() map[string]bool {
	return p.problematicSampleIDs
}

func (p *BaseProcessor) addProblematic(id string) {
	p.problematicSampleIDs[id] = true
}

func (p *BaseProcessor) resetProblematic() {
	p.problematicSampleIDs = map[string]bool{}
}

func (p *BaseProcessor) logParams(processorName, tokenizerName string) {
	log.Info().
		Str("processor", processorName).
		Str("tokenizer", tokenizerName).
		Int("maxSeqLen", p.MaxSeqLen).
		Float64("devSplit", p.DevSplit).
		Msg("initialized processor")
}

// logProblematic emits a single warning summarising the samples that were
// dropped during featurization.
func logProblematic(ids map[string]bool) {
	if len(ids) == 0 {
		return
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	log.Warn().
		Int("count", len(sorted)).
		Strs("sampleIds", sorted).
		Msg("unable to convert some samples to features, their ids are stored in the processor")
}

// resolveIndices defaults nil indices to the record positions and rejects a
// length mismatch.
func resolveIndices(dicts []map[string]any, indices []int) ([]int, error) {
	if indices == nil {
		indices = make([]int, len(dicts))
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	if len(indices) != len(dicts) {
		return nil, errors.New("the number of indices must match the number of input records")
	}
	return indices, nil
}
