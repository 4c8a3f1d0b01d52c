// Package farmhand turns raw question answering and retrieval corpora into
// fixed-shape numeric datasets. Processors are looked up by name through an
// explicit registry so callers can select one from configuration without
// importing its concrete type.
package farmhand

import (
	"fmt"
	"sort"
	"sync"

	"github.com/farmhand-nlp/farmhand/backends"
	"github.com/farmhand-nlp/farmhand/processors"
)

// ProcessorConfig carries the knobs shared across processor kinds. Fields a
// given processor does not use are ignored; zero values fall back to that
// processor's defaults.
type ProcessorConfig struct {
	// Tokenizer encodes the primary text. Retrieval processors use it for
	// the query side.
	Tokenizer backends.Tokenizer
	// PassageTokenizer encodes the context side of retrieval records. It
	// defaults to Tokenizer.
	PassageTokenizer backends.Tokenizer

	MaxSeqLen        int
	MaxSeqLenQuery   int
	MaxSeqLenPassage int
	DocStride        int
	MaxQueryLength   int
	MaxAnswers       int

	NumPositives     int
	NumHardNegatives int
	// Nil means keep the processor default (titles embedded, hard
	// negatives shuffled, positives not shuffled).
	EmbedTitle       *bool
	ShufflePositives *bool
	ShuffleNegatives *bool
	ShuffleSeed      int64

	DevSplit float64
}

// ProcessorFactory builds a processor from a config.
type ProcessorFactory func(config ProcessorConfig) (processors.Processor, error)

// Registry maps processor names to factories. The zero value is not usable,
// create one with NewRegistry or start from DefaultRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProcessorFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]ProcessorFactory{}}
}

// Register adds a factory under name. Registering a name twice is an error
// so configuration typos cannot silently shadow a processor.
func (r *Registry) Register(name string, factory ProcessorFactory) error {
	if factory == nil {
		return fmt.Errorf("processor %s: factory cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("processor %s is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds the named processor.
func (r *Registry) New(name string, config ProcessorConfig) (processors.Processor, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown processor %s, registered processors are: %v", name, r.Names())
	}
	return factory(config)
}

// Names lists the registered processor names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in processors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("squad", newSquadFromConfig)
	_ = r.Register("text_similarity", newTextSimilarityFromConfig)
	return r
}

// NewProcessor builds a processor from the default registry.
func NewProcessor(name string, config ProcessorConfig) (processors.Processor, error) {
	return DefaultRegistry().New(name, config)
}

func newSquadFromConfig(config ProcessorConfig) (processors.Processor, error) {
	var opts []processors.SquadOption
	if config.MaxSeqLen > 0 {
		opts = append(opts, processors.WithMaxSeqLen(config.MaxSeqLen))
	}
	if config.DocStride > 0 {
		opts = append(opts, processors.WithDocStride(config.DocStride))
	}
	if config.MaxQueryLength > 0 {
		opts = append(opts, processors.WithMaxQueryLength(config.MaxQueryLength))
	}
	if config.MaxAnswers > 0 {
		opts = append(opts, processors.WithMaxAnswers(config.MaxAnswers))
	}
	if config.DevSplit > 0 {
		opts = append(opts, processors.WithDevSplit(config.DevSplit))
	}
	return processors.NewSquadProcessor(config.Tokenizer, opts...)
}

func newTextSimilarityFromConfig(config ProcessorConfig) (processors.Processor, error) {
	passageTokenizer := config.PassageTokenizer
	if passageTokenizer == nil {
		passageTokenizer = config.Tokenizer
	}
	var opts []processors.SimilarityOption
	if config.EmbedTitle != nil {
		opts = append(opts, processors.WithEmbedTitle(*config.EmbedTitle))
	}
	if config.ShufflePositives != nil {
		opts = append(opts, processors.WithShufflePositives(*config.ShufflePositives))
	}
	if config.ShuffleNegatives != nil {
		opts = append(opts, processors.WithShuffleNegatives(*config.ShuffleNegatives))
	}
	if config.MaxSeqLenQuery > 0 {
		opts = append(opts, processors.WithMaxSeqLenQuery(config.MaxSeqLenQuery))
	}
	if config.MaxSeqLenPassage > 0 {
		opts = append(opts, processors.WithMaxSeqLenPassage(config.MaxSeqLenPassage))
	}
	if config.NumPositives > 0 {
		opts = append(opts, processors.WithNumPositives(config.NumPositives))
	}
	if config.NumHardNegatives > 0 {
		opts = append(opts, processors.WithNumHardNegatives(config.NumHardNegatives))
	}
	if config.ShuffleSeed != 0 {
		opts = append(opts, processors.WithShuffleSeed(config.ShuffleSeed))
	}
	if config.DevSplit > 0 {
		opts = append(opts, processors.WithSimilarityDevSplit(config.DevSplit))
	}
	return processors.NewTextSimilarityProcessor(config.Tokenizer, passageTokenizer, opts...)
}
