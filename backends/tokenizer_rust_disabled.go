//go:build !RUST && !ALL

package backends

import "fmt"

func loadRustTokenizer(_ []byte, _ TokenizerConfig) (Tokenizer, error) {
	return nil, fmt.Errorf("the rust tokenizer backend requires the RUST or ALL build tag")
}
