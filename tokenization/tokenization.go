// Package tokenization holds the token/character offset algebra shared by
// the featurization pipelines: metadata-preserving encoding, passage
// windowing, and character-to-token index mapping.
package tokenization

import "github.com/farmhand-nlp/farmhand/backends"

// EncodeWithMetadata tokenizes text without special tokens and guarantees
// the metadata the pipelines rely on: per-token start character offsets and
// start-of-word flags, all parallel to the token ids.
func EncodeWithMetadata(tk backends.Tokenizer, text string) (*backends.Encoding, error) {
	enc, err := tk.Encode(text)
	if err != nil {
		return nil, err
	}
	if enc.Offsets == nil {
		enc.Offsets = make([]int, len(enc.TokenIDs))
	}
	if enc.StartOfWord == nil {
		enc.StartOfWord = make([]int, len(enc.TokenIDs))
	}
	return enc, nil
}
