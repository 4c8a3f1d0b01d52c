package backends

import (
	"unicode"
	"unicode/utf8"
)

// The BERT-family joining template shared by both tokenizer backends:
// [CLS] a [SEP] for a single sequence, [CLS] a [SEP] b [SEP] for a pair.

func bertBuildInputs(clsID, sepID int, a, b []int) []int {
	out := make([]int, 0, len(a)+len(b)+3)
	out = append(out, clsID)
	out = append(out, a...)
	out = append(out, sepID)
	if b != nil {
		out = append(out, b...)
		out = append(out, sepID)
	}
	return out
}

func bertTokenTypeIDs(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b)+3)
	for i := 0; i < len(a)+2; i++ {
		out = append(out, 0)
	}
	if b != nil {
		for i := 0; i < len(b)+1; i++ {
			out = append(out, 1)
		}
	}
	return out
}

func bertNumSpecialTokens(pair bool) int {
	if pair {
		return 3
	}
	return 2
}

// startOfWordFlags derives word-start markers from token character spans: a
// token starts a word when it sits at position 0 or directly after
// whitespace. Continuation pieces (e.g. wordpiece "##" tokens) butt up
// against the previous token with no whitespace in between.
func startOfWordFlags(text string, starts []int) []int {
	flags := make([]int, len(starts))
	for i, start := range starts {
		if start <= 0 || start > len(text) {
			flags[i] = boolToFlag(start == 0)
			continue
		}
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		flags[i] = boolToFlag(unicode.IsSpace(r))
	}
	return flags
}

func boolToFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
