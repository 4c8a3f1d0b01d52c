// Package safeconv holds clamping conversions between the unsigned types of
// the rust tokenizer bindings and the int tensors the processors produce.
package safeconv

import "math"

// Uint32SliceToIntSlice converts a slice of uint32 to int with clamping to
// MaxInt when necessary.
func Uint32SliceToIntSlice(input []uint32) []int {
	out := make([]int, len(input))
	for i, v := range input {
		if uint64(v) > uint64(math.MaxInt) {
			out[i] = math.MaxInt
		} else {
			out[i] = int(v)
		}
	}
	return out
}

// OffsetStartsToInts extracts the start position of each [start, end) offset
// pair as an int, clamping values beyond MaxInt. The type parameter absorbs
// the named offset types of the tokenizer bindings.
func OffsetStartsToInts[T ~[2]uint](offsets []T) []int {
	out := make([]int, len(offsets))
	for i, pair := range offsets {
		if uint64(pair[0]) > uint64(math.MaxInt) {
			out[i] = math.MaxInt
		} else {
			out[i] = int(pair[0])
		}
	}
	return out
}
