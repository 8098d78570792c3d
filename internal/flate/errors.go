package flate

import "errors"

// The error taxonomy below mirrors the four ways a DEFLATE stream can fail
// to decode: the input ran out before the grammar was satisfied, the
// grammar itself was violated, or (one level up, in package zlib) the
// container header or trailer didn't check out.
var (
	// ErrInsufficientData means the input ended while the bitstream still
	// required bits to satisfy the DEFLATE grammar. A well-formed but
	// truncated stream always fails this way, never ErrCorruptData.
	ErrInsufficientData = errors.New("flate: insufficient data")

	// ErrCorruptData means the bitstream violated the DEFLATE grammar:
	// a reserved block type, a bad stored-block LEN/NLEN pair, an
	// overfull or disallowed-incomplete Huffman code, a repeat-previous
	// code with no predecessor, a reserved symbol, a back-reference past
	// the start of the output, or a subtable that would need more than 15
	// bits to address.
	ErrCorruptData = errors.New("flate: corrupt data")
)
