package flate

// FASTCOPY is the slack, in bytes, that the output buffer keeps past the
// end of every back-reference copy. The fast inner loop runs only while at
// least 3*fastcopy bytes of output room and 2*fastcopy bytes of unread
// input remain, and falls back to the safe path otherwise. Copies in both
// paths write exactly the match length, not fixed-size chunks.
const fastcopy = 16

const (
	numLitlenSyms  = 288
	numOffsetSyms  = 32
	numPrecodeSyms = 19

	maxLitlenCodewordLen  = 15
	maxOffsetCodewordLen  = 15
	maxPrecodeCodewordLen = 7

	litlenTableBits  = 11
	offsetTableBits  = 8
	precodeTableBits = 7

	// maxNumLitlenSyms and maxNumOffsetSyms bound how many code lengths a
	// dynamic block header is allowed to declare (HLIT/HDIST). A
	// conforming encoder never needs more; symbols beyond these bounds
	// (286-287 litlen, 30-31 offset) are therefore never assigned a
	// codeword by a dynamic header; the static code does assign them, and
	// the block decoder rejects them as ErrCorruptData.
	maxNumLitlenSyms = 286
	maxNumOffsetSyms = 30

	// Enough-sized backing arrays for the two-level tables, passed to
	// buildDecodeTable as a capacity hint so a maximally skewed length
	// distribution never forces a reallocation of the root+subtable slice
	// while it's being built.
	precodeEnough = 1 << precodeTableBits
	litlenEnough  = 2342
	offsetEnough  = 402
)

// deflatePrecodeLensPermutation gives the order in which the 19 code-length
// alphabet lengths are transmitted in a dynamic block header.
var deflatePrecodeLensPermutation = [numPrecodeSyms]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

// lengthBase and lengthExtraBits give, for litlen symbol 257+i, the base
// match length and the number of extra bits that follow the Huffman code.
var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// offsetBase and offsetExtraBits give, for offset symbol i, the base
// back-reference distance and the number of extra bits that follow.
var offsetBase = [30]uint32{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var offsetExtraBits = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}
