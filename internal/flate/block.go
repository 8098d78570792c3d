package flate

// Decoder decodes a single raw DEFLATE stream (RFC 1951). It has no
// persistent state between calls to Decode and is not safe for concurrent
// use by multiple goroutines against the same value, though separate
// Decoders over separate data are fully independent.
type Decoder struct {
	data []byte
}

// NewDecoder returns a Decoder over the given raw DEFLATE bytes. data is
// retained, not copied.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

const resizeBy = 4096

func growOutput(out []byte, need int) []byte {
	if need <= len(out) {
		return out
	}
	grow := need - len(out)
	if grow < resizeBy {
		grow = resizeBy
	}
	return append(out, make([]byte, grow)...)
}

// Decode reads every DEFLATE block until the last-block flag is set and
// returns the decompressed bytes. Decode is the whole of the public
// surface; there is no support for resuming a partial decode.
func (d *Decoder) Decode() ([]byte, error) {
	br := newBitReader(d.data)
	br.refill()

	out := make([]byte, 37000)
	destOffset := 0

	var staticLitlen, staticOffset []uint32
	staticLoaded := false

	for {
		if !br.has(3) {
			br.refill()
			if !br.has(3) {
				return nil, ErrInsufficientData
			}
		}
		isLast := br.get(1) == 1
		blockType := br.get(2)

		switch blockType {
		case 0:
			var err error
			out, destOffset, err = decodeStoredBlock(d.data, br, out, destOffset)
			if err != nil {
				return nil, err
			}

		case 1, 2:
			var litlen, offset []uint32
			var err error
			if blockType == 1 {
				if !staticLoaded {
					staticLitlen, staticOffset, err = buildStaticTables()
					if err != nil {
						return nil, err
					}
					staticLoaded = true
				}
				litlen, offset = staticLitlen, staticOffset
			} else {
				litlen, offset, err = buildDynamicTables(br)
				if err != nil {
					return nil, err
				}
			}
			out, destOffset, err = decodeHuffmanBlock(br, litlen, offset, out, destOffset)
			if err != nil {
				return nil, err
			}

		default:
			return nil, ErrCorruptData
		}

		if isLast {
			break
		}
	}

	return out[:destOffset], nil
}

func decodeStoredBlock(data []byte, br *bitReader, out []byte, destOffset int) ([]byte, int, error) {
	br.alignToByte()
	if !br.has(32) {
		br.refill()
		if !br.has(32) {
			return nil, 0, ErrInsufficientData
		}
	}
	length := int(br.get(16))
	nlength := int(br.get(16))
	if length != (^nlength)&0xFFFF {
		return nil, 0, ErrCorruptData
	}

	start := br.position()
	if start+length > len(data) {
		return nil, 0, ErrInsufficientData
	}

	out = growOutput(out, destOffset+length)
	copy(out[destOffset:], data[start:start+length])
	destOffset += length
	br.reset(start + length)
	return out, destOffset, nil
}

func buildStaticTables() ([]uint32, []uint32, error) {
	var lens [numLitlenSyms]uint8
	for i := 0; i < 144; i++ {
		lens[i] = 8
	}
	for i := 144; i < 256; i++ {
		lens[i] = 9
	}
	for i := 256; i < 280; i++ {
		lens[i] = 7
	}
	for i := 280; i < numLitlenSyms; i++ {
		lens[i] = 8
	}
	var offLens [numOffsetSyms]uint8
	for i := range offLens {
		offLens[i] = 5
	}

	litlenTable, err := buildDecodeTable(lens[:], litlenResults[:], litlenTableBits, numLitlenSyms, maxLitlenCodewordLen, litlenEnough)
	if err != nil {
		return nil, nil, err
	}
	offsetTable, err := buildDecodeTable(offLens[:], offsetResults[:], offsetTableBits, numOffsetSyms, maxOffsetCodewordLen, offsetEnough)
	if err != nil {
		return nil, nil, err
	}
	return litlenTable, offsetTable, nil
}

func buildDynamicTables(br *bitReader) ([]uint32, []uint32, error) {
	if !br.has(14) {
		br.refill()
		if !br.has(14) {
			return nil, nil, ErrInsufficientData
		}
	}
	hlit := br.get(5)
	hdist := br.get(5)
	hclen := br.get(4)

	numLit := 257 + int(hlit)
	numOff := 1 + int(hdist)
	if numLit > maxNumLitlenSyms || numOff > maxNumOffsetSyms {
		return nil, nil, ErrCorruptData
	}
	numPrecode := 4 + int(hclen)

	var precodeLens [numPrecodeSyms]uint8
	for i := 0; i < numPrecode; i++ {
		if !br.has(3) {
			br.refill()
			if !br.has(3) {
				return nil, nil, ErrInsufficientData
			}
		}
		precodeLens[deflatePrecodeLensPermutation[i]] = uint8(br.get(3))
	}

	precodeTable, err := buildDecodeTable(precodeLens[:], precodeResults[:], precodeTableBits, numPrecodeSyms, maxPrecodeCodewordLen, precodeEnough)
	if err != nil {
		return nil, nil, err
	}

	lens := make([]uint8, numLit+numOff)
	for idx := 0; idx < len(lens); {
		br.refill()
		entry, err := decodeSymbol(precodeTable, br, precodeTableBits)
		if err != nil {
			return nil, nil, err
		}
		presym := payload(entry)

		switch {
		case presym < 16:
			lens[idx] = uint8(presym)
			idx++

		case presym == 16:
			if idx == 0 {
				return nil, nil, ErrCorruptData
			}
			if !br.has(2) {
				br.refill()
				if !br.has(2) {
					return nil, nil, ErrInsufficientData
				}
			}
			rep := 3 + int(br.get(2))
			prev := lens[idx-1]
			for k := 0; k < rep && idx < len(lens); k++ {
				lens[idx] = prev
				idx++
			}

		case presym == 17:
			if !br.has(3) {
				br.refill()
				if !br.has(3) {
					return nil, nil, ErrInsufficientData
				}
			}
			rep := 3 + int(br.get(3))
			for k := 0; k < rep && idx < len(lens); k++ {
				lens[idx] = 0
				idx++
			}

		case presym == 18:
			if !br.has(7) {
				br.refill()
				if !br.has(7) {
					return nil, nil, ErrInsufficientData
				}
			}
			rep := 11 + int(br.get(7))
			for k := 0; k < rep && idx < len(lens); k++ {
				lens[idx] = 0
				idx++
			}

		default:
			return nil, nil, ErrCorruptData
		}
	}

	litlenLens := lens[:numLit]
	offsetLens := lens[numLit:]

	litlenTable, err := buildDecodeTable(litlenLens, litlenResults[:numLit], litlenTableBits, numLit, maxLitlenCodewordLen, litlenEnough)
	if err != nil {
		return nil, nil, err
	}
	offsetTable, err := buildDecodeTable(offsetLens, offsetResults[:numOff], offsetTableBits, numOff, maxOffsetCodewordLen, offsetEnough)
	if err != nil {
		return nil, nil, err
	}
	return litlenTable, offsetTable, nil
}

// decodeSymbol peeks tableBits worth of input, resolves a subtable
// redirect if needed, and consumes exactly the bits the resolved entry's
// codeword occupies. It returns ErrInsufficientData rather than trust any
// lookup made from zero-padded phantom bits past the end of the stream.
func decodeSymbol(table []uint32, br *bitReader, tableBits uint) (uint32, error) {
	entry := table[br.peek(tableBits)]
	if !br.has(consumeBits(entry)) {
		return 0, ErrInsufficientData
	}
	if isSubtableEntry(entry) {
		rootBits := consumeBits(entry)
		subBits := extraBits(entry)
		start := payload(entry)
		br.drop(rootBits)
		if !br.has(subBits) {
			return 0, ErrInsufficientData
		}
		entry = table[start+uint32(br.peek(subBits))]
		if !br.has(consumeBits(entry)) {
			return 0, ErrInsufficientData
		}
	}
	br.drop(consumeBits(entry))
	return entry, nil
}

func getExtraBits(br *bitReader, entry uint32) (uint32, error) {
	n := extraBits(entry)
	if n == 0 {
		return 0, nil
	}
	if !br.has(n) {
		br.refill()
		if !br.has(n) {
			return 0, ErrInsufficientData
		}
	}
	return uint32(br.get(n)), nil
}

// decodeHuffmanBlock runs the symbol loop for a static or dynamic block.
// It alternates between a fast path, which trusts that ample input and
// output slack means every lookup is backed by real bits, and a safe
// path that refills and bound-checks before every consumption - the same
// split spec.md's bit reader section describes, collapsed here into a
// shared per-symbol decode (decodeSymbol/getExtraBits) so the two paths
// cannot disagree on semantics, only on how eagerly they check.
func decodeHuffmanBlock(br *bitReader, litlen, offset []uint32, out []byte, destOffset int) ([]byte, int, error) {
	for {
		for br.remainingBytes() >= 2*fastcopy && len(out)-destOffset >= 3*fastcopy {
			br.refill()
			entry, err := decodeSymbol(litlen, br, litlenTableBits)
			if err != nil {
				return nil, 0, err
			}
			if isLiteralEntry(entry) {
				out[destOffset] = byte(payload(entry))
				destOffset++
				continue
			}
			if isEOBEntry(entry) {
				return out, destOffset, nil
			}

			length := int(payload(entry))
			extra, err := getExtraBits(br, entry)
			if err != nil {
				return nil, 0, err
			}
			length += int(extra)
			if length == 0 { // reserved litlen symbol 286 or 287
				return nil, 0, ErrCorruptData
			}

			oEntry, err := decodeSymbol(offset, br, offsetTableBits)
			if err != nil {
				return nil, 0, err
			}
			offVal := int(payload(oEntry))
			oExtra, err := getExtraBits(br, oEntry)
			if err != nil {
				return nil, 0, err
			}
			offVal += int(oExtra)

			if offVal == 0 || offVal > destOffset {
				return nil, 0, ErrCorruptData
			}
			out = growOutput(out, destOffset+length+fastcopy)
			copyMatch(out, destOffset, length, offVal)
			destOffset += length
		}

		br.refill()
		if !br.has(1) {
			return nil, 0, ErrInsufficientData
		}

		entry, err := decodeSymbol(litlen, br, litlenTableBits)
		if err != nil {
			return nil, 0, err
		}
		if isLiteralEntry(entry) {
			out = growOutput(out, destOffset+1)
			out[destOffset] = byte(payload(entry))
			destOffset++
			continue
		}
		if isEOBEntry(entry) {
			return out, destOffset, nil
		}

		length := int(payload(entry))
		extra, err := getExtraBits(br, entry)
		if err != nil {
			return nil, 0, err
		}
		length += int(extra)
		if length == 0 { // reserved litlen symbol 286 or 287
			return nil, 0, ErrCorruptData
		}

		br.refill()
		oEntry, err := decodeSymbol(offset, br, offsetTableBits)
		if err != nil {
			return nil, 0, err
		}
		offVal := int(payload(oEntry))
		oExtra, err := getExtraBits(br, oEntry)
		if err != nil {
			return nil, 0, err
		}
		offVal += int(oExtra)

		if offVal == 0 || offVal > destOffset {
			return nil, 0, ErrCorruptData
		}
		out = growOutput(out, destOffset+length+fastcopy)
		copyMatch(out, destOffset, length, offVal)
		destOffset += length
	}
}

// copyMatch copies a length-byte back-reference at the given offset into
// out[destOffset:]. The caller guarantees out has at least fastcopy bytes
// of slack past destOffset+length.
func copyMatch(out []byte, destOffset, length, offsetVal int) {
	src := destOffset - offsetVal
	switch {
	case offsetVal == 1:
		b := out[src]
		for k := 0; k < length; k++ {
			out[destOffset+k] = b
		}
	case offsetVal < length:
		for k := 0; k < length; k++ {
			out[destOffset+k] = out[src+k]
		}
	default:
		copy(out[destOffset:destOffset+length], out[src:src+length])
	}
}
