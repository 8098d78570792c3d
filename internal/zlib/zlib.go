// Package zlib decodes the RFC 1950 zlib wrapper around a raw DEFLATE
// stream: a two-byte header, the compressed payload, and a four-byte
// Adler-32 trailer.
package zlib

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/elliotnunn/zinflate/internal/flate"
)

// ErrHeaderError means the two-byte zlib header failed validation: an
// unsupported compression method, a CINFO outside the defined range, a
// failed FCHECK, or FDICT=1 (preset dictionaries are not supported).
var ErrHeaderError = errors.New("zlib: header error")

// ErrChecksumMismatch means the stream decoded without violating the
// DEFLATE grammar, but its Adler-32 trailer did not match the decoded
// bytes.
var ErrChecksumMismatch = errors.New("zlib: checksum mismatch")

const (
	cmDeflate  = 8
	headerSize = 2
	trailerSize = 4
)

// Decoder decodes a single complete zlib-wrapped DEFLATE stream.
type Decoder struct {
	data []byte
}

// NewDecoder returns a Decoder over the given zlib bytes. data is
// retained, not copied.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Decode validates the header, inflates the payload, and verifies the
// Adler-32 trailer, in that order - a header failure is reported even if
// the payload itself would never have been read.
func (d *Decoder) Decode() ([]byte, error) {
	if len(d.data) < headerSize+trailerSize {
		return nil, flate.ErrInsufficientData
	}

	cmf := d.data[0]
	flg := d.data[1]

	cm := cmf & 0xF
	cinfo := cmf >> 4
	if cm != cmDeflate {
		return nil, fmt.Errorf("%w: unsupported compression method %d", ErrHeaderError, cm)
	}
	if cinfo > 7 {
		return nil, fmt.Errorf("%w: CINFO %d out of range", ErrHeaderError, cinfo)
	}
	if (uint16(cmf)*256+uint16(flg))%31 != 0 {
		return nil, fmt.Errorf("%w: FCHECK failed", ErrHeaderError)
	}
	if flg&0x20 != 0 {
		return nil, fmt.Errorf("%w: FDICT preset dictionaries are not supported", ErrHeaderError)
	}

	payload := d.data[headerSize : len(d.data)-trailerSize]
	out, err := flate.NewDecoder(payload).Decode()
	if err != nil {
		return nil, err
	}

	wantAdler := binary.BigEndian.Uint32(d.data[len(d.data)-trailerSize:])
	if got := flate.Adler32(out); got != wantAdler {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, got, wantAdler)
	}

	return out, nil
}
