package main

import (
	"bytes"
	"fmt"

	"github.com/elliotnunn/zinflate/internal/flate"
	"github.com/elliotnunn/zinflate/internal/ziparchive"
	"github.com/elliotnunn/zinflate/internal/zlib"
)

var zipSignature = []byte("PK\x03\x04")

// decodeContainer sniffs the compressed form of a whole file and decodes
// it: a zip archive (all entries concatenated, in central-directory
// order), a zlib stream, or a raw DEFLATE stream as a last resort.
func decodeContainer(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, zipSignature) {
		return decodeZip(data)
	}
	if looksLikeZlib(data) {
		return zlib.NewDecoder(data).Decode()
	}
	return flate.NewDecoder(data).Decode()
}

func looksLikeZlib(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	return cmf&0xF == 8 && cmf>>4 <= 7 && (uint16(cmf)*256+uint16(flg))%31 == 0
}

func decodeZip(data []byte) ([]byte, error) {
	a, err := ziparchive.Open(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	for i := range a.Entries {
		e := &a.Entries[i]
		if e.IsDir || e.LinkTarget != "" {
			continue
		}
		decoded, err := a.Decode(e)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", e.Name, err)
		}
		out.Write(decoded)
	}
	return out.Bytes(), nil
}
