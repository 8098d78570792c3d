package ziparchive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/DataDog/zstd"

	"github.com/elliotnunn/zinflate/internal/inithint"
)

// archive/zip only knows how to write methods 0 (store) and 8 (deflate);
// registering compressors for the two extra methods this package decodes
// lets buildZip produce real, archive-valid fixtures for them too, with
// the central directory and local headers assembled by archive/zip itself
// rather than by hand.
func init() {
	zip.RegisterCompressor(MethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return &bufferingCompressor{w: w, encode: func(p []byte) ([]byte, error) { return zstd.Compress(nil, p) }}, nil
	})
	zip.RegisterCompressor(MethodXZ, func(w io.Writer) (io.WriteCloser, error) {
		return &bufferingCompressor{w: w, encode: func(p []byte) ([]byte, error) { return buildMinimalXZStream(p), nil }}, nil
	})
}

// bufferingCompressor adapts a whole-buffer encode function to
// archive/zip's streaming io.WriteCloser Compressor interface.
type bufferingCompressor struct {
	buf    bytes.Buffer
	w      io.Writer
	encode func([]byte) ([]byte, error)
}

func (c *bufferingCompressor) Write(p []byte) (int, error) { return c.buf.Write(p) }

func (c *bufferingCompressor) Close() error {
	out, err := c.encode(c.buf.Bytes())
	if err != nil {
		return err
	}
	_, err = c.w.Write(out)
	return err
}

func encodeVLI(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func crc32le(b []byte) []byte {
	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], crc32.ChecksumIEEE(b))
	return out[:]
}

// buildMinimalXZStream hand-assembles the smallest valid .xz container
// around payload: one block holding a single LZMA2 "uncompressed chunk"
// (no LZMA compression, no integrity check), since none of the XZ
// libraries reachable from this tree expose a compressor - only readers.
// Every fixed-format field here follows the xz-file-format specification
// directly; checksums are computed at test time, not hand-calculated.
func buildMinimalXZStream(payload []byte) []byte {
	if len(payload) == 0 || len(payload) > 1<<16 {
		panic("buildMinimalXZStream: payload size out of range for a single chunk")
	}

	streamFlags := []byte{0x00, 0x00} // check type: None

	// Block Header: size byte, block flags (one filter, no optional size
	// fields), one LZMA2 filter (1-byte properties, 4KiB dictionary),
	// padded to a multiple of four bytes, then a CRC32 of all of that.
	filterFlags := []byte{0x21, 0x01, 0x00} // LZMA2 filter ID, 1 props byte, dict size 4096
	headerFields := append([]byte{0x00, 0x00}, filterFlags...)
	for len(headerFields)%4 != 0 {
		headerFields = append(headerFields, 0x00)
	}
	totalHeaderSize := len(headerFields) + 4 // + CRC32
	headerFields[0] = byte(totalHeaderSize/4 - 1)
	blockHeader := append(append([]byte{}, headerFields...), crc32le(headerFields)...)

	// Compressed Data: one uncompressed LZMA2 chunk (dictionary reset)
	// carrying payload verbatim, then the LZMA2 end-of-stream marker.
	n := len(payload) - 1
	compressedData := append([]byte{0x01, byte(n >> 8), byte(n)}, payload...)
	compressedData = append(compressedData, 0x00)

	block := append(append([]byte{}, blockHeader...), compressedData...)
	unpaddedSize := uint64(len(block)) // Block Check is empty (None)
	for len(block)%4 != 0 {
		block = append(block, 0x00)
	}

	index := append([]byte{0x00}, encodeVLI(1)...) // indicator, number of records
	index = append(index, encodeVLI(unpaddedSize)...)
	index = append(index, encodeVLI(uint64(len(payload)))...)
	for len(index)%4 != 0 {
		index = append(index, 0x00)
	}
	index = append(index, crc32le(index)...)

	footerBody := make([]byte, 6)
	binary.LittleEndian.PutUint32(footerBody, uint32(len(index)/4-1)) // Backward Size
	copy(footerBody[4:], streamFlags)
	footer := append(crc32le(footerBody), footerBody...)
	footer = append(footer, 'Y', 'Z')

	out := append([]byte{0xFD, '7', 'z', 'X', 'Z', 0x00}, streamFlags...)
	out = append(out, crc32le(streamFlags)...)
	out = append(out, block...)
	out = append(out, index...)
	out = append(out, footer...)
	return out
}

func buildZip(t *testing.T, files map[string]struct {
	data   []byte
	method uint16
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, f := range files {
		hdr := &zip.FileHeader{Name: name, Method: f.method}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%q): %v", name, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatalf("Write(%q): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestRoundTripStoreAndDeflate(t *testing.T) {
	files := map[string]struct {
		data   []byte
		method uint16
	}{
		"stored.txt": {[]byte("hello, stored"), zip.Store},
		"packed.txt": {bytes.Repeat([]byte("compress me please "), 200), zip.Deflate},
		"empty.txt":  {nil, zip.Store},
	}
	raw := buildZip(t, files)

	a, err := Open(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(a.Entries) != len(files) {
		t.Fatalf("got %d entries, want %d", len(a.Entries), len(files))
	}

	for i := range a.Entries {
		e := &a.Entries[i]
		want, ok := files[e.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", e.Name)
		}
		got, err := a.Decode(e)
		if err != nil {
			t.Fatalf("Decode(%q): %v", e.Name, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Errorf("Decode(%q): got %d bytes, want %d", e.Name, len(got), len(want.data))
		}
	}
}

func TestOpenTruncated(t *testing.T) {
	raw := buildZip(t, map[string]struct {
		data   []byte
		method uint16
	}{"a.txt": {[]byte("a"), zip.Store}})

	_, err := Open(bytes.NewReader(raw[:len(raw)/2]), int64(len(raw)/2))
	if err == nil {
		t.Fatal("Open() error = nil, want ErrFormat for a truncated archive")
	}
}

// A ReadAt that reports n < len(p) must not leave the caller trusting
// whatever was in p before the call. localHeaderReader forwards its
// underlying reader's return values unchanged, so wrapping that reader
// with inithint catches a short read silently being treated as complete.
func TestLocalHeaderReaderDoesNotHideShortReads(t *testing.T) {
	raw := buildZip(t, map[string]struct {
		data   []byte
		method uint16
	}{"a.txt": {[]byte("hello world"), zip.Store}})

	hinted := inithint.NewReaderAt(bytes.NewReader(raw))
	a, err := Open(hinted, int64(len(raw)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := a.Decode(&a.Entries[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inithint.IsHint(got) {
		t.Fatal("Decode() returned only sentinel bytes, meaning it never really read the entry")
	}
	if string(got) != "hello world" {
		t.Fatalf("Decode() = %q, want %q", got, "hello world")
	}
}

func TestDecodeZstdEntry(t *testing.T) {
	raw := buildZip(t, map[string]struct {
		data   []byte
		method uint16
	}{"z.txt": {bytes.Repeat([]byte("zstd me please "), 300), MethodZstd}})

	a, err := Open(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Entries[0].Method != MethodZstd {
		t.Fatalf("entry method = %d, want MethodZstd", a.Entries[0].Method)
	}
	got, err := a.Decode(&a.Entries[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := bytes.Repeat([]byte("zstd me please "), 300)
	if !bytes.Equal(got, want) {
		t.Fatalf("Decode() = %d bytes, want %d", len(got), len(want))
	}
}

func TestDecodeXZEntry(t *testing.T) {
	raw := buildZip(t, map[string]struct {
		data   []byte
		method uint16
	}{"x.txt": {[]byte("hello from an xz entry"), MethodXZ}})

	a, err := Open(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Entries[0].Method != MethodXZ {
		t.Fatalf("entry method = %d, want MethodXZ", a.Entries[0].Method)
	}
	got, err := a.Decode(&a.Entries[0])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "hello from an xz entry" {
		t.Fatalf("Decode() = %q, want %q", got, "hello from an xz entry")
	}
}

func TestGetEOCDFindsComment(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.SetComment("a test comment")
	fw, _ := w.Create("a.txt")
	fw.Write([]byte("a"))
	w.Close()
	raw := buf.Bytes()

	eocd, err := getEOCD(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("getEOCD: %v", err)
	}
	if !bytes.HasPrefix(eocd, []byte("PK\x05\x06")) {
		t.Fatalf("getEOCD returned %x, want a PK\\x05\\x06 record", eocd)
	}
	if !bytes.HasSuffix(raw, eocd) {
		t.Fatal("EOCD does not match the tail of the archive")
	}
}
