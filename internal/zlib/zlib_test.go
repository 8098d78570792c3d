package zlib

import (
	"bytes"
	"testing"

	kzlib "github.com/klauspost/compress/zlib"

	"github.com/elliotnunn/zinflate/internal/flate"
)

func TestDecodeBadCMF(t *testing.T) {
	// CM=15 is reserved by the standard.
	data := []byte{0x7F, 0x00, 0, 0, 0, 0}
	_, err := NewDecoder(data).Decode()
	if err == nil {
		t.Fatal("Decode() error = nil, want ErrHeaderError")
	}
}

func TestDecodeFDICTUnsupported(t *testing.T) {
	var buf bytes.Buffer
	w, err := kzlib.NewWriterLevelDict(&buf, kzlib.BestSpeed, []byte("preset"))
	if err != nil {
		t.Fatalf("kzlib.NewWriterLevelDict: %v", err)
	}
	w.Write([]byte("hello"))
	w.Close()

	_, err = NewDecoder(buf.Bytes()).Decode()
	if err == nil {
		t.Fatal("Decode() error = nil, want ErrHeaderError for FDICT stream")
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("Wikipedia"),
		bytes.Repeat([]byte("compress me "), 500),
	}
	for _, data := range cases {
		var buf bytes.Buffer
		w := kzlib.NewWriter(&buf)
		w.Write(data)
		w.Close()

		got, err := NewDecoder(buf.Bytes()).Decode()
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
		}
	}
}

func TestDecodeTruncatedMiddle(t *testing.T) {
	var buf bytes.Buffer
	w := kzlib.NewWriter(&buf)
	w.Write(bytes.Repeat([]byte("truncate me please "), 200))
	w.Close()

	truncated := buf.Bytes()[:len(buf.Bytes())/2]
	_, err := NewDecoder(truncated).Decode()
	if err != flate.ErrInsufficientData {
		t.Fatalf("Decode() error = %v, want ErrInsufficientData", err)
	}
}
