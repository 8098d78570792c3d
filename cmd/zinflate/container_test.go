package main

import (
	"archive/zip"
	"bytes"
	"testing"

	kflate "github.com/klauspost/compress/flate"
	kzlib "github.com/klauspost/compress/zlib"
)

func TestDecodeContainerRawDeflate(t *testing.T) {
	var buf bytes.Buffer
	w, _ := kflate.NewWriter(&buf, kflate.BestCompression)
	w.Write([]byte("plain deflate stream"))
	w.Close()

	got, err := decodeContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	if string(got) != "plain deflate stream" {
		t.Fatalf("decodeContainer() = %q", got)
	}
}

func TestDecodeContainerZlib(t *testing.T) {
	var buf bytes.Buffer
	w := kzlib.NewWriter(&buf)
	w.Write([]byte("zlib wrapped stream"))
	w.Close()

	got, err := decodeContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	if string(got) != "zlib wrapped stream" {
		t.Fatalf("decodeContainer() = %q", got)
	}
}

func TestDecodeContainerZip(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("a.txt")
	fw.Write([]byte("hello "))
	fw2, _ := w.Create("b.txt")
	fw2.Write([]byte("world"))
	w.Close()

	got, err := decodeContainer(buf.Bytes())
	if err != nil {
		t.Fatalf("decodeContainer: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("decodeContainer() = %q, want %q", got, "hello world")
	}
}
