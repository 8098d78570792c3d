// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ziparchive reads the central directory of a zip file and decodes
// individual entries on demand. It understands AppleDouble siblings
// (__MACOSX/**/._*) and touches local file headers as little as possible,
// the same two habits the container reader this package is descended from
// followed for plain files on disk.
//
// Unlike archive/zip, entries are decoded into a single contiguous buffer
// rather than streamed: callers already hold the whole compressed entry in
// memory (it came from a [internal/decodecache] lookup or a small archive),
// so there is no benefit to an io.Reader interface here.
package ziparchive

import (
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/DataDog/zstd"
	"github.com/therootcompany/xz"

	"github.com/elliotnunn/zinflate/internal/flate"
	"github.com/elliotnunn/zinflate/internal/sectionreader"
)

var (
	ErrFormat    = errors.New("ziparchive: not a valid zip file")
	ErrAlgorithm = errors.New("ziparchive: unsupported compression algorithm")
	ErrChecksum  = errors.New("ziparchive: checksum error")
	ErrNoSpanned = errors.New("ziparchive: spanned archives not supported")
)

// Compression methods recognized by Decode, per the APPNOTE registered method list.
const (
	MethodStore   = 0
	MethodDeflate = 8
	MethodBzip2   = 12
	MethodZstd    = 93
	MethodXZ      = 95
)

// Entry describes one central directory record.
type Entry struct {
	Name             string
	IsDir            bool
	LinkTarget       string // non-empty for symlinks; Method/CRC32/sizes are undefined
	Mode             fs.FileMode
	ModTime          time.Time
	Method           uint16
	CRC32            uint32
	CompressedSize   int64
	UncompressedSize int64

	offset int64 // local file header offset, corrected for leading junk
}

// Archive is the central directory of a zip file, plus enough of the EOCD
// to locate entry data. Entries are decoded lazily by Decode.
type Archive struct {
	headerReader io.ReaderAt
	dataReader   io.ReaderAt
	Entries      []Entry
}

// Open parses the central directory of a zip file of the given size.
func Open(r io.ReaderAt, size int64) (*Archive, error) {
	return Open2(r, r, size)
}

// Open2 routes header and data reads through different readers, so that a
// caller can keep the (small) central directory in one cache tier and
// stream entry bytes from another.
func Open2(headerReader, dataReader io.ReaderAt, size int64) (*Archive, error) {
	eocd, err := getEOCD(headerReader, size)
	if err != nil {
		return nil, err
	}

	eocdOffset := size - int64(len(eocd))
	thisDisk := uint32(binary.LittleEndian.Uint16(eocd[4:]))
	centralDisk := uint32(binary.LittleEndian.Uint16(eocd[6:]))
	recordsTotal := uint64(binary.LittleEndian.Uint16(eocd[10:]))
	centralSize := int64(binary.LittleEndian.Uint32(eocd[12:]))
	centralOffset := int64(binary.LittleEndian.Uint32(eocd[16:]))

	sixtyFour := recordsTotal == 0xffff || centralSize == 0xffff || centralOffset == 0xffffffff
	if sixtyFour {
		locator := make([]byte, 20)
		if int64(len(locator)+len(eocd)) > size {
			return nil, ErrFormat
		}
		n, err := headerReader.ReadAt(locator, size-int64(len(eocd))-int64(len(locator)))
		if n < len(locator) {
			return nil, err
		}
		if string(locator[:4]) != "PK\x06\x07" {
			return nil, ErrFormat
		}
		eocd64Disk := binary.LittleEndian.Uint32(locator[4:])
		eocdOffset = int64(binary.LittleEndian.Uint64(locator[8:]))
		totalDisks := binary.LittleEndian.Uint32(locator[16:])
		if eocd64Disk != 0 || totalDisks != 1 {
			return nil, ErrNoSpanned
		}
		eocd64 := make([]byte, 56)
		n, err = headerReader.ReadAt(eocd64, eocdOffset)
		if n < len(eocd64) {
			return nil, err
		}
		if string(eocd64[:4]) != "PK\x06\x06" {
			return nil, ErrFormat
		}
		thisDisk = binary.LittleEndian.Uint32(eocd64[16:])
		centralDisk = binary.LittleEndian.Uint32(eocd64[20:])
		recordsTotal = binary.LittleEndian.Uint64(eocd64[32:])
		centralSize = int64(binary.LittleEndian.Uint64(eocd64[40:]))
		centralOffset = int64(binary.LittleEndian.Uint64(eocd64[48:]))
	}
	if thisDisk != 0 || centralDisk != 0 {
		return nil, ErrNoSpanned
	}

	// Fix zip files that are carelessly appended to non-zip data, the
	// creating program unaware of the leading junk. Doesn't work for
	// ZIP64 files, since we have to trust the EOCD64 locator there.
	baseCorrection := eocdOffset - centralSize - centralOffset

	if centralOffset > eocdOffset {
		return nil, ErrFormat
	}
	dir := make([]byte, eocdOffset-centralOffset)
	n, err := headerReader.ReadAt(dir, baseCorrection+centralOffset)
	if n != len(dir) {
		return nil, err
	}

	a := &Archive{headerReader: headerReader, dataReader: dataReader}

	for len(dir) >= 0 {
		if len(dir) < 46 || string(dir[:4]) != "PK\x01\x02" {
			break
		}
		os := dir[5]
		method := binary.LittleEndian.Uint16(dir[10:])
		dostime := binary.LittleEndian.Uint16(dir[12:])
		dosdate := binary.LittleEndian.Uint16(dir[14:])
		crc32sum := binary.LittleEndian.Uint32(dir[16:])
		packed := int64(binary.LittleEndian.Uint32(dir[20:]))
		unpacked := int64(binary.LittleEndian.Uint32(dir[24:]))
		namelen := int(binary.LittleEndian.Uint16(dir[28:]))
		extralen := int(binary.LittleEndian.Uint16(dir[30:]))
		commentlen := int(binary.LittleEndian.Uint16(dir[32:]))
		attrs := binary.LittleEndian.Uint32(dir[38:])
		loc := int64(binary.LittleEndian.Uint32(dir[42:]))
		if len(dir) < 46+namelen+extralen+commentlen {
			break
		}
		dir = dir[46:]
		name := string(dir[:namelen])
		dir = dir[namelen:]
		extra := parseExtra(dir[:extralen])
		dir = dir[extralen:]
		dir = dir[commentlen:]

		if nx, ok := extra[0x7055]; ok && len(nx) >= 6 && nx[0] == 1 {
			name = string(nx[5:])
		}
		name = escapeInvalidName(name)
		name = strings.TrimPrefix(name, "/")
		if strings.HasPrefix(name, "__MACOSX/") {
			if strings.HasPrefix(path.Base(name), "._") {
				name = name[9:] // AppleDouble sibling of a real entry
			} else {
				continue // directory scaffolding for the above
			}
		}
		name, isdir := strings.CutSuffix(name, "/")
		if !fs.ValidPath(name) {
			continue
		}

		mtime := msDosTimeToTime(dosdate, dostime)
		for _, k := range slices.Backward(slices.Sorted(maps.Keys(extra))) {
			if t := timeFromExtraField(k, extra[k]); !t.IsZero() {
				mtime = t
			}
		}

		if sixtyFour {
			fields := extra[1]
			for _, shortField := range []*int64{&unpacked, &packed, &loc} {
				if *shortField == 0xffffffff && len(fields) >= 8 {
					*shortField = int64(binary.LittleEndian.Uint64(fields))
					fields = fields[8:]
				}
			}
		}

		var mode fs.FileMode
		switch os {
		case 3, 19: // Unix, Mac OS X
			mode = unixModeToFileMode(attrs >> 16)
		case 0, 11, 14: // DOS, NTFS, VFAT
			mode = msdosModeToFileMode(attrs)
		default:
			if isdir {
				mode = 0o755
			} else {
				mode = 0o644
			}
		}

		e := Entry{
			Name:             name,
			IsDir:            isdir,
			Mode:             mode,
			ModTime:          mtime,
			Method:           method,
			CRC32:            crc32sum,
			CompressedSize:   packed,
			UncompressedSize: unpacked,
			offset:           baseCorrection + loc,
		}

		if mode&fs.ModeSymlink != 0 {
			packedReader := &localHeaderReader{r: headerReader, offset: e.offset, size: packed}
			section := sectionreader.Section(packedReader, 0, packed)
			targbuf := make([]byte, packed)
			n, _ := section.ReadAt(targbuf, 0)
			targ := ""
			if n == len(targbuf) {
				targ = escapeInvalidName(string(targbuf))
				targ = path.Join(name, "..", targ)
			}
			if !fs.ValidPath(targ) {
				targ = "."
			}
			e.LinkTarget = targ
		}

		a.Entries = append(a.Entries, e)
	}

	return a, nil
}

// Decode reads and fully decompresses one entry, verifying its CRC32
// against the central directory's recorded value.
func (a *Archive) Decode(e *Entry) ([]byte, error) {
	if e.IsDir || e.LinkTarget != "" {
		return nil, fmt.Errorf("ziparchive: entry %q has no data stream", e.Name)
	}

	packedReader := &localHeaderReader{r: a.dataReader, offset: e.offset, size: e.CompressedSize}
	section := sectionreader.Section(packedReader, 0, e.CompressedSize)
	packed := make([]byte, e.CompressedSize)
	if n, err := section.ReadAt(packed, 0); n != len(packed) {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, flate.ErrInsufficientData
		}
		return nil, err
	}

	var out []byte
	var err error
	switch e.Method {
	case MethodStore:
		out = packed
	case MethodDeflate:
		out, err = flate.NewDecoder(packed).Decode()
	case MethodBzip2:
		out, err = io.ReadAll(bzip2.NewReader(io.NewSectionReader(section, 0, e.CompressedSize)))
	case MethodZstd:
		out, err = zstd.Decompress(make([]byte, 0, e.UncompressedSize), packed)
	case MethodXZ:
		var r io.Reader
		r, err = xz.NewReader(io.NewSectionReader(section, 0, e.CompressedSize), xz.DefaultDictMax)
		if err == nil {
			out, err = io.ReadAll(r)
		}
	default:
		return nil, fmt.Errorf("%w: method %d", ErrAlgorithm, e.Method)
	}
	if err != nil {
		return nil, err
	}

	if got := crc32.ChecksumIEEE(out); got != e.CRC32 {
		return nil, fmt.Errorf("%w: entry %q: got %08x, want %08x", ErrChecksum, e.Name, got, e.CRC32)
	}
	return out, nil
}

// localHeaderReader lazily skips over one local file header (whose
// filename/extra field lengths can differ from the central directory's) so
// that callers can address entry data with offsets relative to its start.
type localHeaderReader struct {
	r      io.ReaderAt
	offset int64
	size   int64
	once   sync.Once
	err    error
}

func (g *localHeaderReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= g.size {
		return 0, io.EOF
	}

	g.once.Do(func() {
		buf := make([]byte, 30)
		n, err := g.r.ReadAt(buf, g.offset)
		if n < len(buf) {
			g.err = err
			return
		}
		if string(buf[:4]) != "PK\x03\x04" {
			g.err = fmt.Errorf("%w: corrupt or absent local file header", ErrFormat)
			return
		}
		g.offset += 30 +
			int64(binary.LittleEndian.Uint16(buf[26:])) + // filename field
			int64(binary.LittleEndian.Uint16(buf[28:])) // extra field
	})

	if g.err != nil {
		return 0, g.err
	}

	tooLong := false
	if off+int64(len(p)) > g.size {
		p = p[:g.size-off]
		tooLong = true
	}

	n, err := g.r.ReadAt(p, g.offset+off)
	if err == nil && tooLong {
		err = io.EOF
	}
	return n, err
}

// escapeInvalidName percent-escapes a zip entry name that fails to decode
// as UTF-8 (Go's range over a string surfaces each bad byte as
// utf8.RuneError), leaving a well-formed name untouched.
func escapeInvalidName(s string) string {
	if !strings.ContainsRune(s, utf8.RuneError) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 128 && c != '%' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

func parseExtra(x []byte) map[int][]byte {
	ret := make(map[int][]byte)
	for len(x) >= 4 {
		kind := int(binary.LittleEndian.Uint16(x))
		size := int(binary.LittleEndian.Uint16(x[2:]))
		if len(x) < 4+size {
			break
		}
		ret[kind] = x[4:][:size]
		x = x[4+size:]
	}
	return ret
}

// getEOCD locates and returns the End Of Central Directory record plus its
// trailing comment. A zip comment can be up to 65535 bytes, so the search
// window is the last 22+65535 bytes of the archive (or the whole archive,
// if smaller) read in one shot through sectionreader, rather than grown
// incrementally from the tail.
func getEOCD(r io.ReaderAt, size int64) ([]byte, error) {
	if size < 22 {
		return nil, ErrFormat
	}

	const maxComment = 65535
	window := min(size, 22+maxComment)
	tail := make([]byte, window)
	section := sectionreader.Section(r, size-window, window)
	if n, err := section.ReadAt(tail, 0); n != len(tail) {
		return nil, err
	}

	for cmtLen := 0; 22+cmtLen <= len(tail); cmtLen++ {
		comment := tail[len(tail)-cmtLen:]
		if len(comment) > 0 {
			// The byte newly entering the comment window on this
			// iteration; a control char here can never become valid by
			// growing the window further, so stop looking.
			if ch := comment[0]; ch < 32 && ch != '\t' && ch != '\n' && ch != '\r' {
				return nil, ErrFormat
			}
		}
		rec := tail[len(tail)-22-cmtLen:]
		if rec[0] != 'P' || rec[1] != 'K' || rec[2] != 5 || rec[3] != 6 {
			continue
		}
		if int(binary.LittleEndian.Uint16(rec[20:22])) != cmtLen {
			continue
		}
		return rec, nil
	}
	return nil, ErrFormat
}

const (
	// Unix mode constants. The zip format doesn't define them, but these
	// are the values tools have agreed on.
	s_IFMT   = 0xf000
	s_IFSOCK = 0xc000
	s_IFLNK  = 0xa000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
	s_ISUID  = 0x800
	s_ISGID  = 0x400
	s_ISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

func msdosModeToFileMode(m uint32) (mode fs.FileMode) {
	if m&msdosDir != 0 {
		mode = fs.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func unixModeToFileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0777)
	switch m & s_IFMT {
	case s_IFBLK:
		mode |= fs.ModeDevice
	case s_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case s_IFDIR:
		mode |= fs.ModeDir
	case s_IFIFO:
		mode |= fs.ModeNamedPipe
	case s_IFLNK:
		mode |= fs.ModeSymlink
	case s_IFREG:
		// nothing to do
	case s_IFSOCK:
		mode |= fs.ModeSocket
	}
	if m&s_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&s_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&s_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}
