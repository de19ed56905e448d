// Package testutil builds BGZF-compressed tar archives for tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/bgzf"
)

// Member describes one tar member to write.
type Member struct {
	Name     string
	Type     byte // defaults to tar.TypeReg
	Body     []byte
	Mode     int64
	ModTime  time.Time
	Linkname string
	PAX      map[string]string
}

// File returns a regular file member.
func File(name, body string) Member {
	return Member{Name: name, Type: tar.TypeReg, Body: []byte(body), Mode: 0o644}
}

// Dir returns a directory member.
func Dir(name string) Member {
	return Member{Name: name, Type: tar.TypeDir, Mode: 0o755}
}

// ArchiveOption configures BuildArchive.
type ArchiveOption func(*archiveConfig)

type archiveConfig struct {
	blockSize int
	flush     bool
	level     int
}

// WithBlockSize caps the uncompressed bytes per BGZF block.
func WithBlockSize(n int) ArchiveOption {
	return func(c *archiveConfig) {
		c.blockSize = n
	}
}

// WithFlushPerMember starts a new BGZF block at every member boundary.
func WithFlushPerMember() ArchiveOption {
	return func(c *archiveConfig) {
		c.flush = true
	}
}

// WithLevel sets the deflate level.
func WithLevel(level int) ArchiveOption {
	return func(c *archiveConfig) {
		c.level = level
	}
}

// BuildTar returns an uncompressed tar archive holding members.
func BuildTar(tb testing.TB, members []Member) []byte {
	tb.Helper()
	var buf bytes.Buffer
	writeTar(tb, &buf, members, nil)
	return buf.Bytes()
}

// BuildArchive returns a BGZF-compressed tar archive holding members.
func BuildArchive(tb testing.TB, members []Member, opts ...ArchiveOption) []byte {
	tb.Helper()
	cfg := archiveConfig{blockSize: bgzf.MaxDataSize, level: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out bytes.Buffer
	w, err := bgzf.NewWriter(&out, bgzf.WithBlockDataSize(cfg.blockSize), bgzf.WithLevel(cfg.level))
	require.NoError(tb, err)

	var flush func()
	if cfg.flush {
		flush = func() { require.NoError(tb, w.Flush()) }
	}
	writeTar(tb, w, members, flush)
	require.NoError(tb, w.Close())
	return out.Bytes()
}

// Compress BGZF-compresses data.
func Compress(tb testing.TB, data []byte, opts ...bgzf.WriterOption) []byte {
	tb.Helper()
	var out bytes.Buffer
	w, err := bgzf.NewWriter(&out, opts...)
	require.NoError(tb, err)
	_, err = w.Write(data)
	require.NoError(tb, err)
	require.NoError(tb, w.Close())
	return out.Bytes()
}

func writeTar(tb testing.TB, w io.Writer, members []Member, afterMember func()) {
	tb.Helper()
	tw := tar.NewWriter(w)
	for _, m := range members {
		typ := m.Type
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:       m.Name,
			Typeflag:   typ,
			Mode:       m.Mode,
			ModTime:    m.ModTime,
			Linkname:   m.Linkname,
			PAXRecords: m.PAX,
		}
		if typ == tar.TypeReg {
			hdr.Size = int64(len(m.Body))
		}
		require.NoError(tb, tw.WriteHeader(hdr))
		if len(m.Body) > 0 {
			_, err := tw.Write(m.Body)
			require.NoError(tb, err)
		}
		// Flush pads the member to a record boundary so the next header
		// starts a new block.
		require.NoError(tb, tw.Flush())
		if afterMember != nil {
			afterMember()
		}
	}
	require.NoError(tb, tw.Close())
}

// Source is an in-memory ByteSource that counts the bytes read from it.
type Source struct {
	data  []byte
	reads atomic.Int64
	bytes atomic.Int64
}

// NewSource returns a Source backed by data.
func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	s.bytes.Add(int64(n))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the length of the backing data.
func (s *Source) Size() int64 {
	return int64(len(s.data))
}

// Reads returns the number of ReadAt calls so far.
func (s *Source) Reads() int64 {
	return s.reads.Load()
}

// BytesRead returns the number of bytes returned by ReadAt so far.
func (s *Source) BytesRead() int64 {
	return s.bytes.Load()
}

// Reset clears the read counters.
func (s *Source) Reset() {
	s.reads.Store(0)
	s.bytes.Store(0)
}

// Bytes returns the backing slice for tests that need to mutate data.
func (s *Source) Bytes() []byte {
	return s.data
}
