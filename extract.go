package tarbgz

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/tarbgz/internal/bgzf"
	"github.com/meigma/tarbgz/internal/sizing"
	"github.com/meigma/tarbgz/internal/stream"
	"github.com/meigma/tarbgz/internal/tarscan"
)

// File is a member opened by Extract. It implements fs.File.
type File struct {
	name   string
	entry  Entry
	hdr    *tar.Header
	r      io.Reader
	closed bool
}

var _ fs.File = (*File)(nil)

// Extract opens the member at path.
//
// It decodes only the blocks from the entry's Start coordinate onward: one
// seek, one header, then the payload as it is read. It returns an
// *fs.PathError wrapping fs.ErrNotExist if path has no entry, and
// ErrIndexCorrupt if the member found at the entry's coordinates has a
// different name.
//
// Members without a payload, such as directories and links, yield a stream
// that is immediately at EOF. The returned File reads from src; src must
// stay open until the File is closed. Extract is safe for concurrent use;
// every call decodes independently.
func Extract(idx *Index, src ByteSource, path string) (*File, error) {
	entry, ok := idx.Get(path)
	if !ok {
		return nil, &fs.PathError{Op: "extract", Path: path, Err: fs.ErrNotExist}
	}
	if size, ok := idx.ArchiveSize(); ok && size != src.Size() {
		return nil, &fs.PathError{Op: "extract", Path: path, Err: fmt.Errorf(
			"%w: archive is %d bytes, index expects %d", ErrArchiveMismatch, src.Size(), size)}
	}

	f, err := openEntry(src, path, entry)
	if err != nil {
		return nil, &fs.PathError{Op: "extract", Path: path, Err: err}
	}
	return f, nil
}

func openEntry(src ByteSource, path string, entry Entry) (*File, error) {
	offset, err := sizing.ToInt64(entry.Offset, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	br := bgzf.NewReader(src)
	if err := br.Seek(entry.Start); err != nil {
		if errors.Is(err, bgzf.ErrInvalidOffset) {
			return nil, fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
		}
		return nil, err
	}
	sc := tarscan.NewScanner(stream.NewForwardSeeker(br, offset))
	m, err := sc.Next()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no member at %s", ErrIndexCorrupt, entry.Start)
	}
	if err != nil {
		return nil, err
	}

	want := NormalizePath(path)
	if got := NormalizePath(m.Header.Name); got != want {
		return nil, fmt.Errorf("%w: member at %s is %q", ErrIndexCorrupt, entry.Start, got)
	}

	var r io.Reader = bytes.NewReader(nil)
	if entry.IsRegular() {
		r = sc.Payload()
	}
	return &File{name: want, entry: entry, hdr: m.Header, r: r}, nil
}

// Read reads the member's payload.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	return f.r.Read(p)
}

// Stat returns the member's header as file info.
func (f *File) Stat() (fs.FileInfo, error) {
	if f.closed {
		return nil, fs.ErrClosed
	}
	return f.hdr.FileInfo(), nil
}

// Header returns the decoded tar header.
func (f *File) Header() *tar.Header {
	return f.hdr
}

// Entry returns the index entry the file was opened from.
func (f *File) Entry() Entry {
	return f.entry
}

// Name returns the normalized archive path.
func (f *File) Name() string {
	return f.name
}

// Close releases the file. Reads after Close fail with fs.ErrClosed.
func (f *File) Close() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	return nil
}
