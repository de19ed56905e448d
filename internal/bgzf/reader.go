package bgzf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Reader decompresses a BGZF stream one block at a time.
//
// Reads are sequential; Seek jumps directly to a virtual offset by loading
// the block it names. Reader is not safe for concurrent use.
type Reader struct {
	src    io.ReaderAt
	gz     *gzip.Reader
	raw    []byte
	buf    bytes.Buffer
	data   []byte
	base   int64 // file offset of the loaded block
	next   int64 // file offset of the block after it
	pos    int   // read position within data
	loaded bool
	err    error
}

// NewReader returns a Reader positioned at the start of src.
func NewReader(src io.ReaderAt) *Reader {
	return &Reader{
		src: src,
		raw: make([]byte, MaxBlockSize),
	}
}

// Read reads decompressed bytes from the current block, loading the next
// non-empty block when the current one is exhausted. A single call never
// crosses a block boundary. At the end of the stream it returns 0, io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.pos >= len(r.data) {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.load(r.next); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// Tell returns the virtual offset of the next byte Read would return.
//
// After a read that ends exactly at a block boundary, Tell addresses the end
// of that block rather than the start of the next one; both decode to the
// same position.
func (r *Reader) Tell() Offset {
	return MakeOffset(r.base, uint16(r.pos)) //nolint:gosec // pos is bounded by the block data size
}

// Seek positions the reader at off. It loads at most one block and never
// scans. Seeking to the end of the file (an offset with no block) is allowed
// when the in-block offset is zero; subsequent reads return io.EOF.
func (r *Reader) Seek(off Offset) error {
	file := off.File()
	if !r.loaded || file != r.base {
		if err := r.load(file); err != nil {
			if errors.Is(err, io.EOF) && off.Block() == 0 {
				r.base, r.next = file, file
				r.data, r.pos = nil, 0
				r.loaded = true
				r.err = io.EOF
				return nil
			}
			return err
		}
	}
	if int(off.Block()) > len(r.data) {
		return fmt.Errorf("%w: %s is past the end of a %d byte block", ErrInvalidOffset, off, len(r.data))
	}
	r.pos = int(off.Block())
	r.err = nil
	return nil
}

// load reads and decompresses the block starting at file offset at.
// It returns io.EOF when no block starts at at.
func (r *Reader) load(at int64) error {
	n, err := r.src.ReadAt(r.raw, at)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("bgzf: read block at %d: %w", at, err)
	}
	if n == 0 {
		return io.EOF
	}

	size, err := blockSize(r.raw[:n])
	if err != nil {
		return fmt.Errorf("block at %d: %w", at, err)
	}
	if size > n {
		return fmt.Errorf("%w: block at %d truncated (%d of %d bytes)", ErrCorrupt, at, n, size)
	}

	r.loaded = false
	r.data, r.pos = nil, 0
	if r.gz == nil {
		r.gz, err = gzip.NewReader(bytes.NewReader(r.raw[:size]))
	} else {
		err = r.gz.Reset(bytes.NewReader(r.raw[:size]))
	}
	if err != nil {
		return fmt.Errorf("%w: block at %d: %v", ErrCorrupt, at, err)
	}
	r.gz.Multistream(false)

	r.buf.Reset()
	if _, err := r.buf.ReadFrom(io.LimitReader(r.gz, 1<<16)); err != nil {
		return fmt.Errorf("%w: block at %d: %v", ErrCorrupt, at, err)
	}
	if r.buf.Len() > 0xffff {
		return fmt.Errorf("%w: block at %d holds more than 64KiB", ErrCorrupt, at)
	}

	r.data = r.buf.Bytes()
	r.base = at
	r.next = at + int64(size)
	r.loaded = true
	return nil
}
