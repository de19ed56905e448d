package bgzf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("bgzf: writer closed")

// Writer compresses data into BGZF blocks.
//
// Data is buffered until a block is full or Flush is called. Close flushes
// the last block and appends the EOF marker block; it does not close the
// underlying writer.
type Writer struct {
	w         io.Writer
	fw        *flate.Writer
	level     int
	blockSize int
	buf       []byte
	out       bytes.Buffer
	off       int64
	err       error
	closed    bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLevel sets the deflate compression level (default: flate.DefaultCompression).
func WithLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithBlockDataSize caps the uncompressed bytes stored per block.
// Values outside [1, MaxDataSize] are clamped.
func WithBlockDataSize(n int) WriterOption {
	return func(w *Writer) {
		w.blockSize = min(max(n, 1), MaxDataSize)
	}
}

// NewWriter returns a Writer that writes BGZF blocks to w.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	bw := &Writer{
		w:         w,
		level:     flate.DefaultCompression,
		blockSize: MaxDataSize,
	}
	for _, opt := range opts {
		opt(bw)
	}
	fw, err := flate.NewWriter(&bw.out, bw.level)
	if err != nil {
		return nil, fmt.Errorf("bgzf: %w", err)
	}
	bw.fw = fw
	bw.buf = make([]byte, 0, bw.blockSize)
	return bw, nil
}

// Write buffers p, emitting a block each time the buffer fills.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, ErrClosed
	}
	var n int
	for len(p) > 0 {
		k := min(len(p), w.blockSize-len(w.buf))
		w.buf = append(w.buf, p[:k]...)
		p = p[k:]
		n += k
		if len(w.buf) == w.blockSize {
			if err := w.writeBlock(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Offset returns the virtual offset the next written byte will have.
func (w *Writer) Offset() Offset {
	return MakeOffset(w.off, uint16(len(w.buf))) //nolint:gosec // buffer never exceeds MaxDataSize
}

// Flush ends the current block so the next write starts a new one.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrClosed
	}
	if len(w.buf) == 0 {
		return nil
	}
	return w.writeBlock()
}

// Close flushes buffered data and writes the EOF marker block.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	w.closed = true
	n, err := w.w.Write(eofBlock[:])
	w.off += int64(n)
	if err != nil {
		w.err = err
	}
	return w.err
}

func (w *Writer) writeBlock() error {
	w.out.Reset()
	w.out.Write([]byte{
		0x1f, 0x8b, 8, 4, // magic, deflate, FEXTRA
		0, 0, 0, 0, // mtime
		0, 0xff, // xfl, os
		6, 0, // xlen
		'B', 'C', 2, 0, // BC subfield
		0, 0, // bsize, patched below
	})

	w.fw.Reset(&w.out)
	if _, err := w.fw.Write(w.buf); err != nil {
		return w.fail(err)
	}
	if err := w.fw.Close(); err != nil {
		return w.fail(err)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(w.buf))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(w.buf))) //nolint:gosec // at most MaxDataSize
	w.out.Write(trailer[:])

	block := w.out.Bytes()
	if len(block) > MaxBlockSize {
		return w.fail(fmt.Errorf("compressed block of %d bytes exceeds %d", len(block), MaxBlockSize))
	}
	binary.LittleEndian.PutUint16(block[16:18], uint16(len(block)-1)) //nolint:gosec // checked above

	n, err := w.w.Write(block)
	w.off += int64(n)
	if err != nil {
		return w.fail(err)
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) fail(err error) error {
	w.err = fmt.Errorf("bgzf: write block: %w", err)
	return w.err
}
