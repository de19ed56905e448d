// Package stream adapts sequential decompressing readers to consumers that
// expect ordinary seek and tell over the decompressed stream.
package stream

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupported is returned for seeks relative to the end of the stream.
	ErrUnsupported = errors.New("stream: seek relative to end is not supported")

	// ErrInvalidSeek is returned for seeks that would move backward.
	ErrInvalidSeek = errors.New("stream: backward seek")
)

// discardSize is the scratch buffer used to skip forward.
const discardSize = 32 * 1024

// ForwardSeeker counts the bytes produced by a sequential reader and
// emulates forward seeks by reading and discarding.
//
// Offsets are positions in the decompressed stream, not codec coordinates.
// Backward seeks are never possible: the underlying reader can only move
// backward by being reopened.
type ForwardSeeker struct {
	r       io.Reader
	off     int64
	scratch []byte
}

// NewForwardSeeker wraps r. initial is the decompressed offset r is
// currently positioned at; it is zero for a reader at the start of the stream.
func NewForwardSeeker(r io.Reader, initial int64) *ForwardSeeker {
	return &ForwardSeeker{r: r, off: initial}
}

// Read implements io.Reader. The offset advances by the bytes actually read.
// A short stream ends with 0, io.EOF like any other reader.
func (s *ForwardSeeker) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.off += int64(n)
	return n, err
}

// Tell returns the current decompressed offset.
func (s *ForwardSeeker) Tell() int64 {
	return s.off
}

// Seek implements io.Seeker for io.SeekStart and io.SeekCurrent.
//
// Seeking past the end of the stream is not an error: the seeker stops at
// the end and returns the offset it reached, which is short of the target.
// Callers detect that from the returned offset.
func (s *ForwardSeeker) Seek(offset int64, whence int) (int64, error) {
	var distance int64
	switch whence {
	case io.SeekStart:
		distance = offset - s.off
	case io.SeekCurrent:
		distance = offset
	case io.SeekEnd:
		return s.off, ErrUnsupported
	default:
		return s.off, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if distance < 0 {
		return s.off, fmt.Errorf("%w: from %d by %d", ErrInvalidSeek, s.off, distance)
	}
	if distance == 0 {
		return s.off, nil
	}

	if s.scratch == nil {
		s.scratch = make([]byte, discardSize)
	}
	for distance > 0 {
		chunk := s.scratch
		if int64(len(chunk)) > distance {
			chunk = chunk[:distance]
		}
		n, err := s.Read(chunk)
		distance -= int64(n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.off, err
		}
		if n == 0 {
			// A reader that makes no progress without reporting EOF would
			// spin forever; treat it as the end of the stream.
			break
		}
	}
	return s.off, nil
}
