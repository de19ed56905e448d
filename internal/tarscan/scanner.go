// Package tarscan walks tar members over a forward-seekable stream and
// reports where each member's header and payload start.
//
// archive/tar keeps its own skip state between members, which goes stale as
// soon as the caller seeks the underlying stream. The Scanner instead opens a
// fresh tar.Reader at every header position, so the stream position alone
// determines what is decoded next.
package tarscan

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/tarbgz/internal/stream"
)

// BlockSize is the tar record alignment.
const BlockSize = 512

// ErrParse is returned for malformed or truncated members.
var ErrParse = errors.New("tarscan: malformed archive member")

// Member describes one tar member.
type Member struct {
	Header *tar.Header

	// Offset is the decompressed offset of the first header block, including
	// any PAX or GNU long-name records that precede the main header.
	Offset int64

	// DataOffset is the decompressed offset of the first payload byte.
	DataOffset int64
}

// Scanner reads tar members sequentially from a ForwardSeeker.
type Scanner struct {
	s       *stream.ForwardSeeker
	tr      *tar.Reader
	cur     *Member
	next    int64
	skipped bool
}

// NewScanner returns a Scanner reading members starting at s's position.
func NewScanner(s *stream.ForwardSeeker) *Scanner {
	return &Scanner{s: s, next: -1}
}

// Next advances to the next member and returns it. If the payload of the
// current member has not been skipped, Next skips it first. At the end of the
// archive Next returns nil, io.EOF.
func (sc *Scanner) Next() (*Member, error) {
	if sc.cur != nil && !sc.skipped {
		if _, err := sc.Skip(); err != nil {
			return nil, err
		}
	}
	if sc.next > sc.s.Tell() {
		if _, err := sc.s.Seek(sc.next, io.SeekStart); err != nil {
			return nil, fmt.Errorf("tarscan: seek to %d: %w", sc.next, err)
		}
	}

	off := sc.s.Tell()
	tr := tar.NewReader(sc.s)
	hdr, err := tr.Next()
	if errors.Is(err, tar.ErrInsecurePath) && hdr != nil {
		// Names are only used as index keys; nothing is written from them here.
		err = nil
	}
	if err != nil {
		sc.cur = nil
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, classify(off, err)
	}

	sc.tr = tr
	sc.cur = &Member{Header: hdr, Offset: off, DataOffset: sc.s.Tell()}
	sc.next = -1
	sc.skipped = false
	return sc.cur, nil
}

// Payload returns a reader over the current member's data. It is valid until
// the next call to Next or Skip.
func (sc *Scanner) Payload() io.Reader {
	if sc.cur == nil || sc.skipped {
		return eofReader{}
	}
	return sc.tr
}

// Skip consumes the rest of the current member's payload and returns the
// decompressed offset of the next header, rounded up to the tar block size.
// The stream is left at the end of the payload; Next seeks past the padding.
func (sc *Scanner) Skip() (int64, error) {
	if sc.cur == nil {
		return 0, errors.New("tarscan: skip without a current member")
	}
	if sc.skipped {
		return sc.next, nil
	}
	if _, err := io.Copy(io.Discard, sc.tr); err != nil {
		return 0, classify(sc.cur.Offset, err)
	}
	sc.skipped = true
	sc.next = align(sc.s.Tell())
	return sc.next, nil
}

// classify maps archive/tar failures to ErrParse and wraps everything else
// as a read failure of the underlying stream.
func classify(off int64, err error) error {
	if errors.Is(err, tar.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w at offset %d: %w", ErrParse, off, err)
	}
	return fmt.Errorf("tarscan: read member at offset %d: %w", off, err)
}

func align(off int64) int64 {
	return (off + BlockSize - 1) &^ (BlockSize - 1)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
