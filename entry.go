package tarbgz

import (
	"archive/tar"
	"io/fs"
	"time"

	"github.com/meigma/tarbgz/internal/bgzf"
)

// Offset is a BGZF virtual offset: the file offset of a compressed block in
// the upper 48 bits and an offset into that block's decompressed data in the
// lower 16. Offsets order the same way as the positions they address.
type Offset = bgzf.Offset

// Entry locates one archive member.
//
// Start and Next bracket the compressed range holding the member: decoding
// from Start yields the member's header, and Next is where the following
// member begins. Entries are immutable values.
type Entry struct {
	// Start is the virtual offset at which decoding of the member starts.
	Start Offset

	// Offset is the decompressed position of the member's first header block.
	Offset uint64

	// Size is the payload size in bytes.
	Size uint64

	// Next is the virtual offset just past the member's records.
	Next Offset

	// Type is the tar typeflag.
	Type byte

	Mode    fs.FileMode
	ModTime time.Time
}

// IsDir reports whether the member is a directory.
func (e Entry) IsDir() bool {
	return e.Type == tar.TypeDir || e.Mode.IsDir()
}

// IsRegular reports whether the member carries file content.
func (e Entry) IsRegular() bool {
	return e.Type == tar.TypeReg || e.Type == tar.TypeGNUSparse
}

// entryFromHeader builds an Entry from a decoded tar header.
func entryFromHeader(hdr *tar.Header, start, next Offset, offset uint64) Entry {
	var size uint64
	if hdr.Size > 0 {
		size = uint64(hdr.Size)
	}
	return Entry{
		Start:   start,
		Offset:  offset,
		Size:    size,
		Next:    next,
		Type:    hdr.Typeflag,
		Mode:    hdr.FileInfo().Mode(),
		ModTime: hdr.ModTime,
	}
}
