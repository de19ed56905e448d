// Package bgzf implements the BGZF blocked gzip format.
//
// A BGZF file is a series of gzip members, each holding at most 64KiB of
// compressed data and carrying its own size in a "BC" extra subfield. Any
// member can be decompressed on its own, so a position in the uncompressed
// stream is addressed by a virtual Offset: the file offset of the member that
// holds it plus the byte offset within that member's decompressed data.
package bgzf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxBlockSize is the largest total size of a compressed block.
	MaxBlockSize = 64 << 10

	// MaxDataSize is the largest amount of uncompressed data written to one
	// block. Chosen so that incompressible input still fits in MaxBlockSize.
	MaxDataSize = 0xff00

	headerSize  = 18
	trailerSize = 8
)

// ErrCorrupt is returned when a block header, size or checksum is invalid.
var ErrCorrupt = errors.New("bgzf: corrupt block")

// ErrInvalidOffset is returned when a virtual offset does not address a
// position inside the block it names.
var ErrInvalidOffset = errors.New("bgzf: invalid virtual offset")

// eofBlock is the empty block that terminates a BGZF file.
var eofBlock = [28]byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00,
	0x00, 0xff, 0x06, 0x00, 0x42, 0x43, 0x02, 0x00,
	0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00,
}

// Offset is a virtual offset into a BGZF stream.
//
// The upper 48 bits hold the file offset of a compressed block and the lower
// 16 bits hold the offset within that block's uncompressed data. Offsets
// order the same way as the uncompressed positions they address.
type Offset uint64

// MakeOffset builds an Offset from a block's file offset and an in-block offset.
func MakeOffset(file int64, block uint16) Offset {
	return Offset(uint64(file)<<16 | uint64(block)) //nolint:gosec // block starts are non-negative
}

// File returns the file offset of the compressed block.
func (o Offset) File() int64 {
	return int64(o >> 16) //nolint:gosec // at most 48 bits
}

// Block returns the offset within the block's uncompressed data.
func (o Offset) Block() uint16 {
	return uint16(o & 0xffff) //nolint:gosec // masked to 16 bits
}

// String formats the offset as "file:block".
func (o Offset) String() string {
	return fmt.Sprintf("%d:%d", o.File(), o.Block())
}

// blockSize parses a BGZF member header and returns the total member size.
// hdr must hold at least the fixed gzip header and the whole extra field.
func blockSize(hdr []byte) (int, error) {
	if len(hdr) < 12 {
		return 0, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 8 || hdr[3]&4 == 0 {
		return 0, fmt.Errorf("%w: not a bgzf member", ErrCorrupt)
	}
	xlen := int(binary.LittleEndian.Uint16(hdr[10:12]))
	if len(hdr) < 12+xlen {
		return 0, fmt.Errorf("%w: short extra field", ErrCorrupt)
	}
	extra := hdr[12 : 12+xlen]
	for len(extra) >= 4 {
		slen := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < 4+slen {
			break
		}
		if extra[0] == 'B' && extra[1] == 'C' && slen == 2 {
			size := int(binary.LittleEndian.Uint16(extra[4:6])) + 1
			if size < 12+xlen+trailerSize {
				return 0, fmt.Errorf("%w: block size %d too small", ErrCorrupt, size)
			}
			return size, nil
		}
		extra = extra[4+slen:]
	}
	return 0, fmt.Errorf("%w: missing BC subfield", ErrCorrupt)
}
