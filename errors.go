package tarbgz

import (
	"errors"

	"github.com/meigma/tarbgz/internal/bgzf"
	"github.com/meigma/tarbgz/internal/stream"
	"github.com/meigma/tarbgz/internal/tarscan"
)

// Errors re-exported from internal packages.
var (
	// ErrUnsupported is returned for seeks relative to the end of a stream.
	ErrUnsupported = stream.ErrUnsupported

	// ErrInvalidSeek is returned for seeks that would move backward.
	ErrInvalidSeek = stream.ErrInvalidSeek

	// ErrParse is returned when the archive holds a malformed member.
	ErrParse = tarscan.ErrParse

	// ErrCorruptBlock is returned when a compressed block is invalid.
	ErrCorruptBlock = bgzf.ErrCorrupt
)

// Sentinel errors specific to the tarbgz package.
var (
	// ErrIndexCorrupt is returned when an index cannot be decoded, or when an
	// entry's coordinates do not lead to the member it names.
	ErrIndexCorrupt = errors.New("tarbgz: index corrupt")

	// ErrArchiveMismatch is returned when an archive does not match the size
	// or digest recorded in its index.
	ErrArchiveMismatch = errors.New("tarbgz: archive does not match index")

	// ErrTooManyEntries is returned when an archive holds more members than
	// the configured limit.
	ErrTooManyEntries = errors.New("tarbgz: too many entries")

	// ErrSizeOverflow is returned when a recorded size or offset does not fit
	// the platform's integer types.
	ErrSizeOverflow = errors.New("tarbgz: size overflow")
)
