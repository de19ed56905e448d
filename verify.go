package tarbgz

import (
	"fmt"
	"io"
)

// Verify checks that src is the archive idx was built from.
//
// The size recorded in the index must match. When the index carries a
// digest, src is read in full and its digest compared. Mismatches fail with
// ErrArchiveMismatch.
func (idx *Index) Verify(src ByteSource) error {
	if size, ok := idx.ArchiveSize(); ok && size != src.Size() {
		return fmt.Errorf("%w: archive is %d bytes, index expects %d", ErrArchiveMismatch, src.Size(), size)
	}
	want, ok := idx.ArchiveDigest()
	if !ok {
		return nil
	}
	if err := want.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexCorrupt, err)
	}
	got, err := want.Algorithm().FromReader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return fmt.Errorf("digest archive: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: digest %s, index expects %s", ErrArchiveMismatch, got, want)
	}
	return nil
}
