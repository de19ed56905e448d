package tarbgz

import (
	"fmt"
	"io"
	"os"
)

// ByteSource provides random access to a compressed archive.
//
// *os.File does not satisfy it directly; use [OpenFile]. *bytes.Reader and
// *io.SectionReader do.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// FileSource is a ByteSource backed by a local file.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens the archive at path for random access.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

// Size returns the file size at open time.
func (s *FileSource) Size() int64 {
	return s.size
}

// Name returns the path the file was opened with.
func (s *FileSource) Name() string {
	return s.f.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.f.Close()
}
