package tarbgz

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/tarbgz/internal/sizing"
)

// Save writes the encoded index to path.
//
// Uses atomic writes (temp file + rename) so a failed save never leaves a
// partial index behind. Parent directories are created as needed.
func (idx *Index) Save(path string, opts ...SaveOption) error {
	data, err := idx.Encode(opts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	return nil
}

// LoadFile reads and decodes the index at path.
func LoadFile(path string, opts ...LoadOption) (*Index, error) {
	cfg := loadConfig{maxSize: DefaultMaxIndexSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	limit := cfg.maxSize
	if limit == 0 {
		limit = ^uint64(0)
	}
	data, err := sizing.ReadAllWithLimit(f, limit, fmt.Errorf("%w: %s exceeds %d bytes", ErrIndexCorrupt, path, limit))
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	idx, err := Unmarshal(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return idx, nil
}

// writeFileAtomic writes data to a temp file then renames to target,
// ensuring atomic replacement of the target file.
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".tarbgz-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // indexes are not secret
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
