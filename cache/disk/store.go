// Package disk provides a cache.Store backed by the local filesystem.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/tarbgz/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tempPattern           = ".block-*"
)

var _ cache.Store = (*Store)(nil)

// Store keeps one file per block under dir/<algorithm>/<shard>/<encoded>.
//
// Reads refresh a file's modification time, so Prune removes the least
// recently used blocks first. Store is safe for concurrent use, including
// by several processes sharing dir.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions of created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: cache dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("disk: create cache dir: %w", err)
	}
	return s, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string {
	return s.dir
}

// Get implements cache.Store.
func (s *Store) Get(key digest.Digest) ([]byte, bool) {
	path, err := s.path(key)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a validated digest
	if err != nil {
		return nil, false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return data, true
}

// Put implements cache.Store. The block is written to a temporary file and
// renamed into place, so readers never see a partial block.
func (s *Store) Put(key digest.Digest, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		// Another writer won the race with identical content.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// SizeBytes returns the total size of cached blocks.
func (s *Store) SizeBytes() (int64, error) {
	return dirSize(s.dir)
}

// Prune removes the least recently used blocks until the cache holds at
// most targetBytes. It returns the bytes freed.
func (s *Store) Prune(targetBytes int64) (int64, error) {
	freed, _, err := pruneDir(s.dir, targetBytes)
	return freed, err
}

func (s *Store) path(key digest.Digest) (string, error) {
	if err := key.Validate(); err != nil {
		return "", fmt.Errorf("disk: %w", err)
	}
	encoded := key.Encoded()
	alg := key.Algorithm().String()
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, alg, encoded), nil
	}
	prefix := encoded[:min(s.shardPrefixLen, len(encoded))]
	return filepath.Join(s.dir, alg, prefix, encoded), nil
}
