package cache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// DefaultBlockSize is the default size of a cached range. It matches the
// largest BGZF block, so a block read rarely spans more than two ranges.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead bypasses the cache for reads spanning more ranges
// than this, such as digesting the whole archive.
const DefaultMaxBlocksPerRead = 8

// ByteSource is the random-access source being cached. It matches
// tarbgz.ByteSource.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Source wraps a ByteSource with block caching. It implements ByteSource
// and is safe for concurrent use.
//
// Concurrent misses for the same range are deduplicated, so a burst of
// extractions touching one block fetches it once.
type Source struct {
	src       ByteSource
	store     Store
	id        string
	blockSize int64
	maxBlocks int
	logger    *slog.Logger

	fetches singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a Source.
type Option func(*Source)

// WithBlockSize sets the size of cached ranges. Values <= 0 are ignored.
func WithBlockSize(n int64) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithMaxBlocksPerRead reads straight from the source when a ReadAt spans
// more than n ranges. Values <= 0 disable the bypass.
func WithMaxBlocksPerRead(n int) Option {
	return func(s *Source) {
		s.maxBlocks = n
	}
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// Wrap returns src with its reads cached in store.
//
// id must identify the archive contents: two sources sharing an id must hold
// the same bytes. A remote URL with its ETag, or the archive digest recorded
// in the index, are good choices.
func Wrap(src ByteSource, store Store, id string, opts ...Option) (*Source, error) {
	if id == "" {
		return nil, errors.New("cache: empty source id")
	}
	s := &Source{
		src:       src,
		store:     store,
		id:        id,
		blockSize: DefaultBlockSize,
		maxBlocks: DefaultMaxBlocksPerRead,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// Size returns the size of the underlying source.
func (s *Source) Size() int64 {
	return s.src.Size()
}

// Hits returns the number of ranges served from the store.
func (s *Source) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the number of ranges fetched from the source.
func (s *Source) Misses() int64 {
	return s.misses.Load()
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("cache: read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), size)
	first, last := off/s.blockSize, (end-1)/s.blockSize
	if s.maxBlocks > 0 && last-first+1 > int64(s.maxBlocks) {
		return s.src.ReadAt(p, off)
	}

	n := 0
	for b := first; b <= last; b++ {
		data, err := s.block(b, size)
		if err != nil {
			return n, err
		}
		pos := off + int64(n) - b*s.blockSize
		n += copy(p[n:end-off], data[pos:])
	}
	if end-off < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// block returns range b, fetching and storing it on a miss.
func (s *Source) block(b, size int64) ([]byte, error) {
	start := b * s.blockSize
	want := min(s.blockSize, size-start)
	key := s.key(b)
	if data, ok := s.store.Get(key); ok && int64(len(data)) == want {
		s.hits.Add(1)
		return data, nil
	}

	v, err, _ := s.fetches.Do(strconv.FormatInt(b, 10), func() (any, error) {
		// An earlier flight may have filled the store since the check above.
		if data, ok := s.store.Get(key); ok && int64(len(data)) == want {
			s.hits.Add(1)
			return data, nil
		}
		s.misses.Add(1)
		data := make([]byte, want)
		n, err := s.src.ReadAt(data, start)
		if err != nil && (!errors.Is(err, io.EOF) || int64(n) < want) {
			return nil, err
		}
		if err := s.store.Put(key, data); err != nil {
			s.logger.Warn("cache put failed", "block", b, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil //nolint:forcetypeassert // the fetch returns []byte
}

func (s *Source) key(b int64) digest.Digest {
	return digest.FromString(s.id + "\x00" + strconv.FormatInt(s.blockSize, 10) + "\x00" + strconv.FormatInt(b, 10))
}
