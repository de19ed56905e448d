package tarbgz

import (
	"archive/tar"
	"context"
	_ "crypto/sha256" // registers sha256 for go-digest
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/tarbgz/internal/bgzf"
	"github.com/meigma/tarbgz/internal/sizing"
	"github.com/meigma/tarbgz/internal/stream"
	"github.com/meigma/tarbgz/internal/tarscan"
)

// builder carries the state of one Build call.
type builder struct {
	cfg  buildConfig
	src  ByteSource
	idx  *Index
	size uint64
}

func (b *builder) log() *slog.Logger {
	if b.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.cfg.logger
}

func (b *builder) reportProgress(event ProgressEvent) {
	if b.cfg.progress != nil {
		b.cfg.progress(event)
	}
}

// Build walks every member of the BGZF-compressed tar archive in src once
// and returns an index of their coordinates.
//
// Each entry's Start is the virtual offset the previous member's records end
// at, so decoding from Start yields exactly the member's header. PAX global
// headers are consumed but not indexed.
//
// A malformed member aborts the build with ErrParse; no partial index is
// returned. ctx is checked between members.
func Build(ctx context.Context, src ByteSource, opts ...BuildOption) (*Index, error) {
	b := &builder{src: src, idx: NewIndex()}
	for _, opt := range opts {
		opt(&b.cfg)
	}
	size, err := sizing.ToUint64(src.Size(), ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	b.size = size

	started := time.Now()
	if err := b.walk(ctx); err != nil {
		return nil, err
	}
	b.idx.archiveSize = src.Size()

	if b.cfg.digest {
		b.reportProgress(ProgressEvent{Stage: StageDigesting, BytesTotal: b.size, FilesDone: b.idx.Len()})
		d, err := digest.Canonical.FromReader(io.NewSectionReader(src, 0, src.Size()))
		if err != nil {
			return nil, fmt.Errorf("digest archive: %w", err)
		}
		b.idx.archiveDigest = d
	}

	b.log().Info("index built",
		"entries", b.idx.Len(),
		"archive_size", src.Size(),
		"duration", time.Since(started))
	return b.idx, nil
}

func (b *builder) walk(ctx context.Context) error {
	br := bgzf.NewReader(b.src)
	fsk := stream.NewForwardSeeker(br, 0)
	sc := tarscan.NewScanner(fsk)

	prev := br.Tell()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		next, err := sc.Skip()
		if err != nil {
			return err
		}
		if _, err := fsk.Seek(next, io.SeekStart); err != nil {
			return fmt.Errorf("seek past %s: %w", m.Header.Name, err)
		}
		cur := br.Tell()

		if m.Header.Typeflag == tar.TypeXGlobalHeader {
			b.log().Debug("skipped global header", "offset", m.Offset)
			prev = cur
			continue
		}

		if b.cfg.maxEntries > 0 && b.idx.Len() >= b.cfg.maxEntries {
			return fmt.Errorf("%w: more than %d", ErrTooManyEntries, b.cfg.maxEntries)
		}

		offset, err := sizing.ToUint64(m.Offset, ErrSizeOverflow)
		if err != nil {
			return err
		}
		entry := entryFromHeader(m.Header, prev, cur, offset)
		b.idx.Insert(m.Header.Name, entry)
		b.log().Debug("indexed member",
			"path", m.Header.Name,
			"start", entry.Start,
			"next", entry.Next,
			"size", entry.Size)
		b.reportProgress(ProgressEvent{
			Stage:      StageIndexing,
			Path:       m.Header.Name,
			BytesDone:  uint64(cur.File()), //nolint:gosec // block offsets are non-negative
			BytesTotal: b.size,
			FilesDone:  b.idx.Len(),
		})
		prev = cur
	}
}
