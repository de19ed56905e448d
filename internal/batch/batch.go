// Package batch materializes many archive members concurrently.
package batch

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// OpenFunc opens the content of a file item. Each call must return an
// independent reader; calls happen concurrently.
type OpenFunc func(ctx context.Context, item *Item) (io.ReadCloser, error)

// DoneFunc is called after each file is committed. filesTotal counts the
// files the sink accepted; skipped items are excluded. It is called from
// worker goroutines and must be safe for concurrent use.
type DoneFunc func(item *Item, filesDone, filesTotal int)

// Processor copies items from an OpenFunc into a Sink.
type Processor struct {
	open    OpenFunc
	workers int
	onDone  DoneFunc
	logger  *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of concurrent extractions.
// Values < 1 use GOMAXPROCS.
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithDone registers a callback invoked after each committed file.
func WithDone(fn DoneFunc) ProcessorOption {
	return func(p *Processor) {
		p.onDone = fn
	}
}

// WithProcessorLogger sets the logger for batch operations.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor returns a Processor that reads content through open.
func NewProcessor(open OpenFunc, opts ...ProcessorOption) *Processor {
	p := &Processor{open: open}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process writes items to sink.
//
// Directories are created first, parents before children, on the calling
// goroutine. Files are then extracted by a bounded pool of workers. The first
// error cancels the remaining work and is returned with the stats gathered
// so far.
func (p *Processor) Process(ctx context.Context, items []*Item, sink Sink) (Stats, error) {
	var stats Stats

	var dirs, files []*Item
	for _, item := range items {
		if !sink.ShouldProcess(item) {
			stats.Skipped++
			continue
		}
		if item.Dir {
			dirs = append(dirs, item)
		} else {
			files = append(files, item)
		}
	}

	slices.SortFunc(dirs, func(a, b *Item) int {
		return cmp.Compare(strings.Count(a.Path, "/"), strings.Count(b.Path, "/"))
	})
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := sink.Mkdir(dir); err != nil {
			return stats, fmt.Errorf("batch: %s: %w", dir.Path, err)
		}
		stats.Dirs++
	}

	if len(files) == 0 {
		return stats, nil
	}

	workers := p.workerCount(len(files))
	p.log().Debug("batch extract", "files", len(files), "dirs", len(dirs), "workers", workers)

	var (
		mu        sync.Mutex
		fileStats Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := p.processFile(gctx, item, sink)
			if err != nil {
				return err
			}

			mu.Lock()
			fileStats.Files++
			fileStats.Bytes += n
			done := fileStats.Files
			mu.Unlock()

			if p.onDone != nil {
				p.onDone(item, done, len(files))
			}
			return nil
		})
	}
	err := g.Wait()
	stats.add(fileStats)
	return stats, err
}

// processFile copies one file into the sink and returns the bytes written.
func (p *Processor) processFile(ctx context.Context, item *Item, sink Sink) (uint64, error) {
	rc, err := p.open(ctx, item)
	if err != nil {
		return 0, fmt.Errorf("batch: %s: %w", item.Path, err)
	}
	defer rc.Close()

	w, err := sink.Writer(item)
	if err != nil {
		return 0, fmt.Errorf("batch: %s: %w", item.Path, err)
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return 0, fmt.Errorf("batch: %s: %w", item.Path, err)
	}
	if err := w.Commit(); err != nil {
		return 0, fmt.Errorf("batch: %s: commit: %w", item.Path, err)
	}
	return uint64(n), nil //nolint:gosec // io.Copy never returns a negative count
}

func (p *Processor) workerCount(files int) int {
	workers := p.workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(min(workers, files), 1)
}
