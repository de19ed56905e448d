package tarbgz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"slices"
	"time"

	"github.com/meigma/tarbgz/internal/batch"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// ExtractStats summarizes an ExtractTo call.
type ExtractStats = batch.Stats

// Archive pairs an index with the archive it describes.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS, and fs.ReadDirFS.
// Directories that have no member of their own are synthesized from the
// paths below them. Archive is safe for concurrent use.
type Archive struct {
	idx    *Index
	src    ByteSource
	logger *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// NewArchive returns an Archive reading members of src through idx.
func NewArchive(idx *Index, src ByteSource, opts ...ArchiveOption) *Archive {
	a := &Archive{idx: idx, src: src}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Index returns the archive's index.
func (a *Archive) Index() *Index {
	return a.idx
}

// Open implements fs.FS.
//
// Regular members and links open as a *File. Directories open as an
// fs.ReadDirFile.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	n := a.idx.lookup(name)
	if n == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if n.entry != nil && !n.entry.IsDir() {
		a.log().Debug("open member", "path", name, "start", n.entry.Start)
		f, err := Extract(a.idx, a.src, name)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return &openDir{a: a, name: name, n: n}, nil
}

// Stat implements fs.StatFS. It reads only the index.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	n := a.idx.lookup(name)
	if n == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return newInfo(path.Base(name), n), nil
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	entry, ok := a.idx.Get(name)
	if !ok || entry.IsDir() {
		n := a.idx.lookup(name)
		if n != nil {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: errors.New("is a directory")}
		}
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}

	f, err := Extract(a.idx, a.src, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns directory entries for the named directory, sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	n := a.idx.lookup(name)
	if n == nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	if n.entry != nil && !n.entry.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	return dirEntries(n), nil
}

// ExtractTo writes the member at prefix, and everything below it, to
// destDir. An empty prefix or "." extracts the whole archive. Paths keep
// their full archive path below destDir, which is created if missing.
//
// Members are extracted concurrently, each by its own decoder. Files are
// written atomically (temp file + rename). Symbolic links, hard links and
// device nodes are skipped.
//
// By default:
//   - Existing files are skipped (use ExtractWithOverwrite to overwrite)
//   - File modes and times are not preserved (use ExtractWithPreserveMode/Times)
func (a *Archive) ExtractTo(ctx context.Context, destDir, prefix string, opts ...ExtractOption) (ExtractStats, error) {
	var cfg extractConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	n := a.idx.lookup(prefix)
	if n == nil {
		return ExtractStats{}, &fs.PathError{Op: "extract", Path: prefix, Err: fs.ErrNotExist}
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return ExtractStats{}, fmt.Errorf("create destination: %w", err)
	}
	items := a.collectItems(n, SplitPath(prefix))
	a.log().Debug("extracting", "prefix", NormalizePath(prefix), "items", len(items), "dest", destDir)

	sink := batch.NewFileSink(destDir,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveMode(cfg.preserveMode),
		batch.WithPreserveTimes(cfg.preserveTimes),
	)
	procOpts := []batch.ProcessorOption{
		batch.WithWorkers(cfg.workers),
		batch.WithProcessorLogger(a.logger),
	}
	if cfg.progress != nil {
		procOpts = append(procOpts, batch.WithDone(func(item *batch.Item, done, total int) {
			cfg.progress(ProgressEvent{
				Stage:      StageExtracting,
				Path:       item.Path,
				BytesDone:  item.Size,
				BytesTotal: item.Size,
				FilesDone:  done,
				FilesTotal: total,
			})
		}))
	}
	proc := batch.NewProcessor(a.openItem, procOpts...)

	started := time.Now()
	stats, err := proc.Process(ctx, items, sink)
	if err != nil {
		return stats, err
	}
	a.log().Info("extracted",
		"prefix", NormalizePath(prefix),
		"files", stats.Files,
		"dirs", stats.Dirs,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes,
		"duration", time.Since(started))
	return stats, nil
}

func (a *Archive) openItem(_ context.Context, item *batch.Item) (io.ReadCloser, error) {
	return Extract(a.idx, a.src, item.Path)
}

// collectItems lists the extractable nodes at and below n.
func (a *Archive) collectItems(n *node, comps []string) []*batch.Item {
	var items []*batch.Item
	var walk func(n *node, comps []string)
	walk = func(n *node, comps []string) {
		p := JoinPath(comps)
		switch {
		case n.entry == nil:
			if len(comps) > 0 {
				items = append(items, &batch.Item{Path: p, Dir: true, Mode: fs.ModeDir | 0o755})
			}
		case n.entry.IsDir():
			if len(comps) > 0 {
				items = append(items, &batch.Item{Path: p, Dir: true, Mode: n.entry.Mode, ModTime: n.entry.ModTime})
			}
		case n.entry.IsRegular():
			items = append(items, &batch.Item{Path: p, Mode: n.entry.Mode, ModTime: n.entry.ModTime, Size: n.entry.Size})
		default:
			a.log().Debug("skipping non-regular member", "path", p, "type", string(n.entry.Type))
		}
		for _, name := range slices.Sorted(maps.Keys(n.children)) {
			walk(n.children[name], append(slices.Clip(comps), name))
		}
	}
	walk(n, slices.Clip(comps))
	return items
}

// openDir is an open directory.
type openDir struct {
	a       *Archive
	name    string
	n       *node
	entries []fs.DirEntry
	offset  int
	closed  bool
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	if d.closed {
		return nil, fs.ErrClosed
	}
	return newInfo(path.Base(d.name), d.n), nil
}

func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: errors.New("is a directory")}
}

func (d *openDir) Close() error {
	if d.closed {
		return fs.ErrClosed
	}
	d.closed = true
	return nil
}

// ReadDir implements fs.ReadDirFile.
func (d *openDir) ReadDir(count int) ([]fs.DirEntry, error) {
	if d.closed {
		return nil, fs.ErrClosed
	}
	if d.entries == nil {
		d.entries = dirEntries(d.n)
	}
	remaining := d.entries[d.offset:]
	if count <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	count = min(count, len(remaining))
	d.offset += count
	return remaining[:count], nil
}

func dirEntries(n *node) []fs.DirEntry {
	names := slices.Sorted(maps.Keys(n.children))
	out := make([]fs.DirEntry, 0, len(names))
	for _, name := range names {
		out = append(out, fs.FileInfoToDirEntry(newInfo(name, n.children[name])))
	}
	return out
}

// fileInfo describes a node. Implied directories have no entry.
type fileInfo struct {
	name  string
	entry *Entry
}

func newInfo(name string, n *node) fileInfo {
	return fileInfo{name: name, entry: n.entry}
}

func (fi fileInfo) Name() string { return fi.name }

func (fi fileInfo) Size() int64 {
	if fi.entry == nil || fi.entry.IsDir() {
		return 0
	}
	return int64(min(fi.entry.Size, 1<<63-1)) //nolint:gosec // clamped above
}

func (fi fileInfo) Mode() fs.FileMode {
	if fi.entry == nil {
		return fs.ModeDir | 0o755
	}
	if fi.entry.IsDir() {
		return fi.entry.Mode | fs.ModeDir
	}
	return fi.entry.Mode
}

func (fi fileInfo) ModTime() time.Time {
	if fi.entry == nil {
		return time.Time{}
	}
	return fi.entry.ModTime
}

func (fi fileInfo) IsDir() bool { return fi.Mode().IsDir() }

// Sys returns the node's Entry, or nil for implied directories.
func (fi fileInfo) Sys() any {
	if fi.entry == nil {
		return nil
	}
	return *fi.entry
}

func (fi fileInfo) String() string {
	return fmt.Sprintf("%s %d %s", fi.Mode(), fi.Size(), fi.name)
}
