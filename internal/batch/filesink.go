package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSink writes items below a destination directory.
//
// Files are written to a temporary file in the same directory and renamed to
// the final path on Commit, so partially extracted files are never visible.
// All filesystem access goes through an os.Root, so member paths cannot
// escape the destination.
type FileSink struct {
	destDir       string
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode applies permission bits recorded in the index.
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies modification times recorded in the index.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// NewFileSink returns a FileSink writing below destDir, which must exist.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess skips invalid paths, and existing files unless overwrite is
// enabled. Directories are always processed.
func (s *FileSink) ShouldProcess(item *Item) bool {
	if !fs.ValidPath(item.Path) || item.Path == "." {
		return false
	}
	if item.Dir || s.overwrite {
		return true
	}
	_, err := os.Lstat(filepath.Join(s.destDir, filepath.FromSlash(item.Path)))
	return errors.Is(err, fs.ErrNotExist)
}

// Mkdir creates the directory and its parents.
func (s *FileSink) Mkdir(item *Item) error {
	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	defer root.Close()

	rel := filepath.FromSlash(item.Path)
	if err := root.MkdirAll(rel, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", item.Path, err)
	}
	if s.preserveMode && item.Mode.Perm() != 0 {
		if err := root.Chmod(rel, item.Mode.Perm()|0o700); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	return nil
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(item *Item) (Committer, error) {
	if !fs.ValidPath(item.Path) {
		return nil, &fs.PathError{Op: "extract", Path: item.Path, Err: fs.ErrInvalid}
	}
	destRel := filepath.FromSlash(item.Path)

	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	if err := root.MkdirAll(filepath.Dir(destRel), 0o750); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory %s: %w", filepath.Dir(item.Path), err)
	}

	tempFile, tempRel, err := createTempFile(root, filepath.Dir(destRel), ".tarbgz-")
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	return &fileCommitter{
		item:     item,
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     root,
		sink:     s,
	}, nil
}

type fileCommitter struct {
	item     *Item
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
	sink     *FileSink
}

func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		return c.abort(fmt.Errorf("close temp file: %w", err))
	}
	if c.sink.preserveMode {
		if err := c.root.Chmod(c.tempRel, c.item.Mode.Perm()); err != nil {
			return c.abort(fmt.Errorf("chmod: %w", err))
		}
	}
	if c.sink.preserveTimes && !c.item.ModTime.IsZero() {
		if err := c.root.Chtimes(c.tempRel, c.item.ModTime, c.item.ModTime); err != nil {
			return c.abort(fmt.Errorf("chtimes: %w", err))
		}
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		return c.abort(fmt.Errorf("rename to %s: %w", c.item.Path, err))
	}
	_ = c.root.Close() //nolint:errcheck // best-effort cleanup
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	if err := c.root.Remove(c.tempRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

func (c *fileCommitter) abort(err error) error {
	_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
	return err
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
