package tarbgz

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/testutil"
)

func newTestArchive(t *testing.T, members []testutil.Member, opts ...testutil.ArchiveOption) *Archive {
	t.Helper()
	idx, src := buildFrom(t, testutil.BuildArchive(t, members, opts...))
	return NewArchive(idx, src)
}

func TestArchiveReadFile(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, mixedMembers(), testutil.WithBlockSize(3000))

	got, err := fs.ReadFile(a, "top/nested/text")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("lorem ipsum ", 5000), string(got))

	got, err = a.ReadFile("top/empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = a.ReadFile("top")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, err = a.ReadFile("nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = a.ReadFile("/top/empty")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestArchiveStat(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, scenario())

	tests := []struct {
		name  string
		path  string
		dir   bool
		size  int64
		entry bool
	}{
		{"root", ".", true, 0, false},
		{"file", "a", false, int64(len("alpha contents")), true},
		{"implied directory", "dir", true, 0, false},
		{"nested file", "dir/b", false, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := a.Stat(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.dir, info.IsDir())
			assert.Equal(t, tt.size, info.Size())
			assert.Equal(t, filepath.Base(tt.path), info.Name())
			_, ok := info.Sys().(Entry)
			assert.Equal(t, tt.entry, ok)
		})
	}

	_, err := a.Stat("dir/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = a.Stat("../a")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestArchiveStatReadsNothing(t *testing.T) {
	t.Parallel()

	idx, src := buildFrom(t, testutil.BuildArchive(t, scenario()))
	a := NewArchive(idx, src)
	src.Reset()

	_, err := a.Stat("dir/c")
	require.NoError(t, err)
	_, err = a.ReadDir("dir")
	require.NoError(t, err)
	assert.Zero(t, src.Reads())
}

func TestArchiveReadDir(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, mixedMembers())

	entries, err := fs.ReadDir(a, "top")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"empty", "link", "nested", "random.bin", "small.txt"}, names)
	assert.True(t, entries[2].IsDir())
	assert.Equal(t, fs.ModeSymlink, entries[1].Type())

	info, err := entries[3].Info()
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), info.Size())
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())

	root, err := a.ReadDir(".")
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, "last", root[0].Name())
	assert.Equal(t, "top", root[1].Name())

	_, err = a.ReadDir("top/small.txt")
	assert.Error(t, err)
	_, err = a.ReadDir("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestArchiveOpenDirectory(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, scenario())
	f, err := a.Open("dir")
	require.NoError(t, err)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "dir", info.Name())

	_, err = f.Read(make([]byte, 1))
	assert.Error(t, err)

	dir, ok := f.(fs.ReadDirFile)
	require.True(t, ok)
	first, err := dir.ReadDir(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "b", first[0].Name())

	rest, err := dir.ReadDir(5)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Name())

	_, err = dir.ReadDir(1)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), fs.ErrClosed)
}

func TestArchiveWalkDir(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, mixedMembers(), testutil.WithFlushPerMember())

	var walked []string
	err := fs.WalkDir(a, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		walked = append(walked, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		".",
		"last",
		"top",
		"top/empty",
		"top/link",
		"top/nested",
		"top/nested/" + strings.Repeat("long-name-", 15),
		"top/nested/text",
		"top/random.bin",
		"top/small.txt",
	}, walked)

	matches, err := fs.Glob(a, "top/*.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"top/small.txt"}, matches)

	sub, err := fs.Sub(a, "top/nested")
	require.NoError(t, err)
	got, err := fs.ReadFile(sub, "text")
	require.NoError(t, err)
	assert.Len(t, got, len("lorem ipsum ")*5000)
}

func TestArchiveConcurrentReads(t *testing.T) {
	t.Parallel()

	members := mixedMembers()
	a := newTestArchive(t, members, testutil.WithBlockSize(5000))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.ReadFile("top/random.bin")
			if assert.NoError(t, err) {
				assert.Equal(t, members[3].Body, got)
			}
		}()
	}
	wg.Wait()
}

func TestExtractTo(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	members := mixedMembers()
	members[3].ModTime = mtime
	a := newTestArchive(t, members, testutil.WithBlockSize(2000))

	dest := t.TempDir()
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	stats, err := a.ExtractTo(context.Background(), dest, "",
		ExtractWithWorkers(3),
		ExtractWithPreserveMode(true),
		ExtractWithPreserveTimes(true),
		ExtractWithProgress(func(e ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		}),
	)
	require.NoError(t, err)

	// Six regular files; the symlink is skipped.
	assert.Equal(t, 6, stats.Files)
	assert.Equal(t, 2, stats.Dirs)
	for _, m := range members {
		if m.Type != 0 && m.Type != '0' {
			continue
		}
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(m.Name)))
		require.NoError(t, err, m.Name)
		assert.Equal(t, m.Body, got, m.Name)
	}
	_, err = os.Lstat(filepath.Join(dest, "top", "link"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	info, err := os.Stat(filepath.Join(dest, "top", "random.bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))

	require.Len(t, events, stats.Files)
	var paths []string
	for _, e := range events {
		assert.Equal(t, StageExtracting, e.Stage)
		assert.Equal(t, stats.Files, e.FilesTotal)
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	assert.Contains(t, paths, "top/random.bin")

	// A second run skips everything that now exists.
	again, err := a.ExtractTo(context.Background(), dest, "")
	require.NoError(t, err)
	assert.Zero(t, again.Files)
	assert.Equal(t, 6, again.Skipped)
}

func TestExtractToPrefix(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, scenario())

	dest := t.TempDir()
	stats, err := a.ExtractTo(context.Background(), dest, "dir")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Dirs, "the implied directory is created")

	got, err := os.ReadFile(filepath.Join(dest, "dir", "b"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(got))
	_, err = os.Stat(filepath.Join(dest, "a"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// A single file.
	dest = t.TempDir()
	stats, err = a.ExtractTo(context.Background(), dest, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)

	_, err = a.ExtractTo(context.Background(), t.TempDir(), "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestExtractToCreatesDestination(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, scenario())

	dest := filepath.Join(t.TempDir(), "out", "nested")
	stats, err := a.ExtractTo(context.Background(), dest, "dir")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	got, err := os.ReadFile(filepath.Join(dest, "dir", "c"))
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	// A missing member does not leave the destination behind.
	missing := filepath.Join(t.TempDir(), "never")
	_, err = a.ExtractTo(context.Background(), missing, "missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoDirExists(t, missing)
}

func TestExtractToOverwrite(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, scenario())
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a"), []byte("stale"), 0o600))

	_, err := a.ExtractTo(context.Background(), dest, "a")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dest, "a"))
	require.NoError(t, err)
	assert.Equal(t, "stale", string(got))

	_, err = a.ExtractTo(context.Background(), dest, "a", ExtractWithOverwrite(true))
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(dest, "a"))
	require.NoError(t, err)
	assert.Equal(t, "alpha contents", string(got))
}

func TestExtractToCanceled(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, mixedMembers())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.ExtractTo(ctx, t.TempDir(), "")
	assert.ErrorIs(t, err, context.Canceled)
}
