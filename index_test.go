package tarbgz

import (
	"io/fs"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/bgzf"
)

func entryAt(offset uint64, size uint64) Entry {
	return Entry{
		Start:  bgzf.MakeOffset(int64(offset), 0), //nolint:gosec // small test values
		Offset: offset,
		Size:   size,
		Next:   bgzf.MakeOffset(int64(offset)+512, 0), //nolint:gosec // small test values
		Type:   '0',
	}
}

func TestIndexInsertGet(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("a", entryAt(0, 5))
	idx.Insert("dir/b", entryAt(1024, 7))
	idx.Insert("dir/c", entryAt(2048, 9))

	got, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Size)

	got, ok = idx.Get("/dir//b")
	require.True(t, ok, "lookups normalize the path")
	assert.Equal(t, uint64(1024), got.Offset)

	_, ok = idx.Get("dir")
	assert.False(t, ok, "implied directory has no entry")

	_, ok = idx.Get("dir/missing")
	assert.False(t, ok)

	_, ok = idx.Get("a/below-a-file")
	assert.False(t, ok)

	assert.Equal(t, 3, idx.Len())
}

func TestIndexInsertOverwrites(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("dup", entryAt(0, 1))
	idx.Insert("./dup", entryAt(512, 2))

	got, ok := idx.Get("dup")
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Size)
	assert.Equal(t, 1, idx.Len())
}

func TestIndexRootEntry(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	_, ok := idx.Get("")
	assert.False(t, ok)

	root := entryAt(0, 0)
	root.Type = '5'
	idx.Insert("./", root)

	got, ok := idx.Get(".")
	require.True(t, ok)
	assert.True(t, got.IsDir())
	assert.Equal(t, 1, idx.Len())
}

func TestIndexChildren(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("a", entryAt(0, 5))
	idx.Insert("dir/b", entryAt(1024, 7))
	idx.Insert("dir/c", entryAt(2048, 9))
	idx.Insert("dir/sub/d", entryAt(4096, 1))

	tests := []struct {
		path string
		want []string
	}{
		{"", []string{"a", "dir"}},
		{"/", []string{"a", "dir"}},
		{"dir", []string{"b", "c", "sub"}},
		{"dir/sub", []string{"d"}},
		{"a", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, err := idx.Children(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := idx.Children("nope")
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, "nope", pathErr.Path)

	_, err = idx.Children("dir/nope/deeper")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIndexListDirectory(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("a", entryAt(0, 5))
	idx.Insert("dir/b", entryAt(1024, 7))
	idx.Insert("dir/c", entryAt(2048, 9))

	root, err := idx.ListDirectory("")
	require.NoError(t, err)
	require.Len(t, root, 2)

	assert.Equal(t, "a", root[0].Name)
	assert.Equal(t, "a", root[0].Path)
	size, ok := root[0].Size()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), size)
	assert.False(t, root[0].IsDir())

	assert.Equal(t, "dir", root[1].Name)
	_, ok = root[1].Size()
	assert.False(t, ok, "implied directory reports no size")
	assert.True(t, root[1].IsDir())

	dir, err := idx.ListDirectory("dir")
	require.NoError(t, err)
	require.Len(t, dir, 2)
	assert.Equal(t, "dir/b", dir[0].Path)
	assert.Equal(t, "dir/c", dir[1].Path)
	e, ok := dir[1].Entry()
	require.True(t, ok)
	assert.Equal(t, uint64(9), e.Size)

	_, err = idx.ListDirectory("missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIndexListingIsComplete(t *testing.T) {
	t.Parallel()

	paths := []string{"a", "b/c", "b/d/e", "b/d/f", "g/h/i/j"}
	idx := NewIndex()
	for i, p := range paths {
		idx.Insert(p, entryAt(uint64(i)*1024, 1)) //nolint:gosec // small test values
	}

	// Every inserted path is reachable from the root by listing.
	var found []string
	var walk func(dir string)
	walk = func(dir string) {
		children, err := idx.ListDirectory(dir)
		require.NoError(t, err)
		for _, c := range children {
			if _, ok := c.Entry(); ok {
				found = append(found, c.Path)
			}
			walk(c.Path)
		}
	}
	walk("")
	assert.ElementsMatch(t, paths, found)
}

func TestIndexEntriesInArchiveOrder(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("z", entryAt(0, 1))
	idx.Insert("m/n", entryAt(512, 1))
	idx.Insert("a", entryAt(1024, 1))

	var paths []string
	for p := range idx.Entries() {
		paths = append(paths, p)
	}
	assert.Equal(t, []string{"z", "m/n", "a"}, paths)

	all := maps.Collect(idx.Entries())
	assert.Len(t, all, 3)

	var below []string
	for p := range idx.EntriesWithPrefix("m") {
		below = append(below, p)
	}
	assert.Equal(t, []string{"m/n"}, below)
	for range idx.EntriesWithPrefix("missing") {
		t.Fatal("missing prefix yielded an entry")
	}
}
