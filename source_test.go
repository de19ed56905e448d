package tarbgz

import (
	"bytes"
	"context"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/testutil"
)

func TestOpenFile(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildArchive(t, scenario())
	path := writeTemp(t, "a.tar.gz", archive)

	src, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(archive)), src.Size())
	assert.Equal(t, path, src.Name())

	buf := make([]byte, 4)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, archive[:4], buf)
	require.NoError(t, src.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = OpenFile(t.TempDir())
	assert.Error(t, err)
}

func TestBytesReaderIsASource(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildArchive(t, scenario())
	src := bytes.NewReader(archive)

	idx, err := Build(context.Background(), src)
	require.NoError(t, err)
	f, err := Extract(idx, src, "dir/c")
	require.NoError(t, err)
	got, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "c", got.Name())
	require.NoError(t, f.Close())
}
