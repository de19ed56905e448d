package tarbgz

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/fb"
	"github.com/meigma/tarbgz/internal/testutil"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildArchive(t, mixedMembers(), testutil.WithBlockSize(1500))
	idx, src := buildFrom(t, archive, BuildWithDigest(true))

	tests := []struct {
		name string
		opts []SaveOption
	}{
		{"raw", nil},
		{"zstd", []SaveOption{SaveWithCompression(CompressionZstd)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := idx.Encode(tt.opts...)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, collect(idx), collect(got))
			assert.Equal(t, idx.Len(), got.Len())

			size, ok := got.ArchiveSize()
			require.True(t, ok)
			assert.Equal(t, int64(len(archive)), size)
			want, _ := idx.ArchiveDigest()
			d, ok := got.ArchiveDigest()
			require.True(t, ok)
			assert.Equal(t, want, d)

			// A decoded index extracts like the one it was saved from.
			f, err := Extract(got, src, "top/small.txt")
			require.NoError(t, err)
			assertContent(t, f, "small")
		})
	}
}

func TestEncodeZstdIsSmaller(t *testing.T) {
	t.Parallel()

	var members []testutil.Member
	for i := range 500 {
		members = append(members, testutil.File(fmt.Sprintf("some/deeply/nested/path/%c/member-%03d", 'a'+i%26, i), "x"))
	}
	idx, _ := buildFrom(t, testutil.BuildArchive(t, members))

	raw, err := idx.Encode()
	require.NoError(t, err)
	compressed, err := idx.Encode(SaveWithCompression(CompressionZstd))
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(raw))
	assert.True(t, bytes.HasPrefix(compressed, zstdMagic))
}

func TestMarshalEmptyIndex(t *testing.T) {
	t.Parallel()

	data, err := NewIndex().MarshalBinary()
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
	_, ok := got.ArchiveSize()
	assert.False(t, ok)
	_, ok = got.ArchiveDigest()
	assert.False(t, ok)
}

func TestMarshalModTimes(t *testing.T) {
	t.Parallel()

	set := time.Date(2024, 5, 6, 7, 8, 9, 10, time.UTC)
	idx := NewIndex()
	idx.Insert("unset", Entry{Offset: 0, Type: '0'})
	idx.Insert("epoch", Entry{Offset: 512, Type: '0', ModTime: time.Unix(0, 0)})
	idx.Insert("set", Entry{Offset: 1024, Type: '0', ModTime: set})

	data, err := idx.MarshalBinary()
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	e, ok := got.Get("unset")
	require.True(t, ok)
	assert.True(t, e.ModTime.IsZero(), "got %v", e.ModTime)

	e, ok = got.Get("epoch")
	require.True(t, ok)
	assert.False(t, e.ModTime.IsZero())
	assert.True(t, e.ModTime.Equal(time.Unix(0, 0)))

	e, ok = got.Get("set")
	require.True(t, ok)
	assert.True(t, e.ModTime.Equal(set))
}

func TestUnmarshalRejectsBadData(t *testing.T) {
	t.Parallel()

	idx, _ := buildFrom(t, testutil.BuildArchive(t, mixedMembers()))
	valid, err := idx.MarshalBinary()
	require.NoError(t, err)

	wrongVersion := bytes.Clone(valid)
	require.True(t, fb.GetRootAsIndex(wrongVersion, 0).MutateVersion(2))

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{1, 2}},
		{"garbage", []byte("definitely not an index file")},
		{"truncated", valid[:len(valid)/2]},
		{"unknown version", wrongVersion},
		{"bad zstd frame", append(bytes.Clone(zstdMagic), []byte("junk junk junk")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrIndexCorrupt)
			assert.Nil(t, got)
		})
	}
}

func TestUnmarshalRejectsInconsistentEntries(t *testing.T) {
	t.Parallel()

	idx := NewIndex()
	idx.Insert("a", Entry{Start: 100, Next: 50, Offset: 0, Size: 1})
	data, err := idx.MarshalBinary()
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	idx = NewIndex()
	idx.Insert("a", Entry{Offset: 512, Size: ^uint64(0)})
	data, err = idx.MarshalBinary()
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestUnmarshalMaxSize(t *testing.T) {
	t.Parallel()

	idx, _ := buildFrom(t, testutil.BuildArchive(t, mixedMembers()))
	raw, err := idx.Encode()
	require.NoError(t, err)
	compressed, err := idx.Encode(SaveWithCompression(CompressionZstd))
	require.NoError(t, err)

	_, err = Unmarshal(raw, LoadWithMaxSize(16))
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	// The limit also applies to the decompressed size.
	_, err = Unmarshal(compressed, LoadWithMaxSize(uint64(len(compressed))))
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	_, err = Unmarshal(raw, LoadWithMaxSize(0))
	assert.NoError(t, err)
}

func TestSaveLoadFile(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildArchive(t, scenario())
	idx, src := buildFrom(t, archive, BuildWithDigest(true))

	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		path := filepath.Join(t.TempDir(), "nested", "archive.tar.gz.index")
		require.NoError(t, idx.Save(path, SaveWithCompression(c)))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

		loaded, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, collect(idx), collect(loaded))
		require.NoError(t, loaded.Verify(src))

		// Saving again replaces the file.
		require.NoError(t, NewIndex().Save(path, SaveWithCompression(c)))
		loaded, err = LoadFile(path)
		require.NoError(t, err)
		assert.Zero(t, loaded.Len())
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.index"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := writeTemp(t, "bad.index", []byte("not an index at all"))
	_, err = LoadFile(path)
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	idx, _ := buildFrom(t, testutil.BuildArchive(t, scenario()))
	data, err := idx.Encode()
	require.NoError(t, err)
	path = writeTemp(t, "big.index", data)
	_, err = LoadFile(path, LoadWithMaxSize(8))
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	archive := testutil.BuildArchive(t, scenario())
	withDigest, src := buildFrom(t, archive, BuildWithDigest(true))
	sizeOnly, _ := buildFrom(t, archive)

	require.NoError(t, withDigest.Verify(src))
	require.NoError(t, sizeOnly.Verify(src))

	// Same size, different bytes.
	tampered := bytes.Clone(archive)
	tampered[len(tampered)-40] ^= 0x01
	other := testutil.NewSource(tampered)
	assert.ErrorIs(t, withDigest.Verify(other), ErrArchiveMismatch)
	assert.NoError(t, sizeOnly.Verify(other), "size-only indexes cannot see content changes")

	shorter := testutil.NewSource(archive[:len(archive)-1])
	assert.ErrorIs(t, sizeOnly.Verify(shorter), ErrArchiveMismatch)

	// An index with no recorded archive accepts anything.
	assert.NoError(t, NewIndex().Verify(other))
}
