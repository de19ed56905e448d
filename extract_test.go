package tarbgz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/testutil"
)

func assertContent(t *testing.T, f *File, want string) {
	t.Helper()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
	require.NoError(t, f.Close())
}

func TestExtractScenario(t *testing.T) {
	t.Parallel()

	members := scenario()
	idx, src := buildFrom(t, testutil.BuildArchive(t, members))

	for _, m := range members {
		f, err := Extract(idx, src, m.Name)
		require.NoError(t, err, m.Name)
		assert.Equal(t, m.Name, f.Name())
		assertContent(t, f, string(m.Body))
	}
}

func TestExtractRoundTrip(t *testing.T) {
	t.Parallel()

	layouts := []struct {
		name string
		opts []testutil.ArchiveOption
	}{
		{"default blocks", nil},
		{"tiny blocks", []testutil.ArchiveOption{testutil.WithBlockSize(300)}},
		{"header-sized blocks", []testutil.ArchiveOption{testutil.WithBlockSize(512)}},
		{"odd blocks", []testutil.ArchiveOption{testutil.WithBlockSize(4099)}},
		{"block per member", []testutil.ArchiveOption{testutil.WithFlushPerMember()}},
	}
	for _, layout := range layouts {
		t.Run(layout.name, func(t *testing.T) {
			t.Parallel()
			members := mixedMembers()
			idx, src := buildFrom(t, testutil.BuildArchive(t, members, layout.opts...))

			for _, m := range members {
				f, err := Extract(idx, src, m.Name)
				require.NoError(t, err, m.Name)
				got, err := io.ReadAll(f)
				require.NoError(t, err)
				if m.Type == 0 || m.Type == '0' {
					assert.True(t, bytes.Equal(m.Body, got), "%s: content mismatch", m.Name)
				} else {
					assert.Empty(t, got, "%s: header-only members have no payload", m.Name)
				}
				require.NoError(t, f.Close())
			}
		})
	}
}

func TestExtractInAnyOrder(t *testing.T) {
	t.Parallel()

	members := mixedMembers()
	idx, src := buildFrom(t, testutil.BuildArchive(t, members, testutil.WithBlockSize(1000)))

	// Backward order: every extraction starts from its own coordinate.
	for i := len(members) - 1; i >= 0; i-- {
		f, err := Extract(idx, src, members[i].Name)
		require.NoError(t, err)
		_, err = io.Copy(io.Discard, f)
		require.NoError(t, err)
	}

	f, err := Extract(idx, src, "top/small.txt")
	require.NoError(t, err)
	assertContent(t, f, "small")
}

func TestExtractConcurrent(t *testing.T) {
	t.Parallel()

	members := mixedMembers()
	idx, src := buildFrom(t, testutil.BuildArchive(t, members, testutil.WithBlockSize(2048)))

	var wg sync.WaitGroup
	for range 4 {
		for _, m := range members {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f, err := Extract(idx, src, m.Name)
				if !assert.NoError(t, err) {
					return
				}
				defer f.Close()
				got, err := io.ReadAll(f)
				assert.NoError(t, err)
				if m.Type == 0 || m.Type == '0' {
					assert.True(t, bytes.Equal(m.Body, got), m.Name)
				}
			}()
		}
	}
	wg.Wait()
}

func TestExtractReadsOnlyNearbyBlocks(t *testing.T) {
	t.Parallel()

	var members []testutil.Member
	for i := range 200 {
		members = append(members, testutil.Member{
			Name: fmt.Sprintf("file-%03d", i),
			Body: randomBody(10_000, int64(i)),
		})
	}
	idx, src := buildFrom(t, testutil.BuildArchive(t, members, testutil.WithFlushPerMember()))

	target := members[120]
	src.Reset()
	f, err := Extract(idx, src, target.Name)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, target.Body, got)

	assert.Less(t, src.BytesRead(), src.Size()/4, "extraction should not scan the archive")
}

func TestExtractDirectory(t *testing.T) {
	t.Parallel()

	idx, src := buildFrom(t, testutil.BuildArchive(t, mixedMembers()))
	f, err := Extract(idx, src, "top")
	require.NoError(t, err)

	n, err := f.Read(make([]byte, 10))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "top", info.Name())
	require.NoError(t, f.Close())
}

func TestExtractNotFound(t *testing.T) {
	t.Parallel()

	idx, src := buildFrom(t, testutil.BuildArchive(t, scenario()))

	for _, p := range []string{"missing", "dir", "dir/missing", "a/b"} {
		_, err := Extract(idx, src, p)
		var pathErr *fs.PathError
		require.ErrorAs(t, err, &pathErr, p)
		assert.ErrorIs(t, err, fs.ErrNotExist, p)
		assert.Equal(t, "extract", pathErr.Op)
	}
}

func TestExtractDetectsWrongCoordinates(t *testing.T) {
	t.Parallel()

	idx, src := buildFrom(t, testutil.BuildArchive(t, scenario(), testutil.WithBlockSize(700)))

	b, ok := idx.Get("dir/b")
	require.True(t, ok)

	// An index whose entry for "a" points at dir/b's member.
	tampered := NewIndex()
	tampered.Insert("a", b)
	_, err := Extract(tampered, src, "a")
	assert.ErrorIs(t, err, ErrIndexCorrupt)

	// An entry pointing past the end of the archive.
	past := b
	past.Start = Offset(uint64(src.Size()) << 16) //nolint:gosec // test value
	tampered.Insert("dir/b", past)
	_, err = Extract(tampered, src, "dir/b")
	assert.ErrorIs(t, err, ErrIndexCorrupt)
}

func TestExtractArchiveMismatch(t *testing.T) {
	t.Parallel()

	idx, _ := buildFrom(t, testutil.BuildArchive(t, scenario()))
	other := testutil.NewSource(testutil.BuildArchive(t, mixedMembers()))

	_, err := Extract(idx, other, "a")
	assert.ErrorIs(t, err, ErrArchiveMismatch)
}

func TestFileClosed(t *testing.T) {
	t.Parallel()

	idx, src := buildFrom(t, testutil.BuildArchive(t, scenario()))
	f, err := Extract(idx, src, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", f.Header().Name)
	assert.Equal(t, uint64(len("alpha contents")), f.Entry().Size)

	require.NoError(t, f.Close())
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fs.ErrClosed)
	_, err = f.Stat()
	assert.ErrorIs(t, err, fs.ErrClosed)
	assert.ErrorIs(t, f.Close(), fs.ErrClosed)
}

func TestExtractFromFile(t *testing.T) {
	t.Parallel()

	archivePath := writeTemp(t, "archive.tar.gz", testutil.BuildArchive(t, scenario()))
	src, err := OpenFile(archivePath)
	require.NoError(t, err)
	defer src.Close()

	idx, err := Build(context.Background(), src)
	require.NoError(t, err)

	f, err := Extract(idx, src, "dir/b")
	require.NoError(t, err)
	assertContent(t, f, "bravo")
}
