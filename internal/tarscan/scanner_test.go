package tarscan

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/tarbgz/internal/stream"
)

type member struct {
	hdr  tar.Header
	body string
}

func buildTar(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := m.hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if m.body != "" {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func scanner(data []byte) *Scanner {
	return NewScanner(stream.NewForwardSeeker(bytes.NewReader(data), 0))
}

func TestScanOffsets(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 150)
	data := buildTar(t, []member{
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg, Mode: 0o644}, body: "0123456789"},
		{hdr: tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}},
		{hdr: tar.Header{Name: "dir/b", Typeflag: tar.TypeReg, Mode: 0o644}, body: strings.Repeat("b", 600)},
		{hdr: tar.Header{Name: "dir/" + long, Typeflag: tar.TypeReg, Mode: 0o644}, body: "long"},
		{hdr: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "a"}},
	})

	sc := scanner(data)
	var got []*Member
	var nexts []int64
	for {
		m, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, m)
		next, err := sc.Skip()
		require.NoError(t, err)
		nexts = append(nexts, next)
	}
	require.Len(t, got, 5)

	assert.Equal(t, int64(0), got[0].Offset)
	assert.Equal(t, int64(512), got[0].DataOffset)
	assert.Equal(t, int64(1024), nexts[0])

	assert.Equal(t, int64(1024), got[1].Offset)
	assert.Equal(t, got[1].Offset+512, got[1].DataOffset)
	assert.Equal(t, got[1].DataOffset, nexts[1], "header-only members have no payload records")

	assert.Equal(t, nexts[1], got[2].Offset)
	assert.Equal(t, got[2].DataOffset+1024, nexts[2], "600 bytes pad to two records")

	// The long name needs a PAX record ahead of the main header.
	assert.Equal(t, "dir/"+long, got[3].Header.Name)
	assert.Greater(t, got[3].DataOffset-got[3].Offset, int64(512))

	for i := 1; i < len(got); i++ {
		assert.Equal(t, nexts[i-1], got[i].Offset, "member %d starts where the previous ends", i)
		assert.Zero(t, got[i].Offset%BlockSize)
	}
}

func TestScanFromMemberOffset(t *testing.T) {
	t.Parallel()

	data := buildTar(t, []member{
		{hdr: tar.Header{Name: "first", Typeflag: tar.TypeReg}, body: "one"},
		{hdr: tar.Header{Name: "second", Typeflag: tar.TypeReg}, body: "two two"},
		{hdr: tar.Header{Name: "third", Typeflag: tar.TypeReg}, body: "three"},
	})

	sc := scanner(data)
	offsets := map[string]int64{}
	for {
		m, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		offsets[m.Header.Name] = m.Offset
	}

	for name, want := range map[string]string{"first": "one", "second": "two two", "third": "three"} {
		off := offsets[name]
		s := stream.NewForwardSeeker(bytes.NewReader(data[off:]), off)
		m, err := NewScanner(s).Next()
		require.NoError(t, err)
		assert.Equal(t, name, m.Header.Name)
		assert.Equal(t, off, m.Offset)

		sc := NewScanner(stream.NewForwardSeeker(bytes.NewReader(data[off:]), off))
		_, err = sc.Next()
		require.NoError(t, err)
		body, err := io.ReadAll(sc.Payload())
		require.NoError(t, err)
		assert.Equal(t, want, string(body))
	}
}

func TestNextSkipsUnreadPayload(t *testing.T) {
	t.Parallel()

	data := buildTar(t, []member{
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, body: strings.Repeat("a", 1500)},
		{hdr: tar.Header{Name: "b", Typeflag: tar.TypeReg}, body: "b"},
	})

	// One-byte reads exercise the discard path of the seeker.
	sc := NewScanner(stream.NewForwardSeeker(iotest.OneByteReader(bytes.NewReader(data)), 0))
	m, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", m.Header.Name)

	// Partially read the payload, then move on.
	_, err = io.ReadFull(sc.Payload(), make([]byte, 10))
	require.NoError(t, err)

	m, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "b", m.Header.Name)
	assert.Equal(t, int64(512+1536), m.Offset)

	_, err = sc.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGlobalHeaderIsReturned(t *testing.T) {
	t.Parallel()

	data := buildTar(t, []member{
		{hdr: tar.Header{Typeflag: tar.TypeXGlobalHeader, PAXRecords: map[string]string{"comment": "hi"}}},
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, body: "x"},
	})

	sc := scanner(data)
	m, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, byte(tar.TypeXGlobalHeader), m.Header.Typeflag)

	m, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", m.Header.Name)
}

func TestScanErrors(t *testing.T) {
	t.Parallel()

	valid := buildTar(t, []member{
		{hdr: tar.Header{Name: "a", Typeflag: tar.TypeReg}, body: strings.Repeat("z", 2000)},
	})

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty stream", nil, io.EOF},
		{"garbage header", bytes.Repeat([]byte("x"), 512), ErrParse},
		{"truncated header", valid[:100], ErrParse},
		{"truncated payload", valid[:1200], ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc := scanner(tt.data)
			var err error
			for err == nil {
				_, err = sc.Next()
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestScanPropagatesReadErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sc := NewScanner(stream.NewForwardSeeker(iotest.ErrReader(boom), 0))
	_, err := sc.Next()
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrParse)
}

func TestPayloadWithoutMember(t *testing.T) {
	t.Parallel()

	sc := scanner(nil)
	n, err := sc.Payload().Read(make([]byte, 1))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = sc.Skip()
	assert.Error(t, err)
}
