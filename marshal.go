package tarbgz

import (
	"bytes"
	"fmt"
	"io/fs"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/tarbgz/internal/fb"
	"github.com/meigma/tarbgz/internal/sizing"
)

// indexVersion is the schema version written by MarshalBinary.
const indexVersion = 1

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MarshalBinary encodes the index with the FlatBuffers schema in
// schema/index.fbs. Entries are written in archive order.
func (idx *Index) MarshalBinary() ([]byte, error) {
	entries := idx.sorted()

	builder := flatbuffers.NewBuilder(1024)
	entryOffsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, pe := range entries {
		e := pe.entry
		pathOffset := builder.CreateString(pe.path)

		fb.EntryStart(builder)
		fb.EntryAddPath(builder, pathOffset)
		fb.EntryAddStart(builder, uint64(e.Start))
		fb.EntryAddOffset(builder, e.Offset)
		fb.EntryAddSize(builder, e.Size)
		fb.EntryAddNext(builder, uint64(e.Next))
		fb.EntryAddType(builder, e.Type)
		fb.EntryAddMode(builder, uint32(e.Mode))
		if !e.ModTime.IsZero() {
			fb.EntryAddMtimeNs(builder, e.ModTime.UnixNano())
		}
		entryOffsets[i] = fb.EntryEnd(builder)
	}

	fb.IndexStartEntriesVector(builder, len(entries))
	for i := len(entryOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entryOffsets[i])
	}
	entriesOffset := builder.EndVector(len(entries))

	var digestOffset flatbuffers.UOffsetT
	if idx.archiveDigest != "" {
		digestOffset = builder.CreateString(idx.archiveDigest.String())
	}

	size, err := sizing.ToUint64(idx.archiveSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	fb.IndexStart(builder)
	fb.IndexAddVersion(builder, indexVersion)
	fb.IndexAddEntries(builder, entriesOffset)
	fb.IndexAddArchiveSize(builder, size)
	if digestOffset != 0 {
		fb.IndexAddArchiveDigest(builder, digestOffset)
	}
	fb.FinishIndexBuffer(builder, fb.IndexEnd(builder))
	return builder.FinishedBytes(), nil
}

// Encode returns the index in its on-disk form: MarshalBinary's output,
// wrapped in zstd when requested.
func (idx *Index) Encode(opts ...SaveOption) ([]byte, error) {
	var cfg saveConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	data, err := idx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	switch cfg.compression {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("tarbgz: unknown index compression %d", cfg.compression)
	}
}

// Unmarshal decodes an index produced by MarshalBinary or Encode. A zstd
// envelope is detected by its frame magic and removed.
//
// Malformed data, an unknown schema version, or entries whose coordinates
// are inconsistent fail with ErrIndexCorrupt.
func Unmarshal(data []byte, opts ...LoadOption) (*Index, error) {
	cfg := loadConfig{maxSize: DefaultMaxIndexSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize > 0 && uint64(len(data)) > cfg.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrIndexCorrupt, len(data), cfg.maxSize)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		decoded, err := decodeZstd(data, cfg.maxSize)
		if err != nil {
			return nil, err
		}
		data = decoded
	}
	return decode(data)
}

func decodeZstd(data []byte, limit uint64) ([]byte, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if limit > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(limit))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrIndexCorrupt, err)
	}
	if limit > 0 && uint64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decoded index exceeds limit of %d", ErrIndexCorrupt, limit)
	}
	return out, nil
}

// decode parses a FlatBuffers-encoded index. The generated accessors panic
// on out-of-range offsets; the panic is turned into ErrIndexCorrupt.
func decode(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("%w: %v", ErrIndexCorrupt, r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrIndexCorrupt, len(data))
	}

	root := fb.GetRootAsIndex(data, 0)
	if v := root.Version(); v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupt, v)
	}

	archiveSize, err := sizing.ToInt64(root.ArchiveSize(), ErrIndexCorrupt)
	if err != nil {
		return nil, err
	}
	idx = NewIndex()
	idx.archiveSize = archiveSize
	if raw := root.ArchiveDigest(); len(raw) > 0 {
		d, err := digest.Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: archive digest: %w", ErrIndexCorrupt, err)
		}
		idx.archiveDigest = d
	}

	var (
		e    fb.Entry
		prev uint64
	)
	for i := range root.EntriesLength() {
		if !root.Entries(&e, i) {
			return nil, fmt.Errorf("%w: entry %d missing", ErrIndexCorrupt, i)
		}
		path := string(e.Path())
		entry := Entry{
			Start:   Offset(e.Start()),
			Offset:  e.Offset(),
			Size:    e.Size(),
			Next:    Offset(e.Next()),
			Type:    e.Type(),
			Mode:    fs.FileMode(e.Mode()),
		}
		if e.HasMtimeNs() {
			entry.ModTime = time.Unix(0, e.MtimeNs())
		}
		if entry.Next < entry.Start {
			return nil, fmt.Errorf("%w: %s ends before it starts", ErrIndexCorrupt, path)
		}
		if entry.Offset < prev {
			return nil, fmt.Errorf("%w: %s is out of archive order", ErrIndexCorrupt, path)
		}
		if _, ok := sizing.AddUint64(entry.Offset, entry.Size); !ok {
			return nil, fmt.Errorf("%w: %s size overflows", ErrIndexCorrupt, path)
		}
		prev = entry.Offset
		idx.Insert(path, entry)
	}
	return idx, nil
}
