package fb

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

type Entry struct {
	_tab flatbuffers.Table
}

func GetRootAsEntry(buf []byte, offset flatbuffers.UOffsetT) *Entry {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &Entry{}
	x.Init(buf, n+offset)
	return x
}

func FinishEntryBuffer(builder *flatbuffers.Builder, offset flatbuffers.UOffsetT) {
	builder.Finish(offset)
}

func (rcv *Entry) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *Entry) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *Entry) Path() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *Entry) Start() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateStart(n uint64) bool {
	return rcv._tab.MutateUint64Slot(6, n)
}

func (rcv *Entry) Offset() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateOffset(n uint64) bool {
	return rcv._tab.MutateUint64Slot(8, n)
}

func (rcv *Entry) Size() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateSize(n uint64) bool {
	return rcv._tab.MutateUint64Slot(10, n)
}

func (rcv *Entry) Next() uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateNext(n uint64) bool {
	return rcv._tab.MutateUint64Slot(12, n)
}

func (rcv *Entry) Type() byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.GetByte(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateType(n byte) bool {
	return rcv._tab.MutateByteSlot(14, n)
}

func (rcv *Entry) Mode() uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(16))
	if o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *Entry) MutateMode(n uint32) bool {
	return rcv._tab.MutateUint32Slot(16, n)
}

func (rcv *Entry) MtimeNs() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(18))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

// HasMtimeNs reports whether mtime_ns was written.
func (rcv *Entry) HasMtimeNs() bool {
	return rcv._tab.Offset(18) != 0
}

func (rcv *Entry) MutateMtimeNs(n int64) bool {
	return rcv._tab.MutateInt64Slot(18, n)
}

func EntryStart(builder *flatbuffers.Builder) {
	builder.StartObject(8)
}
func EntryAddPath(builder *flatbuffers.Builder, path flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(path), 0)
}
func EntryAddStart(builder *flatbuffers.Builder, start uint64) {
	builder.PrependUint64Slot(1, start, 0)
}
func EntryAddOffset(builder *flatbuffers.Builder, offset uint64) {
	builder.PrependUint64Slot(2, offset, 0)
}
func EntryAddSize(builder *flatbuffers.Builder, size uint64) {
	builder.PrependUint64Slot(3, size, 0)
}
func EntryAddNext(builder *flatbuffers.Builder, next uint64) {
	builder.PrependUint64Slot(4, next, 0)
}
func EntryAddType(builder *flatbuffers.Builder, type_ byte) {
	builder.PrependByteSlot(5, type_, 0)
}
func EntryAddMode(builder *flatbuffers.Builder, mode uint32) {
	builder.PrependUint32Slot(6, mode, 0)
}
// EntryAddMtimeNs writes mtime_ns unconditionally, so the Unix epoch is
// told apart from an absent time.
func EntryAddMtimeNs(builder *flatbuffers.Builder, mtimeNs int64) {
	builder.PrependInt64(mtimeNs)
	builder.Slot(7)
}
func EntryEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
