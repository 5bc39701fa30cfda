package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/skshohagmiah/nimbus/internal/errs"
)

// Header carries the message-header fields a command needs to set before
// any field/operation is written.
type Header struct {
	Info1, Info2, Info3, Info4 uint8
	ResultCode                 uint8
	Generation                 uint32
	Expiration                 uint32
	TxnTimeoutMillis           uint32
}

// Builder owns a growable buffer and a running offset and assembles one
// request frame: proto header, message header, fields, operations.
//
//	b := wire.NewBuilder()
//	b.Begin(h)
//	b.WriteField(wire.FieldNamespace, []byte(ns))
//	wire.WriteOperation(b, op)
//	frame := b.End()
type Builder struct {
	buf        []byte
	fieldCount uint16
	opCount    uint16
	headerAt   int // offset of the 22-byte message header, for patching counts
}

// NewBuilder returns a Builder with a modest initial capacity, grown as
// needed; commands are expected to reuse a Builder across attempts via
// Reset rather than allocate a fresh one per retry.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, 256)}
}

// Reset clears the buffer for reuse, retaining its backing array.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.fieldCount = 0
	b.opCount = 0
	b.headerAt = 0
}

// Begin reserves space for the proto header (patched in End) and writes
// the message header with zeroed field/op counts (patched in End).
func (b *Builder) Begin(h Header) {
	b.buf = append(b.buf, make([]byte, ProtoHeaderSize)...)
	b.headerAt = len(b.buf)

	b.buf = append(b.buf,
		MsgHeaderSize,
		h.Info1, h.Info2, h.Info3, h.Info4,
		h.ResultCode,
	)
	b.buf = appendU32(b.buf, h.Generation)
	b.buf = appendU32(b.buf, h.Expiration)
	b.buf = appendU32(b.buf, h.TxnTimeoutMillis)
	b.buf = appendU16(b.buf, 0) // field count, patched in End
	b.buf = appendU16(b.buf, 0) // op count, patched in End
}

// WriteField appends one field: (uint32 length including type byte)(uint8
// type)(payload).
func (b *Builder) WriteField(t FieldType, payload []byte) {
	b.buf = appendU32(b.buf, uint32(1+len(payload)))
	b.buf = append(b.buf, byte(t))
	b.buf = append(b.buf, payload...)
	b.fieldCount++
}

// WriteRawOperation appends one operation with an explicit particle type,
// name and value bytes — the low-level primitive WriteOperation builds on.
func (b *Builder) WriteRawOperation(opType uint8, particleType uint8, name string, value []byte) error {
	if len(name) > MaxBinNameLen {
		return errors.Errorf("bin name %q exceeds %d bytes", name, MaxBinNameLen)
	}
	length := 1 + 1 + 1 + 1 + len(name) + len(value)
	b.buf = appendU32(b.buf, uint32(length))
	b.buf = append(b.buf, opType, particleType, 0 /* version */, byte(len(name)))
	b.buf = append(b.buf, name...)
	b.buf = append(b.buf, value...)
	b.opCount++
	return nil
}

// FieldCount and OpCount report how many fields/operations have been
// written so far in the current frame.
func (b *Builder) FieldCount() uint16 { return b.fieldCount }
func (b *Builder) OpCount() uint16    { return b.opCount }

// End patches the proto header (version, type, payload length) and the
// message header's field/op counts, then returns the completed frame.
// The returned slice aliases the Builder's internal buffer and is only
// valid until the next Reset.
func (b *Builder) End() []byte {
	binary.BigEndian.PutUint16(b.buf[b.headerAt+18:], b.fieldCount)
	binary.BigEndian.PutUint16(b.buf[b.headerAt+20:], b.opCount)

	payloadLen := uint64(len(b.buf) - ProtoHeaderSize)
	putProtoHeader(b.buf, ProtoVersion, MsgTypeStandard, payloadLen)
	return b.buf
}

// putProtoHeader writes the 8-byte proto header in place: version in the
// high byte, message type in the next, and a 48-bit payload length.
func putProtoHeader(buf []byte, version, msgType uint8, payloadLen uint64) {
	var h uint64
	h |= uint64(version) << 56
	h |= uint64(msgType) << 48
	h |= payloadLen & 0xFFFFFFFFFFFF
	binary.BigEndian.PutUint64(buf[0:ProtoHeaderSize], h)
}

// ParseProtoHeader decodes the 8-byte proto header. Every failure here is
// a malformed frame, not a transport error, so it carries errs.ErrParse as
// its Cause.
func ParseProtoHeader(buf []byte) (version, msgType uint8, payloadLen uint64, err error) {
	if len(buf) < ProtoHeaderSize {
		return 0, 0, 0, errors.Wrap(errs.ErrParse, "short proto header")
	}
	h := binary.BigEndian.Uint64(buf[:ProtoHeaderSize])
	version = uint8(h >> 56)
	msgType = uint8(h >> 48)
	payloadLen = h & 0xFFFFFFFFFFFF
	if version != ProtoVersion {
		return version, msgType, payloadLen, errors.Wrapf(errs.ErrParse, "unsupported proto version %d", version)
	}
	if msgType != MsgTypeStandard && msgType != MsgTypeCompressed {
		return version, msgType, payloadLen, errors.Wrapf(errs.ErrParse, "invalid message type %d", msgType)
	}
	return version, msgType, payloadLen, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}
