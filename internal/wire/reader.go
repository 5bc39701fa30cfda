package wire

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/netconn"
)

// ReadRawFrame reads one complete frame off conn: the 8-byte proto
// header, then either the plain payload or, for a compressed frame, the
// wrapped compressed payload which is decompressed before returning. The
// returned slice is the message header plus fields plus operations —
// everything the proto header's length field covers, decompressed.
func ReadRawFrame(conn netconn.Conn, deadline time.Time) ([]byte, error) {
	protoHdr, err := conn.ReadFull(ProtoHeaderSize, deadline)
	if err != nil {
		return nil, errors.Wrap(err, "read proto header")
	}
	_, msgType, payloadLen, err := ParseProtoHeader(protoHdr)
	if err != nil {
		return nil, err
	}
	if payloadLen == 0 {
		return nil, errors.Wrap(errs.ErrParse, "empty frame payload")
	}

	payload, err := conn.ReadFull(int(payloadLen), deadline)
	if err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}

	if msgType == MsgTypeCompressed {
		inner, err := Decompress(payload)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := ParseProtoHeader(inner); err != nil {
			return nil, err
		}
		return inner[ProtoHeaderSize:], nil
	}
	return payload, nil
}

// ParsedHeader is the decoded 22-byte message header.
type ParsedHeader struct {
	Info1, Info2, Info3, Info4 uint8
	ResultCode                 uint8
	Generation                 uint32
	Expiration                 uint32
	TxnTimeoutMillis           uint32
	FieldCount                 uint16
	OpCount                    uint16
}

// Last reports whether info3's LAST bit is set, marking end-of-stream for
// a batch/scan/query response.
func (h ParsedHeader) Last() bool { return h.Info3&Info3Last != 0 }

// ParseMsgHeader decodes the fixed 22-byte message header from the front
// of buf and returns the remaining bytes (fields and operations).
func ParseMsgHeader(buf []byte) (ParsedHeader, []byte, error) {
	if len(buf) < MsgHeaderSize {
		return ParsedHeader{}, nil, errors.Wrap(errs.ErrParse, "short message header")
	}
	if buf[0] != MsgHeaderSize {
		return ParsedHeader{}, nil, errors.Wrapf(errs.ErrParse, "unexpected header length byte %d", buf[0])
	}
	h := ParsedHeader{
		Info1:            buf[1],
		Info2:            buf[2],
		Info3:            buf[3],
		Info4:            buf[4],
		ResultCode:       buf[5],
		Generation:       binary.BigEndian.Uint32(buf[6:10]),
		Expiration:       binary.BigEndian.Uint32(buf[10:14]),
		TxnTimeoutMillis: binary.BigEndian.Uint32(buf[14:18]),
		FieldCount:       binary.BigEndian.Uint16(buf[18:20]),
		OpCount:          binary.BigEndian.Uint16(buf[20:22]),
	}
	return h, buf[MsgHeaderSize:], nil
}

// ParsedField is one decoded (type, payload) field.
type ParsedField struct {
	Type    FieldType
	Payload []byte
}

// ParseField consumes one (uint32 length)(uint8 type)(payload) field from
// the front of buf, returning the field and the remaining bytes.
func ParseField(buf []byte) (ParsedField, []byte, error) {
	if len(buf) < 5 {
		return ParsedField{}, nil, errors.Wrap(errs.ErrParse, "short field header")
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 || uint64(length) > uint64(len(buf)-4) {
		return ParsedField{}, nil, errors.Wrapf(errs.ErrParse, "invalid field length %d", length)
	}
	t := FieldType(buf[4])
	payload := buf[5 : 4+length]
	return ParsedField{Type: t, Payload: payload}, buf[4+length:], nil
}

// ParsedOperation is one decoded response operation.
type ParsedOperation struct {
	OpType       uint8
	ParticleType uint8
	Name         string
	Value        []byte
}

// ParseOperation consumes one operation from the front of buf, returning
// the operation and the remaining bytes.
func ParseOperation(buf []byte) (ParsedOperation, []byte, error) {
	if len(buf) < 8 {
		return ParsedOperation{}, nil, errors.Wrap(errs.ErrParse, "short operation header")
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < 4 || uint64(length) > uint64(len(buf)-4) {
		return ParsedOperation{}, nil, errors.Wrapf(errs.ErrParse, "invalid operation length %d", length)
	}
	opType := buf[4]
	particleType := buf[5]
	// buf[6] is the reserved "version" byte, always 0.
	nameLen := int(buf[7])
	if 8+nameLen > len(buf) {
		return ParsedOperation{}, nil, errors.Wrap(errs.ErrParse, "truncated operation name")
	}
	if nameLen > MaxBinNameLen {
		return ParsedOperation{}, nil, errors.Wrapf(errs.ErrParse, "bin name length %d exceeds %d", nameLen, MaxBinNameLen)
	}
	name := string(buf[8 : 8+nameLen])
	valueLen := int(length) - 4 - nameLen
	valueStart := 8 + nameLen
	if valueStart+valueLen > len(buf) {
		return ParsedOperation{}, nil, errors.Wrap(errs.ErrParse, "truncated operation value")
	}
	value := buf[valueStart : valueStart+valueLen]
	return ParsedOperation{OpType: opType, ParticleType: particleType, Name: name, Value: value},
		buf[4+length:], nil
}

// ParsedMessage is one fully decoded header+fields+ops unit — a
// single-record response, or one mini-record of a batch/scan/query
// stream.
type ParsedMessage struct {
	Header ParsedHeader
	Fields []ParsedField
	Ops    []ParsedOperation
	// Rest is whatever bytes in the original buffer followed this
	// message — callers streaming multiple mini-records pass it back in
	// as the next message's input.
	Rest []byte
}

// ParseMessage decodes one header+fields+ops unit from the front of buf.
func ParseMessage(buf []byte) (ParsedMessage, error) {
	h, rest, err := ParseMsgHeader(buf)
	if err != nil {
		return ParsedMessage{}, err
	}

	fields := make([]ParsedField, 0, h.FieldCount)
	for i := uint16(0); i < h.FieldCount; i++ {
		var f ParsedField
		f, rest, err = ParseField(rest)
		if err != nil {
			return ParsedMessage{}, errors.Wrapf(err, "field %d/%d", i, h.FieldCount)
		}
		fields = append(fields, f)
	}

	ops := make([]ParsedOperation, 0, h.OpCount)
	for i := uint16(0); i < h.OpCount; i++ {
		var op ParsedOperation
		op, rest, err = ParseOperation(rest)
		if err != nil {
			return ParsedMessage{}, errors.Wrapf(err, "operation %d/%d", i, h.OpCount)
		}
		ops = append(ops, op)
	}

	return ParsedMessage{Header: h, Fields: fields, Ops: ops, Rest: rest}, nil
}

// Field looks up the first field of the given type, if present.
func (m ParsedMessage) Field(t FieldType) ([]byte, bool) {
	for _, f := range m.Fields {
		if f.Type == t {
			return f.Payload, true
		}
	}
	return nil, false
}

// RecordVersion extracts the 7-byte RECORD_VERSION field, if present.
func (m ParsedMessage) RecordVersion() ([RecordVersionSize]byte, bool) {
	var out [RecordVersionSize]byte
	payload, ok := m.Field(FieldRecordVersion)
	if !ok || len(payload) != RecordVersionSize {
		return out, false
	}
	copy(out[:], payload)
	return out, true
}
