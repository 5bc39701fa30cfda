package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/errs"
)

// WriteKeyFields appends the NAMESPACE, TABLE and DIGEST_RIPE fields that
// identify a single key.
func WriteKeyFields(b *Builder, key nimbus.Key) {
	b.WriteField(FieldNamespace, []byte(key.Namespace))
	if key.Set != "" {
		b.WriteField(FieldTable, []byte(key.Set))
	}
	digest := key.Digest()
	b.WriteField(FieldDigestRipe, digest[:])
}

// WriteSocketTimeout appends a SOCKET_TIMEOUT field carrying millis.
func WriteSocketTimeout(b *Builder, millis uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, millis)
	b.WriteField(FieldSocketTimeout, buf)
}

// WriteTxnID appends a TXN_ID field.
func WriteTxnID(b *Builder, id uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	b.WriteField(FieldTxnID, buf)
}

// WriteRecordVersion appends a 7-byte RECORD_VERSION field.
func WriteRecordVersion(b *Builder, version [RecordVersionSize]byte) {
	b.WriteField(FieldRecordVersion, version[:])
}

// BuildReadCommand encodes a single-record read, optionally restricted to
// binNames (nil/empty means "get all bins", setting Info1GetAll).
func BuildReadCommand(b *Builder, key nimbus.Key, binNames []string) []byte {
	b.Reset()
	h := Header{Info1: Info1Read}
	if len(binNames) == 0 {
		h.Info1 |= Info1GetAll
	}
	b.Begin(h)
	WriteKeyFields(b, key)
	for _, name := range binNames {
		b.WriteRawOperation(uint8(nimbus.OpRead), uint8(nimbus.ParticleNil), name, nil)
	}
	return b.End()
}

// BuildWriteCommand encodes a single-record multi-bin write.
func BuildWriteCommand(b *Builder, key nimbus.Key, bins []nimbus.Bin, info2, info3 uint8, generation, expiration uint32) ([]byte, error) {
	b.Reset()
	h := Header{Info2: info2 | Info2Write, Info3: info3, Generation: generation, Expiration: expiration}
	b.Begin(h)
	WriteKeyFields(b, key)
	for _, bin := range bins {
		if err := WriteOperation(b, nimbus.PutOp(bin)); err != nil {
			return nil, err
		}
	}
	return b.End(), nil
}

// BuildOperateCommand encodes an arbitrary operation list against one key.
func BuildOperateCommand(b *Builder, key nimbus.Key, ops []nimbus.Operation, info1, info2, info3 uint8, generation, expiration uint32) ([]byte, error) {
	b.Reset()
	h := Header{Info1: info1, Info2: info2, Info3: info3, Generation: generation, Expiration: expiration}
	for _, op := range ops {
		if op.Type == nimbus.OpWrite || op.Type == nimbus.OpAdd || op.Type == nimbus.OpAppend || op.Type == nimbus.OpPrepend {
			h.Info2 |= Info2Write
		}
		if op.Type == nimbus.OpRead || op.Type == nimbus.OpReadHeader {
			h.Info1 |= Info1Read
		}
	}
	b.Begin(h)
	WriteKeyFields(b, key)
	for _, op := range ops {
		if err := WriteOperation(b, op); err != nil {
			return nil, err
		}
	}
	return b.End(), nil
}

// BuildDeleteCommand encodes a whole-record delete.
func BuildDeleteCommand(b *Builder, key nimbus.Key, durable bool) []byte {
	b.Reset()
	info2 := uint8(Info2Write | Info2Delete)
	if durable {
		info2 |= Info2DurableDelete
	}
	b.Begin(Header{Info2: info2})
	WriteKeyFields(b, key)
	return b.End()
}

// BuildTouchCommand encodes a touch (bump generation, extend TTL).
func BuildTouchCommand(b *Builder, key nimbus.Key, expiration uint32) []byte {
	b.Reset()
	b.Begin(Header{Info2: Info2Write, Expiration: expiration})
	WriteKeyFields(b, key)
	b.WriteRawOperation(uint8(nimbus.OpTouch), uint8(nimbus.ParticleNil), "", nil)
	return b.End()
}

// BuildExistsCommand encodes an existence check (read-header with no
// bins requested).
func BuildExistsCommand(b *Builder, key nimbus.Key) []byte {
	b.Reset()
	b.Begin(Header{Info1: Info1Read | Info1NoBinData})
	WriteKeyFields(b, key)
	b.WriteRawOperation(uint8(nimbus.OpReadHeader), uint8(nimbus.ParticleNil), "", nil)
	return b.End()
}

// ResultCodeToErrKind maps a response result code to this client's error
// taxonomy sentinel. ResultOK never reaches here; callers check it first.
func ResultCodeToErrKind(code uint8) error {
	switch ResultCode(code) {
	case ResultKeyNotFound:
		return errs.ErrKeyNotFound
	case ResultGenerationError:
		return errs.ErrGeneration
	case ResultParameterError:
		return errs.ErrParameter
	case ResultRecordTooBig:
		return errs.ErrRecordTooBig
	case ResultTimeout:
		return errs.ErrServerTimeout
	case ResultFilteredOut:
		return errs.ErrFilteredOut
	case ResultUdfBadResponse:
		return errs.ErrUdfBadResponse
	case ResultDeviceOverload:
		return errs.ErrDeviceOverload
	default:
		return errors.Errorf("server result code %d", code)
	}
}

// ParseSingleRecordResponse decodes one ParsedMessage into a Record for
// key. On ResultKeyNotFound it returns (nil, nil) — a missing key is not
// an error.
func ParseSingleRecordResponse(msg ParsedMessage, key nimbus.Key) (*nimbus.Record, error) {
	if ResultCode(msg.Header.ResultCode) == ResultKeyNotFound {
		return nil, nil
	}
	if ResultCode(msg.Header.ResultCode) != ResultOK {
		return nil, ResultCodeToErrKind(msg.Header.ResultCode)
	}

	rec := &nimbus.Record{
		Key:        key,
		Bins:       make(map[string]nimbus.Value, len(msg.Ops)),
		Generation: msg.Header.Generation,
		Expiration: msg.Header.Expiration,
	}
	if v, ok := msg.RecordVersion(); ok {
		rec.Version = v
		rec.HasVersion = true
	}
	for _, op := range msg.Ops {
		val, err := DecodeValue(op.ParticleType, op.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "decode bin %q", op.Name)
		}
		if op.Name != "" {
			rec.Bins[op.Name] = val
		}
	}
	return rec, nil
}
