package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
	nimbus "github.com/skshohagmiah/nimbus"
)

// BatchWireRecord is one record slot inside the outer BATCH_INDEX field of
// a batch request. When Repeat is true, Namespace/Set/Ops are not
// re-written; the record is understood to share the previous record's
// namespace, set and bin/op selection.
type BatchWireRecord struct {
	OriginalIndex uint32
	Digest        [DigestSize]byte
	Repeat        bool

	Namespace string
	Set       string
	Ops       []nimbus.Operation

	HasInfo               bool
	Info1, Info2, Info3   uint8
	HasInfo4              bool
	Info4                 uint8
	HasGeneration         bool
	Generation            uint32
	HasTTL                bool
	TTL                   uint32
}

// EncodeBatchIndexField builds the single BATCH_INDEX field carrying all
// of a batch sub-command's records and appends it to b.
func EncodeBatchIndexField(b *Builder, records []BatchWireRecord, outerFlags uint8) error {
	payload := make([]byte, 0, 32*len(records))
	payload = appendU32(payload, uint32(len(records)))
	payload = append(payload, outerFlags)

	for i, r := range records {
		payload = appendU32(payload, r.OriginalIndex)
		payload = append(payload, r.Digest[:]...)

		subBits := byte(0)
		if r.Repeat {
			subBits |= BatchRepeat
		}
		if r.HasInfo {
			subBits |= BatchInfo
		}
		if r.HasGeneration {
			subBits |= BatchGen
		}
		if r.HasTTL {
			subBits |= BatchTTL
		}
		if r.HasInfo4 {
			subBits |= BatchInfo4
		}
		payload = append(payload, subBits)

		if r.HasInfo {
			payload = append(payload, r.Info1, r.Info2, r.Info3)
		}
		if r.HasInfo4 {
			payload = append(payload, r.Info4)
		}
		if r.HasGeneration {
			payload = appendU32(payload, r.Generation)
		}
		if r.HasTTL {
			payload = appendU32(payload, r.TTL)
		}

		if !r.Repeat {
			payload = appendU16(payload, uint16(len(r.Namespace)))
			payload = append(payload, r.Namespace...)
			payload = appendU16(payload, uint16(len(r.Set)))
			payload = append(payload, r.Set...)

			payload = appendU16(payload, uint16(len(r.Ops)))
			for _, op := range r.Ops {
				particleType, opPayload, err := EncodeValue(op.Value)
				if err != nil {
					return errors.Wrapf(err, "batch record %d op on bin %q", i, op.BinName)
				}
				if len(op.BinName) > MaxBinNameLen {
					return errors.Errorf("batch record %d: bin name %q exceeds %d bytes", i, op.BinName, MaxBinNameLen)
				}
				payload = append(payload, byte(op.Type), particleType, byte(len(op.BinName)))
				payload = append(payload, op.BinName...)
				payload = appendU32(payload, uint32(len(opPayload)))
				payload = append(payload, opPayload...)
			}
		}
	}

	b.WriteField(FieldBatchIndex, payload)
	return nil
}

// DecodedBatchIndexField is the parsed form of a BATCH_INDEX request
// field, used by tests and by a server-side-shaped consumer; the client
// core itself only ever encodes this field (it decodes mini-record
// responses instead, via ParseMessage).
type DecodedBatchIndexField struct {
	Flags   uint8
	Records []BatchWireRecord
}

// DecodeBatchIndexField parses a BATCH_INDEX field payload back into its
// structured form — used by round-trip tests.
func DecodeBatchIndexField(payload []byte) (DecodedBatchIndexField, error) {
	if len(payload) < 5 {
		return DecodedBatchIndexField{}, errors.New("short batch index field")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	flags := payload[4]
	rest := payload[5:]

	out := DecodedBatchIndexField{Flags: flags, Records: make([]BatchWireRecord, 0, count)}
	var lastNS, lastSet string
	var lastOps []nimbus.Operation

	for i := uint32(0); i < count; i++ {
		if len(rest) < 4+DigestSize+1 {
			return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated", i)
		}
		r := BatchWireRecord{}
		r.OriginalIndex = binary.BigEndian.Uint32(rest[0:4])
		copy(r.Digest[:], rest[4:4+DigestSize])
		subBits := rest[4+DigestSize]
		rest = rest[4+DigestSize+1:]

		r.Repeat = subBits&BatchRepeat != 0
		r.HasInfo = subBits&BatchInfo != 0
		r.HasGeneration = subBits&BatchGen != 0
		r.HasTTL = subBits&BatchTTL != 0
		r.HasInfo4 = subBits&BatchInfo4 != 0

		if r.HasInfo {
			if len(rest) < 3 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated info", i)
			}
			r.Info1, r.Info2, r.Info3 = rest[0], rest[1], rest[2]
			rest = rest[3:]
		}
		if r.HasInfo4 {
			if len(rest) < 1 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated info4", i)
			}
			r.Info4 = rest[0]
			rest = rest[1:]
		}
		if r.HasGeneration {
			if len(rest) < 4 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated generation", i)
			}
			r.Generation = binary.BigEndian.Uint32(rest[0:4])
			rest = rest[4:]
		}
		if r.HasTTL {
			if len(rest) < 4 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated ttl", i)
			}
			r.TTL = binary.BigEndian.Uint32(rest[0:4])
			rest = rest[4:]
		}

		if r.Repeat {
			r.Namespace, r.Set, r.Ops = lastNS, lastSet, lastOps
		} else {
			if len(rest) < 2 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated namespace length", i)
			}
			nsLen := binary.BigEndian.Uint16(rest[0:2])
			rest = rest[2:]
			if uint64(nsLen) > uint64(len(rest)) {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated namespace", i)
			}
			r.Namespace = string(rest[:nsLen])
			rest = rest[nsLen:]

			if len(rest) < 2 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated set length", i)
			}
			setLen := binary.BigEndian.Uint16(rest[0:2])
			rest = rest[2:]
			if uint64(setLen) > uint64(len(rest)) {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated set", i)
			}
			r.Set = string(rest[:setLen])
			rest = rest[setLen:]

			if len(rest) < 2 {
				return DecodedBatchIndexField{}, errors.Errorf("batch record %d: truncated op count", i)
			}
			opCount := binary.BigEndian.Uint16(rest[0:2])
			rest = rest[2:]

			ops := make([]nimbus.Operation, 0, opCount)
			for j := uint16(0); j < opCount; j++ {
				if len(rest) < 3 {
					return DecodedBatchIndexField{}, errors.Errorf("batch record %d op %d: truncated", i, j)
				}
				opType, particleType, nameLen := rest[0], rest[1], int(rest[2])
				rest = rest[3:]
				if len(rest) < nameLen+4 {
					return DecodedBatchIndexField{}, errors.Errorf("batch record %d op %d: truncated name/value", i, j)
				}
				name := string(rest[:nameLen])
				rest = rest[nameLen:]
				valLen := binary.BigEndian.Uint32(rest[0:4])
				rest = rest[4:]
				if uint64(valLen) > uint64(len(rest)) {
					return DecodedBatchIndexField{}, errors.Errorf("batch record %d op %d: truncated value", i, j)
				}
				val, err := DecodeValue(particleType, rest[:valLen])
				if err != nil {
					return DecodedBatchIndexField{}, errors.Wrapf(err, "batch record %d op %d", i, j)
				}
				rest = rest[valLen:]
				ops = append(ops, nimbus.Operation{Type: nimbus.OpType(opType), BinName: name, Value: val})
			}
			r.Ops = ops
			lastNS, lastSet, lastOps = r.Namespace, r.Set, r.Ops
		}

		out.Records = append(out.Records, r)
	}

	return out, nil
}
