package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/wire/particle"
)

// EncodeValue returns the on-wire particle type byte and payload for v.
func EncodeValue(v nimbus.Value) (particleType uint8, payload []byte, err error) {
	switch v.Type {
	case nimbus.ParticleNil:
		return uint8(nimbus.ParticleNil), nil, nil
	case nimbus.ParticleInt:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v.AsInt64()))
		return uint8(nimbus.ParticleInt), buf, nil
	case nimbus.ParticleDouble:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.AsFloat64()))
		return uint8(nimbus.ParticleDouble), buf, nil
	case nimbus.ParticleUTF8:
		return uint8(nimbus.ParticleUTF8), []byte(v.AsString()), nil
	case nimbus.ParticleGeoJSON:
		return uint8(nimbus.ParticleGeoJSON), []byte(v.AsString()), nil
	case nimbus.ParticleBlob, nimbus.ParticleHLL:
		return uint8(v.Type), v.AsBytes(), nil
	case nimbus.ParticleBool:
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		return uint8(nimbus.ParticleBool), []byte{b}, nil
	case nimbus.ParticleList:
		buf, err := particle.EncodeList(v.AsList())
		return uint8(nimbus.ParticleList), buf, err
	case nimbus.ParticleMap:
		buf, err := particle.EncodeMap(v.AsMap())
		return uint8(nimbus.ParticleMap), buf, err
	default:
		return 0, nil, errors.Errorf("unsupported value type %d", v.Type)
	}
}

// DecodeValue reconstructs a nimbus.Value from its on-wire particle type
// and payload.
func DecodeValue(particleType uint8, payload []byte) (nimbus.Value, error) {
	switch nimbus.ParticleType(particleType) {
	case nimbus.ParticleNil:
		return nimbus.NilValue(), nil
	case nimbus.ParticleInt:
		if len(payload) != 8 {
			return nimbus.Value{}, errors.Wrap(errs.ErrParse, "int particle: expected 8 bytes")
		}
		return nimbus.IntValue(int64(binary.BigEndian.Uint64(payload))), nil
	case nimbus.ParticleDouble:
		if len(payload) != 8 {
			return nimbus.Value{}, errors.Wrap(errs.ErrParse, "double particle: expected 8 bytes")
		}
		return nimbus.DoubleValue(math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case nimbus.ParticleUTF8:
		return nimbus.StringValue(string(payload)), nil
	case nimbus.ParticleGeoJSON:
		return nimbus.GeoJSONValue(string(payload)), nil
	case nimbus.ParticleBlob:
		return nimbus.BlobValue(payload), nil
	case nimbus.ParticleHLL:
		return nimbus.HLLValue(payload), nil
	case nimbus.ParticleBool:
		if len(payload) != 1 {
			return nimbus.Value{}, errors.Wrap(errs.ErrParse, "bool particle: expected 1 byte")
		}
		return nimbus.BoolValue(payload[0] != 0), nil
	case nimbus.ParticleList:
		lst, err := particle.DecodeList(payload)
		if err != nil {
			return nimbus.Value{}, errors.Wrap(errs.ErrParse, err.Error())
		}
		return nimbus.ListValue(lst), nil
	case nimbus.ParticleMap:
		mp, err := particle.DecodeMap(payload)
		if err != nil {
			return nimbus.Value{}, errors.Wrap(errs.ErrParse, err.Error())
		}
		return nimbus.MapValue(mp), nil
	default:
		return nimbus.Value{}, errors.Wrapf(errs.ErrParse, "unsupported particle type %d", particleType)
	}
}

// WriteOperation encodes one Operation onto the builder.
func WriteOperation(b *Builder, op nimbus.Operation) error {
	particleType, payload, err := EncodeValue(op.Value)
	if err != nil {
		return errors.Wrapf(err, "encode operation on bin %q", op.BinName)
	}
	return b.WriteRawOperation(uint8(op.Type), particleType, op.BinName, payload)
}
