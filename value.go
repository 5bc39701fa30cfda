package nimbus

import "fmt"

// ParticleType is the one-byte wire tag for a Value's on-wire representation.
type ParticleType uint8

// Particle types, matching the server's wire encoding.
const (
	ParticleNil     ParticleType = 0
	ParticleInt     ParticleType = 1
	ParticleDouble  ParticleType = 2
	ParticleUTF8    ParticleType = 3
	ParticleBlob    ParticleType = 4
	ParticleList    ParticleType = 20
	ParticleMap     ParticleType = 19
	ParticleGeoJSON ParticleType = 23
	ParticleHLL     ParticleType = 18
	ParticleBool    ParticleType = 17
)

// Value is a tagged union over the value kinds the wire protocol carries in
// a bin. Exactly one of the typed fields is meaningful for a given Type.
type Value struct {
	Type ParticleType

	i   int64
	f   float64
	s   string
	b   []byte
	bl  bool
	lst []any
	mp  map[any]any
}

// NilValue returns the Value representing an absent bin value.
func NilValue() Value { return Value{Type: ParticleNil} }

// IntValue wraps an int64.
func IntValue(v int64) Value { return Value{Type: ParticleInt, i: v} }

// DoubleValue wraps a float64.
func DoubleValue(v float64) Value { return Value{Type: ParticleDouble, f: v} }

// StringValue wraps a UTF8 string.
func StringValue(v string) Value { return Value{Type: ParticleUTF8, s: v} }

// BlobValue wraps an opaque byte slice.
func BlobValue(v []byte) Value { return Value{Type: ParticleBlob, b: v} }

// BoolValue wraps a bool.
func BoolValue(v bool) Value { return Value{Type: ParticleBool, bl: v} }

// ListValue wraps an ordered list particle, msgpack-encoded on the wire.
func ListValue(v []any) Value { return Value{Type: ParticleList, lst: v} }

// MapValue wraps a map particle, msgpack-encoded on the wire as a plain
// msgpack map; no sorted-map order bits are written (see
// internal/wire/particle).
func MapValue(v map[any]any) Value { return Value{Type: ParticleMap, mp: v} }

// GeoJSONValue wraps a GeoJSON string particle.
func GeoJSONValue(v string) Value { return Value{Type: ParticleGeoJSON, s: v} }

// HLLValue wraps an HyperLogLog blob particle.
func HLLValue(v []byte) Value { return Value{Type: ParticleHLL, b: v} }

// AsInt64 returns the wrapped int64, or 0 if the Value is not an int.
func (v Value) AsInt64() int64 { return v.i }

// AsFloat64 returns the wrapped float64.
func (v Value) AsFloat64() float64 { return v.f }

// AsString returns the wrapped string (also used for GeoJSON particles).
func (v Value) AsString() string { return v.s }

// AsBytes returns the wrapped byte slice (also used for HLL particles).
func (v Value) AsBytes() []byte { return v.b }

// AsBool returns the wrapped bool.
func (v Value) AsBool() bool { return v.bl }

// AsList returns the wrapped list.
func (v Value) AsList() []any { return v.lst }

// AsMap returns the wrapped map.
func (v Value) AsMap() map[any]any { return v.mp }

// IsNil reports whether this Value carries no data.
func (v Value) IsNil() bool { return v.Type == ParticleNil }

func (v Value) String() string {
	switch v.Type {
	case ParticleNil:
		return "<nil>"
	case ParticleInt:
		return fmt.Sprintf("%d", v.i)
	case ParticleDouble:
		return fmt.Sprintf("%g", v.f)
	case ParticleUTF8, ParticleGeoJSON:
		return v.s
	case ParticleBool:
		return fmt.Sprintf("%t", v.bl)
	case ParticleBlob, ParticleHLL:
		return fmt.Sprintf("blob(%d bytes)", len(v.b))
	case ParticleList:
		return fmt.Sprintf("%v", v.lst)
	case ParticleMap:
		return fmt.Sprintf("%v", v.mp)
	default:
		return "<unknown>"
	}
}

// typeTag is the single byte folded into a key's routing digest:
// digest = RIPEMD160(set || userKey-type-tag || userKey-bytes).
func (v Value) typeTag() byte { return byte(v.Type) }

// digestBytes returns the canonical byte representation of a user key's
// value used in digest computation. Only the particle types the server
// accepts as a record key (int, string, blob) are meaningful keys; other
// types panic, mirroring the source client's key-construction validation.
func (v Value) digestBytes() []byte {
	switch v.Type {
	case ParticleInt:
		buf := make([]byte, 8)
		u := uint64(v.i)
		for i := 7; i >= 0; i-- {
			buf[i] = byte(u)
			u >>= 8
		}
		return buf
	case ParticleUTF8:
		return []byte(v.s)
	case ParticleBlob:
		return v.b
	default:
		panic(fmt.Sprintf("value type %d is not valid as a record key", v.Type))
	}
}
