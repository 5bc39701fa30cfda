// Package particle implements msgpack encoding for the list and map
// particle types: bytes must encode and parse back exactly. Built on
// github.com/tinylib/msgp/msgp's runtime Writer/Reader rather than
// tinylib's usual generated-marshaler path, since these particles are
// caller-supplied []any/map[any]any values with no static Go struct to
// code-generate against.
package particle

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// EncodeList msgpack-encodes an ordered list particle.
func EncodeList(items []any) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := writeArray(w, items); err != nil {
		return nil, errors.Wrap(err, "encode list particle")
	}
	if err := w.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush list particle")
	}
	return buf.Bytes(), nil
}

// DecodeList parses a msgpack-encoded list particle.
func DecodeList(b []byte) ([]any, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	v, err := readValue(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode list particle")
	}
	lst, ok := v.([]any)
	if !ok {
		return nil, errors.New("decode list particle: not an array")
	}
	return lst, nil
}

// EncodeMap msgpack-encodes a map particle. The map header is a plain
// msgpack entry count: no sorted-map order bits are written into it. This
// encoder writes entries in a stable, sorted-by-key string representation
// so repeated encodes of the same map are byte-identical.
func EncodeMap(m map[any]any) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := writeMap(w, m); err != nil {
		return nil, errors.Wrap(err, "encode map particle")
	}
	if err := w.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush map particle")
	}
	return buf.Bytes(), nil
}

// DecodeMap parses a msgpack-encoded map particle.
func DecodeMap(b []byte) (map[any]any, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	v, err := readValue(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode map particle")
	}
	mp, ok := v.(map[any]any)
	if !ok {
		return nil, errors.New("decode map particle: not a map")
	}
	return mp, nil
}

func writeArray(w *msgp.Writer, items []any) error {
	if err := w.WriteArrayHeader(uint32(len(items))); err != nil {
		return err
	}
	for _, it := range items {
		if err := writeValue(w, it); err != nil {
			return err
		}
	}
	return nil
}

func writeMap(w *msgp.Writer, m map[any]any) error {
	if err := w.WriteMapHeader(uint32(len(m))); err != nil {
		return err
	}
	keys := sortedKeys(m)
	for _, k := range keys {
		if err := writeValue(w, k); err != nil {
			return err
		}
		if err := writeValue(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys orders map keys by their string form so EncodeMap is
// deterministic across calls.
func sortedKeys(m map[any]any) []any {
	keys := make([]any, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keyLess(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func keyLess(a, b any) bool {
	return toSortString(a) < toSortString(b)
}

func toSortString(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func writeValue(w *msgp.Writer, v any) error {
	switch t := v.(type) {
	case nil:
		return w.WriteNil()
	case int64:
		return w.WriteInt64(t)
	case int:
		return w.WriteInt64(int64(t))
	case float64:
		return w.WriteFloat64(t)
	case string:
		return w.WriteString(t)
	case []byte:
		return w.WriteBytes(t)
	case bool:
		return w.WriteBool(t)
	case []any:
		return writeArray(w, t)
	case map[any]any:
		return writeMap(w, t)
	default:
		return errors.Errorf("unsupported particle element type %T", v)
	}
}

func readValue(r *msgp.Reader) (any, error) {
	t, err := r.NextType()
	if err != nil {
		return nil, err
	}
	switch t {
	case msgp.NilType:
		return nil, r.ReadNil()
	case msgp.IntType, msgp.UintType:
		v, err := r.ReadInt64()
		return v, err
	case msgp.Float64Type, msgp.Float32Type:
		v, err := r.ReadFloat64()
		return v, err
	case msgp.StrType:
		v, err := r.ReadString()
		return v, err
	case msgp.BinType:
		v, err := r.ReadBytes(nil)
		return v, err
	case msgp.BoolType:
		v, err := r.ReadBool()
		return v, err
	case msgp.ArrayType:
		n, err := r.ReadArrayHeader()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := uint32(0); i < n; i++ {
			out[i], err = readValue(r)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	case msgp.MapType:
		n, err := r.ReadMapHeader()
		if err != nil {
			return nil, err
		}
		out := make(map[any]any, n)
		for i := uint32(0); i < n; i++ {
			k, err := readValue(r)
			if err != nil {
				return nil, err
			}
			v, err := readValue(r)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, errors.Errorf("unsupported msgpack type %v", t)
	}
}
