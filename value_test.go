package nimbus

import "testing"

func TestValueAccessors(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", NilValue(), "<nil>"},
		{"int", IntValue(42), "42"},
		{"double", DoubleValue(3.5), "3.5"},
		{"string", StringValue("hello"), "hello"},
		{"bool", BoolValue(true), "true"},
		{"blob", BlobValue([]byte("abc")), "blob(3 bytes)"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.String(); got != c.want {
				t.Errorf("String() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestValueIsNil(t *testing.T) {
	if !NilValue().IsNil() {
		t.Error("NilValue().IsNil() = false, want true")
	}
	if IntValue(0).IsNil() {
		t.Error("IntValue(0).IsNil() = true, want false")
	}
}

func TestKeyDigestStable(t *testing.T) {
	k1 := NewKey("test", "users", StringValue("alice"))
	k2 := NewKey("test", "users", StringValue("alice"))
	if k1.Digest() != k2.Digest() {
		t.Error("NewKey produced different digests for identical inputs")
	}

	k3 := NewKey("test", "users", StringValue("bob"))
	if k1.Digest() == k3.Digest() {
		t.Error("NewKey produced the same digest for different user keys")
	}
}

func TestKeyDigestVariesBySet(t *testing.T) {
	a := NewKey("test", "users", IntValue(1))
	b := NewKey("test", "orders", IntValue(1))
	if a.Digest() == b.Digest() {
		t.Error("keys with different sets collided on digest")
	}
}

func TestKeyFromDigestRoundTrip(t *testing.T) {
	orig := NewKey("test", "users", IntValue(7))
	reconstructed := NewKeyFromDigest("test", "users", orig.Digest())
	if reconstructed.Digest() != orig.Digest() {
		t.Error("NewKeyFromDigest did not preserve the digest")
	}
}

func TestKeyPartitionInRange(t *testing.T) {
	const partitions = 4096
	k := NewKey("test", "users", StringValue("alice"))
	p := k.Partition(partitions)
	if p < 0 || p >= partitions {
		t.Errorf("Partition() = %d, out of range [0, %d)", p, partitions)
	}
}

func TestKeyDigestBytesPanicsOnInvalidType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewKey with a list user key did not panic")
		}
	}()
	NewKey("test", "users", ListValue([]any{1, 2, 3}))
}

func TestNewBinWrapsRawTypes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want ParticleType
	}{
		{"int", 7, ParticleInt},
		{"int64", int64(7), ParticleInt},
		{"float64", 1.5, ParticleDouble},
		{"string", "hi", ParticleUTF8},
		{"bytes", []byte("hi"), ParticleBlob},
		{"bool", true, ParticleBool},
		{"nil", nil, ParticleNil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := NewBin("f", c.in)
			if b.Value.Type != c.want {
				t.Errorf("NewBin(%v).Value.Type = %v, want %v", c.in, b.Value.Type, c.want)
			}
		})
	}
}

func TestRecordBinLookup(t *testing.T) {
	r := &Record{Bins: map[string]Value{"age": IntValue(30)}}
	if got := r.Bin("age").AsInt64(); got != 30 {
		t.Errorf("Bin(\"age\").AsInt64() = %d, want 30", got)
	}
	if got := r.Bin("missing"); !got.IsNil() {
		t.Errorf("Bin(\"missing\") = %v, want nil value", got)
	}
}

func TestRecordBinLookupOnNilRecord(t *testing.T) {
	var r *Record
	if got := r.Bin("age"); !got.IsNil() {
		t.Errorf("Bin on nil Record = %v, want nil value", got)
	}
}
