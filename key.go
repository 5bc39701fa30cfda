package nimbus

import (
	"fmt"

	"golang.org/x/crypto/ripemd160"
)

// DigestSize is the length in bytes of a Key's routing digest.
const DigestSize = 20

// Key identifies a single record. Keys are immutable once constructed and
// are caller-owned.
type Key struct {
	Namespace string
	Set       string
	UserKey   Value
	digest    [DigestSize]byte
}

// NewKey builds a Key and computes its routing digest. userKey must be one
// of the particle types valid as a record key (int, string or blob); any
// other type panics, matching the value-level validation in value.go.
func NewKey(namespace, set string, userKey Value) Key {
	k := Key{Namespace: namespace, Set: set, UserKey: userKey}
	k.digest = computeDigest(set, userKey)
	return k
}

// NewKeyFromDigest builds a Key from an already-known digest, bypassing
// local hashing. Used when a server response hands back a digest directly
// (e.g. a batch mini-record) without the original user key bytes.
func NewKeyFromDigest(namespace, set string, digest [DigestSize]byte) Key {
	return Key{Namespace: namespace, Set: set, digest: digest}
}

// Digest returns the 20-byte RIPEMD-160 routing token.
func (k Key) Digest() [DigestSize]byte { return k.digest }

// Partition computes the routing partition for a given partition count P:
// partition = little_endian_u32(digest[0:4]) % P.
func (k Key) Partition(p int) int {
	return int(partitionOf(k.digest, p))
}

func partitionOf(digest [DigestSize]byte, p int) uint32 {
	v := uint32(digest[0]) | uint32(digest[1])<<8 | uint32(digest[2])<<16 | uint32(digest[3])<<24
	return v % uint32(p)
}

// computeDigest hashes set || userKey-type-tag || userKey-bytes with
// RIPEMD-160 (set is folded in length-prefixed, one byte, ahead of the
// type tag). This is the sole routing token — it must be bit-exact with
// the server's own digest computation.
func computeDigest(set string, userKey Value) [DigestSize]byte {
	h := ripemd160.New()
	h.Write([]byte{byte(len(set))})
	h.Write([]byte(set))
	h.Write([]byte{userKey.typeTag()})
	h.Write(userKey.digestBytes())

	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%x", k.Namespace, k.Set, k.digest)
}
