// Package batch implements a batch execution engine: grouping
// heterogeneous per-key operations by destination node, packing them
// into the wire's batch sub-framing with prefix-repeat, and
// reconstructing per-record results placed by original index.
package batch

import (
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
)

// Kind distinguishes the per-record operation inside a mixed batch of
// read/write/UDF/delete sub-records.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindDelete
	KindUDF
)

// Result is the outcome attached to one BatchRecord after execution.
type Result struct {
	Record     *nimbus.Record
	Err        error
	InDoubt    bool
	Responded  bool // false means this record never got a response — used by split-retry to preserve or clear in-doubt on migration
}

// Record is one per-key entry in a batch, heterogeneous across Kind.
type Record struct {
	Key      nimbus.Key
	Kind     Kind
	BinNames []string          // read: nil/empty means "all bins"
	Ops      []nimbus.Operation // write/UDF: the op list to execute
	Durable  bool               // delete: durable_delete info2 bit

	Result Result
}

// Node is the ephemeral per-attempt grouping of one destination node and
// the positions in the caller's record array that route to it under the
// partition map snapshot observed at the start of the attempt.
type Node struct {
	Node    *cluster.Node
	Offsets []int
}
