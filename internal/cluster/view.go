// Package cluster sketches the cluster-view collaborator: a read-mostly
// table of nodes and per-namespace partition maps. Node discovery and
// tending (the background refresh loop) are explicitly out of this
// core's scope — View only defines the contract the router and retry
// driver consume, plus an in-memory implementation whose partition maps
// a caller (or a real tending loop) publishes.
package cluster

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// PartitionCount is the default number of routing partitions per
// namespace.
const PartitionCount = 4096

// Node is one server process this client can route to. Pool plumbing and
// capability-bit negotiation beyond what routing needs are out of scope;
// Node here is the thin shape the core actually consumes.
type Node struct {
	Name    string
	Address string
	Rack    int

	errorCount   atomic.Int64
	backoffUntil atomic.Int64 // unix nanos; 0 means not in backoff
}

// InBackoff reports whether the node is currently past its error-rate
// threshold — while true, the router rejects it with a backoff error.
func (n *Node) InBackoff(now time.Time) bool {
	until := n.backoffUntil.Load()
	return until != 0 && now.UnixNano() < until
}

// RecordError increments the node's error counter and, once threshold is
// crossed, opens a backoff window until now+window. Commands update the
// error counter and backoff-until timestamp on every outcome.
func (n *Node) RecordError(now time.Time, threshold int64, window time.Duration) {
	count := n.errorCount.Add(1)
	if count >= threshold {
		n.backoffUntil.Store(now.Add(window).UnixNano())
	}
}

// RecordSuccess resets the node's error counter, closing any backoff.
func (n *Node) RecordSuccess() {
	n.errorCount.Store(0)
	n.backoffUntil.Store(0)
}

// Partition is one routing bucket's replica list: index 0 is always the
// master during a stable view. Unavailable is set locally after a
// cluster-view change leaves this partition without a confirmed master.
type Partition struct {
	Replicas    []*Node
	Unavailable bool
}

// PartitionMap is one namespace's full P-entry routing table.
type PartitionMap struct {
	Namespace  string
	Partitions []Partition // length P
}

// Snapshot is an immutable, atomically-published view of every known
// namespace's partition map plus the node list. Publication is an atomic
// pointer-swap equivalent.
type Snapshot struct {
	Nodes      []*Node
	Namespaces map[string]*PartitionMap
}

// View is the contract the router and retry driver consume from the
// cluster-view collaborator.
type View interface {
	// Snapshot returns the currently published view. Successive calls
	// during one command's attempt sequence may observe different
	// snapshots only across retries, never mid-attempt.
	Snapshot() *Snapshot
	// HasPartitionQuery reports a cluster-wide capability bit.
	HasPartitionQuery() bool
	// RecoverConnection hands a connection that timed out locally to a
	// deferred-drain task instead of closing it outright. The core only
	// needs the hook to exist; the drain itself is pool plumbing and out
	// of scope.
	RecoverConnection(handle any)
}

// InMemoryView is a minimal, directly-publishable View implementation:
// a caller (or a real tending loop, external to this core) calls Publish
// with a new Snapshot and every router call thereafter observes it
// atomically.
type InMemoryView struct {
	snap               atomic.Pointer[Snapshot]
	hasPartitionQuery  bool
	mu                 sync.Mutex // not taken by any method; Publish is a single atomic Store
}

// NewInMemoryView returns a View with an empty initial snapshot.
func NewInMemoryView(hasPartitionQuery bool) *InMemoryView {
	v := &InMemoryView{hasPartitionQuery: hasPartitionQuery}
	v.snap.Store(&Snapshot{Namespaces: map[string]*PartitionMap{}})
	return v
}

// Publish atomically swaps in a new snapshot: single-writer (tending),
// multi-reader, an atomic pointer-swap equivalent.
func (v *InMemoryView) Publish(s *Snapshot) {
	v.snap.Store(s)
}

func (v *InMemoryView) Snapshot() *Snapshot { return v.snap.Load() }

func (v *InMemoryView) HasPartitionQuery() bool { return v.hasPartitionQuery }

func (v *InMemoryView) RecoverConnection(handle any) {
	// Deferred drain is pool plumbing, out of this core's scope; a real
	// deployment wires this to its connection pool's recovery queue.
}

// PartitionFor looks up a namespace's partition record by index.
func (s *Snapshot) PartitionFor(namespace string, partition int) (*Partition, error) {
	pm, ok := s.Namespaces[namespace]
	if !ok {
		return nil, errors.Errorf("namespace %q not found in partition map", namespace)
	}
	if partition < 0 || partition >= len(pm.Partitions) {
		return nil, errors.Errorf("partition %d out of range for namespace %q", partition, namespace)
	}
	return &pm.Partitions[partition], nil
}
