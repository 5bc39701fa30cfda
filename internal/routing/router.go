// Package routing implements partition-aware node selection: given a
// key's digest and a replica policy, pick the master or a replica node,
// advancing sequence counters and respecting rack preference and node
// backoff state.
package routing

import (
	"math/rand"
	"sync/atomic"
	"time"

	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/policy"
)

// masterProlesCounter round-robins MASTER_PROLES reads process-wide
// across all live replicas.
var masterProlesCounter atomic.Uint64

// Route selects a node for key under the given replica policy. seq is the
// command's own AP/SC sequence counter, threaded through by value and
// returned updated so the caller can carry it to the next retry attempt.
// rackID is the caller's own rack, used only by ReplicaPreferRack.
func Route(view cluster.View, key nimbus.Key, repl policy.Replica, seq int, rackID int, forWrite bool) (*cluster.Node, int, error) {
	snap := view.Snapshot()
	partition := key.Partition(cluster.PartitionCount)

	part, err := snap.PartitionFor(key.Namespace, partition)
	if err != nil {
		return nil, seq, errs.ErrInvalidNode
	}

	if forWrite {
		return routeMaster(part)
	}

	switch repl {
	case policy.ReplicaMaster:
		return routeMaster(part)
	case policy.ReplicaMasterProles:
		return routeMasterProles(part)
	case policy.ReplicaSequence:
		return routeSequence(part, seq)
	case policy.ReplicaPreferRack:
		if n, s, err := routePreferRack(part, rackID); err == nil {
			return n, s, nil
		}
		return routeSequence(part, seq)
	case policy.ReplicaRandom:
		return routeRandom(part)
	default:
		return routeMaster(part)
	}
}

func routeMaster(part *cluster.Partition) (*cluster.Node, int, error) {
	if part.Unavailable {
		return nil, 0, errs.ErrInvalidNode
	}
	if len(part.Replicas) == 0 || part.Replicas[0] == nil {
		return nil, 0, errs.ErrNoAvailableNode
	}
	n := part.Replicas[0]
	if n.InBackoff(time.Now()) {
		return nil, 0, errs.ErrBackoff
	}
	return n, 0, nil
}

func routeMasterProles(part *cluster.Partition) (*cluster.Node, int, error) {
	live := liveReplicas(part)
	if len(live) == 0 {
		return nil, 0, errs.ErrNoAvailableNode
	}
	idx := int(masterProlesCounter.Add(1)) % len(live)
	return live[idx], idx, nil
}

func routeSequence(part *cluster.Partition, seq int) (*cluster.Node, int, error) {
	r := len(part.Replicas)
	if r == 0 {
		return nil, seq, errs.ErrNoAvailableNode
	}
	now := time.Now()
	for i := 0; i < r; i++ {
		idx := (seq + i) % r
		n := part.Replicas[idx]
		if n != nil && !n.InBackoff(now) {
			return n, seq + i, nil
		}
	}
	// Every replica has been tried and is either absent or backing off.
	// A singleton command's caller turns this into NoAvailableNode; a
	// batch caller instead triggers split-retry.
	return nil, seq + r, errs.ErrNoAvailableNode
}

func routePreferRack(part *cluster.Partition, rackID int) (*cluster.Node, int, error) {
	for i, n := range part.Replicas {
		if n != nil && n.Rack == rackID && !n.InBackoff(time.Now()) {
			return n, i, nil
		}
	}
	return nil, 0, errs.ErrNoAvailableNode
}

func routeRandom(part *cluster.Partition) (*cluster.Node, int, error) {
	live := liveReplicas(part)
	if len(live) == 0 {
		return nil, 0, errs.ErrNoAvailableNode
	}
	idx := rand.Intn(len(live))
	return live[idx], idx, nil
}

func liveReplicas(part *cluster.Partition) []*cluster.Node {
	now := time.Now()
	live := make([]*cluster.Node, 0, len(part.Replicas))
	for _, n := range part.Replicas {
		if n != nil && !n.InBackoff(now) {
			live = append(live, n)
		}
	}
	return live
}
