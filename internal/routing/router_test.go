package routing

import (
	"testing"
	"time"

	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/policy"
)

func viewWithPartition(part cluster.Partition) *cluster.InMemoryView {
	v := cluster.NewInMemoryView(false)
	partitions := make([]cluster.Partition, cluster.PartitionCount)
	partitions[0] = part
	v.Publish(&cluster.Snapshot{
		Namespaces: map[string]*cluster.PartitionMap{
			"test": {Namespace: "test", Partitions: partitions},
		},
	})
	return v
}

// keyForPartition0 returns a key whose digest routes to partition 0, the
// only partition viewWithPartition populates, by searching small integer
// user keys.
func keyForPartition0() nimbus.Key {
	for i := int64(0); ; i++ {
		k := nimbus.NewKey("test", "users", nimbus.IntValue(i))
		if k.Partition(cluster.PartitionCount) == 0 {
			return k
		}
	}
}

func TestRouteWriteAlwaysGoesToMaster(t *testing.T) {
	master := &cluster.Node{Name: "master"}
	replica := &cluster.Node{Name: "replica"}
	v := viewWithPartition(cluster.Partition{Replicas: []*cluster.Node{master, replica}})

	n, _, err := Route(v, keyForPartition0(), policy.ReplicaRandom, 0, 0, true)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if n != master {
		t.Errorf("write routed to %s, want master", n.Name)
	}
}

func TestRouteMasterInBackoffFails(t *testing.T) {
	master := &cluster.Node{Name: "master"}
	master.RecordError(time.Now(), 1, time.Hour)
	v := viewWithPartition(cluster.Partition{Replicas: []*cluster.Node{master}})

	_, _, err := Route(v, keyForPartition0(), policy.ReplicaMaster, 0, 0, false)
	if err != errs.ErrBackoff {
		t.Errorf("err = %v, want ErrBackoff", err)
	}
}

func TestRouteSequenceSkipsBackingOffReplica(t *testing.T) {
	master := &cluster.Node{Name: "master"}
	master.RecordError(time.Now(), 1, time.Hour)
	replica := &cluster.Node{Name: "replica"}
	v := viewWithPartition(cluster.Partition{Replicas: []*cluster.Node{master, replica}})

	n, _, err := Route(v, keyForPartition0(), policy.ReplicaSequence, 0, 0, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if n != replica {
		t.Errorf("routed to %s, want replica (master is backing off)", n.Name)
	}
}

func TestRouteSequenceAllBackingOffReturnsNoAvailableNode(t *testing.T) {
	n1 := &cluster.Node{Name: "n1"}
	n1.RecordError(time.Now(), 1, time.Hour)
	v := viewWithPartition(cluster.Partition{Replicas: []*cluster.Node{n1}})

	_, _, err := Route(v, keyForPartition0(), policy.ReplicaSequence, 0, 0, false)
	if err != errs.ErrNoAvailableNode {
		t.Errorf("err = %v, want ErrNoAvailableNode", err)
	}
}

func TestRoutePreferRackFallsBackToSequence(t *testing.T) {
	master := &cluster.Node{Name: "master", Rack: 1}
	replica := &cluster.Node{Name: "replica", Rack: 2}
	v := viewWithPartition(cluster.Partition{Replicas: []*cluster.Node{master, replica}})

	n, _, err := Route(v, keyForPartition0(), policy.ReplicaPreferRack, 0, 3, false)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if n != master {
		t.Errorf("routed to %s, want sequence fallback (master, rack 3 absent)", n.Name)
	}
}

func TestRouteUnavailablePartition(t *testing.T) {
	v := viewWithPartition(cluster.Partition{Unavailable: true, Replicas: []*cluster.Node{{Name: "master"}}})
	_, _, err := Route(v, keyForPartition0(), policy.ReplicaMaster, 0, 0, false)
	if err != errs.ErrInvalidNode {
		t.Errorf("err = %v, want ErrInvalidNode", err)
	}
}

func TestRouteUnknownNamespace(t *testing.T) {
	v := cluster.NewInMemoryView(false)
	key := nimbus.NewKey("missing", "users", nimbus.IntValue(1))
	_, _, err := Route(v, key, policy.ReplicaMaster, 0, 0, false)
	if err != errs.ErrInvalidNode {
		t.Errorf("err = %v, want ErrInvalidNode", err)
	}
}

func TestNodeBackoffRecovery(t *testing.T) {
	n := &cluster.Node{Name: "n"}
	now := time.Now()
	n.RecordError(now, 2, time.Hour)
	if n.InBackoff(now) {
		t.Fatal("node entered backoff after only 1 error with threshold 2")
	}
	n.RecordError(now, 2, time.Hour)
	if !n.InBackoff(now) {
		t.Fatal("node did not enter backoff after crossing threshold")
	}
	n.RecordSuccess()
	if n.InBackoff(now) {
		t.Fatal("RecordSuccess did not clear backoff")
	}
}
