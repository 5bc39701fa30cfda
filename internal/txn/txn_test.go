package txn

import (
	"bytes"
	"io"
	"testing"
	"time"

	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/netconn"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// okConn always serves a single OK-result frame with no fields/ops,
// regardless of what was written to it — sufficient for every
// transaction step, which only checks the result code.
type okConn struct {
	toRead *bytes.Reader
}

func newOKConn() *okConn {
	b := wire.NewBuilder()
	b.Begin(wire.Header{ResultCode: uint8(wire.ResultOK)})
	frame := b.End()
	return &okConn{toRead: bytes.NewReader(frame)}
}

func (c *okConn) Write(buf []byte, deadline time.Time) error { return nil }
func (c *okConn) ReadFull(n int, deadline time.Time) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(c.toRead, out); err != nil {
		return nil, err
	}
	return out, nil
}
func (c *okConn) Close() error        { return nil }
func (c *okConn) UpdateLastUsed()     {}
func (c *okConn) NodeAddress() string { return "ok" }

func singleNodeView(ns string, node *cluster.Node) *cluster.InMemoryView {
	partitions := make([]cluster.Partition, cluster.PartitionCount)
	for i := range partitions {
		partitions[i] = cluster.Partition{Replicas: []*cluster.Node{node}}
	}
	v := cluster.NewInMemoryView(false)
	v.Publish(&cluster.Snapshot{
		Namespaces: map[string]*cluster.PartitionMap{
			ns: {Namespace: ns, Partitions: partitions},
		},
	})
	return v
}

func alwaysOKDialer() (func(*cluster.Node, time.Time) (netconn.Conn, error), func(netconn.Conn, bool)) {
	dial := func(node *cluster.Node, deadline time.Time) (netconn.Conn, error) {
		return newOKConn(), nil
	}
	release := func(conn netconn.Conn, healthy bool) {}
	return dial, release
}

func TestNewGeneratesDistinctIDs(t *testing.T) {
	t1 := New("test", 0)
	t2 := New("test", 0)
	if t1.ID == t2.ID {
		t.Error("New() produced the same transaction ID twice")
	}
}

func TestNewWithoutDeadlineLeavesDeadlineZero(t *testing.T) {
	tx := New("test", 0)
	if !tx.Deadline.IsZero() {
		t.Errorf("Deadline = %v, want zero", tx.Deadline)
	}
}

func TestTrackReadIgnoresRecordsWithoutVersion(t *testing.T) {
	tx := New("test", 0)
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	tx.TrackRead(key, &nimbus.Record{HasVersion: false})
	tx.mu.Lock()
	n := len(tx.reads)
	tx.mu.Unlock()
	if n != 0 {
		t.Errorf("tracked %d reads, want 0 (no version present)", n)
	}
}

func TestCommitHappyPath(t *testing.T) {
	node := &cluster.Node{Name: "n1"}
	view := singleNodeView("test", node)
	dial, release := alwaysOKDialer()

	tx := New("test", 0)
	readKey := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	writeKey := nimbus.NewKey("test", "users", nimbus.IntValue(2))

	var version [wire.RecordVersionSize]byte
	version[0] = 1
	tx.TrackRead(readKey, &nimbus.Record{HasVersion: true, Version: version})
	tx.TrackWrite(writeKey, []nimbus.Operation{nimbus.PutOp(nimbus.NewBin("age", 31))})

	pol := policy.DefaultTxnPolicy()
	if err := tx.Commit(view, pol, dial, release); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !tx.Closed {
		t.Error("Commit succeeded but Txn.Closed is false")
	}
}

func TestAbortHappyPath(t *testing.T) {
	node := &cluster.Node{Name: "n1"}
	view := singleNodeView("test", node)
	dial, release := alwaysOKDialer()

	tx := New("test", 0)
	writeKey := nimbus.NewKey("test", "users", nimbus.IntValue(2))
	tx.TrackWrite(writeKey, []nimbus.Operation{nimbus.PutOp(nimbus.NewBin("age", 31))})

	pol := policy.DefaultTxnPolicy()
	if err := tx.Abort(view, pol, dial, release); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !tx.Closed {
		t.Error("Abort succeeded but Txn.Closed is false")
	}
}

func TestMonitorKeyUsesDedicatedSet(t *testing.T) {
	tx := New("test", 0)
	key := tx.monitorKey()
	if key.Set != monitorSet {
		t.Errorf("monitor key set = %q, want %q", key.Set, monitorSet)
	}
}
