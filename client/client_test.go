package client

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

// scriptedConn serves one pre-built response frame and discards whatever
// is written to it.
type scriptedConn struct {
	toRead *bytes.Reader
}

func conn(resultCode wire.ResultCode, ops ...func(b *wire.Builder)) *scriptedConn {
	b := wire.NewBuilder()
	b.Begin(wire.Header{ResultCode: uint8(resultCode), Generation: 1})
	for _, op := range ops {
		op(b)
	}
	frame := b.End()
	return &scriptedConn{toRead: bytes.NewReader(frame)}
}

func (c *scriptedConn) Write(buf []byte, deadline time.Time) error { return nil }
func (c *scriptedConn) ReadFull(n int, deadline time.Time) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(c.toRead, out); err != nil {
		return nil, err
	}
	return out, nil
}
func (c *scriptedConn) Close() error        { return nil }
func (c *scriptedConn) UpdateLastUsed()     {}
func (c *scriptedConn) NodeAddress() string { return "scripted" }

func singleNodeView(node *cluster.Node) *cluster.InMemoryView {
	partitions := make([]cluster.Partition, cluster.PartitionCount)
	for i := range partitions {
		partitions[i] = cluster.Partition{Replicas: []*cluster.Node{node}}
	}
	v := cluster.NewInMemoryView(false)
	v.Publish(&cluster.Snapshot{
		Namespaces: map[string]*cluster.PartitionMap{
			"test": {Namespace: "test", Partitions: partitions},
		},
	})
	return v
}

func withBinOp(binName string, val nimbus.Value) func(b *wire.Builder) {
	return func(b *wire.Builder) {
		pt, payload, err := wire.EncodeValue(val)
		if err != nil {
			panic(err)
		}
		if err := b.WriteRawOperation(uint8(nimbus.OpRead), pt, binName, payload); err != nil {
			panic(err)
		}
	}
}

func newTestClient(c *scriptedConn) *Client {
	view := singleNodeView(&cluster.Node{Name: "n1"})
	dial := func(node *cluster.Node, deadline time.Time) (netconn.Conn, error) { return c, nil }
	release := func(conn netconn.Conn, healthy bool) {}
	return New(view, dial, release)
}

func TestClientGetHappyPath(t *testing.T) {
	c := newTestClient(conn(wire.ResultOK, withBinOp("age", nimbus.IntValue(30))))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	rec, err := c.Get(key, nil, policy.DefaultReadPolicy())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Bin("age").AsInt64() != 30 {
		t.Errorf("Bin(\"age\") = %v, want 30", rec.Bin("age"))
	}
}

func TestClientGetMissingKey(t *testing.T) {
	c := newTestClient(conn(wire.ResultKeyNotFound))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	rec, err := c.Get(key, nil, policy.DefaultReadPolicy())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("Get on missing key = %v, want nil", rec)
	}
}

func TestClientPutHappyPath(t *testing.T) {
	c := newTestClient(conn(wire.ResultOK))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	err := c.Put(key, []nimbus.Bin{nimbus.NewBin("age", 30)}, policy.DefaultWritePolicy())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestClientPutGenerationMismatch(t *testing.T) {
	c := newTestClient(conn(wire.ResultGenerationError))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	pol := policy.DefaultWritePolicy()
	pol.GenPolicy = policy.GenerationExpectEqual
	pol.Generation = 5
	err := c.Put(key, []nimbus.Bin{nimbus.NewBin("age", 30)}, pol)
	if err == nil {
		t.Fatal("Put with stale generation = nil error, want a generation mismatch")
	}
}

func TestClientDeleteOnMissingKey(t *testing.T) {
	c := newTestClient(conn(wire.ResultKeyNotFound))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	existed, err := c.Delete(key, policy.DefaultWritePolicy())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Error("Delete on a missing key reported existed=true")
	}
}

func TestClientDeleteExisting(t *testing.T) {
	c := newTestClient(conn(wire.ResultOK))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	existed, err := c.Delete(key, policy.DefaultWritePolicy())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("Delete on an existing key reported existed=false")
	}
}

func TestClientExists(t *testing.T) {
	c := newTestClient(conn(wire.ResultOK))
	key := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	exists, err := c.Exists(key, policy.DefaultReadPolicy())
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists on an existing key reported false")
	}
}

func TestOpsContainWrite(t *testing.T) {
	readOnly := []nimbus.Operation{nimbus.GetOp("a")}
	if opsContainWrite(readOnly) {
		t.Error("opsContainWrite(read-only ops) = true")
	}
	withWrite := []nimbus.Operation{nimbus.GetOp("a"), nimbus.PutOp(nimbus.NewBin("b", 1))}
	if !opsContainWrite(withWrite) {
		t.Error("opsContainWrite(ops including a write) = false")
	}
}
