package batch

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/netconn"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// bufConn is a netconn.Conn backed by an in-memory read buffer, letting a
// test script exactly the bytes a node would have sent back.
type bufConn struct {
	toRead *bytes.Reader
	wrote  [][]byte
}

func (c *bufConn) Write(buf []byte, deadline time.Time) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.wrote = append(c.wrote, cp)
	return nil
}

func (c *bufConn) ReadFull(n int, deadline time.Time) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(c.toRead, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *bufConn) Close() error          { return nil }
func (c *bufConn) UpdateLastUsed()       {}
func (c *bufConn) NodeAddress() string   { return "buf" }

// buildRow encodes one batch response mini-record: a BATCH_INDEX field
// carrying only the original index, the OK result code, and (for a read)
// the requested bin's value as an operation.
func buildRow(t *testing.T, b *wire.Builder, originalIndex uint32, last bool, binName string, val nimbus.Value) []byte {
	t.Helper()
	b.Reset()
	info3 := uint8(0)
	if last {
		info3 |= wire.Info3Last
	}
	b.Begin(wire.Header{Info3: info3, ResultCode: uint8(wire.ResultOK)})
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, originalIndex)
	b.WriteField(wire.FieldBatchIndex, idx)
	if binName != "" {
		pt, payload, err := wire.EncodeValue(val)
		if err != nil {
			t.Fatalf("EncodeValue: %v", err)
		}
		if err := b.WriteRawOperation(uint8(nimbus.OpRead), pt, binName, payload); err != nil {
			t.Fatalf("WriteRawOperation: %v", err)
		}
	}
	return b.End()
}

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

func TestExecuteSingleNodeTwoReads(t *testing.T) {
	node := &cluster.Node{Name: "n1"}
	view := singleNodeView(node)

	k1 := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	k2 := nimbus.NewKey("test", "users", nimbus.IntValue(2))
	records := []*Record{
		{Key: k1, Kind: KindRead, BinNames: []string{"age"}},
		{Key: k2, Kind: KindRead, BinNames: []string{"age"}},
	}

	b := wire.NewBuilder()
	var respBuf bytes.Buffer
	respBuf.Write(buildRow(t, b, 0, false, "age", nimbus.IntValue(10)))
	respBuf.Write(buildRow(t, b, 1, true, "age", nimbus.IntValue(20)))

	conn := &bufConn{toRead: bytes.NewReader(respBuf.Bytes())}
	dial := func(n *cluster.Node, deadline time.Time) (netconn.Conn, error) { return conn, nil }
	release := func(c netconn.Conn, healthy bool) {}

	pol := policy.DefaultBatchPolicy()
	if err := Execute(view, records, pol, dial, release); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !records[0].Result.Responded || records[0].Result.Err != nil {
		t.Fatalf("record 0 result = %+v", records[0].Result)
	}
	if records[0].Result.Record.Bin("age").AsInt64() != 10 {
		t.Errorf("record 0 age = %v, want 10", records[0].Result.Record.Bin("age"))
	}
	if !records[1].Result.Responded || records[1].Result.Err != nil {
		t.Fatalf("record 1 result = %+v", records[1].Result)
	}
	if records[1].Result.Record.Bin("age").AsInt64() != 20 {
		t.Errorf("record 1 age = %v, want 20", records[1].Result.Record.Bin("age"))
	}
}

func TestExecuteEmptyRecordsIsNoop(t *testing.T) {
	view := singleNodeView(&cluster.Node{Name: "n1"})
	if err := Execute(view, nil, policy.DefaultBatchPolicy(), nil, nil); err != nil {
		t.Fatalf("Execute(nil records) = %v, want nil", err)
	}
}

// buildErrRow is buildRow but with an arbitrary, non-OK result code.
func buildErrRow(t *testing.T, b *wire.Builder, originalIndex uint32, last bool, resultCode wire.ResultCode) []byte {
	t.Helper()
	b.Reset()
	info3 := uint8(0)
	if last {
		info3 |= wire.Info3Last
	}
	b.Begin(wire.Header{Info3: info3, ResultCode: uint8(resultCode)})
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, originalIndex)
	b.WriteField(wire.FieldBatchIndex, idx)
	return b.End()
}

func TestExecuteRespondAllKeysFalseFailsFastOnRowError(t *testing.T) {
	node := &cluster.Node{Name: "n1"}
	view := singleNodeView(node)

	k1 := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	k2 := nimbus.NewKey("test", "users", nimbus.IntValue(2))
	records := []*Record{
		{Key: k1, Kind: KindRead, BinNames: []string{"age"}},
		{Key: k2, Kind: KindRead, BinNames: []string{"age"}},
	}

	b := wire.NewBuilder()
	var respBuf bytes.Buffer
	respBuf.Write(buildErrRow(t, b, 0, false, wire.ResultGenerationError))
	respBuf.Write(buildRow(t, b, 1, true, "age", nimbus.IntValue(20)))

	conn := &bufConn{toRead: bytes.NewReader(respBuf.Bytes())}
	dial := func(n *cluster.Node, deadline time.Time) (netconn.Conn, error) { return conn, nil }
	release := func(c netconn.Conn, healthy bool) {}

	pol := policy.DefaultBatchPolicy()
	pol.RespondAllKeys = false
	if err := Execute(view, records, pol, dial, release); err == nil {
		t.Fatal("Execute with RespondAllKeys=false should fail fast on a row error")
	}
}

func TestExecuteRespondAllKeysTrueCollectsRowErrors(t *testing.T) {
	node := &cluster.Node{Name: "n1"}
	view := singleNodeView(node)

	k1 := nimbus.NewKey("test", "users", nimbus.IntValue(1))
	k2 := nimbus.NewKey("test", "users", nimbus.IntValue(2))
	records := []*Record{
		{Key: k1, Kind: KindRead, BinNames: []string{"age"}},
		{Key: k2, Kind: KindRead, BinNames: []string{"age"}},
	}

	b := wire.NewBuilder()
	var respBuf bytes.Buffer
	respBuf.Write(buildErrRow(t, b, 0, false, wire.ResultGenerationError))
	respBuf.Write(buildRow(t, b, 1, true, "age", nimbus.IntValue(20)))

	conn := &bufConn{toRead: bytes.NewReader(respBuf.Bytes())}
	dial := func(n *cluster.Node, deadline time.Time) (netconn.Conn, error) { return conn, nil }
	release := func(c netconn.Conn, healthy bool) {}

	pol := policy.DefaultBatchPolicy() // RespondAllKeys: true
	if err := Execute(view, records, pol, dial, release); err != nil {
		t.Fatalf("Execute with RespondAllKeys=true should collect, not fail: %v", err)
	}
	if !records[0].Result.Responded {
		t.Fatalf("record 0 result = %+v, want Responded", records[0].Result)
	}
	if records[1].Result.Err != nil {
		t.Errorf("record 1 result = %+v, want no error", records[1].Result)
	}
}
