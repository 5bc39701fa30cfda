// Package client sketches the command API a fluent, ergonomic wrapper
// would sit on top of: one call per operation kind, each driven through
// internal/retry's attempt loop against internal/cluster's routing
// contract. It deliberately stays a thin pass-through — argument
// validation, connection-pool wiring, and a richer fluent surface belong
// to a layer above this core.
package client

import (
	"time"

	"github.com/pkg/errors"
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/batch"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/netconn"
	"github.com/skshohagmiah/nimbus/internal/retry"
	"github.com/skshohagmiah/nimbus/internal/routing"
	"github.com/skshohagmiah/nimbus/internal/txn"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// Client is the thin command-level entry point: one cluster view plus
// the dial/release pair a caller's connection pool provides.
type Client struct {
	view    cluster.View
	dial    retry.Dialer
	release retry.Releaser
}

// New builds a Client over view, acquiring and releasing connections
// through dial/release.
func New(view cluster.View, dial retry.Dialer, release retry.Releaser) *Client {
	return &Client{view: view, dial: dial, release: release}
}

// Get reads a record by key, optionally restricted to binNames (nil
// means every bin).
func (c *Client) Get(key nimbus.Key, binNames []string, pol policy.ReadPolicy) (*nimbus.Record, error) {
	cmd := &readCommand{key: key, binNames: binNames, pol: pol}
	if err := c.run(cmd, pol.BasePolicy); err != nil {
		return nil, err
	}
	return cmd.result, nil
}

// Exists checks for a key's presence without transferring bin data.
func (c *Client) Exists(key nimbus.Key, pol policy.ReadPolicy) (bool, error) {
	cmd := &existsCommand{key: key, pol: pol}
	if err := c.run(cmd, pol.BasePolicy); err != nil {
		return false, err
	}
	return cmd.exists, nil
}

// Put writes bins to a key, always routed to the partition's master.
func (c *Client) Put(key nimbus.Key, bins []nimbus.Bin, pol policy.WritePolicy) error {
	cmd := &writeCommand{key: key, bins: bins, pol: pol}
	return c.run(cmd, pol.BasePolicy)
}

// Delete removes a whole record, reporting whether it previously existed.
func (c *Client) Delete(key nimbus.Key, pol policy.WritePolicy) (bool, error) {
	cmd := &deleteCommand{key: key, pol: pol}
	err := c.run(cmd, pol.BasePolicy)
	if err != nil {
		if errors.Cause(err) == errs.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return cmd.existed, nil
}

// Touch extends a record's TTL and bumps its generation without
// otherwise altering its bins.
func (c *Client) Touch(key nimbus.Key, pol policy.WritePolicy) error {
	cmd := &touchCommand{key: key, pol: pol}
	return c.run(cmd, pol.BasePolicy)
}

// Operate runs an arbitrary per-record operation list atomically,
// returning whatever bins the op list reads back.
func (c *Client) Operate(key nimbus.Key, ops []nimbus.Operation, pol policy.WritePolicy) (*nimbus.Record, error) {
	cmd := &operateCommand{key: key, ops: ops, pol: pol}
	if err := c.run(cmd, pol.BasePolicy); err != nil {
		return nil, err
	}
	return cmd.result, nil
}

// Batch executes a mixed set of per-key read/write/delete/UDF records,
// attaching each record's outcome to its own Result field.
func (c *Client) Batch(records []*batch.Record, pol policy.BatchPolicy) error {
	return batch.Execute(c.view, records, pol, c.dial, c.release)
}

// NewTransaction starts a client-side transaction envelope in namespace
// ns. deadlineSeconds, when positive, bounds the server-side monitor
// record's own lifetime.
func (c *Client) NewTransaction(ns string, deadlineSeconds int64) *txn.Txn {
	return txn.New(ns, deadlineSeconds)
}

// Commit settles t: verify its tracked reads, roll its tracked writes
// forward, and close its monitor record.
func (c *Client) Commit(t *txn.Txn, pol policy.TxnPolicy) error {
	return t.Commit(c.view, pol, c.dial, c.release)
}

// Abort rolls t's tracked writes back and closes its monitor record.
func (c *Client) Abort(t *txn.Txn, pol policy.TxnPolicy) error {
	return t.Abort(c.view, pol, c.dial, c.release)
}

func opsContainWrite(ops []nimbus.Operation) bool {
	for _, op := range ops {
		switch op.Type {
		case nimbus.OpWrite, nimbus.OpAdd, nimbus.OpAppend, nimbus.OpPrepend, nimbus.OpTouch, nimbus.OpDelete:
			return true
		}
	}
	return false
}

// run drives cmd through the attempt loop using base's admission knobs.
// Routing and write-classification are decided by cmd itself (GetNode,
// IsWrite), not by run.
func (c *Client) run(cmd retry.Command, base policy.BasePolicy) error {
	now := time.Now()
	s := retry.NewState(now, base.TotalTimeout, base.SocketTimeout)
	opts := retry.Options{
		MaxRetries:          base.MaxRetries,
		SleepBetweenRetries: base.SleepBetweenRetries,
		BackoffMultiplier:   base.BackoffMultiplier,
	}
	return retry.Run(cmd, c.view, s, opts, c.dial, c.release)
}

type readCommand struct {
	key      nimbus.Key
	binNames []string
	pol      policy.ReadPolicy
	result   *nimbus.Record
	b        *wire.Builder
}

func (cmd *readCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	node, seq, err := routing.Route(view, cmd.key, cmd.pol.Replica, s.SequenceSC, cmd.pol.RackID, false)
	if err != nil {
		return nil, err
	}
	s.SequenceSC = seq
	return node, nil
}

func (cmd *readCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	return wire.BuildReadCommand(cmd.b, cmd.key, cmd.binNames), nil
}

func (cmd *readCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	rec, err := wire.ParseSingleRecordResponse(msg, cmd.key)
	if err != nil {
		return err
	}
	cmd.result = rec
	return nil
}

func (cmd *readCommand) PrepareRetry(isTimeout bool) {}
func (cmd *readCommand) IsWrite() bool               { return false }
func (cmd *readCommand) PolicyDescription() string   { return "read" }
func (cmd *readCommand) SCSequencing() (isSCRead, linearize bool) {
	return true, cmd.pol.ReadModeSC == policy.ReadModeLinearize
}

type existsCommand struct {
	key    nimbus.Key
	pol    policy.ReadPolicy
	exists bool
	b      *wire.Builder
}

func (cmd *existsCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	node, seq, err := routing.Route(view, cmd.key, cmd.pol.Replica, s.SequenceSC, cmd.pol.RackID, false)
	if err != nil {
		return nil, err
	}
	s.SequenceSC = seq
	return node, nil
}

func (cmd *existsCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	return wire.BuildExistsCommand(cmd.b, cmd.key), nil
}

func (cmd *existsCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	if wire.ResultCode(msg.Header.ResultCode) == wire.ResultKeyNotFound {
		cmd.exists = false
		return nil
	}
	if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
		return wire.ResultCodeToErrKind(msg.Header.ResultCode)
	}
	cmd.exists = true
	return nil
}

func (cmd *existsCommand) PrepareRetry(isTimeout bool) {}
func (cmd *existsCommand) IsWrite() bool               { return false }
func (cmd *existsCommand) PolicyDescription() string   { return "exists" }
func (cmd *existsCommand) SCSequencing() (isSCRead, linearize bool) {
	return true, cmd.pol.ReadModeSC == policy.ReadModeLinearize
}

type writeCommand struct {
	key  nimbus.Key
	bins []nimbus.Bin
	pol  policy.WritePolicy
	b    *wire.Builder
}

func (cmd *writeCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	node, seq, err := routing.Route(view, cmd.key, policy.ReplicaMaster, s.SequenceAP, 0, true)
	if err != nil {
		return nil, err
	}
	s.SequenceAP = seq
	return node, nil
}

func (cmd *writeCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	info2, info3 := writePolicyBits(cmd.pol)
	return wire.BuildWriteCommand(cmd.b, cmd.key, cmd.bins, info2, info3, cmd.pol.Generation, cmd.pol.Expiration)
}

func (cmd *writeCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
		return wire.ResultCodeToErrKind(msg.Header.ResultCode)
	}
	return nil
}

func (cmd *writeCommand) PrepareRetry(isTimeout bool)              {}
func (cmd *writeCommand) IsWrite() bool                            { return true }
func (cmd *writeCommand) PolicyDescription() string                { return "write" }
func (cmd *writeCommand) SCSequencing() (isSCRead, linearize bool) { return false, false }

type deleteCommand struct {
	key     nimbus.Key
	pol     policy.WritePolicy
	existed bool
	b       *wire.Builder
}

func (cmd *deleteCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	node, seq, err := routing.Route(view, cmd.key, policy.ReplicaMaster, s.SequenceAP, 0, true)
	if err != nil {
		return nil, err
	}
	s.SequenceAP = seq
	return node, nil
}

func (cmd *deleteCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	return wire.BuildDeleteCommand(cmd.b, cmd.key, cmd.pol.DurableDelete), nil
}

func (cmd *deleteCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	code := wire.ResultCode(msg.Header.ResultCode)
	if code == wire.ResultKeyNotFound {
		cmd.existed = false
		return errs.ErrKeyNotFound
	}
	if code != wire.ResultOK {
		return wire.ResultCodeToErrKind(msg.Header.ResultCode)
	}
	cmd.existed = true
	return nil
}

func (cmd *deleteCommand) PrepareRetry(isTimeout bool)              {}
func (cmd *deleteCommand) IsWrite() bool                            { return true }
func (cmd *deleteCommand) PolicyDescription() string                { return "delete" }
func (cmd *deleteCommand) SCSequencing() (isSCRead, linearize bool) { return false, false }

type touchCommand struct {
	key nimbus.Key
	pol policy.WritePolicy
	b   *wire.Builder
}

func (cmd *touchCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	node, seq, err := routing.Route(view, cmd.key, policy.ReplicaMaster, s.SequenceAP, 0, true)
	if err != nil {
		return nil, err
	}
	s.SequenceAP = seq
	return node, nil
}

func (cmd *touchCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	return wire.BuildTouchCommand(cmd.b, cmd.key, cmd.pol.Expiration), nil
}

func (cmd *touchCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
		return wire.ResultCodeToErrKind(msg.Header.ResultCode)
	}
	return nil
}

func (cmd *touchCommand) PrepareRetry(isTimeout bool)              {}
func (cmd *touchCommand) IsWrite() bool                            { return true }
func (cmd *touchCommand) PolicyDescription() string                { return "touch" }
func (cmd *touchCommand) SCSequencing() (isSCRead, linearize bool) { return false, false }

type operateCommand struct {
	key    nimbus.Key
	ops    []nimbus.Operation
	pol    policy.WritePolicy
	result *nimbus.Record
	b      *wire.Builder
}

func (cmd *operateCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	forWrite := opsContainWrite(cmd.ops)
	if forWrite {
		node, seq, err := routing.Route(view, cmd.key, policy.ReplicaMaster, s.SequenceAP, 0, true)
		if err != nil {
			return nil, err
		}
		s.SequenceAP = seq
		return node, nil
	}
	node, seq, err := routing.Route(view, cmd.key, policy.ReplicaSequence, s.SequenceSC, 0, false)
	if err != nil {
		return nil, err
	}
	s.SequenceSC = seq
	return node, nil
}

func (cmd *operateCommand) WriteBuffer() ([]byte, error) {
	if cmd.b == nil {
		cmd.b = wire.NewBuilder()
	}
	info2, info3 := writePolicyBits(cmd.pol)
	return wire.BuildOperateCommand(cmd.b, cmd.key, cmd.ops, 0, info2, info3, cmd.pol.Generation, cmd.pol.Expiration)
}

func (cmd *operateCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	msg, err := readMessage(conn, deadline)
	if err != nil {
		return err
	}
	rec, err := wire.ParseSingleRecordResponse(msg, cmd.key)
	if err != nil {
		return err
	}
	cmd.result = rec
	return nil
}

func (cmd *operateCommand) PrepareRetry(isTimeout bool) {}
func (cmd *operateCommand) IsWrite() bool               { return opsContainWrite(cmd.ops) }
func (cmd *operateCommand) PolicyDescription() string   { return "operate" }
func (cmd *operateCommand) SCSequencing() (isSCRead, linearize bool) {
	return !opsContainWrite(cmd.ops), false
}

// writePolicyBits translates a WritePolicy's generation/exists/commit
// knobs into the info2/info3 bits BuildWriteCommand and
// BuildOperateCommand expect.
func writePolicyBits(pol policy.WritePolicy) (info2, info3 uint8) {
	switch pol.GenPolicy {
	case policy.GenerationExpectEqual:
		info2 |= wire.Info2Generation
	case policy.GenerationExpectGreater:
		info2 |= wire.Info2GenerationGT
	}
	if pol.DurableDelete {
		info2 |= wire.Info2DurableDelete
	}
	if pol.RespondAllOps {
		info2 |= wire.Info2RespondAllOps
	}
	switch pol.Exists {
	case policy.RecordExistsUpdateOnly:
		info3 |= wire.Info3UpdateOnly
	case policy.RecordExistsReplace:
		info3 |= wire.Info3CreateOrReplace
	case policy.RecordExistsReplaceOnly:
		info3 |= wire.Info3ReplaceOnly
	case policy.RecordExistsCreateOnly:
		info2 |= wire.Info2CreateOnly
	}
	if pol.CommitLevelMaster {
		info3 |= wire.Info3CommitMaster
	}
	return info2, info3
}

func readMessage(conn netconn.Conn, deadline time.Time) (wire.ParsedMessage, error) {
	raw, err := wire.ReadRawFrame(conn, deadline)
	if err != nil {
		return wire.ParsedMessage{}, errors.Wrap(err, "read command response")
	}
	msg, err := wire.ParseMessage(raw)
	if err != nil {
		return wire.ParsedMessage{}, errors.Wrap(err, "parse command response")
	}
	return msg, nil
}
