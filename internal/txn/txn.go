// Package txn implements the client-side transaction envelope: a set of
// reads and writes against multiple keys, tracked locally and settled
// against the server in one of two sequences — verify-then-roll-forward
// on commit, or roll-back on abort — each followed by closing the
// server-side monitor record that tracks the transaction's lifetime.
package txn

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/log"
	"github.com/skshohagmiah/nimbus/internal/netconn"
	"github.com/skshohagmiah/nimbus/internal/retry"
	"github.com/skshohagmiah/nimbus/internal/routing"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// Failure modes a commit or abort can end in once it has started mutating
// server-side state: each one tells the caller a step other than the
// happy path occurred, so they know whether to suspect in-doubt data.
var (
	ErrVerifyFail               = errors.New("transaction verify failed: a tracked read's version changed")
	ErrVerifyFailCloseAbandoned = errors.New("transaction verify failed and the monitor record could not be closed")
	ErrMarkRollForwardAbandoned = errors.New("transaction commit abandoned marking roll-forward")
	ErrRollForwardAbandoned     = errors.New("transaction commit abandoned mid roll-forward")
	ErrCloseAbandoned           = errors.New("transaction settled but its monitor record could not be closed")
	ErrRollBackAbandoned        = errors.New("transaction abort abandoned mid roll-back")
)

const monitorSet = "<ERO~MRT"

// readEntry pairs a tracked key with the record version it was read at.
// Key embeds a Value, which is not itself comparable (it may hold a list
// or map), so keys are indexed by their string form rather than used
// directly as a map key.
type readEntry struct {
	key     nimbus.Key
	version [wire.RecordVersionSize]byte
}

// writeEntry pairs a tracked key with the op list to apply at roll-forward.
type writeEntry struct {
	key nimbus.Key
	ops []nimbus.Operation
}

// Txn tracks the reads and writes taken under one transaction and drives
// its commit or abort sequence. The zero value is not usable; build one
// with New.
type Txn struct {
	ID       uint64
	Deadline time.Time
	Closed   bool

	mu     sync.Mutex
	reads  map[string]readEntry
	writes map[string]writeEntry
	ns     string
}

// New starts a transaction in namespace ns, generating a random id.
// deadlineSeconds, when positive, is the server-side monitor's own
// deadline; 0 means the monitor record never expires on its own.
func New(ns string, deadlineSeconds int64) *Txn {
	id := uuid.New()
	t := &Txn{
		ID:     binary.BigEndian.Uint64(id[:8]),
		reads:  make(map[string]readEntry),
		writes: make(map[string]writeEntry),
		ns:     ns,
	}
	if deadlineSeconds > 0 {
		t.Deadline = time.Now().Add(time.Duration(deadlineSeconds) * time.Second)
	}
	return t
}

// TrackRead records the version a read observed for key, so Commit can
// verify it is unchanged before rolling writes forward.
func (t *Txn) TrackRead(key nimbus.Key, rec *nimbus.Record) {
	if rec == nil || !rec.HasVersion {
		return
	}
	t.mu.Lock()
	t.reads[key.String()] = readEntry{key: key, version: rec.Version}
	t.mu.Unlock()
}

// TrackWrite records a pending write, to be applied at roll-forward.
func (t *Txn) TrackWrite(key nimbus.Key, ops []nimbus.Operation) {
	t.mu.Lock()
	t.writes[key.String()] = writeEntry{key: key, ops: ops}
	t.mu.Unlock()
}

func (t *Txn) monitorKey() nimbus.Key {
	return nimbus.NewKey(t.ns, monitorSet, nimbus.IntValue(int64(t.ID)))
}

// Commit verifies every tracked read is still current, marks the
// transaction's intent to roll forward on its monitor record, applies
// every tracked write, and closes the monitor. A verify failure aborts
// automatically (rolling back any applied writes) before returning
// ErrVerifyFail.
func (t *Txn) Commit(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser) error {
	t.mu.Lock()
	reads := copyReads(t.reads)
	writes := copyWrites(t.writes)
	t.mu.Unlock()

	if err := t.verifyReads(view, pol, dial, release, reads); err != nil {
		log.L().Debugw("transaction verify failed, aborting", "txnID", t.ID, "err", err)
		if abortErr := t.rollBackAndClose(view, pol, dial, release, writes); abortErr != nil {
			return errors.Wrap(ErrVerifyFailCloseAbandoned, abortErr.Error())
		}
		return ErrVerifyFail
	}

	if err := t.writeMonitor(view, pol, dial, release, wire.Info4TxnRollForward); err != nil {
		return errors.Wrap(ErrMarkRollForwardAbandoned, err.Error())
	}

	if err := t.rollForward(view, pol, dial, release, writes); err != nil {
		return errors.Wrap(ErrRollForwardAbandoned, err.Error())
	}

	if err := t.closeMonitor(view, pol, dial, release); err != nil {
		return errors.Wrap(ErrCloseAbandoned, err.Error())
	}
	t.Closed = true
	return nil
}

// Abort rolls back every tracked write and closes the monitor record
// without ever having marked roll-forward.
func (t *Txn) Abort(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser) error {
	t.mu.Lock()
	writes := copyWrites(t.writes)
	t.mu.Unlock()

	err := t.rollBackAndClose(view, pol, dial, release, writes)
	if err == nil {
		t.Closed = true
	}
	return err
}

func (t *Txn) rollBackAndClose(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser, writes map[string]writeEntry) error {
	if err := t.rollBack(view, pol, dial, release, writes); err != nil {
		return errors.Wrap(ErrRollBackAbandoned, err.Error())
	}
	if err := t.closeMonitor(view, pol, dial, release); err != nil {
		return errors.Wrap(ErrCloseAbandoned, err.Error())
	}
	return nil
}

func (t *Txn) verifyReads(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser, reads map[string]readEntry) error {
	for _, entry := range reads {
		key, version := entry.key, entry.version
		cmd := &recordCommand{
			key:     key,
			isWrite: false,
			build: func(b *wire.Builder) []byte {
				b.Reset()
				b.Begin(wire.Header{Info1: wire.Info1Read | wire.Info1NoBinData, Info4: wire.Info4TxnVerifyRead})
				wire.WriteKeyFields(b, key)
				wire.WriteTxnID(b, t.ID)
				wire.WriteRecordVersion(b, version)
				return b.End()
			},
			parse: func(msg wire.ParsedMessage) error {
				if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
					return wire.ResultCodeToErrKind(msg.Header.ResultCode)
				}
				return nil
			},
		}
		if err := runCommand(cmd, view, pol.BasePolicy, dial, release); err != nil {
			return errors.Wrapf(err, "verify key %s", key)
		}
	}
	return nil
}

func (t *Txn) rollForward(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser, writes map[string]writeEntry) error {
	for _, entry := range writes {
		key, ops := entry.key, entry.ops
		cmd := &recordCommand{
			key:     key,
			isWrite: true,
			build: func(b *wire.Builder) []byte {
				b.Reset()
				h := wire.Header{Info2: wire.Info2Write, Info4: wire.Info4TxnRollForward}
				b.Begin(h)
				wire.WriteKeyFields(b, key)
				wire.WriteTxnID(b, t.ID)
				for _, op := range ops {
					_ = wire.WriteOperation(b, op)
				}
				return b.End()
			},
			parse: func(msg wire.ParsedMessage) error {
				if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
					return wire.ResultCodeToErrKind(msg.Header.ResultCode)
				}
				return nil
			},
		}
		if err := runCommand(cmd, view, pol.BasePolicy, dial, release); err != nil {
			return errors.Wrapf(err, "roll forward key %s", key)
		}
	}
	return nil
}

func (t *Txn) rollBack(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser, writes map[string]writeEntry) error {
	for _, entry := range writes {
		key := entry.key
		cmd := &recordCommand{
			key:     key,
			isWrite: true,
			build: func(b *wire.Builder) []byte {
				b.Reset()
				b.Begin(wire.Header{Info2: wire.Info2Write, Info4: wire.Info4TxnRollBack})
				wire.WriteKeyFields(b, key)
				wire.WriteTxnID(b, t.ID)
				return b.End()
			},
			parse: func(msg wire.ParsedMessage) error {
				if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
					return wire.ResultCodeToErrKind(msg.Header.ResultCode)
				}
				return nil
			},
		}
		if err := runCommand(cmd, view, pol.BasePolicy, dial, release); err != nil {
			return errors.Wrapf(err, "roll back key %s", key)
		}
	}
	return nil
}

// writeMonitor writes the server-side monitor record that tracks this
// transaction's id and deadline, setting txnFlag (e.g. roll-forward) to
// announce the commit's intent before any write is rolled forward.
func (t *Txn) writeMonitor(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser, txnFlag uint8) error {
	key := t.monitorKey()
	deadlineMillis := uint32(0)
	if !t.Deadline.IsZero() {
		deadlineMillis = uint32(time.Until(t.Deadline).Milliseconds())
	}
	cmd := &recordCommand{
		key:     key,
		isWrite: true,
		build: func(b *wire.Builder) []byte {
			b.Reset()
			b.Begin(wire.Header{Info2: wire.Info2Write, Info4: txnFlag, TxnTimeoutMillis: deadlineMillis})
			wire.WriteKeyFields(b, key)
			wire.WriteTxnID(b, t.ID)
			_ = wire.WriteOperation(b, nimbus.PutOp(nimbus.NewBin("state", int64(1))))
			return b.End()
		},
		parse: func(msg wire.ParsedMessage) error {
			if wire.ResultCode(msg.Header.ResultCode) != wire.ResultOK {
				return wire.ResultCodeToErrKind(msg.Header.ResultCode)
			}
			return nil
		},
	}
	return runCommand(cmd, view, pol.BasePolicy, dial, release)
}

func (t *Txn) closeMonitor(view cluster.View, pol policy.TxnPolicy, dial retry.Dialer, release retry.Releaser) error {
	key := t.monitorKey()
	cmd := &recordCommand{
		key:     key,
		isWrite: true,
		build: func(b *wire.Builder) []byte {
			b.Reset()
			b.Begin(wire.Header{Info2: wire.Info2Write | wire.Info2Delete})
			wire.WriteKeyFields(b, key)
			wire.WriteTxnID(b, t.ID)
			return b.End()
		},
		parse: func(msg wire.ParsedMessage) error {
			code := wire.ResultCode(msg.Header.ResultCode)
			if code != wire.ResultOK && code != wire.ResultKeyNotFound {
				return wire.ResultCodeToErrKind(msg.Header.ResultCode)
			}
			return nil
		},
	}
	return runCommand(cmd, view, pol.BasePolicy, dial, release)
}

func copyReads(m map[string]readEntry) map[string]readEntry {
	out := make(map[string]readEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyWrites(m map[string]writeEntry) map[string]writeEntry {
	out := make(map[string]writeEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// recordCommand adapts a single-key request/response pair to
// internal/retry's Command trait so every transaction step reuses the
// same attempt loop (deadlines, backoff, node error bookkeeping) as
// ordinary commands.
type recordCommand struct {
	key     nimbus.Key
	isWrite bool
	build   func(b *wire.Builder) []byte
	parse   func(msg wire.ParsedMessage) error

	b *wire.Builder
}

func (c *recordCommand) GetNode(view cluster.View, s *retry.State) (*cluster.Node, error) {
	if c.isWrite {
		node, seq, err := routing.Route(view, c.key, policy.ReplicaSequence, s.SequenceAP, 0, true)
		if err != nil {
			return nil, err
		}
		s.SequenceAP = seq
		return node, nil
	}
	node, seq, err := routing.Route(view, c.key, policy.ReplicaSequence, s.SequenceSC, 0, false)
	if err != nil {
		return nil, err
	}
	s.SequenceSC = seq
	return node, nil
}

func (c *recordCommand) WriteBuffer() ([]byte, error) {
	if c.b == nil {
		c.b = wire.NewBuilder()
	}
	return c.build(c.b), nil
}

func (c *recordCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	raw, err := wire.ReadRawFrame(conn, deadline)
	if err != nil {
		return errors.Wrap(err, "read transaction step response")
	}
	msg, err := wire.ParseMessage(raw)
	if err != nil {
		return errors.Wrap(err, "parse transaction step response")
	}
	return c.parse(msg)
}

func (c *recordCommand) PrepareRetry(isTimeout bool) {}

func (c *recordCommand) SCSequencing() (isSCRead, linearize bool) { return !c.isWrite, false }

func (c *recordCommand) IsWrite() bool { return c.isWrite }

func (c *recordCommand) PolicyDescription() string { return "transaction" }

func runCommand(cmd *recordCommand, view cluster.View, base policy.BasePolicy, dial retry.Dialer, release retry.Releaser) error {
	now := time.Now()
	s := retry.NewState(now, base.TotalTimeout, base.SocketTimeout)
	opts := retry.Options{
		MaxRetries:          base.MaxRetries,
		SleepBetweenRetries: base.SleepBetweenRetries,
		BackoffMultiplier:   base.BackoffMultiplier,
	}
	return retry.Run(cmd, view, s, opts, dial, release)
}
