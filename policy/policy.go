// Package policy holds the caller-tunable knobs that drive routing,
// retry and consistency decisions across the command, batch and
// transaction layers. Uses a Config/DefaultConfig struct pattern rather
// than a functional-options API.
package policy

import "time"

// Replica selects which node in a partition's replica list a read should
// target.
type Replica int

const (
	ReplicaMaster Replica = iota
	ReplicaMasterProles
	ReplicaSequence
	ReplicaPreferRack
	ReplicaRandom
)

// ReadModeSC selects strong-consistency read semantics. The (relax,type)
// pairs below are each mode's info3 SC_READ bit encoding; no request
// builder in this tree writes those bits, and the mode only affects retry
// sequencing (ReadModeLinearize keeps a timeout from advancing the SC
// sequence).
type ReadModeSC int

const (
	ReadModeSequential ReadModeSC = iota // (0,0)
	ReadModeLinearize                    // (0,1)
	ReadModeAllowReplica                 // (1,0)
	ReadModeAllowUnavailable              // (1,1)
)

// GenerationPolicy selects how a write's expected generation is checked.
type GenerationPolicy int

const (
	GenerationIgnore GenerationPolicy = iota
	GenerationExpectEqual
	GenerationExpectGreater
)

// RecordExistsAction selects create/replace/update semantics for a write,
// surfaced on the wire via info3 (update_only, create_or_replace,
// replace_only, create_only in info2).
type RecordExistsAction int

const (
	RecordExistsUpdate RecordExistsAction = iota
	RecordExistsUpdateOnly
	RecordExistsReplace
	RecordExistsReplaceOnly
	RecordExistsCreateOnly
)

// BasePolicy holds the fields shared by every command kind.
type BasePolicy struct {
	// TotalTimeout bounds the whole command including retries. 0 means no
	// bound.
	TotalTimeout time.Duration
	// SocketTimeout bounds any single IO step. 0 means no bound.
	SocketTimeout time.Duration
	// MaxRetries is the maximum number of retry attempts after the first.
	MaxRetries int
	// SleepBetweenRetries is the backoff floor between attempts; the retry
	// state machine layers github.com/cenkalti/backoff/v4 on top of this
	// for exponential growth when BackoffMultiplier > 1.
	SleepBetweenRetries time.Duration
	// BackoffMultiplier, when > 1, makes retries use an exponential
	// backoff seeded at SleepBetweenRetries instead of a constant sleep.
	BackoffMultiplier float64
	// TimeoutDelay is carried into the retry driver's options but not read
	// by it: a timed-out connection is always released as unhealthy, and
	// no background drain task exists.
	TimeoutDelay time.Duration
}

// DefaultBasePolicy returns the shared defaults used by every policy kind.
func DefaultBasePolicy() BasePolicy {
	return BasePolicy{
		TotalTimeout:        1 * time.Second,
		SocketTimeout:       30 * time.Second,
		MaxRetries:          2,
		SleepBetweenRetries: 1 * time.Millisecond,
	}
}

// ReadPolicy governs a single-record read and, via replica selection, how
// batch reads route too.
type ReadPolicy struct {
	BasePolicy
	Replica   Replica
	ReadModeSC ReadModeSC
	RackID    int
}

// DefaultReadPolicy returns the server's usual read defaults: sequence
// replica selection (master first, then the next replica on each retry),
// sequential SC reads.
func DefaultReadPolicy() ReadPolicy {
	return ReadPolicy{BasePolicy: DefaultBasePolicy(), Replica: ReplicaSequence}
}

// WritePolicy governs a single-record write. Writes always route to the
// partition's master.
type WritePolicy struct {
	BasePolicy
	GenPolicy         GenerationPolicy
	Generation        uint32
	Exists            RecordExistsAction
	Expiration        uint32
	DurableDelete     bool
	RespondAllOps     bool
	CommitLevelMaster bool // commit_master info3 bit
}

// DefaultWritePolicy returns the server's usual write defaults.
func DefaultWritePolicy() WritePolicy {
	return WritePolicy{BasePolicy: DefaultBasePolicy()}
}

// BatchPolicy governs a batch command.
type BatchPolicy struct {
	BasePolicy
	Replica             Replica
	ReadModeSC          ReadModeSC
	MaxConcurrentNodes  int
	RespondAllKeys      bool
	AllowInline         bool
	AllowInlineSSD      bool
}

// DefaultBatchPolicy returns the server's usual batch defaults: unbounded
// node concurrency, respond-all-keys so partial failures don't fail fast.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{
		BasePolicy:         DefaultBasePolicy(),
		Replica:            ReplicaSequence,
		MaxConcurrentNodes: 0,
		RespondAllKeys:     true,
		AllowInline:        true,
	}
}

// TxnPolicy governs a transaction envelope's commit/abort behavior.
type TxnPolicy struct {
	BasePolicy
	// DeadlineSeconds is not read by internal/txn: the monitor record is
	// written on every commit, with the deadline passed to txn.New, and a
	// value of 0 does not skip it.
	DeadlineSeconds int64
}

// DefaultTxnPolicy returns the usual transaction defaults.
func DefaultTxnPolicy() TxnPolicy {
	return TxnPolicy{BasePolicy: DefaultBasePolicy()}
}
