// Package errs defines the client's error taxonomy: which kinds are
// retriable and which mark a write in-doubt, plus the CommandError
// wrapper the retry driver attaches to a surfaced failure.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel error kinds. Compare a surfaced error's Cause against these
// with errors.Is/errors.Cause, not string matching.
var (
	ErrInvalidNode      = errors.New("no node for this key under the current partition map")
	ErrNoAvailableNode  = errors.New("no available node for this key")
	ErrBackoff          = errors.New("node rejected: error rate exceeded, in backoff")
	ErrConnection       = errors.New("connection error")
	ErrClientTimeout    = errors.New("client deadline exceeded")
	ErrServerTimeout    = errors.New("server result code: timeout")
	ErrDeviceOverload   = errors.New("server result code: device overload")
	ErrFilteredOut      = errors.New("server result code: filtered out")
	ErrKeyNotFound      = errors.New("server result code: key not found")
	ErrGeneration       = errors.New("server result code: generation mismatch")
	ErrRecordTooBig     = errors.New("server result code: record too big")
	ErrParameter        = errors.New("server result code: bad parameter")
	ErrUdfBadResponse   = errors.New("server result code: UDF bad response")
	ErrParse            = errors.New("wire parse error")
	ErrCanceled         = errors.New("command canceled")
)

// retriable records which sentinel kinds the retry state machine is
// allowed to retry on another attempt.
var retriable = map[error]bool{
	ErrInvalidNode:     true,
	ErrNoAvailableNode: true,
	ErrBackoff:         true,
	ErrConnection:      true,
	ErrClientTimeout:   true, // only if time remains; caller checks that separately
	ErrServerTimeout:   true,
	ErrDeviceOverload:  true,
}

// inDoubtCapable records which sentinel kinds may mark a write in-doubt —
// whether they actually do depends on whether the write was already
// transmitted (commandSentCounter > 1), decided by the caller.
var inDoubtCapable = map[error]bool{
	ErrConnection:    true,
	ErrClientTimeout: true,
	ErrServerTimeout: true,
	ErrDeviceOverload: true,
	ErrParse:         true,
	ErrCanceled:      true,
}

// Retriable reports whether a sentinel kind may be retried.
func Retriable(kind error) bool { return retriable[kind] }

// CanMarkInDoubt reports whether a sentinel kind is capable of leaving a
// write in-doubt (the caller still must have actually sent bytes).
func CanMarkInDoubt(kind error) bool { return inDoubtCapable[kind] }

// CommandError is what a failed command surfaces to its caller: the final
// sentinel kind, annotated with the attempt's node, policy description and
// iteration, plus the in-doubt flag.
type CommandError struct {
	Kind      error
	Node      string
	Policy    string
	Iteration int
	InDoubt   bool
	cause     error
}

// NewCommandError wraps kind with attempt context. cause, if non-nil, is
// the underlying error this attempt actually observed (e.g. a socket
// error); kind classifies it into this package's sentinel taxonomy.
func NewCommandError(kind error, node, policyDesc string, iteration int, inDoubt bool, cause error) *CommandError {
	return &CommandError{
		Kind:      kind,
		Node:      node,
		Policy:    policyDesc,
		Iteration: iteration,
		InDoubt:   inDoubt,
		cause:     cause,
	}
}

func (e *CommandError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v (node=%s policy=%s iteration=%d inDoubt=%t): %v",
			e.Kind, e.Node, e.Policy, e.Iteration, e.InDoubt, e.cause)
	}
	return fmt.Sprintf("%v (node=%s policy=%s iteration=%d inDoubt=%t)",
		e.Kind, e.Node, e.Policy, e.Iteration, e.InDoubt)
}

// Unwrap lets errors.Is/errors.As see through to the classification
// sentinel only; the original cause is reachable through Cause (and
// github.com/pkg/errors' errors.Cause), not through errors.Is/As.
func (e *CommandError) Unwrap() error { return e.Kind }

// Cause satisfies github.com/pkg/errors' Causer interface so
// errors.Cause(surfaced) recovers the underlying transport/parse error
// when one was captured.
func (e *CommandError) Cause() error {
	if e.cause != nil {
		return e.cause
	}
	return e.Kind
}
