package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/log"
	"github.com/skshohagmiah/nimbus/internal/netconn"
)

// Command is a small trait: one generic driver (Run, below) consumes any
// Command, calling into per-kind encode/parse logic that lives in free
// functions elsewhere (internal/wire). Single-record commands and
// transaction steps implement it; internal/batch runs its own round loop
// over State and does not go through Run.
type Command interface {
	// GetNode selects this attempt's target node, possibly advancing s's
	// sequence counters.
	GetNode(view cluster.View, s *State) (*cluster.Node, error)
	// WriteBuffer encodes the request for this attempt.
	WriteBuffer() ([]byte, error)
	// ParseResult reads and parses the response from conn within
	// deadline, storing whatever result the command kind produces.
	// Returned error is nil on success; otherwise it is (or wraps) one
	// of internal/errs' sentinel kinds.
	ParseResult(conn netconn.Conn, deadline time.Time) error
	// PrepareRetry lets the command kind react to what kind of failure
	// just happened; Run calls it after the driver's own State.PrepareRetry
	// has advanced the sequence counters.
	PrepareRetry(isTimeout bool)
	// SCSequencing reports whether this command is a strong-consistency
	// read, whose retries advance State.SequenceSC instead of
	// State.SequenceAP, and whether it runs under ReadModeLinearize —
	// which exempts a timeout failure from that advance (it still
	// advances SequenceAP in that one case). Non-SC-read commands
	// (writes, AP-routed reads) report (false, false).
	SCSequencing() (isSCRead bool, linearize bool)
	// IsWrite reports whether this command may leave data in-doubt.
	IsWrite() bool
	// PolicyDescription is used only for CommandError annotation.
	PolicyDescription() string
}

// Dialer acquires a connection to node, bounded by a wait no longer than
// the current socket timeout. A real deployment wires this to its
// connection pool's acquire(); pool plumbing itself is out of this
// core's scope.
type Dialer func(node *cluster.Node, deadline time.Time) (netconn.Conn, error)

// Releaser returns a connection to its pool (healthy) or closes it
// (unhealthy), completing the scoped-acquisition pattern.
type Releaser func(conn netconn.Conn, healthy bool)

// Options bundles the admission/backoff knobs the driver needs from a
// policy.BasePolicy without importing the policy package (which would
// create an import cycle back through client).
type Options struct {
	MaxRetries          int
	SleepBetweenRetries time.Duration
	BackoffMultiplier   float64
	TimeoutDelay        time.Duration
}

// Run drives cmd through the attempt loop until success, a non-retriable
// failure, or deadline/iteration exhaustion. view resolves nodes,
// dial/release manage the connection's scoped lifetime.
func Run(cmd Command, view cluster.View, s *State, opts Options, dial Dialer, release Releaser) error {
	var lastErr error
	var lastNode string
	var lastInDoubt bool

	sleeper := newSleeper(opts)

	for {
		now := time.Now()
		if !s.CanRetry(now, opts.MaxRetries, opts.SleepBetweenRetries) && s.Iteration > 0 {
			break
		}

		node, err := cmd.GetNode(view, s)
		if err != nil {
			return errs.NewCommandError(classify(err), "", cmd.PolicyDescription(), s.Iteration, false, err)
		}
		lastNode = node.Name

		attemptDeadline := now.Add(s.EffectiveSocketTimeout(now))
		conn, err := dial(node, attemptDeadline)
		if err != nil {
			lastErr, lastInDoubt = err, s.InDoubt(cmd.IsWrite())
			log.L().Debugw("connection acquire failed, will retry", "node", node.Name, "err", err)
			if !retryAfter(s, opts, sleeper, now) {
				break
			}
			isSCRead, _ := cmd.SCSequencing()
			s.PrepareRetry(isSCRead, false)
			cmd.PrepareRetry(false)
			continue
		}

		frame, err := cmd.WriteBuffer()
		if err != nil {
			release(conn, false)
			return errs.NewCommandError(errs.ErrParse, node.Name, cmd.PolicyDescription(), s.Iteration, false, err)
		}

		writeErr := conn.Write(frame, attemptDeadline)
		if writeErr != nil {
			s.MarkSent() // bytes may have partially landed; treat as sent for in-doubt purposes
			release(conn, false)
			node.RecordError(now, defaultErrorThreshold, defaultBackoffWindow)
			lastErr, lastInDoubt = writeErr, s.InDoubt(cmd.IsWrite())
			log.L().Debugw("write failed, will retry", "node", node.Name, "err", writeErr)
			if !retryAfter(s, opts, sleeper, now) {
				break
			}
			isSCRead, _ := cmd.SCSequencing()
			s.PrepareRetry(isSCRead, false)
			cmd.PrepareRetry(false)
			continue
		}
		s.MarkSent()

		parseErr := cmd.ParseResult(conn, attemptDeadline)
		if parseErr == nil {
			release(conn, true)
			node.RecordSuccess()
			return nil
		}

		kind := classify(parseErr)
		isTimeout := kind == errs.ErrServerTimeout || kind == errs.ErrClientTimeout

		switch {
		case kind == errs.ErrParse:
			// A parse error closes the connection and fails
			// non-retriably — the stream is no longer trustworthy.
			release(conn, false)
			return errs.NewCommandError(errs.ErrParse, node.Name, cmd.PolicyDescription(), s.Iteration, true, parseErr)

		case !errs.Retriable(kind):
			release(conn, true)
			return errs.NewCommandError(kind, node.Name, cmd.PolicyDescription(), s.Iteration, false, parseErr)

		default:
			healthy := kind != errs.ErrConnection && !isTimeout
			release(conn, healthy)
			if !healthy {
				node.RecordError(now, defaultErrorThreshold, defaultBackoffWindow)
			}
			lastErr, lastNode, lastInDoubt = parseErr, node.Name, s.InDoubt(cmd.IsWrite()) && errs.CanMarkInDoubt(kind)
			log.L().Debugw("attempt failed, will retry", "node", node.Name, "kind", kind, "iteration", s.Iteration)
			if !retryAfter(s, opts, sleeper, now) {
				goto exhausted
			}
			isSCRead, linearize := cmd.SCSequencing()
			s.PrepareRetry(isSCRead, isTimeout && linearize)
			cmd.PrepareRetry(isTimeout)
			continue
		}
	}

exhausted:
	if lastErr == nil {
		lastErr = errs.ErrNoAvailableNode
	}
	return errs.NewCommandError(classify(lastErr), lastNode, cmd.PolicyDescription(), s.Iteration, lastInDoubt, lastErr)
}

const (
	defaultErrorThreshold              = 5
	defaultBackoffWindow  time.Duration = 1 * time.Second
)

// retryAfter checks whether another attempt is admissible at the current
// iteration and, if so, sleeps the next backoff interval and reports
// true. It reports false without sleeping when admission fails or the
// backoff stops; the loop top re-checks admission after PrepareRetry.
func retryAfter(s *State, opts Options, sleeper backoff.BackOff, now time.Time) bool {
	if !s.CanRetry(now, opts.MaxRetries, opts.SleepBetweenRetries) {
		return false
	}
	d := sleeper.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	time.Sleep(d)
	return true
}

// newSleeper builds the inter-retry sleep policy: a constant backoff at
// SleepBetweenRetries, or an exponential one seeded at it when the policy
// asks for growth (policy.BasePolicy.BackoffMultiplier > 1).
func newSleeper(opts Options) backoff.BackOff {
	if opts.BackoffMultiplier > 1 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = opts.SleepBetweenRetries
		b.Multiplier = opts.BackoffMultiplier
		b.MaxElapsedTime = 0 // the driver's own deadline governs overall admission
		return b
	}
	return backoff.NewConstantBackOff(opts.SleepBetweenRetries)
}

// classify maps an arbitrary error (possibly wrapped one or more times via
// github.com/pkg/errors, e.g. by ParseResult implementations) to one of the
// internal/errs sentinel kinds, defaulting to ErrConnection for anything
// unrecognized transport-level failure. It compares errors.Cause(err)
// rather than err itself, since ParseResult implementations may wrap their
// returned error with context before handing it back.
func classify(err error) error {
	cause := errors.Cause(err)
	for _, kind := range []error{
		errs.ErrInvalidNode, errs.ErrNoAvailableNode, errs.ErrBackoff,
		errs.ErrConnection, errs.ErrClientTimeout, errs.ErrServerTimeout,
		errs.ErrDeviceOverload, errs.ErrFilteredOut, errs.ErrKeyNotFound,
		errs.ErrGeneration, errs.ErrRecordTooBig, errs.ErrParameter,
		errs.ErrUdfBadResponse, errs.ErrParse, errs.ErrCanceled,
	} {
		if cause == kind {
			return kind
		}
	}
	return errs.ErrConnection
}
