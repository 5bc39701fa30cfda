package retry

import (
	"testing"
	"time"

	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/netconn"
)

type fakeConn struct{}

func (fakeConn) Write(buf []byte, deadline time.Time) error           { return nil }
func (fakeConn) ReadFull(n int, deadline time.Time) ([]byte, error)   { return make([]byte, n), nil }
func (fakeConn) Close() error                                        { return nil }
func (fakeConn) UpdateLastUsed()                                     {}
func (fakeConn) NodeAddress() string                                 { return "fake" }

// fakeCommand lets each test script its own GetNode/ParseResult outcomes
// across successive attempts.
type fakeCommand struct {
	node        *cluster.Node
	parseErrs   []error // consumed one per attempt; last value repeats
	attempt     int
	prepareCalls int
}

func (c *fakeCommand) GetNode(view cluster.View, s *State) (*cluster.Node, error) {
	return c.node, nil
}
func (c *fakeCommand) WriteBuffer() ([]byte, error) { return []byte("x"), nil }
func (c *fakeCommand) ParseResult(conn netconn.Conn, deadline time.Time) error {
	idx := c.attempt
	if idx >= len(c.parseErrs) {
		idx = len(c.parseErrs) - 1
	}
	c.attempt++
	return c.parseErrs[idx]
}
func (c *fakeCommand) PrepareRetry(isTimeout bool) { c.prepareCalls++ }
func (c *fakeCommand) IsWrite() bool               { return false }
func (c *fakeCommand) PolicyDescription() string   { return "fake" }
func (c *fakeCommand) SCSequencing() (isSCRead, linearize bool) { return false, false }

func dialAlwaysOK(node *cluster.Node, deadline time.Time) (netconn.Conn, error) {
	return fakeConn{}, nil
}
func releaseNoop(conn netconn.Conn, healthy bool) {}

func TestRunSucceedsFirstAttempt(t *testing.T) {
	cmd := &fakeCommand{node: &cluster.Node{Name: "n1"}, parseErrs: []error{nil}}
	s := NewState(time.Now(), time.Second, time.Second)
	opts := Options{MaxRetries: 2, SleepBetweenRetries: time.Millisecond}
	if err := Run(cmd, nil, s, opts, dialAlwaysOK, releaseNoop); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunRetriesOnRetriableThenSucceeds(t *testing.T) {
	cmd := &fakeCommand{
		node:      &cluster.Node{Name: "n1"},
		parseErrs: []error{errs.ErrServerTimeout, nil},
	}
	s := NewState(time.Now(), time.Second, time.Second)
	opts := Options{MaxRetries: 3, SleepBetweenRetries: time.Millisecond}
	if err := Run(cmd, nil, s, opts, dialAlwaysOK, releaseNoop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cmd.prepareCalls != 1 {
		t.Errorf("PrepareRetry called %d times, want 1", cmd.prepareCalls)
	}
}

func TestRunNonRetriableFailsImmediately(t *testing.T) {
	cmd := &fakeCommand{
		node:      &cluster.Node{Name: "n1"},
		parseErrs: []error{errs.ErrKeyNotFound},
	}
	s := NewState(time.Now(), time.Second, time.Second)
	opts := Options{MaxRetries: 3, SleepBetweenRetries: time.Millisecond}
	err := Run(cmd, nil, s, opts, dialAlwaysOK, releaseNoop)
	ce, ok := err.(*errs.CommandError)
	if !ok {
		t.Fatalf("err = %v (%T), want *errs.CommandError", err, err)
	}
	if ce.Kind != errs.ErrKeyNotFound {
		t.Errorf("Kind = %v, want ErrKeyNotFound", ce.Kind)
	}
	if cmd.attempt != 1 {
		t.Errorf("attempted %d times, want 1 (non-retriable)", cmd.attempt)
	}
}

func TestRunExhaustsRetriesAndReturnsCommandError(t *testing.T) {
	cmd := &fakeCommand{
		node:      &cluster.Node{Name: "n1"},
		parseErrs: []error{errs.ErrServerTimeout},
	}
	s := NewState(time.Now(), time.Second, time.Second)
	opts := Options{MaxRetries: 1, SleepBetweenRetries: time.Millisecond}
	err := Run(cmd, nil, s, opts, dialAlwaysOK, releaseNoop)
	ce, ok := err.(*errs.CommandError)
	if !ok {
		t.Fatalf("err = %v (%T), want *errs.CommandError", err, err)
	}
	if ce.Kind != errs.ErrServerTimeout {
		t.Errorf("Kind = %v, want ErrServerTimeout", ce.Kind)
	}
}

func TestStateCanRetryRespectsDeadline(t *testing.T) {
	now := time.Now()
	s := NewState(now, 10*time.Millisecond, time.Second)
	if !s.CanRetry(now, 5, time.Millisecond) {
		t.Error("CanRetry should allow an attempt right at the start")
	}
	later := now.Add(20 * time.Millisecond)
	if s.CanRetry(later, 5, time.Millisecond) {
		t.Error("CanRetry should refuse once the deadline has passed")
	}
}

func TestStateCanRetryRespectsMaxRetries(t *testing.T) {
	s := NewState(time.Now(), 0, 0)
	s.Iteration = 3
	if s.CanRetry(time.Now(), 2, time.Millisecond) {
		t.Error("CanRetry should refuse once iteration exceeds maxRetries")
	}
}

func TestStateInDoubt(t *testing.T) {
	s := &State{CommandSentCounter: 1}
	if s.InDoubt(true) {
		t.Error("InDoubt should be false after only one send")
	}
	s.MarkSent()
	if !s.InDoubt(true) {
		t.Error("InDoubt should be true for a write sent more than once")
	}
	if s.InDoubt(false) {
		t.Error("InDoubt should always be false for a non-write")
	}
}

func TestStatePrepareRetrySCRead(t *testing.T) {
	s := &State{}
	s.PrepareRetry(true, false)
	if s.SequenceSC != 1 || s.SequenceAP != 0 {
		t.Errorf("SC read retry should advance SequenceSC only, got AP=%d SC=%d", s.SequenceAP, s.SequenceSC)
	}
}

func TestStatePrepareRetryLinearizeTimeoutAdvancesAP(t *testing.T) {
	s := &State{}
	s.PrepareRetry(true, true)
	if s.SequenceAP != 1 || s.SequenceSC != 0 {
		t.Errorf("linearize-timeout SC retry should advance SequenceAP, got AP=%d SC=%d", s.SequenceAP, s.SequenceSC)
	}
}
