package batch

import (
	"sync"
	"time"

	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/log"
	"github.com/skshohagmiah/nimbus/internal/retry"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// Execute runs a batch of heterogeneous per-key operations against view.
// Each destination node gets one request, dispatched sequentially when
// MaxConcurrentNodes == 1 or fanned out over goroutines otherwise (capped
// at MaxConcurrentNodes when positive). Results land on each record's own
// Result field by original index, independent of node response order.
//
// A round whose routing leaves some keys without a live replica, or whose
// node attempt fails in a way that might clear up under a fresher
// partition map, re-groups just those keys against a new snapshot on the
// next round (split-retry) instead of failing the whole batch.
func Execute(view cluster.View, records []*Record, pol policy.BatchPolicy, dial retry.Dialer, release retry.Releaser) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now()
	s := retry.NewState(now, pol.TotalTimeout, pol.SocketTimeout)

	pending := make([]int, len(records))
	for i := range records {
		pending[i] = i
	}

	for {
		now = time.Now()
		if s.Iteration > 0 && !s.CanRetry(now, pol.MaxRetries, pol.SleepBetweenRetries) {
			failPending(records, pending, errs.ErrClientTimeout, s.InDoubt(true))
			return nil
		}

		nodes, err := GenerateBatchNodesFor(view, records, pol.Replica, s.SequenceAP, pending)
		if err != nil {
			return err
		}
		unrouted := UnroutedOffsetsAmong(records, nodes, pending)

		retryOffsets, roundErr := runRound(nodes, records, pol, dial, release, s)
		retryOffsets = append(retryOffsets, unrouted...)

		if roundErr != nil {
			// RespondAllKeys is false and some sub-command came back with a
			// terminal row or node error: fail the whole batch fast instead
			// of continuing to collect into the remaining records.
			return roundErr
		}

		if len(retryOffsets) == 0 {
			return nil
		}

		pending = retryOffsets
		s.PrepareRetry(false, false)
		time.Sleep(pol.SleepBetweenRetries)
	}
}

// runRound dispatches one request per node in nodes and returns the
// offsets that should be retried next round (those whose node attempt
// failed in a retriable way), plus a non-nil error when pol.RespondAllKeys
// is false and some sub-command came back with a terminal row or node
// error — the caller fails the whole batch fast on that error instead of
// continuing to the next round.
func runRound(nodes map[string]*Node, records []*Record, pol policy.BatchPolicy, dial retry.Dialer, release retry.Releaser, s *retry.State) ([]int, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	type outcome struct {
		offsets []int
		retry   bool
		err     error
	}

	results := make(chan outcome, len(nodes))
	concurrency := pol.MaxConcurrentNodes
	var sem chan struct{}
	if concurrency > 0 {
		sem = make(chan struct{}, concurrency)
	}

	var wg sync.WaitGroup
	for _, bn := range nodes {
		bn := bn
		wg.Add(1)
		run := func() {
			defer wg.Done()
			retriable, err := dispatchNode(bn, records, pol, dial, release, s)
			results <- outcome{offsets: bn.Offsets, retry: retriable, err: err}
		}
		if sem == nil {
			go run()
			continue
		}
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			run()
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var retryOffsets []int
	var firstErr error
	for o := range results {
		if o.retry {
			retryOffsets = append(retryOffsets, o.offsets...)
			continue
		}
		if o.err != nil && firstErr == nil {
			firstErr = o.err
		}
	}
	return retryOffsets, firstErr
}

// dispatchNode sends bn's offsets as one frame to its node and parses the
// response, reporting whether its offsets should be retried next round and,
// when they should not, the terminal error (if any) that pol.RespondAllKeys
// governs: nil unless that policy is false and a sub-command genuinely
// failed.
func dispatchNode(bn *Node, records []*Record, pol policy.BatchPolicy, dial retry.Dialer, release retry.Releaser, s *retry.State) (retriable bool, err error) {
	now := time.Now()
	deadline := now.Add(s.EffectiveSocketTimeout(now))

	b := wire.NewBuilder()
	frame, err := EncodeNodeFrame(b, records, bn.Offsets, pol)
	if err != nil {
		failOffsets(records, bn.Offsets, err, false)
		return false, err
	}

	conn, dialErr := dial(bn.Node, deadline)
	if dialErr != nil {
		log.L().Debugw("batch node dial failed, will retry", "node", bn.Node.Name, "err", dialErr)
		bn.Node.RecordError(now, 5, time.Second)
		return true, nil
	}

	if err := conn.Write(frame, deadline); err != nil {
		s.MarkSent()
		release(conn, false)
		bn.Node.RecordError(now, 5, time.Second)
		log.L().Debugw("batch node write failed, will retry", "node", bn.Node.Name, "err", err)
		return true, nil
	}
	s.MarkSent()

	if err := ParseNodeResponse(conn, deadline, records, s.CommandSentCounter); err != nil {
		release(conn, false)
		bn.Node.RecordError(now, 5, time.Second)
		log.L().Debugw("batch node response failed, will retry", "node", bn.Node.Name, "err", err)
		failUnresponded(records, bn.Offsets, err, s.CommandSentCounter > 1)
		return true, nil
	}

	release(conn, true)
	bn.Node.RecordSuccess()

	if !pol.RespondAllKeys {
		if rowErr := firstRowError(records, bn.Offsets); rowErr != nil {
			return false, rowErr
		}
	}
	return false, nil
}

// firstRowError returns the first per-row error recorded among offsets, or
// nil if every row in this node's response succeeded.
func firstRowError(records []*Record, offsets []int) error {
	for _, i := range offsets {
		if records[i].Result.Err != nil {
			return records[i].Result.Err
		}
	}
	return nil
}

func failOffsets(records []*Record, offsets []int, err error, inDoubt bool) {
	for _, i := range offsets {
		records[i].Result.Err = err
		records[i].Result.InDoubt = inDoubt
	}
}

func failPending(records []*Record, pending []int, err error, inDoubt bool) {
	for _, i := range pending {
		if !records[i].Result.Responded {
			records[i].Result.Err = err
			records[i].Result.InDoubt = inDoubt
		}
	}
}

// failUnresponded marks offsets that never got a parsed row (the node
// closed the stream early, or the connection failed mid-read) so a
// partially-successful node doesn't silently leave some keys without any
// outcome when the round is abandoned without a further retry.
func failUnresponded(records []*Record, offsets []int, err error, inDoubt bool) {
	for _, i := range offsets {
		if !records[i].Result.Responded {
			records[i].Result.Err = err
			records[i].Result.InDoubt = inDoubt
		}
	}
}
