package batch

import (
	"github.com/skshohagmiah/nimbus/internal/cluster"
	"github.com/skshohagmiah/nimbus/internal/errs"
	"github.com/skshohagmiah/nimbus/internal/routing"
	"github.com/skshohagmiah/nimbus/policy"
)

// GenerateBatchNodes walks records and routes each to a node, appending
// its index to that node's offset array; nodes with empty offsets are
// pruned. This is a pure function so split-retry can call it again
// against a newer snapshot without disturbing any in-flight state.
func GenerateBatchNodes(view cluster.View, records []*Record, repl policy.Replica, seq int) (map[string]*Node, error) {
	return GenerateBatchNodesFor(view, records, repl, seq, nil)
}

// GenerateBatchNodesFor is GenerateBatchNodes restricted to the indices in
// only (nil means every record), so split-retry can re-route just the
// offsets a prior attempt left unrouted without disturbing the rest of
// the batch's grouping.
func GenerateBatchNodesFor(view cluster.View, records []*Record, repl policy.Replica, seq int, only []int) (map[string]*Node, error) {
	byNode := make(map[string]*Node)

	var wanted map[int]bool
	if only != nil {
		wanted = make(map[int]bool, len(only))
		for _, i := range only {
			wanted[i] = true
		}
	}

	for i, rec := range records {
		if wanted != nil && !wanted[i] {
			continue
		}
		forWrite := rec.Kind == KindWrite || rec.Kind == KindDelete || rec.Kind == KindUDF
		node, _, err := routing.Route(view, rec.Key, repl, seq, 0, forWrite)
		if err != nil {
			if err == errs.ErrNoAvailableNode {
				// Left ungrouped; caller decides split-retry vs. failure.
				continue
			}
			return nil, err
		}

		bn, ok := byNode[node.Name]
		if !ok {
			bn = &Node{Node: node}
			byNode[node.Name] = bn
		}
		bn.Offsets = append(bn.Offsets, i)
	}

	return byNode, nil
}

// UnroutedOffsets returns the indices of records that GenerateBatchNodes
// could not place at any node (every replica exhausted/backing off),
// used to decide whether an attempt must fail outright or whether
// split-retry has anywhere left to send them.
func UnroutedOffsets(records []*Record, grouped map[string]*Node) []int {
	return UnroutedOffsetsAmong(records, grouped, nil)
}

// UnroutedOffsetsAmong is UnroutedOffsets restricted to the indices in
// among (nil means every record).
func UnroutedOffsetsAmong(records []*Record, grouped map[string]*Node, among []int) []int {
	routed := make(map[int]bool)
	for _, bn := range grouped {
		for _, idx := range bn.Offsets {
			routed[idx] = true
		}
	}
	if among != nil {
		var missing []int
		for _, i := range among {
			if !routed[i] {
				missing = append(missing, i)
			}
		}
		return missing
	}
	var missing []int
	for i := range records {
		if !routed[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
