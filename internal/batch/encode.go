package batch

import (
	"github.com/cespare/xxhash/v2"
	nimbus "github.com/skshohagmiah/nimbus"
	"github.com/skshohagmiah/nimbus/internal/wire"
	"github.com/skshohagmiah/nimbus/policy"
)

// fingerprint computes a fast, non-cryptographic hash of a record's
// namespace/set/bin-selection so EncodeNodeFrame can decide the REPEAT
// bit in O(1) instead of comparing slices record-by-record. A
// fingerprint collision would only cost the byte-for-byte compare in
// sameSelection, never correctness — a mismatched REPEAT would desync
// the decoder, so the fingerprint only gates an exact re-check rather
// than standing in for one.
func fingerprint(rec *Record) uint64 {
	h := xxhash.New()
	h.WriteString(rec.Key.Namespace)
	h.WriteString(rec.Key.Set)
	switch rec.Kind {
	case KindRead:
		for _, n := range rec.BinNames {
			h.WriteString(n)
		}
	default:
		for _, op := range rec.Ops {
			h.WriteString(op.BinName)
			var tmp [1]byte
			tmp[0] = byte(op.Type)
			h.Write(tmp[:])
		}
	}
	return h.Sum64()
}

func sameSelection(a, b *Record) bool {
	if a.Key.Namespace != b.Key.Namespace || a.Key.Set != b.Key.Set || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindRead:
		if len(a.BinNames) != len(b.BinNames) {
			return false
		}
		for i := range a.BinNames {
			if a.BinNames[i] != b.BinNames[i] {
				return false
			}
		}
		return true
	default:
		if len(a.Ops) != len(b.Ops) {
			return false
		}
		for i := range a.Ops {
			if a.Ops[i].Type != b.Ops[i].Type || a.Ops[i].BinName != b.Ops[i].BinName {
				return false
			}
		}
		return true
	}
}

// EncodeNodeFrame builds the complete batch request frame for one node's
// offsets, applying prefix-repeat.
func EncodeNodeFrame(b *wire.Builder, records []*Record, offsets []int, pol policy.BatchPolicy) ([]byte, error) {
	b.Reset()
	b.Begin(wire.Header{Info1: wire.Info1Batch})

	wireRecords := make([]wire.BatchWireRecord, 0, len(offsets))
	var prevFP uint64
	var prevRec *Record
	havePrev := false

	for _, idx := range offsets {
		rec := records[idx]
		digest := rec.Key.Digest()

		fp := fingerprint(rec)
		repeat := havePrev && fp == prevFP && sameSelection(rec, prevRec)

		wr := wire.BatchWireRecord{
			OriginalIndex: uint32(idx),
			Digest:        digest,
			Repeat:        repeat,
		}

		if rec.Kind == KindWrite || rec.Kind == KindDelete || rec.Kind == KindUDF {
			wr.HasInfo = true
			wr.Info2 = wire.Info2Write
			if rec.Kind == KindDelete {
				wr.Info2 |= wire.Info2Delete
				if rec.Durable {
					wr.Info2 |= wire.Info2DurableDelete
				}
			}
		} else {
			wr.HasInfo = true
			wr.Info1 = wire.Info1Read
			if len(rec.BinNames) == 0 {
				wr.Info1 |= wire.Info1GetAll
			}
		}

		if !repeat {
			wr.Namespace = rec.Key.Namespace
			wr.Set = rec.Key.Set
			wr.Ops = recordOps(rec)
		}

		wireRecords = append(wireRecords, wr)
		prevFP, prevRec, havePrev = fp, rec, true
	}

	flags := uint8(0)
	if pol.AllowInline {
		flags |= wire.BatchFlagAllowInline
	}
	if pol.AllowInlineSSD {
		flags |= wire.BatchFlagAllowInlineSSD
	}
	if pol.RespondAllKeys {
		flags |= wire.BatchFlagRespondAllKeys
	}

	if err := wire.EncodeBatchIndexField(b, wireRecords, flags); err != nil {
		return nil, err
	}
	return b.End(), nil
}

func recordOps(rec *Record) []nimbus.Operation {
	if rec.Kind == KindRead {
		ops := make([]nimbus.Operation, 0, len(rec.BinNames))
		for _, n := range rec.BinNames {
			ops = append(ops, nimbus.GetOp(n))
		}
		return ops
	}
	if rec.Kind == KindDelete {
		return []nimbus.Operation{nimbus.DeleteOp()}
	}
	return rec.Ops
}
