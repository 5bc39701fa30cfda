package batch

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/skshohagmiah/nimbus/internal/netconn"
	"github.com/skshohagmiah/nimbus/internal/wire"
)

// ParseNodeResponse streams mini-records off conn until the last-record
// bit marks end-of-stream, placing each row's result into records at its
// original index rather than arrival order.
func ParseNodeResponse(conn netconn.Conn, deadline time.Time, records []*Record, commandSentCounter int) error {
	for {
		raw, err := wire.ReadRawFrame(conn, deadline)
		if err != nil {
			return errors.Wrap(err, "read batch response frame")
		}

		rest := raw
		for len(rest) > 0 {
			msg, err := wire.ParseMessage(rest)
			if err != nil {
				return errors.Wrap(err, "parse batch mini-record")
			}
			rest = msg.Rest

			if msg.Header.Info3&wire.Info3PartitionDone != 0 && len(msg.Fields) == 0 && len(msg.Ops) == 0 {
				// A bare partition-done marker carries no row; skip it.
				if msg.Header.Last() {
					return nil
				}
				continue
			}

			if err := parseRow(msg, records, commandSentCounter); err != nil {
				return err
			}

			if msg.Header.Last() {
				return nil
			}
		}
	}
}

// parseRow identifies the caller's record by its BATCH_INDEX field and
// fills in its result.
func parseRow(msg wire.ParsedMessage, records []*Record, commandSentCounter int) error {
	idxBytes, ok := msg.Field(wire.FieldBatchIndex)
	if !ok || len(idxBytes) < 4 {
		return errors.New("batch mini-record missing BATCH_INDEX field")
	}
	idx := int(binary.BigEndian.Uint32(idxBytes))
	if idx < 0 || idx >= len(records) {
		return errors.Errorf("batch mini-record index %d out of range", idx)
	}
	rec := records[idx]
	rec.Result.Responded = true

	code := wire.ResultCode(msg.Header.ResultCode)

	if rec.Kind == KindRead {
		switch code {
		case wire.ResultOK:
			out, err := wire.ParseSingleRecordResponse(msg, rec.Key)
			if err != nil {
				rec.Result.Err = err
				return nil
			}
			rec.Result.Record = out
		case wire.ResultKeyNotFound:
			rec.Result.Record = nil
		case wire.ResultUdfBadResponse:
			// The FAILURE bin, if present, carries the UDF's error payload.
			out, _ := wire.ParseSingleRecordResponse(msg, rec.Key)
			rec.Result.Record = out
			rec.Result.Err = wire.ResultCodeToErrKind(msg.Header.ResultCode)
		default:
			rec.Result.Err = wire.ResultCodeToErrKind(msg.Header.ResultCode)
		}
		return nil
	}

	// Write/delete/UDF row.
	if code != wire.ResultOK {
		rec.Result.Err = wire.ResultCodeToErrKind(msg.Header.ResultCode)
	}
	rec.Result.InDoubt = commandSentCounter > 1 && rec.Result.Err != nil
	return nil
}
