package evaluator

import (
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/vmihailenco/msgpack/v5"
)

// CallRecord is one internal write observed during a fold: a contract
// calling into another contract via sandbox.Host.Write. Recording these
// durably lets an operator reconstruct, after a crash mid-fold, which
// cross-contract calls were in flight, the way the teacher's WarrenFSM.Apply
// made every state transition replayable from its Raft log.
type CallRecord struct {
	RootContractTxID string
	CalleeContractTxID string
	InteractionID    string
	SortKey          string
	Depth            int
	RecordedAt       time.Time
}

// DurableCallLog persists CallRecords to an embedded bbolt-backed log,
// generalizing the teacher's raft-boltdb-backed Raft log: there it stored
// raft.Log entries for cluster consensus, here it stores the same entry
// shape purely as a durable, ordered append log with no leader election or
// replication, since a client-side fold has exactly one writer.
type DurableCallLog struct {
	store *raftboltdb.BoltStore
}

// NewDurableCallLog opens (or creates) a call log at path.
func NewDurableCallLog(path string) (*DurableCallLog, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("evaluator: failed to open call log: %w", err)
	}
	return &DurableCallLog{store: store}, nil
}

// Append durably records rec, assigning it the next log index.
func (l *DurableCallLog) Append(rec CallRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("evaluator: failed to encode call record: %w", err)
	}

	last, err := l.store.LastIndex()
	if err != nil {
		return fmt.Errorf("evaluator: failed to read call log index: %w", err)
	}

	entry := &raft.Log{
		Index:      last + 1,
		Term:       1,
		Type:       raft.LogCommand,
		Data:       data,
		AppendedAt: rec.RecordedAt,
	}
	if err := l.store.StoreLog(entry); err != nil {
		return fmt.Errorf("evaluator: failed to persist call record: %w", err)
	}
	return nil
}

// Records returns every call record between index from and to, inclusive.
func (l *DurableCallLog) Records(from, to uint64) ([]CallRecord, error) {
	out := make([]CallRecord, 0, to-from+1)
	for idx := from; idx <= to; idx++ {
		var entry raft.Log
		if err := l.store.GetLog(idx, &entry); err != nil {
			return nil, fmt.Errorf("evaluator: failed to read call record %d: %w", idx, err)
		}
		var rec CallRecord
		if err := msgpack.Unmarshal(entry.Data, &rec); err != nil {
			return nil, fmt.Errorf("evaluator: failed to decode call record %d: %w", idx, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// LastIndex returns the most recently appended record's index, or 0 if the
// log is empty.
func (l *DurableCallLog) LastIndex() (uint64, error) {
	idx, err := l.store.LastIndex()
	if err != nil {
		return 0, fmt.Errorf("evaluator: failed to read call log index: %w", err)
	}
	return idx, nil
}

// Prune discards every record up to and including upTo, bounding the log's
// growth the way evaluator.CachePruner bounds the sort-key cache's.
func (l *DurableCallLog) Prune(upTo uint64) error {
	if err := l.store.DeleteRange(0, upTo); err != nil {
		return fmt.Errorf("evaluator: failed to prune call log: %w", err)
	}
	return nil
}

// Close releases the underlying bbolt file.
func (l *DurableCallLog) Close() error {
	return l.store.Close()
}
