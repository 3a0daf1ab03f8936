package store

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// Persister stores a kind's local snapshot blob.
type Persister interface {
	Save(kind string, data []byte) error
}

// Enqueuer accepts batches for remote sync. queue.Processor satisfies it.
type Enqueuer interface {
	Enqueue(batch queue.Batch) error
}

// KindPolicies returns the production policies for kind: snapshots are
// JSON-encoded into persister, deltas are wire-encoded and enqueued.
// Failures are logged; the in-memory mutation has already happened.
func KindPolicies[T any](kind string, persister Persister, enq Enqueuer, logger *log.Logger) Policies[T] {
	return Policies[T]{
		PersistLocal: func(all map[string]T) {
			data, err := json.Marshal(all)
			if err != nil {
				logger.Printf("Warning: failed to encode %s snapshot: %v", kind, err)
				return
			}
			if err := persister.Save(kind, data); err != nil {
				logger.Printf("Warning: failed to save %s snapshot: %v", kind, err)
			}
		},
		PersistRemote: func(d Delta[T]) {
			wire, err := EncodeDelta(d)
			if err != nil {
				logger.Printf("Warning: %v", err)
				return
			}
			if err := enq.Enqueue(queue.Batch{kind: wire}); err != nil {
				logger.Printf("Warning: failed to enqueue %s delta: %v", kind, err)
			}
		},
		Accumulate: func(shared queue.Batch, d Delta[T]) queue.Batch {
			wire, err := EncodeDelta(d)
			if err != nil {
				logger.Printf("Warning: %v", err)
				return shared
			}
			shared.Add(kind, wire)
			return shared
		},
	}
}

// EncodeDelta converts a typed delta to its wire form.
func EncodeDelta[T any](d Delta[T]) (*queue.Delta, error) {
	var wire queue.Delta
	var err error
	if wire.Insert, err = encodeAll(d.Insert); err != nil {
		return nil, fmt.Errorf("failed to encode inserts: %w", err)
	}
	if wire.Update, err = encodeAll(d.Update); err != nil {
		return nil, fmt.Errorf("failed to encode updates: %w", err)
	}
	if wire.Delete, err = encodeAll(d.Delete); err != nil {
		return nil, fmt.Errorf("failed to encode deletes: %w", err)
	}
	return &wire, nil
}

func encodeAll[T any](vs []T) ([]json.RawMessage, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
