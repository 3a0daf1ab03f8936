// Package store is the public CRUD surface over one document kind.
//
// A Store combines a cache.Cache with remote sync. Every call mutates the
// cache synchronously, persists a local snapshot, and hands a remote delta
// to the sync queue, in that order:
//
//	tasks.AddOne(task)            // cache put → snapshot → {insert: [task]}
//	tasks.UpdateByIDs(ids, fn)    // fn applied per match → snapshot → {update: [...]}
//	tasks.DeleteByIDs(ids)        // removed → snapshot → {delete: [pre-removal values]}
//	tasks.UpsertMany(upsert)      // inserts + filtered updates → one snapshot, one delta
//
// The three side effects are injected as Policies, so the store itself
// knows nothing about persistence backends or the wire format. KindPolicies
// builds the production policies for a kind.
//
// # Shared Batches
//
// PrepareForBatchedSave applies a delta locally but folds the remote part
// into a caller-supplied queue.Batch instead of enqueuing it, so several
// stores can commit in one request:
//
//	batch := tasks.PrepareForBatchedSave(store.Delta[*schema.Task]{Delete: doomed}, nil)
//	batch = notes.PrepareForBatchedSave(store.Delta[*schema.Note]{Delete: orphans}, batch)
//	processor.Enqueue(batch)
//
// # Copy on Write
//
// Documents in the cache are never mutated after they are stored; mutators
// run on a clone which then replaces the cached value. Documents returned
// by Get and All must be treated as read-only.
//
// # Hooks
//
// OnWrite, OnDelete and OnReplace run after the store lock is released, so
// a hook may call back into the store.
package store
