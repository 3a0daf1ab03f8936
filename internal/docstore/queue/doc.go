// Package queue serializes remote sync of document mutations.
//
// # Overview
//
// Every mutating document store call applies its change to the local cache
// immediately and then hands a Batch to the Processor. The Processor drains
// batches one at a time, strictly in submission order, against the remote
// service:
//
//	Store.AddOne / UpdateByIDs / DeleteByIDs / UpsertMany
//	     │  (cache mutated synchronously)
//	     ▼
//	Processor.Enqueue(batch) ──► Backing (durable FIFO)
//	                                 │  one batch at a time
//	                                 ▼
//	                             Remote.Apply ──► Result (accumulated)
//	                                 │  queue empty?
//	                                 ▼
//	                             Reconciler(combined result)
//
// # Reconciliation
//
// Responses are accumulated and applied back to the caches only once the
// queue is fully drained. If the user mutates a document while a request is
// in flight, that newer batch is sent before any response is applied, so a
// slow response cannot clobber a newer local edit.
//
// A mutation can still land between the final empty check and the apply.
// The Reconciler is given a superseded check for that case; a kind it skips
// is carried into the next drain, which starts right away for the new batch.
//
// # Durability
//
// The Backing persists the queue itself, not derived state. Before a batch
// is sent it is moved to an in-flight slot; the slot is cleared once the
// call returns. After a crash, Recover moves a leftover in-flight batch back
// to the head of the queue and resumes processing.
//
// A Backing shared between processes also implements Leaser. Only the
// lease holder drains; the others wait while batches are pending and go
// idle once the holder has sent them. A batch found in flight when the
// lease is taken belongs to a holder that died and is requeued.
//
// # Error Handling
//
// A failed remote call is logged and excluded from the combined result.
// The processor does not retry; transient failures are retried by the
// remote client itself (see package remote). Local optimistic state is left
// intact, so a dropped batch drifts from the server until the next full
// refetch.
//
// # Concurrency
//
// Enqueue is safe for concurrent use. At most one processing goroutine runs
// per Processor; it exits when the queue is empty and the combined result
// has been reconciled.
package queue
