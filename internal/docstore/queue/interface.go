package queue

import (
	"context"
	"time"
)

// Remote applies batches against the remote service.
//
// Apply sends one batch and returns the remote's current document list for
// every kind the batch touched or requested. Implementations must not
// assume the batch has been validated.
//
// Example:
//
//	res, err := remote.Apply(ctx, queue.Batch{
//	    "tasks": {Insert: []json.RawMessage{raw}},
//	})
type Remote interface {
	Apply(ctx context.Context, batch Batch) (Result, error)
}

// RemoteFunc adapts a function to the Remote interface.
type RemoteFunc func(ctx context.Context, batch Batch) (Result, error)

// Apply implements Remote.
func (f RemoteFunc) Apply(ctx context.Context, batch Batch) (Result, error) {
	return f(ctx, batch)
}

// Reconciler receives the combined result once the queue has fully drained.
//
// superseded reports whether a batch was queued after the drain ended. A
// reconciler checks it while holding the lock its writers hold when they
// enqueue, and skips any kind a newer local edit would be overwritten in.
// The skipped part is returned and folded into the next drain's result.
type Reconciler func(res Result, superseded func() bool) (skipped Result)

// Leaser is implemented by backings shared between processes. Only the
// lease holder drains the queue. A batch found in flight when the lease is
// taken belongs to a holder that is gone and is requeued.
type Leaser interface {
	// AcquireLease takes the lease for owner, or renews it, until ttl
	// elapses. It reports false while another owner holds a live lease.
	AcquireLease(owner string, ttl time.Duration) (bool, error)

	// ReleaseLease gives the lease up if owner holds it.
	ReleaseLease(owner string) error
}

// Backing is the durable FIFO behind a Processor.
//
// All methods must be safe for concurrent use. Implementations persist
// every transition before returning, so the queue content survives a
// restart.
type Backing interface {
	// Append adds a batch at the tail.
	Append(batch Batch) error

	// PopToInFlight removes the oldest batch and records it as the in-flight
	// batch in one step. ok is false when the queue is empty.
	PopToInFlight() (batch Batch, ok bool, err error)

	// ClearInFlight forgets the in-flight batch after its call returned.
	ClearInFlight() error

	// InFlight returns the batch left in flight, if any.
	InFlight() (batch Batch, ok bool, err error)

	// RequeueInFlight moves the in-flight batch back to the head of the queue.
	// It is a no-op when nothing is in flight.
	RequeueInFlight() error

	// Len returns the number of queued batches, excluding the in-flight one.
	Len() (int, error)
}
