package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote records every batch it receives. Calls block on gate when set.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []Batch
	gate    chan struct{}
	started chan struct{}
	fail    map[int]bool
}

func (f *fakeRemote) Apply(ctx context.Context, b Batch) (Result, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, b)
	gate, started := f.gate, f.started
	fail := f.fail[n]
	f.mu.Unlock()

	if started != nil && n == 0 {
		close(started)
	}
	if gate != nil && n == 0 {
		<-gate
	}
	if fail {
		return nil, errors.New("boom")
	}

	res := Result{}
	for kind, d := range b {
		res[kind] = append([]json.RawMessage{}, d.Insert...)
	}
	return res, nil
}

func (f *fakeRemote) Calls() []Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Batch(nil), f.calls...)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func insertBatch(kind, doc string) Batch {
	return Batch{kind: {Insert: []json.RawMessage{json.RawMessage(`"` + doc + `"`)}}}
}

func waitIdle(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitIdle(ctx))
}

func TestNew_RequiresRemoteAndBacking(t *testing.T) {
	_, err := New(Config{Backing: NewMemoryBacking()})
	assert.ErrorIs(t, err, ErrNoRemote)

	_, err = New(Config{Remote: &fakeRemote{}})
	assert.ErrorIs(t, err, ErrNoBacking)
}

func TestProcessor_FIFOAndReconcileAfterFullDrain(t *testing.T) {
	remote := &fakeRemote{gate: make(chan struct{}), started: make(chan struct{})}

	var mu sync.Mutex
	var reconciled []Result
	p, err := New(Config{
		Remote:  remote,
		Backing: NewMemoryBacking(),
		Logger:  quietLogger(),
		Reconcile: func(r Result, _ func() bool) Result {
			mu.Lock()
			defer mu.Unlock()
			reconciled = append(reconciled, r)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "b1")))
	<-remote.started

	// B2 arrives while B1 is still in flight.
	require.NoError(t, p.Enqueue(insertBatch("notes", "b2")))

	mu.Lock()
	assert.Empty(t, reconciled, "must not reconcile while B1 is in flight")
	mu.Unlock()

	close(remote.gate)
	waitIdle(t, p)

	calls := remote.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "tasks")
	assert.Contains(t, calls[1], "notes")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reconciled, 1, "one reconciliation for both batches")
	assert.Contains(t, reconciled[0], "tasks")
	assert.Contains(t, reconciled[0], "notes")
}

func TestProcessor_FailedCallExcludedFromResult(t *testing.T) {
	remote := &fakeRemote{
		gate:    make(chan struct{}),
		started: make(chan struct{}),
		fail:    map[int]bool{0: true},
	}

	var got Result
	done := make(chan struct{})
	p, err := New(Config{
		Remote:  remote,
		Backing: NewMemoryBacking(),
		Logger:  quietLogger(),
		Reconcile: func(r Result, _ func() bool) Result {
			got = r
			close(done)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "lost")))
	<-remote.started
	require.NoError(t, p.Enqueue(insertBatch("notes", "kept")))
	close(remote.gate)
	waitIdle(t, p)
	<-done

	assert.NotContains(t, got, "tasks")
	assert.Contains(t, got, "notes")

	stats := p.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Pending)
	assert.Contains(t, stats.LastError, "remote call failed")
}

func TestProcessor_AllFailedSkipsReconcile(t *testing.T) {
	remote := &fakeRemote{fail: map[int]bool{0: true}}
	called := false
	p, err := New(Config{
		Remote:    remote,
		Backing:   NewMemoryBacking(),
		Logger:    quietLogger(),
		Reconcile: func(Result, func() bool) Result { called = true; return nil },
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "x")))
	waitIdle(t, p)

	assert.False(t, called)
}

func TestProcessor_EmptyBatchIgnored(t *testing.T) {
	remote := &fakeRemote{}
	p, err := New(Config{Remote: remote, Backing: NewMemoryBacking(), Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(Batch{"tasks": &Delta{}}))
	waitIdle(t, p)

	assert.Empty(t, remote.Calls())
	assert.Equal(t, 0, p.Stats().Enqueued)
}

func TestProcessor_RecoverRequeuesInFlight(t *testing.T) {
	backing := NewMemoryBacking()
	require.NoError(t, backing.Append(insertBatch("tasks", "first")))
	require.NoError(t, backing.Append(insertBatch("tasks", "second")))

	// Simulate a crash right after the first batch went in flight.
	_, ok, err := backing.PopToInFlight()
	require.NoError(t, err)
	require.True(t, ok)

	remote := &fakeRemote{}
	p, err := New(Config{Remote: remote, Backing: backing, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, p.Recover())
	waitIdle(t, p)

	calls := remote.Calls()
	require.Len(t, calls, 2)
	assert.JSONEq(t, `"first"`, string(calls[0]["tasks"].Insert[0]))
	assert.JSONEq(t, `"second"`, string(calls[1]["tasks"].Insert[0]))

	_, ok, err = backing.InFlight()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessor_ReconcileMayEnqueueMore(t *testing.T) {
	remote := &fakeRemote{}
	var p *Processor
	rounds := 0
	var err error
	p, err = New(Config{
		Remote:  remote,
		Backing: NewMemoryBacking(),
		Logger:  quietLogger(),
		Reconcile: func(Result, func() bool) Result {
			rounds++
			if rounds == 1 {
				require.NoError(t, p.Enqueue(insertBatch("tasks", "follow-up")))
			}
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "initial")))
	waitIdle(t, p)

	assert.Len(t, remote.Calls(), 2)
	assert.Equal(t, 2, rounds)
}

func TestProcessor_SupersededKindsWaitForNextDrain(t *testing.T) {
	remote := &fakeRemote{}
	var p *Processor
	var rounds []Result
	var flags []bool
	var err error
	p, err = New(Config{
		Remote:  remote,
		Backing: NewMemoryBacking(),
		Logger:  quietLogger(),
		Reconcile: func(r Result, superseded func() bool) Result {
			rounds = append(rounds, r)
			if len(rounds) == 1 {
				// A local edit lands between the drain and the apply.
				require.NoError(t, p.Enqueue(insertBatch("notes", "edit")))
			}
			stale := superseded()
			flags = append(flags, stale)
			if stale {
				return r
			}
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "initial")))
	waitIdle(t, p)

	require.Len(t, rounds, 2)
	assert.Equal(t, []bool{true, false}, flags)
	assert.Contains(t, rounds[1], "tasks", "skipped kind is carried into the next apply")
	assert.Contains(t, rounds[1], "notes")
	assert.Equal(t, 2, p.Stats().Reconciles)
}

// leasedBacking shares a MemoryBacking lease between processors.
type leasedBacking struct {
	*MemoryBacking
	mu    sync.Mutex
	owner string
}

func (l *leasedBacking) AcquireLease(owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" && l.owner != owner {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

func (l *leasedBacking) ReleaseLease(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}

func (l *leasedBacking) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func TestProcessor_WaitsForForeignLease(t *testing.T) {
	backing := &leasedBacking{MemoryBacking: NewMemoryBacking(), owner: "other-process"}
	remote := &fakeRemote{}
	p, err := New(Config{
		Remote:     remote,
		Backing:    backing,
		Logger:     quietLogger(),
		LeaseRetry: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, p.Enqueue(insertBatch("tasks", "queued")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, remote.Calls(), "must not drain while another process holds the lease")
	assert.True(t, p.Stats().Running)

	require.NoError(t, backing.ReleaseLease("other-process"))
	waitIdle(t, p)

	require.Len(t, remote.Calls(), 1)
	assert.Empty(t, backing.Owner(), "lease released after the drain")
}

func TestProcessor_ForeignLeaseWithEmptyQueueGoesIdle(t *testing.T) {
	backing := &leasedBacking{MemoryBacking: NewMemoryBacking(), owner: "other-process"}
	require.NoError(t, backing.Append(insertBatch("tasks", "theirs")))
	remote := &fakeRemote{}
	p, err := New(Config{
		Remote:     remote,
		Backing:    backing,
		Logger:     quietLogger(),
		LeaseRetry: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, p.Recover())

	// The other process drains the shared queue.
	_, _, err = backing.PopToInFlight()
	require.NoError(t, err)
	require.NoError(t, backing.ClearInFlight())

	waitIdle(t, p)
	assert.Empty(t, remote.Calls())
	assert.Equal(t, "other-process", backing.Owner())
}

func TestBatch_AddMergesPerKind(t *testing.T) {
	b := Batch{}
	b.Add("tasks", &Delta{Insert: []json.RawMessage{[]byte(`1`)}})
	b.Add("tasks", &Delta{Update: []json.RawMessage{[]byte(`2`)}})
	b.Add("notes", &Delta{})

	require.Len(t, b, 1)
	assert.Len(t, b["tasks"].Insert, 1)
	assert.Len(t, b["tasks"].Update, 1)
	assert.Equal(t, "insert=1 update=1 delete=0 get=0", b.Summary())
}

func TestResult_MergeLaterWins(t *testing.T) {
	r := Result{"tasks": {json.RawMessage(`1`)}}
	r.Merge(Result{"tasks": {json.RawMessage(`2`)}, "notes": nil})

	assert.JSONEq(t, `2`, string(r["tasks"][0]))
	assert.Contains(t, r, "notes")
}
