package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds configuration for a Processor.
type Config struct {
	// Remote receives the batches. Required.
	Remote Remote

	// Backing stores pending batches. Required.
	Backing Backing

	// Reconcile is called with the combined result after a full drain.
	Reconcile Reconciler

	// CallTimeout bounds a single remote call (default: 30s).
	CallTimeout time.Duration

	// LeaseRetry is how often a processor waiting on another process's
	// lease checks again (default: 250ms). Only used with a Leaser backing.
	LeaseRetry time.Duration

	// Logger for queue activity (default: stderr logger).
	Logger *log.Logger
}

// Stats is a point-in-time view of processor activity.
type Stats struct {
	Pending    int       `json:"pending"`
	Running    bool      `json:"running"`
	Enqueued   int       `json:"enqueued"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Reconciles int       `json:"reconciles"`
	LastError  string    `json:"last_error,omitempty"`
	LastDrain  time.Time `json:"last_drain,omitempty"`
}

// Processor drains a Backing against a Remote, one batch at a time.
type Processor struct {
	remote    Remote
	backing   Backing
	reconcile Reconciler
	timeout   time.Duration
	logger    *log.Logger

	leaser     Leaser
	owner      string
	leaseRetry time.Duration

	mu      sync.Mutex
	running bool
	idle    chan struct{}
	stats   Stats
	onDrain []func(Stats)
}

// New creates a Processor. Processing starts on the first Enqueue or on
// Recover.
func New(cfg Config) (*Processor, error) {
	if cfg.Remote == nil {
		return nil, ErrNoRemote
	}
	if cfg.Backing == nil {
		return nil, ErrNoBacking
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.LeaseRetry <= 0 {
		cfg.LeaseRetry = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	p := &Processor{
		remote:     cfg.Remote,
		backing:    cfg.Backing,
		reconcile:  cfg.Reconcile,
		timeout:    cfg.CallTimeout,
		logger:     cfg.Logger,
		owner:      fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
		leaseRetry: cfg.LeaseRetry,
	}
	p.leaser, _ = cfg.Backing.(Leaser)
	return p, nil
}

// SetReconciler replaces the reconciler. It is meant for wiring stores that
// are created after the processor.
func (p *Processor) SetReconciler(r Reconciler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconcile = r
}

// OnDrain registers fn to run after every full drain.
func (p *Processor) OnDrain(fn func(Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDrain = append(p.onDrain, fn)
}

// Enqueue appends batch to the durable queue and starts the processing
// loop if it is idle. Empty batches are ignored.
func (p *Processor) Enqueue(batch Batch) error {
	if batch.Empty() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.backing.Append(batch); err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	p.stats.Enqueued++
	p.startLocked()
	return nil
}

// Recover resumes after a restart. Processing starts if anything is
// pending; a batch left in flight is put back at the head of the queue
// once this processor owns the queue.
func (p *Processor) Recover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, inFlight, err := p.backing.InFlight()
	if err != nil {
		return fmt.Errorf("failed to read in-flight batch: %w", err)
	}
	n, err := p.backing.Len()
	if err != nil {
		return fmt.Errorf("failed to read queue length: %w", err)
	}
	if n > 0 || inFlight {
		p.logger.Printf("Resuming %d pending batches (in flight: %v)", n, inFlight)
		p.startLocked()
	}
	return nil
}

// WaitIdle blocks until no processing loop is active or ctx is done.
func (p *Processor) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.running {
			p.mu.Unlock()
			return nil
		}
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns current counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Running = p.running
	if n, err := p.backing.Len(); err == nil {
		s.Pending = n
	}
	return s
}

// startLocked launches the loop if none is active. Caller holds p.mu.
func (p *Processor) startLocked() {
	if p.running {
		return
	}
	p.running = true
	p.idle = make(chan struct{})
	go p.run()
}

// run drains the queue, reconciling only when it is fully empty.
func (p *Processor) run() {
	combined := Result{}
	held := false

	for {
		ok, err := p.acquire()
		if err != nil {
			p.logger.Printf("Warning: failed to take queue lease: %v", err)
			p.finish(err, held)
			return
		}
		if !ok {
			// Another process drains the shared queue, including our batches.
			held = false
			n, err := p.backing.Len()
			if err != nil || n == 0 {
				p.finish(err, false)
				return
			}
			time.Sleep(p.leaseRetry)
			continue
		}
		if !held {
			held = true
			if err := p.backing.RequeueInFlight(); err != nil {
				p.logger.Printf("Warning: failed to requeue in-flight batch: %v", err)
			}
		}

		batch, ok, err := p.backing.PopToInFlight()
		if err != nil {
			p.logger.Printf("Warning: failed to pop batch: %v", err)
			p.finish(err, held)
			return
		}

		if ok {
			if res, err := p.send(batch); err != nil {
				p.logger.Printf("Warning: %v (batch dropped: %s)", err, batch.Summary())
				p.recordFailure(err)
			} else {
				combined.Merge(res)
				p.recordSent()
			}
			if err := p.backing.ClearInFlight(); err != nil {
				p.logger.Printf("Warning: failed to clear in-flight batch: %v", err)
			}
			continue
		}

		if len(combined) > 0 {
			combined = p.apply(combined)
		}

		n, err := p.backing.Len()
		if err == nil && (n > 0 || len(combined) > 0) {
			continue
		}
		p.finish(err, held)
		return
	}
}

// acquire takes or renews the lease. Backings without one are always owned.
func (p *Processor) acquire() (bool, error) {
	if p.leaser == nil {
		return true, nil
	}
	return p.leaser.AcquireLease(p.owner, p.timeout+p.leaseRetry+10*time.Second)
}

func (p *Processor) send(batch Batch) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res, err := p.remote.Apply(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteCallFailed, err)
	}
	return res, nil
}

// apply hands res to the reconciler and returns the part it skipped.
func (p *Processor) apply(res Result) Result {
	p.mu.Lock()
	reconcile := p.reconcile
	p.stats.Reconciles++
	gen := p.stats.Enqueued
	p.mu.Unlock()

	if reconcile == nil {
		return Result{}
	}
	kinds := make([]string, 0, len(res))
	for k := range res {
		kinds = append(kinds, k)
	}
	p.logger.Printf("Reconciling kinds %v", kinds)

	superseded := func() bool {
		p.mu.Lock()
		newer := p.stats.Enqueued != gen
		p.mu.Unlock()
		if newer {
			return true
		}
		n, err := p.backing.Len()
		return err == nil && n > 0
	}
	skipped := reconcile(res, superseded)
	if len(skipped) > 0 {
		p.logger.Printf("Deferring reconcile of %d kind(s) behind newer local changes", len(skipped))
		return skipped
	}
	return Result{}
}

func (p *Processor) recordSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Sent++
}

func (p *Processor) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Failed++
	p.stats.LastError = err.Error()
}

// finish marks the loop idle and gives up the lease. A new Enqueue that
// raced with the final length check restarts the loop under the same lock.
func (p *Processor) finish(err error, held bool) {
	if held && p.leaser != nil {
		if rerr := p.leaser.ReleaseLease(p.owner); rerr != nil {
			p.logger.Printf("Warning: failed to release queue lease: %v", rerr)
		}
	}

	p.mu.Lock()
	if err != nil {
		p.stats.LastError = err.Error()
	}
	p.stats.LastDrain = time.Now()
	p.running = false
	close(p.idle)
	hooks := append([]func(Stats){}, p.onDrain...)
	s := p.stats

	if err == nil {
		if n, lerr := p.backing.Len(); lerr == nil && n > 0 {
			p.startLocked()
		}
	}
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
}
