// Package daemon runs the long-lived side of taskd.
//
// The daemon:
//  1. Runs the shared clock that drives recurrence and refetches
//  2. Listens on the remote push channel and refetches on change
//  3. Watches file snapshots and reloads kinds rewritten by other processes
//  4. Requests a periodic full refetch from the remote
//  5. Serves the dashboard
//  6. Handles graceful shutdown
//
// Loading local snapshots and recovering the sync queue happen when the
// stores are built, before the daemon starts.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/dashboard"
	"github.com/aneuhold/taskd/internal/docstore/snapshot"
)

// Runner is a background loop that stops when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) { f(ctx) }

// Config holds configuration for the daemon.
type Config struct {
	// RefetchInterval is how often to request a full refetch (0 disables)
	RefetchInterval time.Duration

	// DebounceInterval is how long a snapshot file must stay quiet before
	// it is reloaded. This batches rapid rewrites together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RefetchInterval:  15 * time.Minute,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Deps are the components the daemon drives.
type Deps struct {
	// Clock is the shared periodic clock. Required.
	Clock Runner

	// Refetch requests a full remote refetch. Required.
	Refetch func()

	// Push listens for remote change announcements (optional).
	Push Runner

	// Files enables snapshot watching (optional).
	Files *snapshot.File

	// Reload reloads one kind from its local snapshot. Required with Files.
	Reload func(kind string) error

	// Dashboard is started and stopped with the daemon (optional).
	Dashboard *dashboard.Server
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Refetches int       `json:"refetches"`
	Reloads   int       `json:"reloads"`
	Skipped   int       `json:"skipped_own_writes"`
}

// Daemon orchestrates the clock, push channel, snapshot watcher and dashboard.
type Daemon struct {
	deps   Deps
	config *Config

	watcher       *snapshot.Watcher
	changeQueue   map[string]time.Time // kind -> last event
	changeQueueMu sync.Mutex

	statusMu sync.Mutex
	status   Status

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(deps Deps) (*Daemon, error) {
	return NewWithConfig(deps, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(deps Deps, config *Config) (*Daemon, error) {
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if deps.Refetch == nil {
		return nil, fmt.Errorf("refetch cannot be nil")
	}
	if deps.Files != nil && deps.Reload == nil {
		return nil, fmt.Errorf("reload is required when watching snapshot files")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}

	d := &Daemon{
		deps:        deps,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}

	if deps.Files != nil {
		w, err := snapshot.NewWatcher(deps.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = w
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Request an initial full refetch
//  2. Start the dashboard, clock and push listener
//  3. Start watching snapshot files with debouncing
//  4. Periodically request a full refetch
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.deps.Dashboard != nil {
		if err := d.deps.Dashboard.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			d.stopDashboard()
			return fmt.Errorf("failed to watch snapshots: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.deps.Files.Dir())
	}

	d.statusMu.Lock()
	d.status.Running = true
	d.status.StartedAt = time.Now()
	d.statusMu.Unlock()

	d.refetch("startup")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deps.Clock.Run(d.ctx)
	}()

	if d.deps.Push != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deps.Push.Run(d.ctx)
		}()
	}

	if d.watcher != nil {
		d.wg.Add(2)
		go d.watchSnapshotEvents()
		go d.processChangeQueue()
	}

	if d.config.RefetchInterval > 0 {
		d.wg.Add(1)
		go d.periodicRefetch()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var errs []error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("error closing watcher: %w", err))
			}
		}

		d.wg.Wait()

		if err := d.stopDashboard(); err != nil {
			errs = append(errs, err)
		}

		d.statusMu.Lock()
		d.status.Running = false
		d.statusMu.Unlock()

		d.config.Logger.Println("Daemon stopped")
	})
	return errors.Join(errs...)
}

// Status returns current counters.
func (d *Daemon) Status() Status {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	return d.status
}

func (d *Daemon) stopDashboard() error {
	if d.deps.Dashboard == nil {
		return nil
	}
	if err := d.deps.Dashboard.Stop(); err != nil {
		return fmt.Errorf("error stopping dashboard: %w", err)
	}
	return nil
}

func (d *Daemon) refetch(reason string) {
	d.config.Logger.Printf("Requesting full refetch (%s)", reason)
	d.statusMu.Lock()
	d.status.Refetches++
	d.statusMu.Unlock()
	d.deps.Refetch()
}

// periodicRefetch requests a full refetch on a fixed interval.
func (d *Daemon) periodicRefetch() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.RefetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.refetch("periodic")
		}
	}
}

// watchSnapshotEvents queues kinds whose snapshot files changed.
func (d *Daemon) watchSnapshotEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Op == snapshot.OpDelete {
				d.config.Logger.Printf("Warning: snapshot %s was removed; keeping in-memory state", event.Kind)
				continue
			}
			d.queueChange(event.Kind)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a kind to the change queue with debouncing.
func (d *Daemon) queueChange(kind string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[kind] = time.Now()
}

// processChangeQueue processes queued snapshot changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges reloads kinds that have been quiet for long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for kind, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, kind)
		delete(d.changeQueue, kind)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, kind := range ready {
		d.reloadKind(kind)
	}
}

func (d *Daemon) reloadKind(kind string) {
	data, ok, err := d.deps.Files.Load(kind)
	if err != nil {
		d.config.Logger.Printf("Warning: failed to read snapshot %s: %v", kind, err)
		return
	}
	if !ok {
		return
	}
	if d.deps.Files.WrittenByUs(kind, data) {
		d.statusMu.Lock()
		d.status.Skipped++
		d.statusMu.Unlock()
		return
	}

	d.config.Logger.Printf("Reloading %s: snapshot changed on disk", kind)
	if err := d.deps.Reload(kind); err != nil {
		d.config.Logger.Printf("Warning: failed to reload %s: %v", kind, err)
		return
	}
	d.statusMu.Lock()
	d.status.Reloads++
	d.statusMu.Unlock()
}
