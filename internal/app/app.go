// Package app wires the taskd components together from a Config.
//
// Open builds, in order: the sqlite database, the snapshot persister, the
// sync queue and its remote, the task and note stores, the shared clock and
// the recurrence engine. It then loads local snapshots, recovers any batch
// left in flight by a crash, and resyncs recurrence.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aneuhold/taskd/internal/config"
	"github.com/aneuhold/taskd/internal/docstore/clock"
	"github.com/aneuhold/taskd/internal/docstore/dashboard"
	"github.com/aneuhold/taskd/internal/docstore/db"
	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/docstore/recur"
	"github.com/aneuhold/taskd/internal/docstore/remote"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/snapshot"
	"github.com/aneuhold/taskd/internal/docstore/store"
	"github.com/aneuhold/taskd/internal/logging"
)

// Options override pieces of the default wiring.
type Options struct {
	// Logger is the base logger (default: stderr).
	Logger *log.Logger

	// Remote replaces the remote selected by config.
	Remote queue.Remote

	// IDs generates document ids (default: UUIDs).
	IDs idgen.Generator

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// App holds every long-lived component.
type App struct {
	Config *config.Config

	DB        *db.DB
	Snapshots snapshot.Persister
	Files     *snapshot.File // set for the file backend only
	Queue     *queue.Processor
	Backing   *db.QueueBacking
	Remote    queue.Remote
	Local     *db.Documents // set when no remote url is configured

	Tasks *store.Store[*schema.Task]
	Notes *store.Store[*schema.Note]

	Clock  *clock.Clock
	Engine *recur.Engine

	Dashboard *dashboard.Server
	Events    *dashboard.Handler

	ids    idgen.Generator
	now    func() time.Time
	logger *log.Logger
	redis  *snapshot.Redis
}

// Open builds and loads an App.
func Open(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(os.Stderr)
	}
	if opts.IDs == nil {
		opts.IDs = idgen.UUID{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &App{
		Config: cfg,
		ids:    opts.IDs,
		now:    opts.Now,
		logger: logging.For(opts.Logger, "app"),
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = database

	if err := a.openSnapshots(); err != nil {
		a.closeStorage()
		return nil, err
	}

	a.Remote = opts.Remote
	if a.Remote == nil {
		a.Remote = a.selectRemote(opts.Logger)
	}

	a.Backing = db.NewQueueBacking(database)
	a.Queue, err = queue.New(queue.Config{
		Remote:      a.Remote,
		Backing:     a.Backing,
		CallTimeout: callTimeout(cfg.Remote),
		Logger:      logging.For(opts.Logger, "queue"),
	})
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("failed to create sync queue: %w", err)
	}

	a.Tasks = store.New(schema.KindTasks,
		store.KindPolicies[*schema.Task](schema.KindTasks, a.Snapshots, a.Queue, logging.For(opts.Logger, "store:tasks")),
		logging.For(opts.Logger, "store:tasks"))
	a.Notes = store.New(schema.KindNotes,
		store.KindPolicies[*schema.Note](schema.KindNotes, a.Snapshots, a.Queue, logging.For(opts.Logger, "store:notes")),
		logging.For(opts.Logger, "store:notes"))
	a.Queue.SetReconciler(a.reconcile)

	var visibility clock.Visibility = clock.Always{}
	if cfg.Dashboard.Enabled {
		a.Dashboard = dashboard.NewServer(&dashboard.Config{
			Host:   cfg.Dashboard.Host,
			Port:   cfg.Dashboard.Port,
			Logger: logging.For(opts.Logger, "dashboard"),
		})
		a.Events = dashboard.NewHandler(a.Dashboard, logging.For(opts.Logger, "dashboard"))
		a.Events.AttachTasks(a.Tasks)
		a.Events.AttachNotes(a.Notes)
		a.Queue.OnDrain(a.Events.OnQueueDrain)
		if cfg.Clock.Visibility == config.VisibilityDashboard {
			visibility = a.Dashboard
		}
	}

	a.Clock = clock.New(cfg.Clock.Interval, logging.For(opts.Logger, "clock"))
	engineCfg := recur.Config{
		Tasks:      a.Tasks,
		Clock:      a.Clock,
		Visibility: visibility,
		Refetch:    a.Refetch,
		IDs:        opts.IDs,
		Now:        opts.Now,
		StaleAfter: cfg.Recurrence.StaleAfter,
		Logger:     logging.For(opts.Logger, "recur"),
	}
	if a.Events != nil {
		engineCfg.Notify = a.Events.OnRecurrence
	}
	a.Engine, err = recur.New(engineCfg)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("failed to create recurrence engine: %w", err)
	}

	if err := a.load(); err != nil {
		a.Engine.Stop()
		a.closeStorage()
		return nil, err
	}
	return a, nil
}

func (a *App) openSnapshots() error {
	switch a.Config.Snapshot.Backend {
	case config.BackendFile:
		files, err := snapshot.NewFile(a.Config.SnapshotDir())
		if err != nil {
			return fmt.Errorf("failed to open snapshot directory: %w", err)
		}
		a.Files = files
		a.Snapshots = files
	case config.BackendRedis:
		r, err := snapshot.NewRedis(a.Config.Snapshot.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = r
		a.Snapshots = r
	default:
		a.Snapshots = snapshot.NewSQLite(a.DB)
	}
	return nil
}

func (a *App) selectRemote(base *log.Logger) queue.Remote {
	rc := a.Config.Remote
	if rc.URL == "" {
		a.Local = db.NewDocuments(a.DB)
		return a.Local
	}
	return remote.NewClient(remote.ClientConfig{
		URL:        rc.URL,
		Token:      rc.Token,
		Timeout:    rc.Timeout,
		MaxRetries: rc.MaxRetries,
		Logger:     logging.For(base, "remote"),
	})
}

// callTimeout leaves room for every retry of one remote call.
func callTimeout(rc config.RemoteConfig) time.Duration {
	if rc.Timeout <= 0 {
		return 0
	}
	return rc.Timeout*time.Duration(rc.MaxRetries+1) + 5*time.Second
}

// load fills both stores from the local snapshot, seeds the local remote on
// first use, restarts any interrupted sync, then attaches and resyncs
// recurrence.
func (a *App) load() error {
	if err := a.Notes.LoadLocal(a.Snapshots); err != nil {
		return err
	}
	if err := a.Tasks.LoadLocal(a.Snapshots); err != nil {
		return err
	}

	if a.Local != nil {
		if err := seed(a.Local, schema.KindTasks, a.Tasks.All()); err != nil {
			return err
		}
		if err := seed(a.Local, schema.KindNotes, a.Notes.All()); err != nil {
			return err
		}
	}

	if err := a.Queue.Recover(); err != nil {
		return fmt.Errorf("failed to recover sync queue: %w", err)
	}

	a.Engine.Attach()
	a.Engine.Resync(a.Tasks.Snapshot())
	if a.Events != nil {
		a.Events.UpdateTaskStats(a.Tasks.All())
	}
	return nil
}

func seed[T any](d *db.Documents, kind string, docs []T) error {
	raw := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", kind, err)
		}
		raw = append(raw, b)
	}
	if _, err := d.Seed(context.Background(), kind, raw); err != nil {
		return fmt.Errorf("failed to seed local remote: %w", err)
	}
	return nil
}

// reconcile hands each kind of a drained result to its store. Kinds a
// newer local edit is still queued for are returned unapplied.
func (a *App) reconcile(res queue.Result, superseded func() bool) queue.Result {
	skipped := queue.Result{}
	for kind, docs := range res {
		var applied bool
		var err error
		switch kind {
		case schema.KindTasks:
			applied, err = a.Tasks.ReconcileIfCurrent(docs, superseded)
		case schema.KindNotes:
			applied, err = a.Notes.ReconcileIfCurrent(docs, superseded)
		default:
			a.logger.Printf("Warning: remote returned unknown kind %q", kind)
			continue
		}
		if err != nil {
			a.logger.Printf("Warning: failed to reconcile %s: %v", kind, err)
			continue
		}
		if !applied {
			skipped[kind] = docs
		}
	}
	return skipped
}

// Refetch requests the full list of every kind from the remote.
func (a *App) Refetch() {
	if err := a.Queue.Enqueue(queue.FetchAll(schema.KindTasks, schema.KindNotes)); err != nil {
		a.logger.Printf("Warning: failed to enqueue refetch: %v", err)
	}
}

// Sync requests a full refetch and waits for it to be reconciled.
func (a *App) Sync(ctx context.Context) error {
	if err := a.Queue.Enqueue(queue.FetchAll(schema.KindTasks, schema.KindNotes)); err != nil {
		return fmt.Errorf("failed to enqueue refetch: %w", err)
	}
	return a.WaitIdle(ctx)
}

// Reload re-reads one kind from the local snapshot.
func (a *App) Reload(kind string) error {
	switch kind {
	case schema.KindTasks:
		return a.Tasks.LoadLocal(a.Snapshots)
	case schema.KindNotes:
		return a.Notes.LoadLocal(a.Snapshots)
	}
	return fmt.Errorf("unknown kind %q", kind)
}

// WaitIdle blocks until the sync queue has drained.
func (a *App) WaitIdle(ctx context.Context) error {
	return a.Queue.WaitIdle(ctx)
}

// Now returns the app's current time.
func (a *App) Now() time.Time {
	return a.now()
}

// Close waits for the queue to drain (bounded by ctx), stops recurrence
// subscriptions and closes storage. Batches still pending stay in the
// durable queue and are recovered on the next Open.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Queue.WaitIdle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync queue did not drain: %w", err))
	}
	a.Engine.Stop()
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	var errs []error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ParseKinds validates a comma separated kind list. Empty means every kind.
func ParseKinds(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return []string{schema.KindTasks, schema.KindNotes}, nil
	}
	var kinds []string
	for _, k := range strings.Split(s, ",") {
		k = strings.TrimSpace(k)
		switch k {
		case schema.KindTasks, schema.KindNotes:
			kinds = append(kinds, k)
		default:
			return nil, fmt.Errorf("unknown kind %q", k)
		}
	}
	return kinds, nil
}
