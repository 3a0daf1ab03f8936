package recur

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/clock"
	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
	"github.com/aneuhold/taskd/internal/docstore/tree"
)

// Subscriber is the shared periodic clock.
type Subscriber interface {
	Subscribe(fn func(now time.Time)) (unsubscribe func())
}

// Event types reported through Config.Notify.
const (
	EventOccurrence = "occurrence"
	EventRetired    = "retired"
	EventScheduled  = "scheduled"
	EventRefetch    = "refetch"
)

// Event describes something the engine did.
type Event struct {
	Type   string    `json:"type"`
	TaskID string    `json:"task_id,omitempty"`
	Effect string    `json:"effect,omitempty"`
	Next   time.Time `json:"next,omitempty"`
	Count  int       `json:"count,omitempty"`
	At     time.Time `json:"at"`
}

// Config holds configuration for an Engine.
type Config struct {
	// Tasks is the task store the engine reads and writes. Required.
	Tasks *store.Store[*schema.Task]

	// Clock delivers periodic ticks. Required.
	Clock Subscriber

	// Visibility gates clock-driven refetches (default: always visible).
	Visibility clock.Visibility

	// Refetch requests a full remote refetch. Required.
	Refetch func()

	// IDs generates ids for stacked copies (default: UUIDs).
	IDs idgen.Generator

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// StaleAfter is the age past which completed, non-recurring root tasks
	// are deleted on resync. Zero disables retirement.
	StaleAfter time.Duration

	// State holds clock subscriptions (default: a fresh state).
	State *SchedulerState

	// Notify receives engine events (optional).
	Notify func(Event)

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger
}

// Engine schedules and processes recurring tasks.
type Engine struct {
	tasks      *store.Store[*schema.Task]
	clock      Subscriber
	visibility clock.Visibility
	refetch    func()
	ids        idgen.Generator
	now        func() time.Time
	staleAfter time.Duration
	state      *SchedulerState
	notify     func(Event)
	logger     *log.Logger

	mu          sync.Mutex
	lastRefetch time.Time
	processing  map[string]bool

	resyncMu sync.Mutex
}

// New creates an Engine. Call Attach to follow store changes.
func New(cfg Config) (*Engine, error) {
	if cfg.Tasks == nil {
		return nil, errors.New("recur: task store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("recur: clock is required")
	}
	if cfg.Refetch == nil {
		return nil, errors.New("recur: refetch func is required")
	}
	if cfg.Visibility == nil {
		cfg.Visibility = clock.Always{}
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.UUID{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.State == nil {
		cfg.State = NewSchedulerState()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[recur] ", log.LstdFlags)
	}
	return &Engine{
		tasks:      cfg.Tasks,
		clock:      cfg.Clock,
		visibility: cfg.Visibility,
		refetch:    cfg.Refetch,
		ids:        cfg.IDs,
		now:        cfg.Now,
		staleAfter: cfg.StaleAfter,
		state:      cfg.State,
		notify:     cfg.Notify,
		logger:     cfg.Logger,
		processing: make(map[string]bool),
	}, nil
}

// State returns the engine's subscription table.
func (e *Engine) State() *SchedulerState {
	return e.state
}

// Attach registers the engine's hooks on the task store.
func (e *Engine) Attach() {
	e.tasks.OnWrite(e.handleWrite)
	e.tasks.OnDelete(func(removed []*schema.Task) {
		for _, t := range removed {
			e.Untrack(t.ID)
		}
	})
	e.tasks.OnReplace(func(all map[string]*schema.Task) {
		e.Resync(all)
	})
}

// Stop tears down every subscription.
func (e *Engine) Stop() {
	e.state.CancelAll()
}

// Track (re)subscribes t. Any existing subscription is torn down first;
// only time-based origins with a known next occurrence are subscribed.
func (e *Engine) Track(t *schema.Task) {
	e.state.Cancel(t.ID)
	if !IsOrigin(t) {
		return
	}
	next, ok := NextOccurrenceDate(t)
	if !ok {
		return
	}

	id := t.ID
	unsub := e.clock.Subscribe(func(now time.Time) {
		e.onTick(id, next, now)
	})
	e.state.Set(id, unsub)
	e.emit(Event{Type: EventScheduled, TaskID: id, Effect: string(t.RecurrenceInfo.Effect), Next: next})
}

// Untrack removes the subscription for id.
func (e *Engine) Untrack(id string) {
	e.state.Cancel(id)
}

// Resync retires stale tasks, processes everything already due, then
// rebuilds the subscription map from the current cache.
func (e *Engine) Resync(all map[string]*schema.Task) {
	now := e.now()

	if retired := e.retireStale(all, now); retired > 0 {
		all = e.tasks.Snapshot()
	}

	for _, t := range sortedOrigins(all) {
		if !IsDue(t, now) {
			continue
		}
		if err := e.process(t.ID); err != nil {
			e.logger.Printf("Warning: occurrence for %s failed: %v", t.ID, err)
		}
	}

	e.resyncMu.Lock()
	e.state.CancelAll()
	for _, t := range e.tasks.All() {
		e.Track(t)
	}
	scheduled := e.state.Len()
	e.resyncMu.Unlock()
	e.logger.Printf("Resynced: %d scheduled", scheduled)
}

// Fire processes the occurrence for id if it is due.
func (e *Engine) Fire(id string) (bool, error) {
	t, ok := e.tasks.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: task %s", store.ErrEntityNotFound, id)
	}
	if !IsDue(t, e.now()) {
		return false, nil
	}
	return true, e.process(id)
}

// handleWrite re-evaluates changed tasks after a store write.
func (e *Engine) handleWrite(changed []*schema.Task) {
	now := e.now()
	for _, t := range changed {
		if IsDue(t, now) {
			if err := e.process(t.ID); err != nil {
				e.logger.Printf("Warning: occurrence for %s failed: %v", t.ID, err)
			}
			continue
		}
		e.Track(t)
	}
}

// process applies one occurrence of id against a fresh snapshot. It is a
// no-op when id is already being processed or is no longer due, so a caller
// holding an older view of the cache cannot apply the same occurrence twice.
func (e *Engine) process(id string) error {
	e.mu.Lock()
	if e.processing[id] {
		e.mu.Unlock()
		return nil
	}
	e.processing[id] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.processing, id)
		e.mu.Unlock()
	}()

	now := e.now()
	snap := e.tasks.Snapshot()
	origin, ok := snap[id]
	if !ok {
		return fmt.Errorf("%w: task %s", store.ErrEntityNotFound, id)
	}
	if !IsDue(origin, now) {
		return nil
	}

	u, err := ProcessOccurrence(snap, origin, now, e.ids)
	if err != nil {
		return err
	}
	e.state.Cancel(id)
	e.logger.Printf("Processing %s occurrence for %s", origin.RecurrenceInfo.Effect, id)
	e.emit(Event{Type: EventOccurrence, TaskID: id, Effect: string(origin.RecurrenceInfo.Effect)})
	e.tasks.UpsertMany(u)
	return nil
}

// onTick requests a refetch once the next occurrence has passed, but only
// while the application is visible. Ticks sharing a timestamp coalesce
// into one refetch.
func (e *Engine) onTick(id string, next, now time.Time) {
	if !now.After(next) {
		return
	}
	if !e.visibility.Visible() {
		return
	}

	e.mu.Lock()
	if now.Equal(e.lastRefetch) {
		e.mu.Unlock()
		return
	}
	e.lastRefetch = now
	e.mu.Unlock()

	e.logger.Printf("Task %s passed its occurrence at %s; refetching", id, next.Format(time.RFC3339))
	e.emit(Event{Type: EventRefetch, TaskID: id, Next: next})
	e.refetch()
}

// retireStale deletes completed, non-recurring root subtrees whose
// updated_at is older than the staleness threshold.
func (e *Engine) retireStale(all map[string]*schema.Task, now time.Time) int {
	if e.staleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-e.staleAfter)

	var doomed []string
	for _, t := range all {
		if !t.IsRoot() || t.IsGeneratedChild() || t.RecurrenceInfo != nil {
			continue
		}
		if !t.Completed || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		ids, err := tree.CascadeDelete(all, t.ID)
		if err != nil {
			continue
		}
		doomed = append(doomed, ids...)
	}
	if len(doomed) == 0 {
		return 0
	}

	if err := e.tasks.DeleteByIDs(doomed); err != nil {
		e.logger.Printf("Warning: retiring stale tasks: %v", err)
	}
	e.logger.Printf("Retired %d stale tasks", len(doomed))
	e.emit(Event{Type: EventRetired, Count: len(doomed)})
	return len(doomed)
}

func (e *Engine) emit(ev Event) {
	if e.notify == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.notify(ev)
}

func sortedOrigins(all map[string]*schema.Task) []*schema.Task {
	var out []*schema.Task
	for _, t := range all {
		if IsOrigin(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
