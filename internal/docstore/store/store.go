package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/aneuhold/taskd/internal/docstore/cache"
	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// Delta is a typed change set for one kind.
type Delta[T any] struct {
	Insert []T
	Update []T
	Delete []T
}

// Empty reports whether the delta carries nothing.
func (d Delta[T]) Empty() bool {
	return len(d.Insert) == 0 && len(d.Update) == 0 && len(d.Delete) == 0
}

// Upsert inserts NewEntities and applies Mutator to every existing document
// matching Filter, as a single transaction.
type Upsert[T any] struct {
	Filter      func(T) bool
	Mutator     func(T)
	NewEntities []T
}

// Policies are the side effects a Store performs after mutating its cache.
type Policies[T any] struct {
	// PersistLocal stores the full local snapshot.
	PersistLocal func(all map[string]T)

	// PersistRemote hands a delta to the sync queue.
	PersistRemote func(d Delta[T])

	// Accumulate folds a delta into a shared batch and returns it.
	Accumulate func(shared queue.Batch, d Delta[T]) queue.Batch
}

// Store is the CRUD surface for one document kind.
type Store[T cache.Document[T]] struct {
	kind     string
	cache    *cache.Cache[T]
	policies Policies[T]
	logger   *log.Logger

	mu sync.Mutex

	hooksMu   sync.RWMutex
	onWrite   []func([]T)
	onDelete  []func([]T)
	onReplace []func(map[string]T)
}

// New creates an empty store for kind.
// If logger is nil, a default logger writing to stderr is used.
func New[T cache.Document[T]](kind string, policies Policies[T], logger *log.Logger) *Store[T] {
	if logger == nil {
		logger = log.New(os.Stderr, fmt.Sprintf("[store:%s] ", kind), log.LstdFlags)
	}
	return &Store[T]{
		kind:     kind,
		cache:    cache.New[T](),
		policies: policies,
		logger:   logger,
	}
}

// Kind returns the document kind this store holds.
func (s *Store[T]) Kind() string {
	return s.kind
}

// ===== Reads =====

// Get returns the cached document. Treat it as read-only.
func (s *Store[T]) Get(id string) (T, bool) {
	return s.cache.Get(id)
}

// GetMany returns documents in input order, dropping missing ids.
func (s *Store[T]) GetMany(ids []string) []T {
	return s.cache.GetMany(ids)
}

// All returns every document. Treat them as read-only.
func (s *Store[T]) All() []T {
	return s.cache.All()
}

// Len returns the number of cached documents.
func (s *Store[T]) Len() int {
	return s.cache.Len()
}

// Snapshot returns an independent deep copy of the cache.
func (s *Store[T]) Snapshot() map[string]T {
	return s.cache.Snapshot()
}

// ===== Hooks =====

// OnWrite registers fn to receive documents inserted or updated by a call.
func (s *Store[T]) OnWrite(fn func(changed []T)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onWrite = append(s.onWrite, fn)
}

// OnDelete registers fn to receive documents removed by a call.
func (s *Store[T]) OnDelete(fn func(removed []T)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

// OnReplace registers fn to receive a snapshot after a full replacement.
func (s *Store[T]) OnReplace(fn func(all map[string]T)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onReplace = append(s.onReplace, fn)
}

// ===== Mutations =====

// AddOne inserts a single document.
func (s *Store[T]) AddOne(v T) {
	s.AddMany([]T{v})
}

// AddMany inserts documents, persists the snapshot, then enqueues
// {insert: docs}.
func (s *Store[T]) AddMany(vs []T) {
	if len(vs) == 0 {
		return
	}
	stored := cloneAll(vs)

	s.mu.Lock()
	s.cache.PutMany(stored)
	s.persistLocalLocked()
	s.persistRemote(Delta[T]{Insert: stored})
	s.mu.Unlock()

	s.fireWrite(stored)
}

// UpdateByIDs applies mutator to each listed document. Missing ids are
// logged, skipped, and reported in the returned error; matched documents
// are still updated.
func (s *Store[T]) UpdateByIDs(ids []string, mutator func(T)) error {
	s.mu.Lock()
	var errs []error
	updated := make([]T, 0, len(ids))
	for _, id := range ids {
		cur, ok := s.cache.Get(id)
		if !ok {
			errs = append(errs, s.notFound("update", id))
			continue
		}
		next := cur.Clone()
		mutator(next)
		s.cache.Put(next)
		updated = append(updated, next)
	}
	s.commitUpdatesLocked(updated)
	s.mu.Unlock()

	s.fireWrite(updated)
	return errors.Join(errs...)
}

// UpdateByPredicate applies mutator to every document matching predicate.
func (s *Store[T]) UpdateByPredicate(predicate func(T) bool, mutator func(T)) {
	s.mu.Lock()
	updated := s.mutateMatchingLocked(predicate, mutator)
	s.commitUpdatesLocked(updated)
	s.mu.Unlock()

	s.fireWrite(updated)
}

// DeleteByIDs removes each id, then enqueues {delete: removed} carrying the
// pre-removal documents. Missing ids are logged, skipped, and reported.
func (s *Store[T]) DeleteByIDs(ids []string) error {
	s.mu.Lock()
	var errs []error
	removed := make([]T, 0, len(ids))
	for _, id := range ids {
		v, ok := s.cache.Remove(id)
		if !ok {
			errs = append(errs, s.notFound("delete", id))
			continue
		}
		removed = append(removed, v)
	}
	if len(removed) > 0 {
		s.persistLocalLocked()
		s.persistRemote(Delta[T]{Delete: removed})
	}
	s.mu.Unlock()

	s.fireDelete(removed)
	return errors.Join(errs...)
}

// UpsertMany inserts u.NewEntities and applies u.Mutator to every existing
// document matching u.Filter with exactly one snapshot persist and one
// remote delta.
func (s *Store[T]) UpsertMany(u Upsert[T]) {
	inserted := cloneAll(u.NewEntities)

	s.mu.Lock()
	var updated []T
	if u.Filter != nil && u.Mutator != nil {
		updated = s.mutateMatchingLocked(u.Filter, u.Mutator)
	}
	s.cache.PutMany(inserted)

	d := Delta[T]{Insert: inserted, Update: updated}
	if !d.Empty() {
		s.persistLocalLocked()
		s.persistRemote(d)
	}
	s.mu.Unlock()

	s.fireWrite(append(inserted, updated...))
}

// ReplaceAll swaps the whole cache, used when the remote is the source of
// truth. The snapshot is persisted; no remote delta is enqueued.
func (s *Store[T]) ReplaceAll(m map[string]T) {
	s.mu.Lock()
	s.cache.ReplaceAll(m)
	s.persistLocalLocked()
	s.mu.Unlock()

	s.fireReplace()
}

// PrepareForBatchedSave applies d to the cache and local snapshot like the
// other mutations, but folds the remote part into shared instead of
// enqueuing it. shared may be nil; the (possibly new) batch is returned.
func (s *Store[T]) PrepareForBatchedSave(d Delta[T], shared queue.Batch) queue.Batch {
	if shared == nil {
		shared = queue.Batch{}
	}
	d = Delta[T]{Insert: cloneAll(d.Insert), Update: cloneAll(d.Update), Delete: d.Delete}

	s.mu.Lock()
	s.cache.PutMany(d.Insert)
	s.cache.PutMany(d.Update)
	removed := make([]T, 0, len(d.Delete))
	for _, v := range d.Delete {
		if old, ok := s.cache.Remove(v.DocID()); ok {
			removed = append(removed, old)
		} else {
			_ = s.notFound("delete", v.DocID())
		}
	}
	d.Delete = removed

	if !d.Empty() {
		s.persistLocalLocked()
		if s.policies.Accumulate != nil {
			shared = s.policies.Accumulate(shared, d)
		}
	}
	s.mu.Unlock()

	s.fireWrite(append(append([]T{}, d.Insert...), d.Update...))
	s.fireDelete(removed)
	return shared
}

// ===== Persistence entry points =====

// Loader reads a kind's local snapshot blob.
type Loader interface {
	Load(kind string) (data []byte, ok bool, err error)
}

// LoadLocal fills the cache from the local snapshot. No snapshot is
// written and no remote delta is enqueued; replace hooks fire.
func (s *Store[T]) LoadLocal(loader Loader) error {
	data, ok, err := loader.Load(s.kind)
	if err != nil {
		return fmt.Errorf("failed to load %s snapshot: %w", s.kind, err)
	}
	if !ok {
		return nil
	}

	m := make(map[string]T)
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse %s snapshot: %w", s.kind, err)
	}

	s.mu.Lock()
	s.cache.ReplaceAll(m)
	s.mu.Unlock()

	s.logger.Printf("Loaded %d documents from local snapshot", len(m))
	s.fireReplace()
	return nil
}

// Reconcile replaces the cache with an authoritative remote document list.
func (s *Store[T]) Reconcile(docs []json.RawMessage) error {
	_, err := s.ReconcileIfCurrent(docs, nil)
	return err
}

// ReconcileIfCurrent is Reconcile guarded by superseded, which is checked
// under the same lock mutations hold while they enqueue. When it reports a
// newer pending change the cache is left alone and applied is false.
func (s *Store[T]) ReconcileIfCurrent(docs []json.RawMessage, superseded func() bool) (applied bool, err error) {
	m := make(map[string]T, len(docs))
	for i, raw := range docs {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return false, fmt.Errorf("failed to decode %s document %d: %w", s.kind, i, err)
		}
		m[v.DocID()] = v
	}

	s.mu.Lock()
	if superseded != nil && superseded() {
		s.mu.Unlock()
		s.logger.Printf("Skipping reconcile of %d document(s): newer local changes pending", len(m))
		return false, nil
	}
	s.cache.ReplaceAll(m)
	s.persistLocalLocked()
	s.mu.Unlock()

	s.fireReplace()
	return true, nil
}

// ===== internals =====

func (s *Store[T]) mutateMatchingLocked(predicate func(T) bool, mutator func(T)) []T {
	var updated []T
	for _, cur := range s.cache.All() {
		if !predicate(cur) {
			continue
		}
		next := cur.Clone()
		mutator(next)
		s.cache.Put(next)
		updated = append(updated, next)
	}
	return updated
}

func (s *Store[T]) commitUpdatesLocked(updated []T) {
	if len(updated) == 0 {
		return
	}
	s.persistLocalLocked()
	s.persistRemote(Delta[T]{Update: updated})
}

func (s *Store[T]) persistLocalLocked() {
	if s.policies.PersistLocal != nil {
		s.policies.PersistLocal(s.cache.Snapshot())
	}
}

func (s *Store[T]) persistRemote(d Delta[T]) {
	if s.policies.PersistRemote != nil {
		s.policies.PersistRemote(d)
	}
}

func (s *Store[T]) notFound(op, id string) error {
	err := fmt.Errorf("%w: %s %s", ErrEntityNotFound, s.kind, id)
	s.logger.Printf("Warning: %s skipped: %v", op, err)
	return err
}

func (s *Store[T]) fireWrite(changed []T) {
	if len(changed) == 0 {
		return
	}
	s.hooksMu.RLock()
	hooks := append([]func([]T){}, s.onWrite...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(changed)
	}
}

func (s *Store[T]) fireDelete(removed []T) {
	if len(removed) == 0 {
		return
	}
	s.hooksMu.RLock()
	hooks := append([]func([]T){}, s.onDelete...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(removed)
	}
}

func (s *Store[T]) fireReplace() {
	s.hooksMu.RLock()
	hooks := append([]func(map[string]T){}, s.onReplace...)
	s.hooksMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	for _, fn := range hooks {
		fn(s.cache.Snapshot())
	}
}

func cloneAll[T cache.Document[T]](vs []T) []T {
	if len(vs) == 0 {
		return nil
	}
	out := make([]T, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return out
}
