package store

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

type doc struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
	Tag   string `json:"tag,omitempty"`
}

func (d *doc) DocID() string { return d.ID }
func (d *doc) Clone() *doc   { c := *d; return &c }

// recorder captures every policy invocation.
type recorder struct {
	mu        sync.Mutex
	snapshots []map[string]*doc
	deltas    []Delta[*doc]
}

func (r *recorder) policies() Policies[*doc] {
	return Policies[*doc]{
		PersistLocal: func(all map[string]*doc) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.snapshots = append(r.snapshots, all)
		},
		PersistRemote: func(d Delta[*doc]) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.deltas = append(r.deltas, d)
		},
		Accumulate: func(shared queue.Batch, d Delta[*doc]) queue.Batch {
			wire, err := EncodeDelta(d)
			if err != nil {
				panic(err)
			}
			shared.Add("docs", wire)
			return shared
		},
	}
}

func newTestStore(t *testing.T) (*Store[*doc], *recorder) {
	t.Helper()
	rec := &recorder{}
	return New("docs", rec.policies(), log.New(io.Discard, "", 0)), rec
}

func TestStore_AddManyPersistsThenEnqueues(t *testing.T) {
	s, rec := newTestStore(t)

	input := &doc{ID: "a", Count: 1}
	s.AddMany([]*doc{input, {ID: "b"}})

	require.Len(t, rec.snapshots, 1)
	assert.Len(t, rec.snapshots[0], 2)
	require.Len(t, rec.deltas, 1)
	assert.Len(t, rec.deltas[0].Insert, 2)

	// The caller's value is not aliased by the cache.
	input.Count = 99
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.Count)
}

func TestStore_UpdateByIDsReportsMissing(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddOne(&doc{ID: "a"})

	err := s.UpdateByIDs([]string{"a", "ghost"}, func(d *doc) { d.Count++ })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Contains(t, err.Error(), "ghost")

	got, _ := s.Get("a")
	assert.Equal(t, 1, got.Count, "matched id still updated")

	require.Len(t, rec.deltas, 2)
	require.Len(t, rec.deltas[1].Update, 1)
	assert.Equal(t, "a", rec.deltas[1].Update[0].ID)
}

func TestStore_UpdateByIDsNoMatchIsSilent(t *testing.T) {
	s, rec := newTestStore(t)

	err := s.UpdateByIDs([]string{"ghost"}, func(d *doc) { d.Count++ })
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Empty(t, rec.snapshots)
	assert.Empty(t, rec.deltas)
}

func TestStore_UpdateByPredicate(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddMany([]*doc{{ID: "a", Tag: "x"}, {ID: "b", Tag: "y"}, {ID: "c", Tag: "x"}})

	s.UpdateByPredicate(func(d *doc) bool { return d.Tag == "x" }, func(d *doc) { d.Count = 7 })

	for _, id := range []string{"a", "c"} {
		got, _ := s.Get(id)
		assert.Equal(t, 7, got.Count, id)
	}
	b, _ := s.Get("b")
	assert.Equal(t, 0, b.Count)
	assert.Len(t, rec.deltas[len(rec.deltas)-1].Update, 2)
}

func TestStore_DeleteCarriesPreRemovalValues(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddOne(&doc{ID: "a", Count: 5})

	var hooked []*doc
	s.OnDelete(func(removed []*doc) { hooked = removed })

	require.NoError(t, s.DeleteByIDs([]string{"a"}))

	_, ok := s.Get("a")
	assert.False(t, ok)
	last := rec.deltas[len(rec.deltas)-1]
	require.Len(t, last.Delete, 1)
	assert.Equal(t, 5, last.Delete[0].Count)
	require.Len(t, hooked, 1)
	assert.Equal(t, "a", hooked[0].ID)
}

func TestStore_UpsertManySinglePersistAndDelta(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddMany([]*doc{{ID: "a", Tag: "x"}, {ID: "b", Tag: "y"}})
	rec.snapshots, rec.deltas = nil, nil

	s.UpsertMany(Upsert[*doc]{
		Filter:      func(d *doc) bool { return d.Tag == "x" },
		Mutator:     func(d *doc) { d.Count = 3 },
		NewEntities: []*doc{{ID: "c"}, {ID: "d"}},
	})

	require.Len(t, rec.snapshots, 1, "one snapshot persist")
	require.Len(t, rec.deltas, 1, "one remote delta")
	assert.Len(t, rec.deltas[0].Insert, 2)
	require.Len(t, rec.deltas[0].Update, 1)
	assert.Equal(t, "a", rec.deltas[0].Update[0].ID)
	assert.Equal(t, 4, s.Len())
}

func TestStore_ReplaceAllDoesNotEnqueue(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddOne(&doc{ID: "old"})
	rec.deltas = nil

	var replaced map[string]*doc
	s.OnReplace(func(all map[string]*doc) { replaced = all })

	s.ReplaceAll(map[string]*doc{"n": {ID: "n"}})

	assert.Empty(t, rec.deltas)
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, replaced, "n")
}

func TestStore_PrepareForBatchedSave(t *testing.T) {
	s, rec := newTestStore(t)
	s.AddMany([]*doc{{ID: "a"}, {ID: "b"}})
	rec.deltas = nil

	batch := s.PrepareForBatchedSave(Delta[*doc]{
		Insert: []*doc{{ID: "c"}},
		Delete: []*doc{{ID: "a"}},
	}, nil)

	assert.Empty(t, rec.deltas, "nothing enqueued directly")
	require.Contains(t, batch, "docs")
	assert.Len(t, batch["docs"].Insert, 1)
	assert.Len(t, batch["docs"].Delete, 1)

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
}

func TestStore_HooksMayReenter(t *testing.T) {
	s, _ := newTestStore(t)
	s.OnWrite(func(changed []*doc) {
		for _, d := range changed {
			if d.ID == "a" {
				s.AddOne(&doc{ID: "a-child"})
			}
		}
	})

	s.AddOne(&doc{ID: "a"})

	_, ok := s.Get("a-child")
	assert.True(t, ok)
}

func TestStore_Reconcile(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddOne(&doc{ID: "stale"})

	err := s.Reconcile([]json.RawMessage{
		json.RawMessage(`{"id":"x","count":2}`),
		json.RawMessage(`{"id":"y"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	x, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 2, x.Count)

	err = s.Reconcile([]json.RawMessage{json.RawMessage(`{`)})
	assert.Error(t, err)
}

func TestStore_ReconcileIfCurrent(t *testing.T) {
	remote := []json.RawMessage{json.RawMessage(`{"id":"server"}`)}

	tests := []struct {
		name        string
		superseded  func() bool
		wantApplied bool
		wantIDs     []string
	}{
		{"no guard", nil, true, []string{"server"}},
		{"current", func() bool { return false }, true, []string{"server"}},
		{"newer edit pending", func() bool { return true }, false, []string{"local"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestStore(t)
			s.AddOne(&doc{ID: "local"})
			replaced := 0
			s.OnReplace(func(map[string]*doc) { replaced++ })
			persisted := len(rec.snapshots)

			applied, err := s.ReconcileIfCurrent(remote, tt.superseded)
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)

			var ids []string
			for _, d := range s.All() {
				ids = append(ids, d.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
			if tt.wantApplied {
				assert.Equal(t, 1, replaced)
				assert.Len(t, rec.snapshots, persisted+1)
			} else {
				assert.Zero(t, replaced)
				assert.Len(t, rec.snapshots, persisted, "skipped reconcile must not touch the snapshot")
			}
		})
	}
}

type mapLoader map[string][]byte

func (m mapLoader) Load(kind string) ([]byte, bool, error) {
	b, ok := m[kind]
	return b, ok, nil
}

func TestStore_LoadLocal(t *testing.T) {
	s, rec := newTestStore(t)

	require.NoError(t, s.LoadLocal(mapLoader{}))
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.LoadLocal(mapLoader{"docs": []byte(`{"a":{"id":"a","count":4}}`)}))
	a, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, a.Count)
	assert.Empty(t, rec.snapshots)
	assert.Empty(t, rec.deltas)
}

type fakeEnqueuer struct{ batches []queue.Batch }

func (f *fakeEnqueuer) Enqueue(b queue.Batch) error {
	f.batches = append(f.batches, b)
	return nil
}

type fakePersister struct{ saved map[string][]byte }

func (f *fakePersister) Save(kind string, data []byte) error {
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[kind] = data
	return nil
}

func TestKindPolicies(t *testing.T) {
	enq := &fakeEnqueuer{}
	per := &fakePersister{}
	s := New("docs", KindPolicies[*doc]("docs", per, enq, log.New(io.Discard, "", 0)), log.New(io.Discard, "", 0))

	s.AddOne(&doc{ID: "a", Count: 1})

	require.Len(t, enq.batches, 1)
	require.Contains(t, enq.batches[0], "docs")
	assert.JSONEq(t, `{"id":"a","count":1}`, string(enq.batches[0]["docs"].Insert[0]))
	assert.JSONEq(t, `{"a":{"id":"a","count":1}}`, string(per.saved["docs"]))
}
