package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// Memory is an in-process remote. It keeps the latest version of every
// document per kind and answers each batch with the full list of every
// kind the batch touched or requested.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]json.RawMessage

	listenersMu sync.RWMutex
	listeners   []func(kinds []string)
}

var _ queue.Remote = (*Memory)(nil)

// NewMemory creates an empty remote.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]json.RawMessage)}
}

// OnChange registers fn to run after a batch that mutated documents.
func (m *Memory) OnChange(fn func(kinds []string)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Apply implements queue.Remote. The whole batch is validated before any
// document is changed.
func (m *Memory) Apply(ctx context.Context, batch queue.Batch) (queue.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type op struct {
		kind, id string
		doc      json.RawMessage
		del      bool
	}
	var ops []op
	for kind, d := range batch {
		if d == nil {
			continue
		}
		for _, list := range [][]json.RawMessage{d.Insert, d.Update} {
			for _, doc := range list {
				id, err := docID(doc)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", kind, err)
				}
				ops = append(ops, op{kind: kind, id: id, doc: doc})
			}
		}
		for _, doc := range d.Delete {
			id, err := docID(doc)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			ops = append(ops, op{kind: kind, id: id, del: true})
		}
	}

	m.mu.Lock()
	changed := map[string]bool{}
	for _, o := range ops {
		byID := m.docs[o.kind]
		if byID == nil {
			byID = make(map[string]json.RawMessage)
			m.docs[o.kind] = byID
		}
		if o.del {
			delete(byID, o.id)
		} else {
			byID[o.id] = append(json.RawMessage(nil), o.doc...)
		}
		changed[o.kind] = true
	}

	res := queue.Result{}
	for kind, d := range batch {
		if d.Empty() {
			continue
		}
		res[kind] = m.listLocked(kind)
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		kinds := make([]string, 0, len(changed))
		for k := range changed {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		m.notify(kinds)
	}
	return res, nil
}

// Seed replaces every document of kind without notifying listeners. It is
// used to load a serve-remote instance from a JSONL export.
func (m *Memory) Seed(kind string, docs []json.RawMessage) error {
	byID := make(map[string]json.RawMessage, len(docs))
	for _, doc := range docs {
		id, err := docID(doc)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		byID[id] = append(json.RawMessage(nil), doc...)
	}
	m.mu.Lock()
	m.docs[kind] = byID
	m.mu.Unlock()
	return nil
}

// List returns every document of kind ordered by id.
func (m *Memory) List(kind string) []json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(kind)
}

// Len returns the number of documents of kind.
func (m *Memory) Len(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[kind])
}

func (m *Memory) listLocked(kind string) []json.RawMessage {
	byID := m.docs[kind]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, append(json.RawMessage(nil), byID[id]...))
	}
	return out
}

func (m *Memory) notify(kinds []string) {
	m.listenersMu.RLock()
	fns := append([]func([]string){}, m.listeners...)
	m.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(kinds)
	}
}

func docID(doc json.RawMessage) (string, error) {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return "", fmt.Errorf("malformed document: %w", err)
	}
	if head.ID == "" {
		return "", fmt.Errorf("document has no id")
	}
	return head.ID, nil
}
