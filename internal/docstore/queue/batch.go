package queue

import (
	"encoding/json"
	"fmt"
)

// Delta is the change set for one document kind.
// Documents travel as raw JSON so the queue stays agnostic of entity shape.
type Delta struct {
	Insert []json.RawMessage `json:"insert,omitempty"`
	Update []json.RawMessage `json:"update,omitempty"`
	Delete []json.RawMessage `json:"delete,omitempty"`
	// Get asks the remote to return the full current list for the kind.
	Get bool `json:"get,omitempty"`
}

// Empty reports whether the delta carries nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Insert) == 0 && len(d.Update) == 0 && len(d.Delete) == 0 && !d.Get)
}

// Merge appends other's changes to d.
func (d *Delta) Merge(other *Delta) {
	if other == nil {
		return
	}
	d.Insert = append(d.Insert, other.Insert...)
	d.Update = append(d.Update, other.Update...)
	d.Delete = append(d.Delete, other.Delete...)
	d.Get = d.Get || other.Get
}

// Batch is one pending remote request: a Delta per document kind.
type Batch map[string]*Delta

// Add folds d into the batch under kind.
func (b Batch) Add(kind string, d *Delta) {
	if d.Empty() {
		return
	}
	if existing, ok := b[kind]; ok {
		existing.Merge(d)
		return
	}
	cp := &Delta{}
	cp.Merge(d)
	b[kind] = cp
}

// Empty reports whether no kind carries changes.
func (b Batch) Empty() bool {
	for _, d := range b {
		if !d.Empty() {
			return false
		}
	}
	return true
}

// Kinds returns the kinds present in the batch.
func (b Batch) Kinds() []string {
	kinds := make([]string, 0, len(b))
	for k, d := range b {
		if !d.Empty() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Summary is a short human-readable description for logs.
func (b Batch) Summary() string {
	var ins, upd, del, get int
	for _, d := range b {
		if d == nil {
			continue
		}
		ins += len(d.Insert)
		upd += len(d.Update)
		del += len(d.Delete)
		if d.Get {
			get++
		}
	}
	return fmt.Sprintf("insert=%d update=%d delete=%d get=%d", ins, upd, del, get)
}

// FetchAll builds a batch that only requests the full list of each kind.
func FetchAll(kinds ...string) Batch {
	b := make(Batch, len(kinds))
	for _, k := range kinds {
		b[k] = &Delta{Get: true}
	}
	return b
}

// Result is a remote response: the authoritative document list per kind.
// Kinds absent from the result are left untouched on reconciliation.
type Result map[string][]json.RawMessage

// Merge overlays other on r. A later response for a kind replaces an
// earlier one because it reflects every batch sent before it.
func (r Result) Merge(other Result) {
	for kind, docs := range other {
		r[kind] = docs
	}
}
