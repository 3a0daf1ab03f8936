// Package tree computes cascade operations over a snapshot of tasks.
//
// The functions are pure: they read a task map and return a description of
// what to change (a store.Upsert or an id list) which the caller feeds into
// the task store. Parent links are followed through ParentID.
package tree

import (
	"fmt"
	"sort"

	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
)

// ErrEntityNotFound is returned when the cascade root is absent.
var ErrEntityNotFound = store.ErrEntityNotFound

// TaskMap is a snapshot of the task cache keyed by id.
type TaskMap = map[string]*schema.Task

// CollectSubtreeIDs returns every descendant of rootID in breadth-first
// order, excluding rootID itself.
func CollectSubtreeIDs(m TaskMap, rootID string) ([]string, error) {
	if _, ok := m[rootID]; !ok {
		return nil, fmt.Errorf("%w: task %s", ErrEntityNotFound, rootID)
	}

	index := childIndex(m)
	seen := map[string]bool{rootID: true}
	var ids []string
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, child := range index[id] {
				// A corrupt snapshot could contain a cycle; never revisit.
				if seen[child] {
					continue
				}
				seen[child] = true
				ids = append(ids, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	return ids, nil
}

// CascadeUpdate describes applying mutator to rootID and its whole subtree.
func CascadeUpdate(m TaskMap, rootID string, mutator func(*schema.Task)) (store.Upsert[*schema.Task], error) {
	ids, err := subtreeWithRoot(m, rootID)
	if err != nil {
		return store.Upsert[*schema.Task]{}, err
	}
	return store.Upsert[*schema.Task]{
		Filter:  memberOf(ids),
		Mutator: mutator,
	}, nil
}

// CascadeDelete returns rootID followed by every descendant.
func CascadeDelete(m TaskMap, rootID string) ([]string, error) {
	return subtreeWithRoot(m, rootID)
}

// CascadeDuplicate deep-copies rootID and its subtree under fresh ids.
//
// Each copy's ParentID is rewritten to the copy of its original parent,
// except the root copy, which keeps the original root's ParentID.
// newMutator runs on every copy after relinking. When originalMutator is
// non-nil the original subtree is updated in the same upsert.
//
// The returned map translates original ids to copy ids.
func CascadeDuplicate(
	m TaskMap,
	rootID string,
	gen idgen.Generator,
	newMutator func(*schema.Task),
	originalMutator func(*schema.Task),
) (store.Upsert[*schema.Task], map[string]string, error) {
	ids, err := subtreeWithRoot(m, rootID)
	if err != nil {
		return store.Upsert[*schema.Task]{}, nil, err
	}

	idMap := make(map[string]string, len(ids))
	for _, id := range ids {
		idMap[id] = gen.NewID()
	}

	copies := make([]*schema.Task, 0, len(ids))
	for _, id := range ids {
		c := m[id].Clone()
		c.ID = idMap[id]
		if id != rootID && c.ParentID != nil {
			if np, ok := idMap[*c.ParentID]; ok {
				c.ParentID = schema.StringPtr(np)
			}
		}
		if newMutator != nil {
			newMutator(c)
		}
		copies = append(copies, c)
	}

	u := store.Upsert[*schema.Task]{NewEntities: copies}
	if originalMutator != nil {
		u.Filter = memberOf(ids)
		u.Mutator = originalMutator
	}
	return u, idMap, nil
}

// Children returns the direct children of id, oldest first.
func Children(m TaskMap, id string) []*schema.Task {
	var out []*schema.Task
	for _, t := range m {
		if t.ParentID != nil && *t.ParentID == id {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// Roots returns tasks whose parent is unset or not present in m, oldest first.
func Roots(m TaskMap) []*schema.Task {
	var out []*schema.Task
	for _, t := range m {
		if t.IsRoot() {
			out = append(out, t)
			continue
		}
		if _, ok := m[*t.ParentID]; !ok {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

func subtreeWithRoot(m TaskMap, rootID string) ([]string, error) {
	ids, err := CollectSubtreeIDs(m, rootID)
	if err != nil {
		return nil, err
	}
	return append([]string{rootID}, ids...), nil
}

func childIndex(m TaskMap) map[string][]string {
	index := make(map[string][]string)
	for id, t := range m {
		if t.IsRoot() {
			continue
		}
		index[*t.ParentID] = append(index[*t.ParentID], id)
	}
	for _, kids := range index {
		sort.Strings(kids)
	}
	return index
}

func memberOf(ids []string) func(*schema.Task) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(t *schema.Task) bool {
		_, ok := set[t.ID]
		return ok
	}
}

func sortTasks(ts []*schema.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
