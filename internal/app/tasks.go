package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/docstore/recur"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
	"github.com/aneuhold/taskd/internal/docstore/tree"
)

// TaskInput holds the fields accepted when creating a task.
type TaskInput struct {
	Title       string
	Description string
	Tags        []string
	ParentID    string
	StartDate   *time.Time
	DueDate     *time.Time
	Recurrence  *schema.RecurrenceInfo
}

// TaskPatch holds optional field changes. Nil fields are left alone.
type TaskPatch struct {
	Title       *string
	Description *string
	Tags        []string
	StartDate   *time.Time
	DueDate     *time.Time
	ClearStart  bool
	ClearDue    bool
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Tags == nil &&
		p.StartDate == nil && p.DueDate == nil && !p.ClearStart && !p.ClearDue
}

// ResolveTask finds a task by exact id or by unique id prefix and returns a
// copy of it.
func (a *App) ResolveTask(ref string) (*schema.Task, error) {
	if t, ok := a.Tasks.Get(ref); ok {
		return t.Clone(), nil
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: empty task id", store.ErrEntityNotFound)
	}
	var matches []*schema.Task
	for _, t := range a.Tasks.All() {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: task %s", store.ErrEntityNotFound, ref)
	case 1:
		return matches[0].Clone(), nil
	}
	return nil, fmt.Errorf("ambiguous task id %q matches %d tasks", ref, len(matches))
}

// AddTask creates a task. A child of a recurring task, or of one of its
// generated children, becomes a generated child of the same origin.
func (a *App) AddTask(in TaskInput) (*schema.Task, error) {
	now := a.now()
	t := &schema.Task{
		ID:             a.ids.NewID(),
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Tags:           in.Tags,
		StartDate:      in.StartDate,
		DueDate:        in.DueDate,
		RecurrenceInfo: in.Recurrence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if in.ParentID != "" {
		parent, err := a.ResolveTask(in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to find parent: %w", err)
		}
		t.ParentID = schema.StringPtr(parent.ID)
		switch {
		case recur.IsOrigin(parent):
			t.ParentRecurringInfo = &schema.ParentRecurringInfo{
				OriginID:  parent.ID,
				StartDate: parent.StartDate,
				DueDate:   parent.DueDate,
			}
		case parent.IsGeneratedChild():
			t.ParentRecurringInfo = parent.ParentRecurringInfo
		}
		if t.ParentRecurringInfo != nil && t.RecurrenceInfo != nil {
			return nil, fmt.Errorf("a generated child of %s cannot recur on its own", t.ParentRecurringInfo.OriginID)
		}
	}

	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	a.Tasks.AddOne(t)
	return t, nil
}

// UpdateTask applies patch to one task.
func (a *App) UpdateTask(ref string, patch TaskPatch) (*schema.Task, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}

	now := a.now()
	err = a.Tasks.UpdateByIDs([]string{t.ID}, func(t *schema.Task) {
		if patch.Title != nil {
			t.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.Tags != nil {
			t.Tags = patch.Tags
		}
		if patch.ClearStart {
			t.StartDate = nil
		} else if patch.StartDate != nil {
			t.StartDate = patch.StartDate
		}
		if patch.ClearDue {
			t.DueDate = nil
		} else if patch.DueDate != nil {
			t.DueDate = patch.DueDate
		}
		t.UpdatedAt = now
	})
	if err != nil {
		return nil, err
	}
	updated, _ := a.Tasks.Get(t.ID)
	return updated, nil
}

// SetCompleted marks a task, or its whole subtree when cascade is set, as
// completed or open. Completing a rollOnCompletion origin processes its
// occurrence right after the write.
func (a *App) SetCompleted(ref string, completed, cascade bool) ([]string, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return nil, err
	}
	now := a.now()
	mark := func(t *schema.Task) {
		t.Completed = completed
		t.UpdatedAt = now
	}

	if !cascade {
		if err := a.Tasks.UpdateByIDs([]string{t.ID}, mark); err != nil {
			return nil, err
		}
		return []string{t.ID}, nil
	}

	snap := a.Tasks.Snapshot()
	ids, err := tree.CollectSubtreeIDs(snap, t.ID)
	if err != nil {
		return nil, err
	}
	u, err := tree.CascadeUpdate(snap, t.ID, mark)
	if err != nil {
		return nil, err
	}
	a.Tasks.UpsertMany(u)
	return append([]string{t.ID}, ids...), nil
}

// SetRecurrence replaces the recurrence of a task. A nil info stops it
// recurring. Generated children cannot recur on their own.
func (a *App) SetRecurrence(ref string, info *schema.RecurrenceInfo) (*schema.Task, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return nil, err
	}
	if info != nil {
		if t.IsGeneratedChild() {
			return nil, fmt.Errorf("task %s is generated by %s and cannot recur on its own", t.ID, t.ParentRecurringInfo.OriginID)
		}
		if err := info.Validate(); err != nil {
			return nil, fmt.Errorf("invalid recurrence: %w", err)
		}
		if info.Effect.TimeBased() && t.BasisDate(info.Basis) == nil {
			return nil, fmt.Errorf("task %s has no %s to recur from", t.ID, info.Basis)
		}
	}

	now := a.now()
	snap := a.Tasks.Snapshot()
	descendants, err := tree.CollectSubtreeIDs(snap, t.ID)
	if err != nil {
		return nil, err
	}

	// Descendants follow their origin: they gain or lose the generated
	// child marker together with it.
	members := map[string]bool{t.ID: true}
	for _, id := range descendants {
		members[id] = true
	}
	u := store.Upsert[*schema.Task]{
		Filter: func(x *schema.Task) bool { return members[x.ID] },
		Mutator: func(x *schema.Task) {
			if x.ID == t.ID {
				x.RecurrenceInfo = info
				x.UpdatedAt = now
				return
			}
			if info == nil {
				if x.ParentRecurringInfo != nil && x.ParentRecurringInfo.OriginID == t.ID {
					x.ParentRecurringInfo = nil
					x.UpdatedAt = now
				}
				return
			}
			x.RecurrenceInfo = nil
			x.ParentRecurringInfo = &schema.ParentRecurringInfo{
				OriginID:  t.ID,
				StartDate: t.StartDate,
				DueDate:   t.DueDate,
			}
			x.UpdatedAt = now
		},
	}
	a.Tasks.UpsertMany(u)
	updated, _ := a.Tasks.Get(t.ID)
	return updated, nil
}

// DuplicateTask copies a task and its subtree. Copies are open, get fresh
// timestamps, and generated children are re-pointed at the copied origin.
func (a *App) DuplicateTask(ref string) (*schema.Task, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return nil, err
	}
	now := a.now()
	snap := a.Tasks.Snapshot()

	u, idMap, err := tree.CascadeDuplicate(snap, t.ID, a.ids, func(c *schema.Task) {
		c.Completed = false
		c.CreatedAt = now
		c.UpdatedAt = now
	}, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range u.NewEntities {
		if c.ParentRecurringInfo == nil {
			continue
		}
		if id, ok := idMap[c.ParentRecurringInfo.OriginID]; ok {
			c.ParentRecurringInfo.OriginID = id
		}
	}
	a.Tasks.UpsertMany(u)

	dup, _ := a.Tasks.Get(idMap[t.ID])
	return dup, nil
}

// DeleteTask removes a task, its subtree and every attached note. Both
// kinds are committed to the remote in one batch.
func (a *App) DeleteTask(ref string) ([]string, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return nil, err
	}
	ids, err := tree.CascadeDelete(a.Tasks.Snapshot(), t.ID)
	if err != nil {
		return nil, err
	}

	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	var notes []*schema.Note
	for _, n := range a.Notes.All() {
		if doomed[n.TaskID] {
			notes = append(notes, n)
		}
	}

	shared := queue.Batch{}
	shared = a.Tasks.PrepareForBatchedSave(store.Delta[*schema.Task]{Delete: a.Tasks.GetMany(ids)}, shared)
	if len(notes) > 0 {
		shared = a.Notes.PrepareForBatchedSave(store.Delta[*schema.Note]{Delete: notes}, shared)
	}
	if err := a.Queue.Enqueue(shared); err != nil {
		return ids, fmt.Errorf("failed to enqueue delete: %w", err)
	}
	return ids, nil
}

// FireRecurrence processes the occurrence of an origin if it is due.
func (a *App) FireRecurrence(ref string) (bool, error) {
	t, err := a.ResolveTask(ref)
	if err != nil {
		return false, err
	}
	return a.Engine.Fire(t.ID)
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	All       bool // include completed tasks
	Tag       string
	RootsOnly bool
}

// ListTasks returns matching tasks ordered by due date, then creation.
func (a *App) ListTasks(f TaskFilter) []*schema.Task {
	var out []*schema.Task
	for _, t := range a.Tasks.All() {
		if !f.All && t.Completed {
			continue
		}
		if f.RootsOnly && !t.IsRoot() {
			continue
		}
		if f.Tag != "" && !hasTag(t, f.Tag) {
			continue
		}
		out = append(out, t)
	}
	SortTasks(out)
	return out
}

// SortTasks orders tasks by due date (undated last), then creation time.
func SortTasks(ts []*schema.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		di, dj := ts[i].DueDate, ts[j].DueDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func hasTag(t *schema.Task, tag string) bool {
	for _, x := range t.Tags {
		if strings.EqualFold(x, tag) {
			return true
		}
	}
	return false
}
