package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aneuhold/taskd/internal/docstore/schema"
)

// AddNote attaches a note to a task.
func (a *App) AddNote(taskRef, body string) (*schema.Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("note body cannot be empty")
	}
	t, err := a.ResolveTask(taskRef)
	if err != nil {
		return nil, err
	}
	now := a.now()
	n := &schema.Note{
		ID:        a.ids.NewID(),
		TaskID:    t.ID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("invalid note: %w", err)
	}
	a.Notes.AddOne(n)
	return n, nil
}

// NotesFor returns the notes of a task, oldest first. An empty taskID
// returns every note.
func (a *App) NotesFor(taskID string) []*schema.Note {
	var out []*schema.Note
	for _, n := range a.Notes.All() {
		if taskID == "" || n.TaskID == taskID {
			out = append(out, n)
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

// DeleteNote removes one note.
func (a *App) DeleteNote(id string) error {
	return a.Notes.DeleteByIDs([]string{id})
}
