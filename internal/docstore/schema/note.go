package schema

import (
	"fmt"
	"time"
)

// Note is free text attached to a task.
type Note struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocID returns the note id.
func (n *Note) DocID() string {
	return n.ID
}

// Clone returns a copy of the note.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Validate checks if the Note has valid field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}
