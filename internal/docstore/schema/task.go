// Package schema provides the document types stored by taskd.
package schema

import (
	"fmt"
	"time"
)

// Kind names used as snapshot keys and batch keys.
const (
	KindTasks = "tasks"
	KindNotes = "notes"
)

// Task is a tree-shaped, optionally recurring document.
// Fields are flat so each one can be replaced independently (last write wins).
type Task struct {
	// ===== Core Identification =====
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`

	// ===== Task Content =====
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Completed   bool     `json:"completed"`

	// ===== Scheduling =====
	StartDate *time.Time `json:"start_date,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`

	// ===== Recurrence =====
	RecurrenceInfo      *RecurrenceInfo      `json:"recurrence_info,omitempty"`
	ParentRecurringInfo *ParentRecurringInfo `json:"parent_recurring_info,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParentRecurringInfo marks a task as a generated child instance of a
// recurring origin and snapshots the origin's dates.
type ParentRecurringInfo struct {
	OriginID  string     `json:"origin_id"`
	StartDate *time.Time `json:"start_date,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
}

// DocID returns the task id.
func (t *Task) DocID() string {
	return t.ID
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.ParentID = cloneString(t.ParentID)
	c.StartDate = cloneTime(t.StartDate)
	c.DueDate = cloneTime(t.DueDate)
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.RecurrenceInfo != nil {
		ri := *t.RecurrenceInfo
		c.RecurrenceInfo = &ri
	}
	if t.ParentRecurringInfo != nil {
		c.ParentRecurringInfo = &ParentRecurringInfo{
			OriginID:  t.ParentRecurringInfo.OriginID,
			StartDate: cloneTime(t.ParentRecurringInfo.StartDate),
			DueDate:   cloneTime(t.ParentRecurringInfo.DueDate),
		}
	}
	return &c
}

// IsRoot reports whether the task has no parent.
func (t *Task) IsRoot() bool {
	return t.ParentID == nil || *t.ParentID == ""
}

// IsGeneratedChild reports whether the task is driven by a recurring origin.
func (t *Task) IsGeneratedChild() bool {
	return t.ParentRecurringInfo != nil
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.ParentID != nil && *t.ParentID == t.ID {
		return fmt.Errorf("task %s cannot be its own parent", t.ID)
	}
	if t.RecurrenceInfo != nil {
		if err := t.RecurrenceInfo.Validate(); err != nil {
			return fmt.Errorf("invalid recurrence_info: %w", err)
		}
	}
	if t.ParentRecurringInfo != nil && t.ParentRecurringInfo.OriginID == "" {
		return fmt.Errorf("parent_recurring_info.origin_id is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
}

// BasisDate returns the task's own date selected by basis.
func (t *Task) BasisDate(basis Basis) *time.Time {
	if basis == BasisStartDate {
		return t.StartDate
	}
	return t.DueDate
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
