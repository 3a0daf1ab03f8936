// Package migrate moves tasks and notes in and out of taskd.
//
// Import reads JSON Lines where each line is one task, optionally carrying
// its notes inline:
//
//	{"id":"t1","title":"Water plants","notes":[{"body":"north window"}]}
//
// Export writes the current stores as JSON, JSONL, YAML or TOML.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/cache"
	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
)

// NoteRecord is a note embedded in an import line.
type NoteRecord struct {
	ID        string    `json:"id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Record is one import line: a task plus its inline notes.
type Record struct {
	schema.Task
	Notes []NoteRecord `json:"notes,omitempty"`
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Validate without writing
	Backup    bool   // Copy the input next to itself first
}

// ImportResult contains statistics about the import.
type ImportResult struct {
	TasksInserted int
	TasksUpdated  int
	NotesImported int
	Skipped       int
	BackupCreated string
	Errors        []string
}

// Plan is the validated content of an import file.
type Plan struct {
	Tasks  []*schema.Task
	Notes  []*schema.Note
	Errors []string
}

// FromJSONL reads a JSONL file and returns parsed records.
func FromJSONL(jsonlPath string) ([]*Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL decodes records until EOF.
func ReadJSONL(r io.Reader) ([]*Record, error) {
	var records []*Record
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++
		records = append(records, &rec)
	}

	return records, nil
}

// BuildPlan validates records and fills in ids and timestamps. Tasks
// without an id get one from gen; notes are attached to their task.
// Invalid records are skipped and reported in Plan.Errors.
func BuildPlan(records []*Record, gen idgen.Generator, now time.Time) *Plan {
	plan := &Plan{}
	seen := make(map[string]bool)

	for i, rec := range records {
		task := rec.Task.Clone()
		if task.ID == "" {
			task.ID = gen.NewID()
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = now
		}
		task.SetDefaults()

		if seen[task.ID] {
			plan.Errors = append(plan.Errors, fmt.Sprintf("record %d: duplicate id %s", i+1, task.ID))
			continue
		}
		if err := task.Validate(); err != nil {
			plan.Errors = append(plan.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}
		seen[task.ID] = true
		plan.Tasks = append(plan.Tasks, task)

		for _, nr := range rec.Notes {
			note := &schema.Note{
				ID:        nr.ID,
				TaskID:    task.ID,
				Body:      nr.Body,
				CreatedAt: nr.CreatedAt,
			}
			if note.ID == "" {
				note.ID = gen.NewID()
			}
			if note.CreatedAt.IsZero() {
				note.CreatedAt = now
			}
			note.UpdatedAt = note.CreatedAt
			if err := note.Validate(); err != nil {
				plan.Errors = append(plan.Errors, fmt.Sprintf("record %d note: %v", i+1, err))
				continue
			}
			plan.Notes = append(plan.Notes, note)
		}
	}

	return plan
}

// Import reads opts.FromJSONL and writes its tasks and notes into the
// stores. Tasks whose id already exists are replaced; each store receives
// a single upsert.
func Import(
	ctx context.Context,
	opts ImportOptions,
	tasks *store.Store[*schema.Task],
	notes *store.Store[*schema.Note],
	gen idgen.Generator,
) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.FromJSONL + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.FromJSONL)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	records, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan := BuildPlan(records, gen, time.Now())
	result.Errors = plan.Errors
	result.Skipped = len(records) - len(plan.Tasks)

	taskUpsert := splitUpsert(tasks, plan.Tasks, func(dst, src *schema.Task) { *dst = *src.Clone() })
	noteUpsert := splitUpsert(notes, plan.Notes, func(dst, src *schema.Note) { *dst = *src.Clone() })
	result.TasksInserted = len(taskUpsert.NewEntities)
	result.TasksUpdated = len(plan.Tasks) - len(taskUpsert.NewEntities)
	result.NotesImported = len(plan.Notes)

	if opts.DryRun {
		return result, nil
	}
	tasks.UpsertMany(taskUpsert)
	notes.UpsertMany(noteUpsert)
	return result, nil
}

// splitUpsert turns incoming documents into an upsert: unknown ids are
// inserted, known ids are overwritten in place through assign.
func splitUpsert[T cache.Document[T]](s *store.Store[T], incoming []T, assign func(dst, src T)) store.Upsert[T] {
	byID := make(map[string]T)
	var fresh []T
	for _, v := range incoming {
		if _, ok := s.Get(v.DocID()); ok {
			byID[v.DocID()] = v
			continue
		}
		fresh = append(fresh, v)
	}

	u := store.Upsert[T]{NewEntities: fresh}
	if len(byID) > 0 {
		u.Filter = func(cur T) bool {
			_, ok := byID[cur.DocID()]
			return ok
		}
		u.Mutator = func(cur T) {
			assign(cur, byID[cur.DocID()])
		}
	}
	return u
}
