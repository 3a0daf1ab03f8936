package migrate

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aneuhold/taskd/internal/docstore/schema"
)

// Export formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
	FormatTOML  = "toml"
)

// Formats lists the accepted export formats.
var Formats = []string{FormatJSON, FormatJSONL, FormatYAML, FormatTOML}

// Export writes tasks and notes to w in format. Documents are ordered by
// creation time, then id. JSONL output is readable by Import.
func Export(w io.Writer, format string, tasks []*schema.Task, notes []*schema.Note) error {
	tasks = sortedTasks(tasks)
	notes = sortedNotes(notes)

	switch strings.ToLower(format) {
	case FormatJSONL:
		return writeJSONL(w, tasks, notes)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exportDoc{Tasks: tasks, Notes: notes})
	case FormatYAML, "yml":
		tree, err := genericTree(tasks, notes)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		tree, err := genericTree(tasks, notes)
		if err != nil {
			return err
		}
		if err := toml.NewEncoder(w).Encode(tree); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

type exportDoc struct {
	Tasks []*schema.Task `json:"tasks"`
	Notes []*schema.Note `json:"notes"`
}

// genericTree round-trips through JSON so YAML and TOML use the same
// snake_case keys and omit the same empty fields.
func genericTree(tasks []*schema.Task, notes []*schema.Note) (map[string]any, error) {
	data, err := json.Marshal(exportDoc{Tasks: tasks, Notes: notes})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to build export tree: %w", err)
	}
	for _, k := range []string{"tasks", "notes"} {
		if tree[k] == nil {
			tree[k] = []any{}
		}
	}
	return tree, nil
}

func writeJSONL(w io.Writer, tasks []*schema.Task, notes []*schema.Note) error {
	byTask := make(map[string][]NoteRecord)
	for _, n := range notes {
		byTask[n.TaskID] = append(byTask[n.TaskID], NoteRecord{ID: n.ID, Body: n.Body, CreatedAt: n.CreatedAt})
	}

	enc := json.NewEncoder(w)
	for _, t := range tasks {
		rec := Record{Task: *t, Notes: byTask[t.ID]}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
	}
	return nil
}

func sortedTasks(in []*schema.Task) []*schema.Task {
	out := append([]*schema.Task(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedNotes(in []*schema.Note) []*schema.Note {
	out := append([]*schema.Note(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
