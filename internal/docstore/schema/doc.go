// Package schema defines the documents managed by the taskd store.
//
// # Overview
//
// Every document is a flat JSON record with a globally unique, immutable id.
// Documents are grouped by kind ("tasks", "notes"); each kind is held by its
// own document store and persisted as one snapshot blob.
//
// # Tasks
//
// Tasks form a forest through ParentID. A task may carry RecurrenceInfo,
// which makes it repeat on a schedule:
//
//	{
//	  "id": "6c1f...",
//	  "title": "Water plants",
//	  "parent_id": null,
//	  "completed": false,
//	  "due_date": "2026-10-15T18:00:00Z",
//	  "recurrence_info": {
//	    "frequency": {"every_x": 2, "unit": "day"},
//	    "basis": "dueDate",
//	    "effect": "rollOnBasis"
//	  }
//	}
//
// Children created under a recurring task carry ParentRecurringInfo, a
// snapshot of the origin's dates. Such generated child instances never recur
// on their own; their origin drives them.
//
// # Recurrence Effects
//
//   - rollOnBasis - the task is moved forward in place once its basis date passes
//   - rollOnCompletion - the task is moved forward in place when it is completed
//   - stack - each occurrence produces a new copy of the subtree
//
// # Notes
//
// Notes are plain documents attached to a task through TaskID. They are
// deleted together with their task subtree.
//
// # Files
//
// Tasks can be written to and read from individual JSON files
// ({id}.json), which the import and export commands use.
package schema
