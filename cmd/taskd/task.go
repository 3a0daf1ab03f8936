package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/app"
	"github.com/aneuhold/taskd/internal/docstore/recur"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/tree"
	"github.com/aneuhold/taskd/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Create, list and change tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a task",
	Long: `Create a task. Dates accept ISO values or natural language:

  taskd task add "Pay rent" --due "2026-04-01"
  taskd task add "Call mom" --due "next sunday at 6pm"
  taskd task add "Water plants" --due tomorrow --every week
  taskd task add "Pack charger" --parent 3f2a`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		now := s.Now()
		desc, _ := cmd.Flags().GetString("description")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		parent, _ := cmd.Flags().GetString("parent")
		start, _ := cmd.Flags().GetString("start")
		due, _ := cmd.Flags().GetString("due")

		in := app.TaskInput{
			Title:       strings.Join(args, " "),
			Description: desc,
			Tags:        tags,
			ParentID:    parent,
			StartDate:   parseDateFlag("start", start, now),
			DueDate:     parseDateFlag("due", due, now),
		}
		if every, _ := cmd.Flags().GetString("every"); every != "" {
			in.Recurrence = recurrenceFromFlags(cmd, every, in.StartDate != nil && in.DueDate == nil)
		}

		t, err := s.AddTask(in)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(t)
			return
		}
		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID), t.Title)
		if t.RecurrenceInfo != nil {
			fmt.Printf("   Repeats %s\n", describeRecurrence(t.RecurrenceInfo))
		}
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks as a tree",
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		all, _ := cmd.Flags().GetBool("all")
		tag, _ := cmd.Flags().GetString("tag")
		flat, _ := cmd.Flags().GetBool("flat")

		tasks := s.ListTasks(app.TaskFilter{All: all, Tag: tag})
		if jsonOutput {
			outputJSON(tasks)
			return
		}
		if len(tasks) == 0 {
			fmt.Println(ui.RenderMuted("No tasks."))
			return
		}

		if flat || tag != "" {
			for _, t := range tasks {
				printTaskLine(t, "")
			}
			return
		}

		visible := make(tree.TaskMap, len(tasks))
		for _, t := range tasks {
			visible[t.ID] = t
		}
		// A task whose parent is filtered out is shown at the top level.
		var roots []*schema.Task
		for _, t := range tasks {
			if t.IsRoot() || visible[*t.ParentID] == nil {
				roots = append(roots, t)
			}
		}
		for _, t := range roots {
			printTree(visible, t, "")
		}
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task with its notes and subtasks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		t, err := s.ResolveTask(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		notes := s.NotesFor(t.ID)
		children := tree.Children(s.Tasks.Snapshot(), t.ID)

		if jsonOutput {
			outputJSON(map[string]any{"task": t, "notes": notes, "children": children})
			return
		}

		fmt.Printf("\n%s %s\n\n", ui.Checkbox(t.Completed), ui.RenderTitle(t.Title))
		fmt.Printf("%s%s\n", ui.RenderKey("ID"), ui.RenderID(t.ID))
		if t.ParentID != nil {
			fmt.Printf("%s%s\n", ui.RenderKey("Parent"), ui.RenderID(*t.ParentID))
		}
		if t.Description != "" {
			fmt.Printf("%s%s\n", ui.RenderKey("Description"), t.Description)
		}
		if len(t.Tags) > 0 {
			fmt.Printf("%s%s\n", ui.RenderKey("Tags"), strings.Join(t.Tags, ", "))
		}
		if t.StartDate != nil {
			fmt.Printf("%s%s\n", ui.RenderKey("Start"), formatDate(t.StartDate))
		}
		if t.DueDate != nil {
			fmt.Printf("%s%s\n", ui.RenderKey("Due"), formatDate(t.DueDate))
		}
		if t.RecurrenceInfo != nil {
			fmt.Printf("%s%s\n", ui.RenderKey("Repeats"), describeRecurrence(t.RecurrenceInfo))
			if next, ok := recur.NextOccurrenceDate(t); ok {
				fmt.Printf("%s%s\n", ui.RenderKey("Next"), formatDate(&next))
			}
		}
		if t.ParentRecurringInfo != nil {
			fmt.Printf("%s%s\n", ui.RenderKey("Generated by"), ui.RenderID(t.ParentRecurringInfo.OriginID))
		}
		fmt.Printf("%s%s\n", ui.RenderKey("Updated"), ui.RenderMuted(formatDate(&t.UpdatedAt)))

		if len(children) > 0 {
			fmt.Printf("\n%s\n", ui.RenderAccent("Subtasks"))
			for _, c := range children {
				printTaskLine(c, "  ")
			}
		}
		if len(notes) > 0 {
			fmt.Printf("\n%s\n", ui.RenderAccent("Notes"))
			for _, n := range notes {
				fmt.Printf("  %s %s\n", ui.RenderMuted(formatDate(&n.CreatedAt)), n.Body)
			}
		}
		fmt.Println()
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:     "complete <id>",
	Aliases: []string{"done"},
	Short:   "Mark a task completed",
	Long: `Mark a task completed. With --cascade the whole subtree is completed.
With --undo the task is reopened.

Completing a task that repeats on completion rolls it forward instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		cascade, _ := cmd.Flags().GetBool("cascade")
		undo, _ := cmd.Flags().GetBool("undo")

		ids, err := s.SetCompleted(args[0], !undo, cascade)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(s.Tasks.GetMany(ids))
			return
		}
		verb := "Completed"
		if undo {
			verb = "Reopened"
		}
		fmt.Printf("%s %s %d task(s)\n", ui.RenderPass("✓"), verb, len(ids))
		if t, ok := s.Tasks.Get(ids[0]); ok && !undo && !t.Completed && t.DueDate != nil {
			fmt.Printf("   Rolled forward, next due %s\n", formatDate(t.DueDate))
		}
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change task fields",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		now := s.Now()
		var patch app.TaskPatch
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("tag") {
			patch.Tags, _ = cmd.Flags().GetStringSlice("tag")
		}
		start, _ := cmd.Flags().GetString("start")
		due, _ := cmd.Flags().GetString("due")
		patch.StartDate = parseDateFlag("start", start, now)
		patch.DueDate = parseDateFlag("due", due, now)
		patch.ClearStart, _ = cmd.Flags().GetBool("clear-start")
		patch.ClearDue, _ = cmd.Flags().GetBool("clear-due")

		if patch.Empty() {
			fatalf("nothing to update (see --help)")
		}
		t, err := s.UpdateTask(args[0], patch)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(t)
			return
		}
		fmt.Printf("%s Updated %s %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID), t.Title)
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task, its subtasks and their notes",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		force, _ := cmd.Flags().GetBool("force")
		t, err := s.ResolveTask(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		sub, err := tree.CollectSubtreeIDs(s.Tasks.Snapshot(), t.ID)
		if err != nil {
			fatalf("%v", err)
		}

		if !force {
			if !ui.IsTTY(os.Stdin) {
				fatalf("refusing to delete without --force when stdin is not a terminal")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %q and %d subtask(s)?", t.Title, len(sub))).
				Description("Notes on these tasks are deleted too.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil && !errors.Is(err, huh.ErrUserAborted) {
				fatalf("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
		}

		ids, err := s.DeleteTask(t.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"deleted": ids})
			return
		}
		fmt.Printf("%s Deleted %d task(s)\n", ui.RenderPass("✓"), len(ids))
	},
}

var taskDuplicateCmd = &cobra.Command{
	Use:     "duplicate <id>",
	Aliases: []string{"dup"},
	Short:   "Copy a task and its subtasks",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		t, err := s.DuplicateTask(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(t)
			return
		}
		fmt.Printf("%s Duplicated as %s %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID), t.Title)
	},
}

var taskRecurCmd = &cobra.Command{
	Use:   "recur <id>",
	Short: "Set, clear or fire a task's recurrence",
	Long: `Set how a task repeats.

  taskd task recur 3f2a --every week                   # roll the due date weekly
  taskd task recur 3f2a --every "2 days" --basis start
  taskd task recur 3f2a --every month --effect stack   # keep a completed copy per month
  taskd task recur 3f2a --every day --effect completion
  taskd task recur 3f2a --clear
  taskd task recur 3f2a --fire                         # process a due occurrence now`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		stop, _ := cmd.Flags().GetBool("clear")
		fire, _ := cmd.Flags().GetBool("fire")
		every, _ := cmd.Flags().GetString("every")

		switch {
		case fire:
			processed, err := s.FireRecurrence(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			if !processed {
				fmt.Printf("%s No occurrence is due yet\n", ui.RenderWarn("⚠"))
				return
			}
			fmt.Printf("%s Occurrence processed\n", ui.RenderPass("✓"))
		case stop:
			t, err := s.SetRecurrence(args[0], nil)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s %s no longer repeats\n", ui.RenderPass("✓"), ui.RenderID(t.ID))
		case every != "":
			cur, err := s.ResolveTask(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			info := recurrenceFromFlags(cmd, every, cur.StartDate != nil && cur.DueDate == nil)
			t, err := s.SetRecurrence(cur.ID, info)
			if err != nil {
				fatalf("%v", err)
			}
			if jsonOutput {
				outputJSON(t)
				return
			}
			fmt.Printf("%s %s repeats %s\n", ui.RenderPass("✓"), ui.RenderID(t.ID), describeRecurrence(t.RecurrenceInfo))
		default:
			fatalf("one of --every, --clear or --fire is required")
		}
	},
}

// recurrenceFromFlags builds recurrence info from --every, --basis and
// --effect. The basis defaults to the due date unless only a start date
// is known.
func recurrenceFromFlags(cmd *cobra.Command, every string, preferStart bool) *schema.RecurrenceInfo {
	freq, err := parseEvery(every)
	if err != nil {
		fatalf("--every: %v", err)
	}
	basis := schema.BasisDueDate
	if preferStart {
		basis = schema.BasisStartDate
	}
	if b, _ := cmd.Flags().GetString("basis"); b != "" {
		switch strings.ToLower(b) {
		case "start", "startdate":
			basis = schema.BasisStartDate
		case "due", "duedate":
			basis = schema.BasisDueDate
		default:
			fatalf("--basis must be start or due")
		}
	}
	effect := schema.EffectRollOnBasis
	if e, _ := cmd.Flags().GetString("effect"); e != "" {
		switch strings.ToLower(e) {
		case "roll", "rollonbasis":
			effect = schema.EffectRollOnBasis
		case "completion", "rolloncompletion":
			effect = schema.EffectRollOnCompletion
		case "stack":
			effect = schema.EffectStack
		default:
			fatalf("--effect must be roll, completion or stack")
		}
	}
	return &schema.RecurrenceInfo{Frequency: freq, Basis: basis, Effect: effect}
}

func describeRecurrence(ri *schema.RecurrenceInfo) string {
	unit := string(ri.Frequency.Unit)
	every := "every " + unit
	if ri.Frequency.EveryX != 1 {
		every = fmt.Sprintf("every %d %ss", ri.Frequency.EveryX, unit)
	}
	switch ri.Effect {
	case schema.EffectRollOnCompletion:
		return every + " after completion"
	case schema.EffectStack:
		return fmt.Sprintf("%s from %s (stacking)", every, ri.Basis)
	}
	return fmt.Sprintf("%s from %s", every, ri.Basis)
}

func printTree(m tree.TaskMap, t *schema.Task, indent string) {
	printTaskLine(t, indent)
	for _, c := range tree.Children(m, t.ID) {
		printTree(m, c, indent+"  ")
	}
}

func printTaskLine(t *schema.Task, indent string) {
	var extra []string
	if t.DueDate != nil {
		extra = append(extra, "due "+formatDate(t.DueDate))
	}
	if t.RecurrenceInfo != nil {
		extra = append(extra, "↻")
	}
	if len(t.Tags) > 0 {
		extra = append(extra, "#"+strings.Join(t.Tags, " #"))
	}
	line := fmt.Sprintf("%s%s %s %s", indent, ui.Checkbox(t.Completed), ui.RenderID(shortID(t.ID)), t.Title)
	if len(extra) > 0 {
		line += "  " + ui.RenderMuted(strings.Join(extra, "  "))
	}
	fmt.Println(line)
}

// shortID trims UUIDs for listings; any unique prefix resolves.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, taskUpdateCmd} {
		c.Flags().StringP("description", "d", "", "Description")
		c.Flags().StringSliceP("tag", "t", nil, "Tag (repeatable)")
		c.Flags().String("start", "", "Start date")
		c.Flags().String("due", "", "Due date")
	}
	taskAddCmd.Flags().StringP("parent", "p", "", "Parent task id")
	for _, c := range []*cobra.Command{taskAddCmd, taskRecurCmd} {
		c.Flags().String("every", "", `Repeat frequency ("day", "2 weeks", "3d")`)
		c.Flags().String("basis", "", "Date the schedule follows: start or due")
		c.Flags().String("effect", "", "What an occurrence does: roll, completion or stack")
	}

	taskListCmd.Flags().BoolP("all", "a", false, "Include completed tasks")
	taskListCmd.Flags().String("tag", "", "Only tasks with this tag")
	taskListCmd.Flags().Bool("flat", false, "Do not indent subtasks")

	taskCompleteCmd.Flags().Bool("cascade", false, "Complete the whole subtree")
	taskCompleteCmd.Flags().Bool("undo", false, "Reopen instead")

	taskUpdateCmd.Flags().String("title", "", "New title")
	taskUpdateCmd.Flags().Bool("clear-start", false, "Remove the start date")
	taskUpdateCmd.Flags().Bool("clear-due", false, "Remove the due date")

	taskDeleteCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	taskRecurCmd.Flags().Bool("clear", false, "Stop repeating")
	taskRecurCmd.Flags().Bool("fire", false, "Process the occurrence now if it is due")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskCompleteCmd,
		taskUpdateCmd, taskDeleteCmd, taskDuplicateCmd, taskRecurCmd)
	rootCmd.AddCommand(taskCmd)
}
