package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/ui"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "tasks",
	Short:   "Attach notes to tasks",
}

var noteAddCmd = &cobra.Command{
	Use:   "add <task-id> <text>",
	Short: "Add a note to a task",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		n, err := s.AddNote(args[0], strings.Join(args[1:], " "))
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(n)
			return
		}
		fmt.Printf("%s Added note %s to %s\n", ui.RenderPass("✓"), ui.RenderID(shortID(n.ID)), ui.RenderID(n.TaskID))
	},
}

var noteListCmd = &cobra.Command{
	Use:     "list [task-id]",
	Aliases: []string{"ls"},
	Short:   "List notes, optionally for one task",
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		taskID := ""
		if len(args) == 1 {
			t, err := s.ResolveTask(args[0])
			if err != nil {
				fatalf("%v", err)
			}
			taskID = t.ID
		}
		notes := s.NotesFor(taskID)
		if jsonOutput {
			outputJSON(notes)
			return
		}
		if len(notes) == 0 {
			fmt.Println(ui.RenderMuted("No notes."))
			return
		}
		for _, n := range notes {
			fmt.Printf("%s %s %s %s\n",
				ui.RenderID(shortID(n.ID)),
				ui.RenderMuted(formatDate(&n.CreatedAt)),
				ui.RenderMuted("on "+shortID(n.TaskID)),
				n.Body)
		}
	},
}

var noteDeleteCmd = &cobra.Command{
	Use:     "delete <note-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a note",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		if err := s.DeleteNote(args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted note %s\n", ui.RenderPass("✓"), ui.RenderID(args[0]))
	},
}

func init() {
	noteCmd.AddCommand(noteAddCmd, noteListCmd, noteDeleteCmd)
	rootCmd.AddCommand(noteCmd)
}
