package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/migrate"
	"github.com/aneuhold/taskd/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Export tasks and notes",
	Long: `Write every task and note to stdout or a file.

Formats: json, jsonl, yaml, toml. JSONL output can be read back with
"taskd import". When --format is omitted it is taken from the --output
extension, falling back to jsonl.`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = formatFromPath(output)
		}

		s := openSession()
		defer s.Close()

		w := os.Stdout
		if output != "" {
			// #nosec G304 - controlled path from CLI
			f, err := os.Create(output)
			if err != nil {
				fatalf("failed to create %s: %v", output, err)
			}
			defer f.Close()
			w = f
		}

		buf := bufio.NewWriter(w)
		if err := migrate.Export(buf, format, s.Tasks.All(), s.Notes.All()); err != nil {
			fatalf("%v", err)
		}
		if err := buf.Flush(); err != nil {
			fatalf("failed to write export: %v", err)
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "%s Exported %d tasks and %d notes to %s\n",
				ui.RenderPass("✓"), s.Tasks.Len(), s.Notes.Len(), output)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "sync",
	Short:   "Import tasks and notes from a JSONL file",
	Long: `Import tasks from a JSONL file. Each line is a task document, optionally
with a "notes" array of {"body": ...} objects.

Tasks without an id get a new one. Tasks whose id already exists are
replaced. Invalid lines are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		s := openSession()
		defer s.Close()

		opts := migrate.ImportOptions{
			FromJSONL: args[0],
			DryRun:    dryRun,
			Backup:    backup,
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
		defer cancel()

		result, err := migrate.Import(ctx, opts, s.Tasks, s.Notes, idgen.UUID{})
		if err != nil {
			fatalf("%v", err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}

		if dryRun {
			fmt.Printf("%s Dry run, nothing written\n", ui.RenderAccent("🔍"))
		} else {
			fmt.Printf("%s Import complete\n", ui.RenderPass("✓"))
		}
		fmt.Printf("   Tasks inserted: %d\n", result.TasksInserted)
		fmt.Printf("   Tasks updated:  %d\n", result.TasksUpdated)
		fmt.Printf("   Notes imported: %d\n", result.NotesImported)
		if result.Skipped > 0 {
			fmt.Printf("   Skipped:        %d\n", result.Skipped)
		}
		if result.BackupCreated != "" {
			fmt.Printf("   Backup:         %s\n", result.BackupCreated)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), e)
		}
	},
}

// formatFromPath picks an export format from a file extension.
func formatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "yml":
		return migrate.FormatYAML
	case migrate.FormatJSON, migrate.FormatYAML, migrate.FormatTOML, migrate.FormatJSONL:
		return ext
	}
	return migrate.FormatJSONL
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "Output format: "+strings.Join(migrate.Formats, ", "))
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")
	importCmd.Flags().Bool("backup", false, "Copy the input file before importing")
	rootCmd.AddCommand(exportCmd, importCmd)
}
