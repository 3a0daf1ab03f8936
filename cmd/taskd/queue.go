package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/app"
	"github.com/aneuhold/taskd/internal/config"
	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and drain the durable sync queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending change batches and local snapshots",
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		pending, err := s.Backing.Pending()
		if err != nil {
			fatalf("%v", err)
		}
		stats := s.Queue.Stats()
		snaps, err := s.DB.ListSnapshots(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		if jsonOutput {
			summaries := make([]string, 0, len(pending))
			for _, b := range pending {
				summaries = append(summaries, b.Summary())
			}
			outputJSON(map[string]any{
				"remote":    remoteLabel(s.Config),
				"pending":   summaries,
				"stats":     stats,
				"snapshots": snaps,
			})
			return
		}

		fmt.Printf("\n%s\n", ui.RenderTitle("Sync queue"))
		fmt.Printf("%s%s\n", ui.RenderKey("Remote"), remoteLabel(s.Config))
		fmt.Printf("%s%s\n", ui.RenderKey("Snapshots"), s.Config.Snapshot.Backend)
		fmt.Printf("%s%d\n", ui.RenderKey("Pending"), len(pending))
		for i, b := range pending {
			fmt.Printf("  %d. [%s] %s\n", i+1, strings.Join(b.Kinds(), ","), ui.RenderMuted(b.Summary()))
		}
		if stats.LastError != "" {
			fmt.Printf("%s%s\n", ui.RenderKey("Last error"), ui.RenderFail(stats.LastError))
		}
		if len(snaps) > 0 {
			fmt.Printf("\n%s\n", ui.RenderAccent("Stored snapshots"))
			for _, info := range snaps {
				fmt.Printf("  %-8s %8d bytes  %s\n", info.Kind, info.Size, ui.RenderMuted(info.UpdatedAt.Local().Format(time.DateTime)))
			}
		}
		fmt.Println()
	},
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay pending batches and wait until the queue is empty",
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		before, _ := s.Backing.Len()
		fmt.Printf("%s Flushing %d pending batch(es) to %s...\n", ui.RenderAccent("🔄"), before, remoteLabel(s.Config))

		ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
		defer cancel()
		start := time.Now()
		if err := s.WaitIdle(ctx); err != nil {
			fatalf("queue did not drain: %v", err)
		}
		printDrain(s.Queue.Stats(), time.Since(start))
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Refetch every document from the remote",
	Long: `Request the full document list of every kind from the remote and replace
the local copy with it. Pending local changes are sent first.`,
	Run: func(cmd *cobra.Command, args []string) {
		s := openSession()
		defer s.Close()

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), remoteLabel(s.Config))
		ctx, cancel := context.WithTimeout(cmd.Context(), syncTimeout)
		defer cancel()
		start := time.Now()
		if err := s.Queue.Enqueue(queue.FetchAll(kindsFlag(cmd)...)); err != nil {
			fatalf("%v", err)
		}
		if err := s.WaitIdle(ctx); err != nil {
			fatalf("sync did not finish: %v", err)
		}
		printDrain(s.Queue.Stats(), time.Since(start))
		fmt.Printf("   Tasks: %d\n", s.Tasks.Len())
		fmt.Printf("   Notes: %d\n", s.Notes.Len())
	},
}

func printDrain(stats queue.Stats, elapsed time.Duration) {
	if stats.Failed > 0 {
		fmt.Fprintf(os.Stderr, "%s %d batch(es) failed: %s\n", ui.RenderWarn("⚠"), stats.Failed, stats.LastError)
	}
	fmt.Printf("%s Done in %v (%d sent)\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond), stats.Sent)
}

func remoteLabel(cfg *config.Config) string {
	if cfg.Remote.URL == "" {
		return "local (no remote configured)"
	}
	return cfg.Remote.URL
}

// kindsFlag reads and validates a --kinds flag.
func kindsFlag(cmd *cobra.Command) []string {
	raw, _ := cmd.Flags().GetString("kinds")
	kinds, err := app.ParseKinds(raw)
	if err != nil {
		fatalf("--kinds: %v", err)
	}
	return kinds
}

func init() {
	syncCmd.Flags().String("kinds", "", "Comma separated kinds to refetch (tasks,notes; default all)")
	queueCmd.AddCommand(queueStatusCmd, queueFlushCmd)
	rootCmd.AddCommand(queueCmd, syncCmd)
}
