package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/config"
	"github.com/aneuhold/taskd/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the sync daemon in the foreground",
	Long: `Run the long-lived sync daemon in the foreground.

The daemon will:
  1. Refetch every kind from the remote at startup
  2. Drive recurring tasks from the shared clock
  3. Refetch when the remote announces a change (remote.push_url)
  4. Reload snapshots edited on disk (snapshot.backend=file)
  5. Serve the websocket dashboard (dashboard.enabled)

Press Ctrl+C to stop. Pending changes are flushed before exit.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cmd.Flags().Changed("dashboard") {
			cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		runDaemon(cfg)
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the daemon with the real-time websocket dashboard",
	Long: `Start the sync daemon with its websocket dashboard enabled.

The dashboard broadcasts task and note changes, recurrence events, queue
drains and task statistics to connected clients. With
clock.visibility=dashboard the recurrence clock only ticks while at least one
client is connected.

Example usage:
  taskd dashboard                   # Start on the configured port (default 8080)
  taskd dashboard --port 9000       # Start on a custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		cfg.Dashboard.Enabled = true
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		runDaemon(cfg)
	},
}

func runDaemon(cfg *config.Config) {
	s := openSessionWith(cfg, false)
	defer s.Close()

	d, err := s.Daemon(nil)
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("%s Starting taskd daemon...\n", ui.RenderAccent("🚀"))
	fmt.Printf("   Data:   %s\n", cfg.DataDir)
	fmt.Printf("   Remote: %s\n", remoteLabel(cfg))
	if cfg.Dashboard.Enabled {
		host := cfg.Dashboard.Host
		if host == "" {
			host = "localhost"
		}
		fmt.Printf("   WebSocket endpoint: ws://%s:%d/ws\n", host, cfg.Dashboard.Port)
		fmt.Printf("   Health check: http://%s:%d/health\n", host, cfg.Dashboard.Port)
	}
	fmt.Println("\nPress Ctrl+C to stop...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
	}
	_ = d.Stop()

	st := d.Status()
	fmt.Printf("\n%s Daemon stopped (%d refetches, %d reloads)\n", ui.RenderPass("✓"), st.Refetches, st.Reloads)
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the websocket dashboard (overrides dashboard.enabled)")
	daemonCmd.Flags().Int("port", 8080, "Dashboard port (overrides dashboard.port)")
	dashboardCmd.Flags().Int("port", 8080, "Port to listen on (overrides dashboard.port)")
	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
