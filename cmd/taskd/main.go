// Command taskd manages hierarchical, recurring tasks kept in sync with a
// remote document service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/app"
	"github.com/aneuhold/taskd/internal/config"
	"github.com/aneuhold/taskd/internal/logging"
	"github.com/aneuhold/taskd/internal/ui"
)

// exit ends the process; tests replace it to observe failures.
var exit = os.Exit

var (
	configPath  string
	jsonOutput  bool
	verbose     bool
	syncTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "taskd",
	Short: "Hierarchical, recurring tasks synchronized with a remote store",
	Long: `taskd keeps a local copy of your tasks and notes, applies every change
locally first, and replays it against the remote document service through a
durable queue. Recurring tasks roll forward or stack on a shared clock.

Configuration is read from taskd.yaml/taskd.toml in $TASKD_HOME,
~/.config/taskd or the current directory. Every key can be overridden with a
TASKD_* environment variable (for example TASKD_REMOTE_URL).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Working With Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync & Data:"},
		&cobra.Group{ID: "advanced", Title: "Services:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: search $TASKD_HOME, ~/.config/taskd, .)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")
	rootCmd.PersistentFlags().DurationVar(&syncTimeout, "sync-timeout", 30*time.Second, "How long one-shot commands wait for the sync queue to drain")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exit(1)
	}
}

// loadConfig reads the config or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	return cfg
}

// openLogger returns the base logger for a command. One-shot commands stay
// quiet unless --verbose is set or a log file is configured.
func openLogger(cfg *config.Config, quiet bool) (*log.Logger, func()) {
	if quiet && !verbose && cfg.Log.File == "" {
		return logging.Discard(), func() {}
	}
	out, err := logging.Open(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	return logging.New(out), func() { _ = out.Close() }
}

// session is an open App plus its teardown.
type session struct {
	*app.App
	closeLog func()
}

// openSession loads config and opens the app for a one-shot command.
func openSession() *session {
	cfg := loadConfig()
	return openSessionWith(cfg, true)
}

func openSessionWith(cfg *config.Config, quiet bool) *session {
	logger, closeLog := openLogger(cfg, quiet)
	a, err := app.Open(cfg, app.Options{Logger: logger})
	if err != nil {
		closeLog()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exit(1)
	}
	return &session{App: a, closeLog: closeLog}
}

// Close waits for the queue to drain within --sync-timeout, then releases
// storage. Undrained batches stay queued for the next run.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := s.WaitIdle(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s sync queue did not drain: %v\n", ui.RenderWarn("⚠"), err)
		if pending, lerr := s.Backing.Len(); lerr == nil && pending > 0 {
			fmt.Fprintf(os.Stderr, "   %d change batch(es) will be retried on the next run\n", pending)
		}
		// The queue already timed out; close storage without waiting again.
		ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
	}
	if err := s.App.Close(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
	}
	s.closeLog()
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	exit(1)
}

// outputJSON prints v as indented JSON.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("encoding JSON: %v", err)
	}
}
