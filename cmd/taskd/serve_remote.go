package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/migrate"
	"github.com/aneuhold/taskd/internal/docstore/remote"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/logging"
	"github.com/aneuhold/taskd/internal/ui"
)

var serveRemoteCmd = &cobra.Command{
	Use:     "serve-remote",
	GroupID: "advanced",
	Short:   "Serve an in-memory remote document service",
	Long: `Run an in-memory remote that other taskd instances can sync against.

Endpoints:
  POST /v1/sync   apply a change batch and return the requested kinds
  GET  /v1/push   websocket channel announcing changed kinds
  GET  /health    liveness check

Point clients at it with remote.url=http://HOST:PORT and
remote.push_url=ws://HOST:PORT/v1/push. Documents live only in memory;
--seed loads an initial set from a JSONL export.`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")
		seed, _ := cmd.Flags().GetString("seed")

		cfg := loadConfig()
		logger, closeLog := openLogger(cfg, false)
		defer closeLog()

		mem := remote.NewMemory()
		if seed != "" {
			tasks, notes, err := seedRemote(mem, seed)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Seeded %d tasks and %d notes from %s\n", ui.RenderPass("✓"), tasks, notes, seed)
		}

		h := remote.NewHandler(remote.HandlerConfig{
			Remote: mem,
			Token:  token,
			Logger: logging.For(logger, "remote"),
		})
		srv := &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		fmt.Printf("Remote started on http://%s\n", addr)
		fmt.Printf("Push endpoint: ws://%s%s\n", addr, remote.PushPath)
		fmt.Printf("Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				fatalf("remote server: %v", err)
			}
		}

		fmt.Println("\nShutting down remote...")
		h.Close()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Remote stopped (%d tasks, %d notes)\n", mem.Len(schema.KindTasks), mem.Len(schema.KindNotes))
	},
}

// seedRemote loads a JSONL export into mem.
func seedRemote(mem *remote.Memory, path string) (int, int, error) {
	records, err := migrate.FromJSONL(path)
	if err != nil {
		return 0, 0, err
	}
	plan := migrate.BuildPlan(records, idgen.UUID{}, time.Now())
	for _, e := range plan.Errors {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), e)
	}

	taskDocs, err := rawDocs(plan.Tasks)
	if err != nil {
		return 0, 0, err
	}
	noteDocs, err := rawDocs(plan.Notes)
	if err != nil {
		return 0, 0, err
	}
	if err := mem.Seed(schema.KindTasks, taskDocs); err != nil {
		return 0, 0, err
	}
	if err := mem.Seed(schema.KindNotes, noteDocs); err != nil {
		return 0, 0, err
	}
	return len(taskDocs), len(noteDocs), nil
}

func rawDocs[T any](docs []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to encode seed document: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func init() {
	serveRemoteCmd.Flags().String("addr", "127.0.0.1:7420", "Listen address")
	serveRemoteCmd.Flags().String("token", "", "Require this bearer token")
	serveRemoteCmd.Flags().String("seed", "", "JSONL export to load at startup")
	rootCmd.AddCommand(serveRemoteCmd)
}
