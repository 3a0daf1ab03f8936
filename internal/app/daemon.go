package app

import (
	"fmt"
	"log"

	"github.com/aneuhold/taskd/internal/docstore/daemon"
	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/docstore/remote"
	"github.com/aneuhold/taskd/internal/logging"
)

// refetchEvery is the number of clock intervals between periodic refetches.
const refetchEvery = 15

// Daemon builds the long-running orchestrator for this app: the shared
// clock, the remote push listener (when remote.push_url is set), the
// snapshot watcher (file backend), and the dashboard (when enabled).
func (a *App) Daemon(base *log.Logger) (*daemon.Daemon, error) {
	if base == nil {
		base = a.logger
	}
	deps := daemon.Deps{
		Clock:     a.Clock,
		Refetch:   a.Refetch,
		Files:     a.Files,
		Reload:    a.Reload,
		Dashboard: a.Dashboard,
	}
	if a.Config.Remote.PushURL != "" {
		deps.Push = remote.NewPushListener(remote.PushConfig{
			URL:    a.Config.Remote.PushURL,
			Token:  a.Config.Remote.Token,
			OnPush: a.onPush,
			Logger: logging.For(base, "push"),
		})
	}

	cfg := daemon.DefaultConfig()
	cfg.RefetchInterval = a.Config.Clock.Interval * refetchEvery
	cfg.Logger = logging.For(base, "daemon")

	d, err := daemon.NewWithConfig(deps, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon: %w", err)
	}
	return d, nil
}

// onPush refetches the kinds a remote change announcement names.
func (a *App) onPush(kinds []string) {
	if len(kinds) == 0 {
		a.Refetch()
		return
	}
	if err := a.Queue.Enqueue(queue.FetchAll(kinds...)); err != nil {
		a.logger.Printf("Warning: failed to enqueue refetch for %v: %v", kinds, err)
	}
}
