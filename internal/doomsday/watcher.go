package doomsday

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Rajchodisetti/safety-kernel/internal/eventbus"
	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// WatchLockfile watches the lockfile's parent directory for out-of-band
// creation or removal (an operator editing the filesystem directly,
// bypassing Trigger/Reset) and republishes the corresponding bus event so
// every subsystem's view of doomsday state stays consistent. It does not
// change Trigger or Reset's own contract — it is purely additive
// observability over a side channel those calls don't normally go
// through.
func WatchLockfile(ctx context.Context, lockfilePath string, bus *eventbus.Bus) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(lockfilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(lockfilePath) {
					continue
				}
				handleLockfileEvent(ev, bus)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				observ.LogError("doomsday_watch_error", err, nil)
			}
		}
	}()

	return nil
}

func handleLockfileEvent(ev fsnotify.Event, bus *eventbus.Bus) {
	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		observ.Log("doomsday_lockfile_changed_externally", map[string]any{"op": ev.Op.String()})
		bus.Publish(eventbus.NewEvent(eventbus.EventDoomsdayTriggered, "doomsday", eventbus.PriorityCritical, "external lockfile change"))
	case ev.Op&fsnotify.Remove != 0:
		observ.Log("doomsday_lockfile_removed_externally", nil)
		bus.Publish(eventbus.NewEvent(eventbus.EventDoomsdayCleared, "doomsday", eventbus.PriorityNormal, "external lockfile removal"))
	}
}
