package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/astromechza/todosync/pkg/broadcast"
)

// Checkpointer periodically saves every coordinator whose version moved since
// the last save.
type Checkpointer struct {
	store *Store
	hub   *broadcast.Hub
	saved map[string]uint64
}

func NewCheckpointer(store *Store, hub *broadcast.Hub) *Checkpointer {
	return &Checkpointer{store: store, hub: hub, saved: make(map[string]uint64)}
}

// Run checkpoints every interval and once more when ctx is done.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Flush(ctx)
		case <-ctx.Done():
			// ctx is already cancelled; the final flush needs its own.
			c.Flush(context.Background())
			slog.Info("stopped checkpointing")
			return
		}
	}
}

// Flush saves all changed coordinators and returns how many were written.
func (c *Checkpointer) Flush(ctx context.Context) int {
	written := 0
	c.hub.Range(func(principal string, coord *broadcast.Coordinator) bool {
		snap, version := coord.State()
		last, seen := c.saved[principal]
		// A coordinator at version 0 still holds what it was loaded with.
		if (seen && last == version) || (!seen && version == 0) {
			return true
		}
		if err := c.store.Save(ctx, principal, snap, version); err != nil {
			slog.Error("failed to checkpoint", "principal", principal, "err", err)
			return true
		}
		c.saved[principal] = version
		written++
		slog.Info("backed up", "principal", principal, "version", version, "live", len(snap.Live), "finished", len(snap.Finished))
		return true
	})
	return written
}
