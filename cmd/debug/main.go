package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/todosync/pkg/checkpoint"
	"github.com/astromechza/todosync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbVar := flag.String("db", "todosync.sqlite3", "the checkpoint database to read")
	svgVar := flag.String("svg", "", "also render the checkpoint history as svg to this path")
	flag.Parse()

	ctx := context.Background()
	store, err := checkpoint.Open(ctx, *dbVar)
	if err != nil {
		return err
	}
	defer store.Close()

	if flag.NArg() != 1 {
		principals, err := store.Principals(ctx)
		if err != nil {
			return err
		}
		slog.Info("checkpointed principals", "principals", principals)
		return fmt.Errorf("expected one position argument: the principal to inspect")
	}

	doc, err := store.History(ctx, flag.Arg(0))
	if err != nil {
		return err
	}
	snap, version, err := checkpoint.ReadSnapshot(doc)
	if err != nil {
		return err
	}
	slog.Info("loaded checkpoint", "version", version, "live", len(snap.Live), "finished", len(snap.Finished))
	slog.Info("loaded heads", "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		label, err := viz.Label(doc, change.Hash())
		if err != nil {
			return err
		}
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "label", label, "dep", change.Dependencies())
	}

	for i, t := range snap.Live {
		fmt.Printf("%3d  %s\n", i, t.Value)
	}
	for _, t := range snap.Finished {
		fmt.Printf("  %-10s %s\n", t.Status, t.Value)
	}

	if *svgVar != "" {
		if err := viz.RenderHistoryToFile(doc, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return nil
}
