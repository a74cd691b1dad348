package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/todosync/pkg/auth"
	"github.com/astromechza/todosync/pkg/broadcast"
	"github.com/astromechza/todosync/pkg/checkpoint"
	"github.com/astromechza/todosync/pkg/config"
	"github.com/astromechza/todosync/pkg/lifecycle"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(cfg.Log.Handler(os.Stderr)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	var hub *broadcast.Hub
	if cfg.DBPath != "" {
		slog.Info("Opening database", "path", cfg.DBPath)
		store, err := checkpoint.Open(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		hub = broadcast.NewHub(store)

		cp := checkpoint.NewCheckpointer(store, hub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.Run(ctx, cfg.CheckpointInterval)
		}()
	} else {
		slog.Warn("db_path is empty, task lists are kept in memory only")
		hub = broadcast.NewHub(nil)
	}

	keys := auth.NewStatic(cfg.KeyTable())
	manager := lifecycle.NewManager(cfg, keys, hub)

	wg.Add(1)
	go func() {
		defer wg.Done()
		manager.Run(ctx)
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: manager.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.ListenAddr, "keys", len(cfg.Keys))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range exit {
		if sig == syscall.SIGHUP {
			reloadKeys(*configVar, keys)
			continue
		}
		slog.Info("Signal caught", "sig", sig)
		break
	}
	signal.Stop(exit)

	// Sessions are closed as resumable before the listener goes away.
	cancel()
	_ = httpServer.Close()
	wg.Wait()
	return nil
}

// reloadKeys swaps the key table; revoked keys are dropped at the next sweep.
func reloadKeys(path string, keys *auth.Static) {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to reload config, keeping current keys", "err", err)
		return
	}
	keys.Replace(cfg.KeyTable())
	slog.Info("reloaded keys", "keys", len(cfg.Keys))
}
