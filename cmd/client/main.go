package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/todosync/pkg/client"
	"github.com/astromechza/todosync/pkg/config"
	"github.com/astromechza/todosync/pkg/tasks"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	var cachePath string
	rootCmd := &cobra.Command{
		Use:           "todosync",
		Short:         "Shared task list client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", config.DefaultCachePath(), "path to the connection cache")

	rootCmd.AddCommand(loginCmd(&cachePath))
	rootCmd.AddCommand(lsCmd(&cachePath))
	rootCmd.AddCommand(watchCmd(&cachePath))
	rootCmd.AddCommand(opCommands(&cachePath)...)

	return rootCmd.ExecuteContext(context.Background())
}

func loginCmd(cachePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login <server-url> <api-key>",
		Short: "Check an api key against the server and remember it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(client.Options{BaseURL: args[0], APIKey: args[1]})
			if err != nil {
				return err
			}
			if _, _, err := c.Fetch(cmd.Context()); err != nil {
				return err
			}
			cache, err := client.LoadCache(*cachePath)
			if err != nil {
				return err
			}
			cache.ServerAPIURL, cache.APIKey = args[0], args[1]
			if err := cache.Save(*cachePath); err != nil {
				return err
			}
			slog.Info("logged in", "server", args[0], "cache", *cachePath)
			return nil
		},
	}
}

func lsCmd(cachePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Print the task list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(*cachePath)
			if err != nil {
				return err
			}
			snap, _, err := c.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func watchCmd(cachePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the task list live until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(*cachePath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			err = c.Run(ctx, func(s tasks.Snapshot) {
				fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.TimeOnly))
				printSnapshot(out, s)
			})
			if errors.Is(err, client.ErrUnauthorized) {
				return fmt.Errorf("%w: run login again", err)
			}
			return err
		},
	}
}

func connect(cachePath string) (*client.Client, error) {
	cache, err := client.LoadCache(cachePath)
	if err != nil {
		return nil, err
	}
	if cache.APIKey == "" || cache.ServerAPIURL == "" {
		return nil, errors.New("not logged in: run login first")
	}
	return client.New(client.Options{BaseURL: cache.ServerAPIURL, APIKey: cache.APIKey})
}

// submit resolves an index based intent against a fresh snapshot and sends
// the resulting operation.
func submit(ctx context.Context, cachePath string, out io.Writer, resolve func(tasks.Snapshot) (tasks.Op, error)) error {
	c, err := connect(cachePath)
	if err != nil {
		return err
	}
	snap, _, err := c.Fetch(ctx)
	if err != nil {
		return err
	}
	op, err := resolve(snap)
	if err != nil {
		return err
	}
	changed, err := c.Submit(ctx, op)
	if err != nil {
		return err
	}
	if !changed {
		slog.Warn("operation had no effect", "kind", op.Kind())
	}
	printSnapshot(out, tasks.Apply(snap, op))
	return nil
}

func printSnapshot(w io.Writer, s tasks.Snapshot) {
	if len(s.Live) == 0 {
		fmt.Fprintln(w, "nothing to do")
	}
	for i, t := range s.Live {
		line := fmt.Sprintf("%3d  %s", i, t.Value)
		if t.Deadline != nil {
			line += "  (due " + time.Unix(*t.Deadline, 0).Format(time.DateTime) + ")"
		}
		fmt.Fprintln(w, line)
	}
	if len(s.Finished) > 0 {
		fmt.Fprintln(w, strings.Repeat("-", 20))
	}
	for _, t := range s.Finished {
		fmt.Fprintf(w, "  %-10s %s\n", t.Status, t.Value)
	}
}
