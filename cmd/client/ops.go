package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/astromechza/todosync/pkg/client"
	"github.com/astromechza/todosync/pkg/tasks"
)

func opCommands(cachePath *string) []*cobra.Command {
	return []*cobra.Command{
		addCmd(cachePath),
		editCmd(cachePath),
		indexCmd(cachePath, "rm <i>", "Delete the live task at position i", cobra.ExactArgs(1), client.Delete),
		finishCmd(cachePath, "done", "Mark the live task at position i (default 0) as succeeded", tasks.StatusSucceeded),
		finishCmd(cachePath, "fail", "Mark the live task at position i (default 0) as failed", tasks.StatusFailed),
		finishCmd(cachePath, "obsolete", "Mark the live task at position i (default 0) as obsolete", tasks.StatusObsoleted),
		{
			Use:   "restore",
			Short: "Bring the most recently finished task back to the top",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), client.Restore)
			},
		},
		{
			Use:   "mv [i [j]]",
			Short: "Move the live task at i to position j (default: 0 to 1, or i to 0)",
			Args:  cobra.MaximumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, to := 0, 1
				if len(args) > 0 {
					i, err := parseIndex(args[0])
					if err != nil {
						return err
					}
					from, to = i, 0
				}
				if len(args) > 1 {
					j, err := parseIndex(args[1])
					if err != nil {
						return err
					}
					to = j
				}
				return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(s tasks.Snapshot) (tasks.Op, error) {
					return client.Move(s, from, to)
				})
			},
		},
		{
			Use:   "rev <i> <j>",
			Short: "Reverse the live tasks between positions i and j",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				j, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(s tasks.Snapshot) (tasks.Op, error) {
					return client.Reverse(s, i, j)
				})
			},
		},
	}
}

func addCmd(cachePath *string) *cobra.Command {
	var due time.Duration
	cmd := &cobra.Command{
		Use:   "add <value...>",
		Short: "Add a task at the top of the list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := client.Add(strings.Join(args, " "), deadline(due))
			return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(tasks.Snapshot) (tasks.Op, error) {
				return op, nil
			})
		},
	}
	cmd.Flags().DurationVar(&due, "due", 0, "deadline relative to now")
	return cmd
}

func editCmd(cachePath *string) *cobra.Command {
	var due time.Duration
	cmd := &cobra.Command{
		Use:   "edit <i> <value...>",
		Short: "Replace the value of the live task at position i",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			value := strings.Join(args[1:], " ")
			return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(s tasks.Snapshot) (tasks.Op, error) {
				return client.Edit(s, i, value, deadline(due))
			})
		},
	}
	cmd.Flags().DurationVar(&due, "due", 0, "deadline relative to now")
	return cmd
}

func finishCmd(cachePath *string, use, short string, status tasks.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [i]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i := 0
			if len(args) == 1 {
				var err error
				if i, err = parseIndex(args[0]); err != nil {
					return err
				}
			}
			return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(s tasks.Snapshot) (tasks.Op, error) {
				return client.Finish(s, i, status)
			})
		},
	}
}

func indexCmd(cachePath *string, use, short string, posArgs cobra.PositionalArgs, resolve func(tasks.Snapshot, int) (tasks.Op, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  posArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return submit(cmd.Context(), *cachePath, cmd.OutOrStdout(), func(s tasks.Snapshot) (tasks.Op, error) {
				return resolve(s, i)
			})
		},
	}
}

func parseIndex(raw string) (int, error) {
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid position %q", raw)
	}
	return i, nil
}

func deadline(due time.Duration) *int64 {
	if due <= 0 {
		return nil
	}
	sec := time.Now().Add(due).Unix()
	return &sec
}
