package client

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/astromechza/todosync/pkg/tasks"
)

var ErrOutOfRange = errors.New("index out of range")

// The helpers below turn position-based user intents into id-based
// operations against the mirror the user was looking at.

func liveAt(s tasks.Snapshot, i int) (tasks.LiveTask, error) {
	if i < 0 || i >= len(s.Live) {
		return tasks.LiveTask{}, fmt.Errorf("live task %d: %w", i, ErrOutOfRange)
	}
	return s.Live[i], nil
}

// Add creates a new task at the top of the live list with a fresh id.
func Add(value string, deadline *int64) tasks.Op {
	return tasks.InsLiveTask{ID: uuid.NewString(), Value: value, Deadline: deadline}
}

func Edit(s tasks.Snapshot, i int, value string, deadline *int64) (tasks.Op, error) {
	t, err := liveAt(s, i)
	if err != nil {
		return nil, err
	}
	return tasks.EditLiveTask{ID: t.ID, Value: value, Deadline: deadline}, nil
}

func Delete(s tasks.Snapshot, i int) (tasks.Op, error) {
	t, err := liveAt(s, i)
	if err != nil {
		return nil, err
	}
	return tasks.DelLiveTask{ID: t.ID}, nil
}

// Finish moves the live task at i to the finished list with status.
func Finish(s tasks.Snapshot, i int, status tasks.Status) (tasks.Op, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	t, err := liveAt(s, i)
	if err != nil {
		return nil, err
	}
	return tasks.FinishLiveTask{ID: t.ID, Status: status}, nil
}

// Restore brings the most recently finished task back to the top.
func Restore(s tasks.Snapshot) (tasks.Op, error) {
	if len(s.Finished) == 0 {
		return nil, fmt.Errorf("no finished task: %w", ErrOutOfRange)
	}
	return tasks.RestoreFinishedTask{ID: s.Finished[0].ID}, nil
}

// Move places the live task at from so that it ends up at position to.
func Move(s tasks.Snapshot, from, to int) (tasks.Op, error) {
	del, err := liveAt(s, from)
	if err != nil {
		return nil, err
	}
	ins, err := liveAt(s, to)
	if err != nil {
		return nil, err
	}
	return tasks.MvLiveTask{IDDel: del.ID, IDIns: ins.ID}, nil
}

// Reverse flips the live tasks between positions i and j inclusive.
func Reverse(s tasks.Snapshot, i, j int) (tasks.Op, error) {
	a, err := liveAt(s, i)
	if err != nil {
		return nil, err
	}
	b, err := liveAt(s, j)
	if err != nil {
		return nil, err
	}
	return tasks.RevLiveTask{ID1: a.ID, ID2: b.ID}, nil
}
