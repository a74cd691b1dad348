package tasks

import (
	"fmt"
)

// Status is the terminal classification of a finished task.
type Status string

const (
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
	StatusObsoleted Status = "Obsoleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusObsoleted:
		return true
	}
	return false
}

// LiveTask is an open item. Deadline is a unix timestamp in seconds.
type LiveTask struct {
	ID       string  `json:"id"`
	Value    string  `json:"value"`
	Deadline *int64  `json:"deadline"`
	Managed  *string `json:"managed"`
}

type FinishedTask struct {
	ID       string  `json:"id"`
	Value    string  `json:"value"`
	Deadline *int64  `json:"deadline"`
	Managed  *string `json:"managed"`
	Status   Status  `json:"status"`
}

func (t LiveTask) Finish(status Status) FinishedTask {
	return FinishedTask{ID: t.ID, Value: t.Value, Deadline: t.Deadline, Managed: t.Managed, Status: status}
}

func (t FinishedTask) Restore() LiveTask {
	return LiveTask{ID: t.ID, Value: t.Value, Deadline: t.Deadline, Managed: t.Managed}
}

// Snapshot is the full ordered state of one task list. Live order is priority
// order, finished order is most-recently-finished first.
type Snapshot struct {
	Live     []LiveTask     `json:"live"`
	Finished []FinishedTask `json:"finished"`
}

// Clone returns a deep copy that shares no slices or pointers with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Live:     make([]LiveTask, len(s.Live)),
		Finished: make([]FinishedTask, len(s.Finished)),
	}
	for i, t := range s.Live {
		t.Deadline = cloneInt(t.Deadline)
		t.Managed = cloneString(t.Managed)
		out.Live[i] = t
	}
	for i, t := range s.Finished {
		t.Deadline = cloneInt(t.Deadline)
		t.Managed = cloneString(t.Managed)
		out.Finished[i] = t
	}
	return out
}

// Validate reports the first id that appears more than once across live and
// finished, or a finished task without a known status.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Live)+len(s.Finished))
	for _, t := range s.Live {
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	for _, t := range s.Finished {
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("task %q has unknown status %q", t.ID, t.Status)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Contains reports whether id is present in either list.
func (s Snapshot) Contains(id string) bool {
	return s.liveIndex(id) >= 0 || s.finishedIndex(id) >= 0
}

func (s Snapshot) liveIndex(id string) int {
	for i, t := range s.Live {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s Snapshot) finishedIndex(id string) int {
	for i, t := range s.Finished {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
