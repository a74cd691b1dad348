package tasks

// Apply folds one operation into s and returns the resulting snapshot. It
// never mutates s. Operations naming an id that cannot be resolved leave the
// snapshot unchanged.
func Apply(s Snapshot, op Op) Snapshot {
	out, _ := ApplyChanged(s, op)
	return out
}

// ApplyChanged is Apply that also reports whether op resolved against s. When
// changed is false the returned snapshot is s itself.
func ApplyChanged(s Snapshot, op Op) (Snapshot, bool) {
	switch op := op.(type) {
	case InsLiveTask:
		// An id already present anywhere would break the live/finished
		// partition, so a colliding insert is dropped.
		if s.Contains(op.ID) {
			return s, false
		}
		out := s.Clone()
		task := LiveTask{ID: op.ID, Value: op.Value, Deadline: cloneInt(op.Deadline)}
		out.Live = append([]LiveTask{task}, out.Live...)
		return out, true

	case EditLiveTask:
		i := s.liveIndex(op.ID)
		if i < 0 {
			return s, false
		}
		out := s.Clone()
		out.Live[i].Value = op.Value
		out.Live[i].Deadline = cloneInt(op.Deadline)
		return out, true

	case DelLiveTask:
		i := s.liveIndex(op.ID)
		if i < 0 {
			return s, false
		}
		out := s.Clone()
		out.Live = append(out.Live[:i], out.Live[i+1:]...)
		return out, true

	case FinishLiveTask:
		i := s.liveIndex(op.ID)
		if i < 0 {
			return s, false
		}
		out := s.Clone()
		finished := out.Live[i].Finish(op.Status)
		out.Live = append(out.Live[:i], out.Live[i+1:]...)
		out.Finished = append([]FinishedTask{finished}, out.Finished...)
		return out, true

	case RestoreFinishedTask:
		i := s.finishedIndex(op.ID)
		if i < 0 {
			return s, false
		}
		out := s.Clone()
		live := out.Finished[i].Restore()
		out.Finished = append(out.Finished[:i], out.Finished[i+1:]...)
		out.Live = append([]LiveTask{live}, out.Live...)
		return out, true

	case MvLiveTask:
		del, ins := s.liveIndex(op.IDDel), s.liveIndex(op.IDIns)
		if del < 0 || ins < 0 || del == ins {
			return s, false
		}
		out := s.Clone()
		// ins was resolved before the removal and is used as-is afterwards.
		moved := out.Live[del]
		out.Live = append(out.Live[:del], out.Live[del+1:]...)
		out.Live = append(out.Live[:ins], append([]LiveTask{moved}, out.Live[ins:]...)...)
		return out, true

	case RevLiveTask:
		a, b := s.liveIndex(op.ID1), s.liveIndex(op.ID2)
		if a < 0 || b < 0 {
			return s, false
		}
		if a > b {
			a, b = b, a
		}
		out := s.Clone()
		for lo, hi := a, b; lo < hi; lo, hi = lo+1, hi-1 {
			out.Live[lo], out.Live[hi] = out.Live[hi], out.Live[lo]
		}
		return out, true

	case OverwriteState:
		return op.Snapshot.Clone(), true
	}
	return s, false
}

// Fold applies ops in order starting from s.
func Fold(s Snapshot, ops ...Op) Snapshot {
	for _, op := range ops {
		s = Apply(s, op)
	}
	return s
}
