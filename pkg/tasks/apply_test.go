package tasks

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
)

func live(ids ...string) Snapshot {
	s := Snapshot{}
	for _, id := range ids {
		s.Live = append(s.Live, LiveTask{ID: id, Value: "task " + id})
	}
	return s
}

func liveIDs(s Snapshot) []string {
	out := make([]string, 0, len(s.Live))
	for _, t := range s.Live {
		out = append(out, t.ID)
	}
	return out
}

func finishedIDs(s Snapshot) []string {
	out := make([]string, 0, len(s.Finished))
	for _, t := range s.Finished {
		out = append(out, t.ID)
	}
	return out
}

func assertSameSnapshot(t *testing.T, got, want Snapshot) {
	t.Helper()
	g, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal got: %v", err)
	}
	w, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal want: %v", err)
	}
	if string(g) != string(w) {
		t.Fatalf("snapshot mismatch\n got: %s\nwant: %s", g, w)
	}
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestApplyMissingIDIsNoop(t *testing.T) {
	base := live("a", "b", "c")
	base.Finished = []FinishedTask{{ID: "f", Value: "done", Status: StatusFailed}}

	cases := []Op{
		EditLiveTask{ID: "zz", Value: "x"},
		DelLiveTask{ID: "zz"},
		FinishLiveTask{ID: "zz", Status: StatusSucceeded},
		FinishLiveTask{ID: "f", Status: StatusSucceeded},
		RestoreFinishedTask{ID: "zz"},
		RestoreFinishedTask{ID: "a"},
		MvLiveTask{IDDel: "zz", IDIns: "a"},
		MvLiveTask{IDDel: "a", IDIns: "zz"},
		MvLiveTask{IDDel: "b", IDIns: "b"},
		RevLiveTask{ID1: "a", ID2: "zz"},
		RevLiveTask{ID1: "zz", ID2: "c"},
	}
	for _, op := range cases {
		t.Run(fmt.Sprintf("%s/%+v", op.Kind(), op), func(t *testing.T) {
			got, changed := ApplyChanged(base, op)
			if changed {
				t.Fatalf("expected no change")
			}
			assertSameSnapshot(t, got, base)
		})
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	base := live("a", "b", "c")
	before, _ := json.Marshal(base)

	Fold(base,
		MvLiveTask{IDDel: "a", IDIns: "c"},
		RevLiveTask{ID1: "a", ID2: "c"},
		EditLiveTask{ID: "b", Value: "changed"},
		FinishLiveTask{ID: "c", Status: StatusSucceeded},
	)
	_ = Apply(base, DelLiveTask{ID: "b"})

	after, _ := json.Marshal(base)
	if string(before) != string(after) {
		t.Fatalf("input mutated\nbefore: %s\n after: %s", before, after)
	}
}

func TestInsertPrepends(t *testing.T) {
	deadline := int64(1700000000)
	s := Apply(Snapshot{}, InsLiveTask{ID: "t1", Value: "buy milk"})
	s = Apply(s, InsLiveTask{ID: "t2", Value: "walk dog", Deadline: &deadline})
	assertIDs(t, liveIDs(s), "t2", "t1")
	if s.Live[0].Deadline == nil || *s.Live[0].Deadline != deadline {
		t.Fatalf("deadline not carried: %+v", s.Live[0])
	}
	if s.Live[0].Managed != nil {
		t.Fatalf("inserted task must not be managed")
	}
}

func TestInsertDuplicateIDIsDropped(t *testing.T) {
	s := live("a", "b")
	s.Finished = []FinishedTask{{ID: "f", Status: StatusSucceeded}}
	for _, id := range []string{"a", "b", "f"} {
		if _, changed := ApplyChanged(s, InsLiveTask{ID: id, Value: "dup"}); changed {
			t.Fatalf("insert of existing id %q should be a no-op", id)
		}
	}
}

func TestEditKeepsPositionAndManaged(t *testing.T) {
	tag := "calendar"
	s := live("a", "b", "c")
	s.Live[1].Managed = &tag
	deadline := int64(42)

	s = Apply(s, EditLiveTask{ID: "b", Value: "edited", Deadline: &deadline})
	assertIDs(t, liveIDs(s), "a", "b", "c")
	got := s.Live[1]
	if got.Value != "edited" || got.Deadline == nil || *got.Deadline != 42 {
		t.Fatalf("unexpected edit result: %+v", got)
	}
	if got.Managed == nil || *got.Managed != "calendar" {
		t.Fatalf("managed tag lost: %+v", got)
	}
}

func TestDelete(t *testing.T) {
	s := Apply(live("a", "b", "c"), DelLiveTask{ID: "b"})
	assertIDs(t, liveIDs(s), "a", "c")
}

func TestFinishRestoreRoundTrip(t *testing.T) {
	tag := "cron"
	deadline := int64(99)
	base := live("a", "b", "c")
	base.Live[0].Managed = &tag
	base.Live[0].Deadline = &deadline
	base.Finished = []FinishedTask{}

	for _, status := range []Status{StatusSucceeded, StatusFailed, StatusObsoleted} {
		finished := Apply(base, FinishLiveTask{ID: "a", Status: status})
		assertIDs(t, liveIDs(finished), "b", "c")
		assertIDs(t, finishedIDs(finished), "a")
		if finished.Finished[0].Status != status {
			t.Fatalf("expected status %s, got %s", status, finished.Finished[0].Status)
		}

		restored := Apply(finished, RestoreFinishedTask{ID: "a"})
		assertSameSnapshot(t, restored, base)
	}
}

func TestFinishPrependsToFinished(t *testing.T) {
	s := Fold(live("a", "b"),
		FinishLiveTask{ID: "a", Status: StatusSucceeded},
		FinishLiveTask{ID: "b", Status: StatusFailed},
	)
	assertIDs(t, finishedIDs(s), "b", "a")
	if len(s.Live) != 0 {
		t.Fatalf("expected empty live list, got %v", liveIDs(s))
	}
}

func TestMoveUsesTargetIndexBeforeRemoval(t *testing.T) {
	cases := []struct {
		name string
		ids  []string
		op   MvLiveTask
		want []string
	}{
		{"first to last", []string{"A", "B", "C"}, MvLiveTask{IDDel: "A", IDIns: "C"}, []string{"B", "C", "A"}},
		{"later to front", []string{"t1", "t2", "t3"}, MvLiveTask{IDDel: "t2", IDIns: "t1"}, []string{"t2", "t1", "t3"}},
		{"adjacent forward", []string{"A", "B", "C"}, MvLiveTask{IDDel: "A", IDIns: "B"}, []string{"B", "A", "C"}},
		{"last to front", []string{"A", "B", "C", "D"}, MvLiveTask{IDDel: "D", IDIns: "A"}, []string{"D", "A", "B", "C"}},
		{"middle forward", []string{"A", "B", "C", "D"}, MvLiveTask{IDDel: "B", IDIns: "D"}, []string{"A", "C", "D", "B"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(live(tc.ids...), tc.op)
			assertIDs(t, liveIDs(got), tc.want...)
		})
	}
}

func TestReverseRange(t *testing.T) {
	s := live("a", "b", "c", "d", "e")
	got := Apply(s, RevLiveTask{ID1: "d", ID2: "b"})
	assertIDs(t, liveIDs(got), "a", "d", "c", "b", "e")

	swapped := Apply(s, RevLiveTask{ID1: "b", ID2: "d"})
	assertSameSnapshot(t, swapped, got)

	single := Apply(s, RevLiveTask{ID1: "c", ID2: "c"})
	assertSameSnapshot(t, single, s)
}

func TestReverseIsInvolution(t *testing.T) {
	s := live("a", "b", "c", "d", "e", "f")
	for _, i := range s.Live {
		for _, j := range s.Live {
			op := RevLiveTask{ID1: i.ID, ID2: j.ID}
			assertSameSnapshot(t, Fold(s, op, op), s)
		}
	}
}

func TestOverwriteReplacesEverything(t *testing.T) {
	replacement := live("x", "y")
	replacement.Finished = []FinishedTask{{ID: "z", Status: StatusObsoleted}}

	got, changed := ApplyChanged(live("a", "b"), OverwriteState{Snapshot: replacement})
	if !changed {
		t.Fatalf("overwrite must always report a change")
	}
	assertSameSnapshot(t, got, replacement)

	got.Live[0].Value = "mutated"
	if replacement.Live[0].Value == "mutated" {
		t.Fatalf("overwrite result aliases its payload")
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := Snapshot{}
	s = Apply(s, InsLiveTask{ID: "t1", Value: "buy milk"})
	assertIDs(t, liveIDs(s), "t1")
	s = Apply(s, InsLiveTask{ID: "t2", Value: "walk dog"})
	assertIDs(t, liveIDs(s), "t2", "t1")
	s = Apply(s, FinishLiveTask{ID: "t1", Status: StatusSucceeded})
	assertIDs(t, liveIDs(s), "t2")
	assertIDs(t, finishedIDs(s), "t1")
	if s.Finished[0].Value != "buy milk" || s.Finished[0].Status != StatusSucceeded {
		t.Fatalf("unexpected finished task: %+v", s.Finished[0])
	}
	s = Apply(s, RestoreFinishedTask{ID: "t1"})
	assertIDs(t, liveIDs(s), "t1", "t2")
	assertIDs(t, finishedIDs(s))
}

func TestRandomOpsKeepPartition(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	statuses := []Status{StatusSucceeded, StatusFailed, StatusObsoleted}
	pick := func(r *rand.Rand) string { return ids[r.Intn(len(ids))] }

	for seed := int64(1); seed <= 50; seed++ {
		r := rand.New(rand.NewSource(seed))
		s := Snapshot{}
		for step := 0; step < 200; step++ {
			var op Op
			switch r.Intn(7) {
			case 0:
				op = InsLiveTask{ID: pick(r), Value: "v"}
			case 1:
				op = EditLiveTask{ID: pick(r), Value: "e"}
			case 2:
				op = DelLiveTask{ID: pick(r)}
			case 3:
				op = FinishLiveTask{ID: pick(r), Status: statuses[r.Intn(len(statuses))]}
			case 4:
				op = RestoreFinishedTask{ID: pick(r)}
			case 5:
				op = MvLiveTask{IDDel: pick(r), IDIns: pick(r)}
			default:
				op = RevLiveTask{ID1: pick(r), ID2: pick(r)}
			}
			next := Apply(s, op)
			if err := next.Validate(); err != nil {
				t.Fatalf("seed %d step %d: %+v broke the snapshot: %v", seed, step, op, err)
			}
			if len(next.Live)+len(next.Finished) > len(ids) {
				t.Fatalf("seed %d step %d: more tasks than ids", seed, step)
			}
			s = next
		}
	}
}
