package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/astromechza/todosync/pkg/session"
	"github.com/astromechza/todosync/pkg/tasks"
)

func newOpenSession(t *testing.T, principal string, queue int) *session.Session {
	t.Helper()
	s := session.New(principal, "key", queue, time.Now())
	if !s.Open() {
		t.Fatalf("open session")
	}
	return s
}

func recv(t *testing.T, s *session.Session) tasks.Envelope {
	t.Helper()
	select {
	case env := <-s.Outbound():
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for envelope on %s", s.ID)
	}
	return tasks.Envelope{}
}

func assertEmpty(t *testing.T, s *session.Session) {
	t.Helper()
	select {
	case env := <-s.Outbound():
		t.Fatalf("unexpected envelope %+v", env)
	default:
	}
}

func TestAttachSendsOverwriteFirst(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{Live: []tasks.LiveTask{{ID: "a", Value: "seed"}}})
	c.Submit("", tasks.Envelope{Op: tasks.InsLiveTask{ID: "b", Value: "second"}})

	s := newOpenSession(t, "alice", 8)
	if !c.Attach(s) {
		t.Fatalf("attach failed")
	}
	env := recv(t, s)
	ow, ok := env.Op.(tasks.OverwriteState)
	if !ok {
		t.Fatalf("expected OverwriteState first, got %T", env.Op)
	}
	if len(ow.Snapshot.Live) != 2 || ow.Snapshot.Live[0].ID != "b" {
		t.Fatalf("overwrite does not carry current state: %+v", ow.Snapshot)
	}
	assertEmpty(t, s)
}

func TestSubmitFansOutToAllSessionsIncludingOriginator(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{})
	a := newOpenSession(t, "alice", 8)
	b := newOpenSession(t, "alice", 8)
	c.Attach(a)
	c.Attach(b)
	recv(t, a)
	recv(t, b)

	env := tasks.Envelope{AllegedTime: 123, Op: tasks.InsLiveTask{ID: "t1", Value: "buy milk"}}
	if !c.Submit(a.ID, env) {
		t.Fatalf("expected change")
	}
	for _, s := range []*session.Session{a, b} {
		got := recv(t, s)
		if got.AllegedTime != 123 || got.Op != env.Op {
			t.Fatalf("session %s got %+v", s.ID, got)
		}
	}
	if c.Version() != 1 {
		t.Fatalf("expected version 1, got %d", c.Version())
	}
}

func TestNoopIsNotBroadcast(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{})
	s := newOpenSession(t, "alice", 8)
	c.Attach(s)
	recv(t, s)

	if c.Submit(s.ID, tasks.Envelope{Op: tasks.DelLiveTask{ID: "missing"}}) {
		t.Fatalf("delete of a missing id must not change the snapshot")
	}
	assertEmpty(t, s)
	if c.Version() != 0 {
		t.Fatalf("version must not advance on a no-op")
	}
}

func TestDeliveryOrderMatchesApplyOrder(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{})
	const writers, perWriter = 4, 50
	observers := make([]*session.Session, 3)
	for i := range observers {
		observers[i] = newOpenSession(t, "alice", writers*perWriter+1)
		c.Attach(observers[i])
		recv(t, observers[i])
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c.Submit(fmt.Sprintf("writer-%d", w), tasks.Envelope{Op: tasks.InsLiveTask{ID: fmt.Sprintf("w%d-%d", w, i), Value: "v"}})
			}
		}(w)
	}
	wg.Wait()

	var reference []string
	for i := 0; i < writers*perWriter; i++ {
		reference = append(reference, recv(t, observers[0]).Op.(tasks.InsLiveTask).ID)
	}
	for _, s := range observers[1:] {
		for i, want := range reference {
			if got := recv(t, s).Op.(tasks.InsLiveTask).ID; got != want {
				t.Fatalf("session %s position %d: expected %s, got %s", s.ID, i, want, got)
			}
		}
	}

	// Inserts prepend, so the canonical list is the delivery order reversed.
	snap := c.Snapshot()
	if len(snap.Live) != len(reference) {
		t.Fatalf("expected %d live tasks, got %d", len(reference), len(snap.Live))
	}
	for i := range snap.Live {
		if snap.Live[i].ID != reference[len(reference)-1-i] {
			t.Fatalf("snapshot order diverges from delivery order at %d", i)
		}
	}
}

func TestOverflowingSessionIsDetached(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{})
	slow := newOpenSession(t, "alice", 1)
	fast := newOpenSession(t, "alice", 16)
	c.Attach(slow)
	c.Attach(fast)

	c.Submit("", tasks.Envelope{Op: tasks.InsLiveTask{ID: "a", Value: "v"}})
	if slow.Reason() != session.ReasonError {
		t.Fatalf("slow session should be closed with error, got %s", slow.Reason())
	}
	if c.Sessions() != 1 {
		t.Fatalf("expected one attached session, got %d", c.Sessions())
	}
	recv(t, fast)
	if got := recv(t, fast).Op.(tasks.InsLiveTask).ID; got != "a" {
		t.Fatalf("fast session missed the op: %s", got)
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	c := NewCoordinator("alice", tasks.Snapshot{})
	s := newOpenSession(t, "alice", 8)
	c.Attach(s)
	recv(t, s)
	c.Detach(s.ID)
	c.Submit("", tasks.Envelope{Op: tasks.InsLiveTask{ID: "a", Value: "v"}})
	assertEmpty(t, s)
}

type fakeLoader struct {
	snaps map[string]tasks.Snapshot
	err   error
	calls int
}

func (f *fakeLoader) Load(_ context.Context, principal string) (tasks.Snapshot, bool, error) {
	f.calls++
	if f.err != nil {
		return tasks.Snapshot{}, false, f.err
	}
	s, ok := f.snaps[principal]
	return s, ok, nil
}

func TestHubSeedsCoordinatorsOnce(t *testing.T) {
	loader := &fakeLoader{snaps: map[string]tasks.Snapshot{
		"alice": {Live: []tasks.LiveTask{{ID: "a", Value: "restored"}}},
	}}
	h := NewHub(loader)
	ctx := context.Background()

	alice, err := h.Coordinator(ctx, "alice")
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if snap := alice.Snapshot(); len(snap.Live) != 1 || snap.Live[0].Value != "restored" {
		t.Fatalf("expected seeded snapshot, got %+v", snap)
	}
	again, _ := h.Coordinator(ctx, "alice")
	if again != alice || loader.calls != 1 {
		t.Fatalf("expected cached coordinator, calls=%d", loader.calls)
	}
	bob, err := h.Coordinator(ctx, "bob")
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if snap := bob.Snapshot(); len(snap.Live) != 0 {
		t.Fatalf("expected empty snapshot for bob")
	}

	var seen []string
	h.Range(func(p string, _ *Coordinator) bool {
		seen = append(seen, p)
		return true
	})
	if fmt.Sprint(seen) != "[alice bob]" {
		t.Fatalf("unexpected range order %v", seen)
	}
}

func TestHubLoaderError(t *testing.T) {
	h := NewHub(&fakeLoader{err: errors.New("disk on fire")})
	if _, err := h.Coordinator(context.Background(), "alice"); err == nil {
		t.Fatalf("expected loader error")
	}
}
