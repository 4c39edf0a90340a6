package gpu

import "testing"

func newTestRing(n int) *Ring {
	wss := make([]*Workspace, n)
	for i := range wss {
		wss[i] = &Workspace{ID: i}
	}
	return NewRing(wss)
}

func TestAcquireReleaseBasic(t *testing.T) {
	r := newTestRing(3)
	a := r.Acquire()
	b := r.Acquire()
	c := r.Acquire()
	if a == nil || b == nil || c == nil {
		t.Fatalf("expected 3 acquisitions to succeed")
	}
	if d := r.Acquire(); d != nil {
		t.Fatalf("expected ring exhausted, got %v", d)
	}
	r.Release(a.ID)
	if e := r.Acquire(); e == nil {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestRingInvariantFreeUnionInUse(t *testing.T) {
	r := newTestRing(3)
	a := r.Acquire()
	s := r.StatsSnapshot()
	if s.Free+s.Dispatched+s.DrainPending != 3 {
		t.Fatalf("expected free+dispatched+drainpending == capacity, got %+v", s)
	}
	r.Release(a.ID)
	s = r.StatsSnapshot()
	if s.Free != 3 {
		t.Fatalf("expected all free after release, got %+v", s)
	}
}

func TestReleaseHandsToWaiterWithoutGoingFree(t *testing.T) {
	r := newTestRing(1)
	ws := r.Acquire()

	var received *Workspace
	r.QueueWhenAvailable(func(w *Workspace) { received = w })

	r.Release(ws.ID)

	if received == nil {
		t.Fatalf("expected waiter to receive workspace")
	}
	s := r.StatsSnapshot()
	if s.Free != 0 || s.Dispatched != 1 {
		t.Fatalf("expected workspace to go straight to waiter, never observably free: %+v", s)
	}
}

func TestWaitersAreFIFO(t *testing.T) {
	r := newTestRing(1)
	ws := r.Acquire()

	var order []int
	r.QueueWhenAvailable(func(w *Workspace) { order = append(order, 1) })
	r.QueueWhenAvailable(func(w *Workspace) { order = append(order, 2) })

	r.Release(ws.ID)
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("expected first waiter to fire first, got %v", order)
	}
}

func TestReleaseFeedsWaitersThenPumpIsNoOp(t *testing.T) {
	r := newTestRing(2)
	a := r.Acquire()
	b := r.Acquire()

	fired := 0
	r.QueueWhenAvailable(func(w *Workspace) { fired++ })
	r.QueueWhenAvailable(func(w *Workspace) { fired++ })

	r.Release(a.ID)
	r.Release(b.ID)

	if fired != 2 {
		t.Fatalf("expected both waiters to fire via release, got %d", fired)
	}

	r.Pump()
	if fired != 2 {
		t.Fatalf("pump should be a no-op with no free slots and no waiters")
	}
}

func TestMarkDrainPendingDoesNotFreeSlot(t *testing.T) {
	r := newTestRing(1)
	ws := r.Acquire()
	r.MarkDrainPending(ws.ID, 7)
	if d := r.Acquire(); d != nil {
		t.Fatalf("expected drain-pending workspace to remain unavailable")
	}
	r.Release(ws.ID)
	if d := r.Acquire(); d == nil {
		t.Fatalf("expected workspace to become available after release")
	}
}
