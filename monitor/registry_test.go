package monitor

import (
	"testing"
	"time"

	"gomonitor/threadtable"
)

func TestRegistryAddAndResolve(t *testing.T) {
	r := NewRegistry()
	tb := threadtable.NewTable()
	obj := NewLockableObject(1)
	handle := r.Allocate()
	m := newMonitor(handle, obj, tb.Current(), DefaultRuntime, tb)

	r.Add(handle, m)
	if got := r.Resolve(handle); got != m {
		t.Fatalf("Resolve(%d) = %v, want %v", handle, got, m)
	}
}

func TestRegistryResolveMissReturnsNil(t *testing.T) {
	r := NewRegistry()
	if r.Resolve(999) != nil {
		t.Fatalf("Resolve on an unregistered handle returned non-nil")
	}
}

func TestRegistryDisallowNewBlocksAdd(t *testing.T) {
	r := NewRegistry()
	tb := threadtable.NewTable()
	obj := NewLockableObject(2)
	handle := r.Allocate()
	m := newMonitor(handle, obj, tb.Current(), DefaultRuntime, tb)

	r.DisallowNew()

	added := make(chan struct{})
	go func() {
		r.Add(handle, m)
		close(added)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-added:
		t.Fatalf("Add returned while the registry was gated closed")
	default:
	}

	r.AllowNew()

	select {
	case <-added:
	case <-time.After(time.Second):
		t.Fatalf("Add did not proceed after AllowNew")
	}
	if r.Resolve(handle) != m {
		t.Fatalf("monitor not published after AllowNew")
	}
}

func TestRegistrySweepRemovesRejected(t *testing.T) {
	r := NewRegistry()
	tb := threadtable.NewTable()

	keepHandle := r.Allocate()
	dropHandle := r.Allocate()
	r.Add(keepHandle, newMonitor(keepHandle, NewLockableObject(3), tb.Current(), DefaultRuntime, tb))
	r.Add(dropHandle, newMonitor(dropHandle, NewLockableObject(4), tb.Current(), DefaultRuntime, tb))

	r.DisallowNew()
	r.Sweep(func(handle uint32, m *Monitor) Object {
		if handle == keepHandle {
			return m.Object()
		}
		return nil
	})
	r.AllowNew()

	if r.Resolve(keepHandle) == nil {
		t.Fatalf("Sweep removed a monitor its visitor said to keep")
	}
	if r.Resolve(dropHandle) != nil {
		t.Fatalf("Sweep did not remove a monitor its visitor rejected")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestSweepRelocatesObject(t *testing.T) {
	r := NewRegistry()
	tb := threadtable.NewTable()

	handle := r.Allocate()
	r.Add(handle, newMonitor(handle, NewLockableObject(7), tb.Current(), DefaultRuntime, tb))

	moved := NewLockableObject(7)
	r.DisallowNew()
	r.Sweep(func(h uint32, m *Monitor) Object {
		return moved
	})
	r.AllowNew()

	mon := r.Resolve(handle)
	if mon == nil {
		t.Fatalf("Sweep dropped a monitor its visitor relocated")
	}
	if mon.Object() != moved {
		t.Fatalf("Sweep did not install the relocated object")
	}
}

func TestSweepDropsMonitorsWithDeadOwners(t *testing.T) {
	r := NewRegistry()
	tb := threadtable.NewTable()

	liveOwnerHandle := r.Allocate()
	r.Add(liveOwnerHandle, newMonitor(liveOwnerHandle, NewLockableObject(5), tb.Current(), DefaultRuntime, tb))

	goneOwner := &threadtable.Thread{ID: 999999}
	deadOwnerHandle := r.Allocate()
	r.Add(deadOwnerHandle, newMonitor(deadOwnerHandle, NewLockableObject(6), goneOwner, DefaultRuntime, tb))

	r.DisallowNew()
	r.Sweep(func(handle uint32, m *Monitor) Object {
		if m.OwnerAlive() {
			return m.Object()
		}
		return nil
	})
	r.AllowNew()

	if r.Resolve(liveOwnerHandle) == nil {
		t.Fatalf("Sweep dropped a monitor whose owner is still registered")
	}
	if r.Resolve(deadOwnerHandle) != nil {
		t.Fatalf("Sweep kept a monitor whose owner is no longer registered")
	}
}
