package monitor

import (
	"fmt"

	"gomonitor/lockword"
	"gomonitor/threadtable"
)

// MonitorInfo is a point-in-time snapshot of a Monitor's externally
// visible state, for diagnostics and tests. It is a copy: mutating it
// has no effect on the Monitor it was taken from.
type MonitorInfo struct {
	Handle      uint32
	OwnerID     uint32
	LockCount   uint32
	WaitSetIDs  []uint32
	LockingFile string
	LockingLine int
}

// Snapshot captures m's current state under its internal mutex.
func (m *Monitor) Snapshot() MonitorInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := MonitorInfo{Handle: m.handle, LockCount: m.lockCount}
	if m.owner != nil {
		info.OwnerID = m.owner.ID
	}
	if m.lockingSite != nil {
		info.LockingFile = m.lockingSite.file
		info.LockingLine = m.lockingSite.line
	}
	for t := m.waitSet; t != nil; t = t.WaitNext {
		info.WaitSetIDs = append(info.WaitSetIDs, t.ID)
	}
	return info
}

// failedUnlock classifies why an unlock attempt by self against a
// perceived owner failed, re-reading the live owner under lock to
// distinguish a stable mismatch from a race that resolved between the
// caller's first read and this check. Mirrors the original runtime's
// four-way FailedUnlock breakdown.
func (m *Monitor) failedUnlock(self *threadtable.Thread, perceivedOwner *threadtable.Thread) error {
	m.mu.Lock()
	currentOwner := m.owner
	m.mu.Unlock()

	hash := m.obj.IdentityHash()
	switch {
	case currentOwner == nil && perceivedOwner == nil:
		return newError(IllegalMonitorState, "unlock of unowned monitor on object 0x%x by thread %d", hash, self.ID)
	case currentOwner == nil && perceivedOwner != nil:
		return newError(IllegalMonitorState,
			"unlock of monitor on object 0x%x believed owned by thread %d, now unowned, by thread %d",
			hash, perceivedOwner.ID, self.ID)
	case currentOwner != nil && perceivedOwner == nil:
		return newError(IllegalMonitorState,
			"unlock of monitor on object 0x%x believed unowned, now owned by thread %d, by thread %d",
			hash, currentOwner.ID, self.ID)
	case currentOwner != perceivedOwner:
		return newError(IllegalMonitorState,
			"unlock of monitor on object 0x%x originally owned by thread %d, now owned by thread %d, by thread %d",
			hash, perceivedOwner.ID, currentOwner.ID, self.ID)
	default:
		return newError(IllegalMonitorState,
			"unlock of monitor on object 0x%x owned by thread %d attempted by thread %d",
			hash, currentOwner.ID, self.ID)
	}
}

// LockOwnerThreadID returns the id of the thread currently holding obj's
// lock (thin or fat), or threadtable.InvalidThreadID if it is unlocked.
func LockOwnerThreadID(obj Object) uint32 {
	w := obj.LockWord()
	switch w.State() {
	case lockword.Unlocked:
		return threadtable.InvalidThreadID
	case lockword.ThinLocked:
		return w.ThinOwner()
	case lockword.FatLocked:
		mon := DefaultRegistry.Resolve(w.FatHandle())
		if mon == nil {
			return threadtable.InvalidThreadID
		}
		if owner := mon.Owner(); owner != nil {
			return owner.ID
		}
		return threadtable.InvalidThreadID
	default:
		return threadtable.InvalidThreadID
	}
}

// ContendedMonitor returns the Monitor or object thread is currently
// blocked trying to enter or parked waiting on, or nil if it isn't
// blocked on anything right now. A thread can have both fields set
// during the narrow window a wait's reacquire races a fresh enter
// attempt, in which case the object it's trying to lock takes priority
// over the monitor it was parked in, mirroring the original's
// GetContendedMonitor (monitor_enter_object_ checked first, wait_monitor_
// as the fallback). Best-effort: the fields it reads are updated
// without synchronization on the read side, matching the original's
// racy-by-design diagnostic access.
func ContendedMonitor(thread *threadtable.Thread) any {
	if obj := thread.MonitorEnterObject(); obj != nil {
		return obj
	}
	return thread.WaitMonitorSnapshot()
}

// DescribeWait renders a short human-readable description of what
// thread is currently doing with respect to monitors, for stack dumps
// and test failure messages. The wording is chosen by the thread's
// current state: Blocked describes what it's trying to lock and who
// holds it, Waiting/TimedWaiting describe what it's parked on, and
// Sleeping is worded as sleeping rather than waiting.
func DescribeWait(thread *threadtable.Thread) string {
	switch thread.State() {
	case threadtable.Blocked:
		obj, ok := thread.MonitorEnterObject().(Object)
		if !ok || obj == nil {
			return "waiting to lock an object"
		}
		return fmt.Sprintf("waiting to lock object with identity hash 0x%x held by thread %d",
			obj.IdentityHash(), LockOwnerThreadID(obj))

	case threadtable.Waiting, threadtable.TimedWaiting:
		if mon, ok := thread.WaitMonitorSnapshot().(*Monitor); ok && mon != nil {
			return fmt.Sprintf("waiting on monitor %d", mon.Handle())
		}
		return "waiting"

	case threadtable.Sleeping:
		if mon, ok := thread.WaitMonitorSnapshot().(*Monitor); ok && mon != nil {
			return fmt.Sprintf("sleeping on monitor %d", mon.Handle())
		}
		return "sleeping"

	default:
		return "runnable"
	}
}

// VisitHeldLocks calls visit once for each monitor in held that thread
// currently owns, in the order given. Unlike the original's
// VisitLocks, which walks a dex-bytecode stack to discover held locks
// from scratch, this takes the candidate set from the caller: Go has no
// managed stack frame format to walk, so recovering "every lock this
// call stack holds" is the caller's responsibility (typically a small,
// explicitly tracked set).
func VisitHeldLocks(thread *threadtable.Thread, held []*Monitor, visit func(*Monitor)) {
	for _, m := range held {
		if m.Owner() == thread {
			visit(m)
		}
	}
}
