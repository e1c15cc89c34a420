package monitor

import (
	"runtime"
	"sync"
	"time"

	"gomonitor/threadtable"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// callSite is where a lock was most recently taken, used only for
// contention diagnostics. It stands in for the original runtime's
// dex-bytecode locking_method_/locking_dex_pc_ pair; runtime.Caller is
// the Go-native equivalent of that translation step.
type callSite struct {
	file string
	line int
}

func captureCallSite(skip int) *callSite {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return nil
	}
	return &callSite{file: file, line: line}
}

// Monitor is a fat lock: a heap-resident object combining a mutex, a
// contender condition variable, and a FIFO wait set, installed when a
// thin lock is inflated (on contention, recursion overflow, or a wait)
// and its state migrated here.
// Once installed a Monitor's identity never changes for the object it
// backs; there is no path back to a thin lock.
type Monitor struct {
	handle uint32
	obj    Object
	rt     *Runtime
	table  *threadtable.Table

	mu         sync.Mutex
	contenders sync.Cond

	owner         *threadtable.Thread
	lockCount     uint32
	waitSet       *threadtable.Thread
	lockingSite   *callSite
	lockingThread uint32
}

func newMonitor(handle uint32, obj Object, owner *threadtable.Thread, rt *Runtime, table *threadtable.Table) *Monitor {
	m := &Monitor{handle: handle, obj: obj, rt: rt, table: table, owner: owner}
	m.contenders.L = &m.mu
	return m
}

// Handle returns the registry handle this Monitor is published under.
func (m *Monitor) Handle() uint32 { return m.handle }

// Object returns the managed object this Monitor is currently bound to.
func (m *Monitor) Object() Object {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.obj
}

// SetObject rebinds this Monitor to a new object, for use by a
// relocating collector's sweep: the Monitor's identity (handle, owner,
// wait set) is unaffected, only the back-reference to the object whose
// lock word embeds this Monitor's handle changes.
func (m *Monitor) SetObject(obj Object) {
	m.mu.Lock()
	m.obj = obj
	m.mu.Unlock()
}

func (m *Monitor) appendToWaitSet(t *threadtable.Thread) {
	if t.WaitNext != nil {
		fatalf("thread %d already linked into a wait set", t.ID)
	}
	if m.waitSet == nil {
		m.waitSet = t
		return
	}
	tail := m.waitSet
	for tail.WaitNext != nil {
		tail = tail.WaitNext
	}
	tail.WaitNext = t
}

func (m *Monitor) removeFromWaitSet(t *threadtable.Thread) {
	if m.waitSet == nil {
		return
	}
	if m.waitSet == t {
		m.waitSet = t.WaitNext
		t.WaitNext = nil
		return
	}
	for cur := m.waitSet; cur.WaitNext != nil; cur = cur.WaitNext {
		if cur.WaitNext == t {
			cur.WaitNext = t.WaitNext
			t.WaitNext = nil
			return
		}
	}
}

func (m *Monitor) popWaitHead() *threadtable.Thread {
	if m.waitSet == nil {
		return nil
	}
	t := m.waitSet
	m.waitSet = t.WaitNext
	t.WaitNext = nil
	return t
}

// Lock acquires the monitor on behalf of self, blocking while another
// thread holds it. Reentrant: a thread that already owns the monitor
// just bumps its recursion count.
func (m *Monitor) Lock(self *threadtable.Thread) {
	self.CheckSafepoint()
	m.mu.Lock()
	for {
		if m.owner == nil {
			m.owner = self
			m.lockCount = 0
			m.lockingSite = captureCallSite(2)
			m.lockingThread = self.ID
			m.mu.Unlock()
			return
		}
		if m.owner == self {
			m.lockCount++
			m.mu.Unlock()
			return
		}

		logContention := m.rt.LockProfilingThreshold != 0
		waitStart := nowMillis()
		ownersSite := m.lockingSite
		m.mu.Unlock()

		done := self.TransitionTo(threadtable.Blocked)
		m.mu.Lock()
		if m.owner != nil {
			m.contenders.Wait()
			if logContention {
				waitMs := nowMillis() - waitStart
				logContentionSample(m.rt, waitMs, ownersSite, self.ID)
			}
		}
		m.mu.Unlock()
		done()
		self.CheckSafepoint()
		m.mu.Lock()
	}
}

// Unlock releases one level of self's ownership of the monitor. On the
// final release it wakes one contender. Returns a *Error of kind
// IllegalMonitorState if self does not currently own the monitor.
func (m *Monitor) Unlock(self *threadtable.Thread) error {
	m.mu.Lock()
	owner := m.owner
	if owner != self {
		m.mu.Unlock()
		return m.failedUnlock(self, owner)
	}
	if m.lockCount == 0 {
		m.owner = nil
		m.lockingSite = nil
		m.lockingThread = 0
		m.contenders.Signal()
	} else {
		m.lockCount--
	}
	m.mu.Unlock()
	return nil
}

// Wait implements Object.wait()/Thread.sleep()'s shared parking logic:
// fully release the monitor (including any recursion depth), block for
// notification/timeout/interruption, then reacquire it and restore the
// prior recursion depth. ms/ns follow the same units and range as
// time.Sleep; a zero-length timed wait behaves as an untimed wait.
func (m *Monitor) Wait(self *threadtable.Thread, ms int64, ns int32, interruptShouldThrow bool, why threadtable.ThreadState) error {
	m.mu.Lock()
	if m.owner != self {
		m.mu.Unlock()
		return newError(IllegalMonitorState, "object not locked by thread before wait()")
	}
	if ms < 0 || ns < 0 || ns > 999999 {
		m.mu.Unlock()
		return newError(IllegalArgument, "timeout arguments out of range: ms=%d ns=%d", ms, ns)
	}
	if why == threadtable.TimedWaiting && ms == 0 && ns == 0 {
		why = threadtable.Waiting
	}

	m.appendToWaitSet(self)
	prevLockCount := m.lockCount
	m.lockCount = 0
	m.owner = nil
	savedSite := m.lockingSite
	savedThread := m.lockingThread
	m.lockingSite = nil
	m.lockingThread = 0

	done := self.TransitionTo(why)

	self.BeginWaitOn(m)
	m.contenders.Signal()
	m.mu.Unlock()

	var wasInterrupted bool
	if self.Interrupted.Load() {
		self.Interrupted.Store(false)
		wasInterrupted = true
	} else {
		wasInterrupted = self.ParkOn(ms, ns)
	}
	done()

	self.EndWaitOn()

	m.Lock(self)
	m.mu.Lock()
	m.owner = self
	m.lockCount = prevLockCount
	m.lockingSite = savedSite
	m.lockingThread = savedThread
	m.removeFromWaitSet(self)
	m.mu.Unlock()

	if wasInterrupted && interruptShouldThrow {
		return newError(Interrupted, "wait interrupted")
	}
	return nil
}

// Notify wakes the longest-waiting thread still parked on this monitor,
// if any. Threads whose wait already ended (they're mid-reacquire, not
// yet removed from the set) are skipped without waking a second thread,
// matching the original semantics of "each notify wakes at most one
// thread that is genuinely still waiting."
func (m *Monitor) Notify(self *threadtable.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != self {
		return newError(IllegalMonitorState, "object not locked by thread before notify()")
	}
	for {
		t := m.popWaitHead()
		if t == nil {
			return nil
		}
		if t.SignalIfWaitingOn(m) {
			return nil
		}
	}
}

// NotifyAll wakes every thread parked on this monitor.
func (m *Monitor) NotifyAll(self *threadtable.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != self {
		return newError(IllegalMonitorState, "object not locked by thread before notifyAll()")
	}
	for {
		t := m.popWaitHead()
		if t == nil {
			return nil
		}
		t.SignalIfWaitingOn(m)
	}
}

// Owner returns the thread currently holding the monitor, or nil.
func (m *Monitor) Owner() *threadtable.Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// LockCount returns the current recursion depth beyond the first
// acquisition (zero means "held exactly once").
func (m *Monitor) LockCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCount
}

// OwnerAlive reports whether the thread that currently owns this monitor
// is still registered in its thread table. A held-but-ownerless-in-the-
// table monitor means the owning goroutine exited without ever calling
// Exit; Registry.Sweep's keep predicate can use this to drop such
// monitors instead of pinning a handle forever.
func (m *Monitor) OwnerAlive() bool {
	m.mu.Lock()
	owner := m.owner
	m.mu.Unlock()
	if owner == nil {
		return true
	}
	return m.table.FindByID(owner.ID) != nil
}
