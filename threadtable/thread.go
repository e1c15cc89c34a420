// Package threadtable supplies the Thread and thread-registry
// collaborators the monitor package consumes from its surrounding
// runtime. It ships its own reference implementation, keyed on
// goroutine identity, so the monitor package is self-contained and
// testable without a real managed runtime underneath it; an embedding
// runtime is free to substitute its own implementation of the same
// shapes.
//
// Go has no primitive for one goroutine to force-suspend another, so
// SuspendByID/Resume render the suspend-the-holder-to-inflate step
// cooperatively: a suspend request is recorded on the target Thread, and
// is honored the next time that thread crosses a safepoint (CheckSafepoint,
// called from the monitor package's Enter/Exit/Wait paths). If the holder
// doesn't reach a safepoint before the timeout, SuspendByID reports
// timedOut and the caller abandons its inflation attempt.
package threadtable

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// ThreadState mirrors the runnable/suspended states a thread can be
// observed in.
type ThreadState int32

const (
	Runnable ThreadState = iota
	Blocked
	Waiting
	TimedWaiting
	Sleeping
)

func (s ThreadState) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case Blocked:
		return "Blocked"
	case Waiting:
		return "Waiting"
	case TimedWaiting:
		return "TimedWaiting"
	case Sleeping:
		return "Sleeping"
	default:
		return "Unknown"
	}
}

// InvalidThreadID is the reserved "no thread" id: a thread id of zero
// never refers to a real thread.
const InvalidThreadID uint32 = 0

// MaxTimedWait clamps absurdly large wait/sleep requests, standing in
// for the platform's maximum timed-wait duration.
const MaxTimedWait = 24 * time.Hour

type anyBox struct{ v any }

// Thread is the per-thread cooperating state owned by the thread itself
// rather than by any Monitor.
type Thread struct {
	ID uint32

	// WaitNext links this thread into a Monitor's wait set. Mutated
	// only by whichever Monitor currently holds this thread in its
	// set, under that Monitor's own internal mutex.
	WaitNext *Thread

	waitMu      sync.Mutex
	WaitMonitor any
	wakeCh      chan struct{}
	Interrupted atomic.Bool

	monitorEnterObject atomic.Value // anyBox

	stateMu sync.Mutex
	state   ThreadState

	suspendMu        sync.Mutex
	suspendRequested bool
	ackCh            chan struct{}
	resumeCh         chan struct{}
}

func newThread(id uint32) *Thread {
	return &Thread{ID: id, state: Runnable}
}

// State reports the thread's current runnable/suspended state.
func (t *Thread) State() ThreadState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// TransitionTo moves the thread out of Runnable into state s and crosses
// a safepoint immediately (honoring any pending suspend request). The
// returned func must be called (typically deferred) to transition back
// to the state the thread was in before this call; it must run on every
// exit path, including panics, which
// is why callers defer it rather than calling it inline.
func (t *Thread) TransitionTo(s ThreadState) func() {
	t.stateMu.Lock()
	prev := t.state
	t.state = s
	t.stateMu.Unlock()

	t.CheckSafepoint()

	return func() {
		t.stateMu.Lock()
		t.state = prev
		t.stateMu.Unlock()
	}
}

// SetMonitorEnterObject records the object a thread is currently trying
// to enter, for DescribeWait/ContendedMonitor diagnostics. Like the
// original runtime's monitor_enter_object_, this is a best-effort,
// loosely synchronized diagnostic field, not part of any correctness
// argument.
func (t *Thread) SetMonitorEnterObject(obj any) {
	t.monitorEnterObject.Store(anyBox{obj})
}

// MonitorEnterObject returns the object last recorded via
// SetMonitorEnterObject, or nil.
func (t *Thread) MonitorEnterObject() any {
	v := t.monitorEnterObject.Load()
	if v == nil {
		return nil
	}
	return v.(anyBox).v
}

// BeginWaitOn records that the thread is about to park inside
// Monitor.Wait on monitor, and arms a fresh personal wakeup channel.
// Must be called with the Monitor's internal mutex held.
func (t *Thread) BeginWaitOn(monitor any) {
	t.waitMu.Lock()
	t.WaitMonitor = monitor
	t.wakeCh = make(chan struct{}, 1)
	t.waitMu.Unlock()
}

// EndWaitOn clears the thread's wait-monitor link. Called after the
// thread has transitioned back to Runnable: the link is cleared late so
// stack dumps of a waiting thread still see the right monitor up to
// that point.
func (t *Thread) EndWaitOn() {
	t.waitMu.Lock()
	t.WaitMonitor = nil
	t.wakeCh = nil
	t.waitMu.Unlock()
}

// WaitMonitorSnapshot returns the monitor this thread is currently
// parked in, or nil.
func (t *Thread) WaitMonitorSnapshot() any {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	return t.WaitMonitor
}

// SignalIfWaitingOn wakes the thread's personal condition if, and only
// if, it is still parked on monitor. Reports whether the signal was
// delivered.
func (t *Thread) SignalIfWaitingOn(monitor any) bool {
	t.waitMu.Lock()
	if t.WaitMonitor == monitor && t.wakeCh != nil {
		ch := t.wakeCh
		t.waitMu.Unlock()
		select {
		case ch <- struct{}{}:
		default:
		}
		return true
	}
	t.waitMu.Unlock()
	return false
}

// ParkOn blocks the calling thread on its personal wakeup channel:
// untimed if ms == ns == 0, else for up to ms/ns (clamped to
// MaxTimedWait). Returns whether the thread was interrupted, and always
// clears the interrupted flag before returning.
func (t *Thread) ParkOn(ms int64, ns int32) (interrupted bool) {
	t.waitMu.Lock()
	ch := t.wakeCh
	already := t.Interrupted.Load()
	t.waitMu.Unlock()

	if already {
		t.Interrupted.Store(false)
		return true
	}

	if ms == 0 && ns == 0 {
		<-ch
	} else {
		d := time.Duration(ms)*time.Millisecond + time.Duration(ns)*time.Nanosecond
		if d <= 0 || d > MaxTimedWait {
			d = MaxTimedWait
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
		}
	}

	interrupted = t.Interrupted.Load()
	t.Interrupted.Store(false)
	return interrupted
}

// Interrupt sets the thread's interrupted flag and, if it is currently
// parked via ParkOn, wakes it immediately.
func (t *Thread) Interrupt() {
	t.Interrupted.Store(true)
	t.waitMu.Lock()
	ch := t.wakeCh
	t.waitMu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// CheckSafepoint honors a pending suspend request targeting this
// thread, if any: it acknowledges the request and blocks until the
// requester calls Resume. Every blocking or state-transition point this
// package and the monitor package expose calls CheckSafepoint.
func (t *Thread) CheckSafepoint() {
	t.suspendMu.Lock()
	if !t.suspendRequested {
		t.suspendMu.Unlock()
		return
	}
	ack := t.ackCh
	resume := t.resumeCh
	t.suspendMu.Unlock()

	if ack != nil {
		select {
		case ack <- struct{}{}:
		default:
		}
	}
	if resume != nil {
		<-resume
	}
}

func (t *Thread) requestSuspend() (ack <-chan struct{}, resume chan struct{}) {
	t.suspendMu.Lock()
	defer t.suspendMu.Unlock()
	if t.suspendRequested {
		return nil, nil
	}
	t.suspendRequested = true
	a := make(chan struct{}, 1)
	r := make(chan struct{})
	t.ackCh = a
	t.resumeCh = r
	return a, r
}

func (t *Thread) clearSuspendRequest() {
	t.suspendMu.Lock()
	t.suspendRequested = false
	t.ackCh = nil
	t.resumeCh = nil
	t.suspendMu.Unlock()
}

// Table is the thread-registry collaborator: it maps goroutine ids to
// Thread handles and implements the suspend/resume/find contract
// EntryProtocol consumes.
type Table struct {
	mu   sync.Mutex
	byID map[uint32]*Thread
}

// NewTable returns an empty thread table.
func NewTable() *Table {
	return &Table{byID: make(map[uint32]*Thread)}
}

// Current returns the Thread handle for the calling goroutine,
// registering it on first use.
func (tb *Table) Current() *Thread {
	id := callerThreadID()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	th, ok := tb.byID[id]
	if !ok {
		th = newThread(id)
		tb.byID[id] = th
	}
	return th
}

// FindByID looks up a previously registered thread, or returns nil.
func (tb *Table) FindByID(id uint32) *Thread {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.byID[id]
}

func callerThreadID() uint32 {
	id := uint32(goid.Get())
	if id == InvalidThreadID {
		// goid never actually hands out 0 for a live goroutine; guard
		// anyway so InvalidThreadID stays reserved.
		id = 1
	}
	return id
}

// SuspendByID asks the thread identified by id to park at its next
// safepoint, and blocks until it acknowledges or timeout elapses.
// Mirrors ThreadList::SuspendThreadByThreadId's (thread, timed_out)
// return shape.
func (tb *Table) SuspendByID(id uint32, timeout time.Duration) (*Thread, bool) {
	th := tb.FindByID(id)
	if th == nil {
		return nil, true
	}
	ack, resume := th.requestSuspend()
	if ack == nil {
		return nil, true
	}
	select {
	case <-ack:
		_ = resume
		return th, false
	case <-time.After(timeout):
		th.clearSuspendRequest()
		return nil, true
	}
}

// Resume releases a thread previously suspended via SuspendByID.
func (tb *Table) Resume(th *Thread) {
	if th == nil {
		return
	}
	th.suspendMu.Lock()
	r := th.resumeCh
	th.suspendRequested = false
	th.ackCh = nil
	th.resumeCh = nil
	th.suspendMu.Unlock()
	if r != nil {
		close(r)
	}
}
