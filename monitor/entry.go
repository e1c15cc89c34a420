package monitor

import (
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"gomonitor/lockword"
	"gomonitor/threadtable"
)

// EntryProtocol binds together the pieces the thin/fat entry algorithm
// needs: a Registry to publish inflated monitors into, a Runtime for
// its tunables, and a Table to resolve/suspend/resume threads through.
// The package-level Enter/Exit/WaitOn/Notify/NotifyAll helpers use a
// default EntryProtocol wired to DefaultRegistry/DefaultRuntime/
// DefaultThreads; construct your own to run an isolated instance (as
// tests do, to avoid cross-test handle collisions).
type EntryProtocol struct {
	Registry *Registry
	Runtime  *Runtime
	Threads  *threadtable.Table

	inflateGroup singleflight.Group
}

// NewEntryProtocol returns an EntryProtocol wired to fresh, independent
// state.
func NewEntryProtocol() *EntryProtocol {
	return &EntryProtocol{
		Registry: NewRegistry(),
		Runtime:  DefaultRuntime,
		Threads:  threadtable.NewTable(),
	}
}

var defaultProtocol = &EntryProtocol{
	Registry: DefaultRegistry,
	Runtime:  DefaultRuntime,
	Threads:  DefaultThreads,
}

// Enter acquires obj's lock for the calling goroutine, taking the fast
// thin-lock path when possible and inflating to a Monitor on recursion
// overflow or sustained contention.
func Enter(obj Object) error { return defaultProtocol.Enter(obj) }

// Exit releases one level of the calling goroutine's ownership of obj's
// lock.
func Exit(obj Object) error { return defaultProtocol.Exit(obj) }

func jitteredBackoff(attempt int) time.Duration {
	const base = 50 * time.Microsecond
	const backoffCap = 2 * time.Millisecond
	d := base << uint(attempt)
	if d <= 0 || d > backoffCap {
		d = backoffCap
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Enter loads the lock word and dispatches on its state, looping until
// the object is acquired.
func (p *EntryProtocol) Enter(obj Object) error {
	self := p.Threads.Current()
	contentionCount := 0
	backoffAttempt := 0

	for {
		self.CheckSafepoint()
		w := obj.LockWord()
		switch w.State() {
		case lockword.Unlocked:
			thin := lockword.NewThinLocked(self.ID, 0)
			if obj.CASLockWord(w, thin) {
				return nil
			}
			continue

		case lockword.ThinLocked:
			ownerID := w.ThinOwner()
			if ownerID == self.ID {
				newCount := w.ThinCount() + 1
				if newCount <= lockword.ThinLockMaxCount {
					obj.SetLockWord(lockword.NewThinLocked(self.ID, newCount))
					return nil
				}
				if err := p.inflate(self, obj, self); err != nil {
					return err
				}
				continue
			}

			contentionCount++
			if contentionCount <= p.Runtime.MaxSpinsBeforeInflation {
				time.Sleep(time.Microsecond)
				continue
			}
			contentionCount = 0
			self.SetMonitorEnterObject(obj)
			p.suspendAndInflate(self, obj, w, ownerID, backoffAttempt)
			backoffAttempt++
			self.SetMonitorEnterObject(nil)
			continue

		case lockword.FatLocked:
			mon := p.Registry.Resolve(w.FatHandle())
			if mon == nil {
				// Lost race with a sweep; the lock word is stale, retry.
				continue
			}
			self.SetMonitorEnterObject(obj)
			mon.Lock(self)
			self.SetMonitorEnterObject(nil)
			return nil

		default:
			fatalf("unreachable lock word state %v", w.State())
			return nil
		}
	}
}

// suspendAndInflate implements the contended path's suspend-then-inflate
// step: suspend the perceived owner, re-check the lock word hasn't
// changed underneath, inflate if it hasn't, then resume the owner
// unconditionally. Waits jitteredBackoff(attempt) before returning if
// the suspend attempt failed or the lock word had already moved on, so
// a tight ring of contenders doesn't spin the OS scheduler raw.
func (p *EntryProtocol) suspendAndInflate(self *threadtable.Thread, obj Object, observed lockword.Word, ownerID uint32, attempt int) {
	done := self.TransitionTo(threadtable.Blocked)
	defer done()

	if obj.LockWord() != observed {
		time.Sleep(jitteredBackoff(attempt))
		return
	}

	owner, timedOut := p.Threads.SuspendByID(ownerID, 50*time.Millisecond)
	if timedOut || owner == nil {
		time.Sleep(jitteredBackoff(attempt))
		return
	}
	defer p.Threads.Resume(owner)

	w := obj.LockWord()
	if w.State() == lockword.ThinLocked && w.ThinOwner() == ownerID {
		_ = p.inflate(self, obj, owner)
	}
}

// inflate performs the allocate/install/publish sequence, collapsing
// concurrent attempts on the same object through
// singleflight so a contention storm allocates at most one Monitor per
// round instead of one per contender. Keyed on the object's pointer
// identity rather than its identity hash: two distinct objects can
// legally share an identity hash, and collapsing their inflations
// together would silently skip inflating one of them.
func (p *EntryProtocol) inflate(self *threadtable.Thread, obj Object, owner *threadtable.Thread) error {
	key := fmt.Sprintf("%p", obj)
	_, err, _ := p.inflateGroup.Do(key, func() (any, error) {
		w := obj.LockWord()
		if w.State() != lockword.ThinLocked {
			// Someone else already inflated it.
			return nil, nil
		}
		handle := p.Registry.Allocate()
		mon := newMonitor(handle, obj, owner, p.Runtime, p.Threads)
		mon.lockCount = w.ThinCount()

		fat := lockword.NewFatLocked(handle)
		if !obj.CASLockWord(w, fat) {
			return nil, nil
		}
		p.Registry.Add(handle, mon)
		logInflation(handle, owner.ID)
		return mon, nil
	})
	return err
}

// Exit releases one level of self's ownership of obj's lock.
func (p *EntryProtocol) Exit(obj Object) error {
	self := p.Threads.Current()
	self.CheckSafepoint()

	w := obj.LockWord()
	switch w.State() {
	case lockword.Unlocked:
		return newError(IllegalMonitorState, "unlock of unowned monitor by thread %d", self.ID)

	case lockword.ThinLocked:
		ownerID := w.ThinOwner()
		if ownerID != self.ID {
			owner := p.Threads.FindByID(ownerID)
			return p.thinFailedUnlock(self, owner)
		}
		if w.ThinCount() != 0 {
			obj.SetLockWord(lockword.NewThinLocked(self.ID, w.ThinCount()-1))
		} else {
			obj.SetLockWord(lockword.NewUnlocked())
		}
		return nil

	case lockword.FatLocked:
		mon := p.Registry.Resolve(w.FatHandle())
		if mon == nil {
			return newError(IllegalMonitorState, "unlock of monitor with stale handle by thread %d", self.ID)
		}
		return mon.Unlock(self)

	default:
		fatalf("unreachable lock word state %v", w.State())
		return nil
	}
}

func (p *EntryProtocol) thinFailedUnlock(self, perceivedOwner *threadtable.Thread) error {
	if perceivedOwner == nil {
		return newError(IllegalMonitorState, "unlock of monitor owned by unknown thread by thread %d", self.ID)
	}
	return newError(IllegalMonitorState,
		"unlock of monitor owned by thread %d attempted by thread %d", perceivedOwner.ID, self.ID)
}
