package monitor

import (
	"gomonitor/lockword"
	"gomonitor/threadtable"
)

// WaitOn parks the calling goroutine on obj until notified, interrupted,
// or ms/ns elapses (an untimed wait when both are zero). Inflates a
// thin lock into a Monitor first, since only a Monitor has a wait set to
// park in — a thread cannot wait on a thin lock. reason records why the
// thread is parking (Waiting, TimedWaiting, or Sleeping) and is what a
// diagnostic dump of the thread will report; a TimedWaiting reason with
// ms==ns==0 is coerced to Waiting, since a zero-length timed wait has no
// observable timeout.
func WaitOn(obj Object, ms int64, ns int32, interruptShouldThrow bool, reason threadtable.ThreadState) error {
	return defaultProtocol.WaitOn(obj, ms, ns, interruptShouldThrow, reason)
}

// Notify wakes one thread parked on obj, if any.
func Notify(obj Object) error { return defaultProtocol.Notify(obj) }

// NotifyAll wakes every thread parked on obj.
func NotifyAll(obj Object) error { return defaultProtocol.NotifyAll(obj) }

func (p *EntryProtocol) WaitOn(obj Object, ms int64, ns int32, interruptShouldThrow bool, reason threadtable.ThreadState) error {
	self := p.Threads.Current()

	w := obj.LockWord()
	switch w.State() {
	case lockword.Unlocked:
		return newError(IllegalMonitorState, "object not locked by thread before wait()")

	case lockword.ThinLocked:
		if w.ThinOwner() != self.ID {
			return newError(IllegalMonitorState, "object not locked by thread before wait()")
		}
		if err := p.inflate(self, obj, self); err != nil {
			return err
		}
		w = obj.LockWord()
		if w.State() != lockword.FatLocked {
			fatalf("wait: object failed to inflate before parking")
		}
	}

	mon := p.Registry.Resolve(w.FatHandle())
	if mon == nil {
		fatalf("wait: fat lock word resolved to no monitor")
	}
	return mon.Wait(self, ms, ns, interruptShouldThrow, reason)
}

func (p *EntryProtocol) Notify(obj Object) error {
	return p.inflateAndNotify(obj, false)
}

func (p *EntryProtocol) NotifyAll(obj Object) error {
	return p.inflateAndNotify(obj, true)
}

// inflateAndNotify mirrors Monitor::InflateAndNotify: a notify on a
// still-thin lock is legal (the owner holds it) but a no-op, because a
// thin lock has never had a wait set to notify anyone out of.
func (p *EntryProtocol) inflateAndNotify(obj Object, all bool) error {
	self := p.Threads.Current()

	w := obj.LockWord()
	switch w.State() {
	case lockword.Unlocked:
		return newError(IllegalMonitorState, "object not locked by thread before notify()")
	case lockword.ThinLocked:
		if w.ThinOwner() != self.ID {
			return newError(IllegalMonitorState, "object not locked by thread before notify()")
		}
		return nil
	}

	mon := p.Registry.Resolve(w.FatHandle())
	if mon == nil {
		return newError(IllegalMonitorState, "notify on monitor with stale handle by thread %d", self.ID)
	}
	if all {
		return mon.NotifyAll(self)
	}
	return mon.Notify(self)
}
