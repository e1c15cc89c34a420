package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marusama/cyclicbarrier"

	"gomonitor/lockword"
	"gomonitor/threadtable"
)

func TestWaitAndNotify(t *testing.T) {
	p := newTestProtocol()
	obj := NewLockableObject(10)

	var wg sync.WaitGroup
	waiterReady := make(chan struct{})
	woken := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Enter(obj); err != nil {
			t.Errorf("waiter Enter: %v", err)
			return
		}
		close(waiterReady)
		if err := p.WaitOn(obj, 0, 0, true, threadtable.Waiting); err != nil {
			t.Errorf("WaitOn: %v", err)
			return
		}
		close(woken)
		_ = p.Exit(obj)
	}()

	<-waiterReady
	// Give WaitOn a moment to actually park before notifying.
	time.Sleep(20 * time.Millisecond)

	if err := p.Enter(obj); err != nil {
		t.Fatalf("notifier Enter: %v", err)
	}
	if err := p.Notify(obj); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := p.Exit(obj); err != nil {
		t.Fatalf("notifier Exit: %v", err)
	}

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter was never woken by Notify")
	}
	wg.Wait()

	// WaitOn inflated the lock and inflation is one-way, so the word stays
	// FatLocked; the monitor behind it must be unowned.
	w := obj.LockWord()
	if w.State() != lockword.FatLocked {
		t.Fatalf("state after balanced wait/notify = %v, want FatLocked", w.State())
	}
	if mon := p.Registry.Resolve(w.FatHandle()); mon == nil || mon.Owner() != nil {
		t.Fatalf("monitor still owned (or missing) after balanced wait/notify")
	}
}

func TestNotifyAllWakesEveryWaiter(t *testing.T) {
	p := newTestProtocol()
	obj := NewLockableObject(11)

	const waiters = 3
	var wg sync.WaitGroup
	woken := make(chan struct{}, waiters)
	barrier := cyclicbarrier.New(waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// All waiters race for the lock at once instead of
			// trickling in one at a time.
			_ = barrier.Await(context.Background())
			if err := p.Enter(obj); err != nil {
				t.Errorf("Enter: %v", err)
				return
			}
			if err := p.WaitOn(obj, 0, 0, true, threadtable.Waiting); err != nil {
				t.Errorf("WaitOn: %v", err)
				return
			}
			woken <- struct{}{}
			_ = p.Exit(obj)
		}()
	}

	// Poll until every waiter is actually parked in the wait set rather
	// than guessing a sleep duration long enough to cover the race.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := obj.LockWord()
		if w.State() == lockword.FatLocked {
			mon := p.Registry.Resolve(w.FatHandle())
			if mon != nil && len(mon.Snapshot().WaitSetIDs) == waiters {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("not all waiters reached the wait set in time")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Enter(obj); err != nil {
		t.Fatalf("notifier Enter: %v", err)
	}
	if err := p.NotifyAll(obj); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if err := p.Exit(obj); err != nil {
		t.Fatalf("notifier Exit: %v", err)
	}

	for i := 0; i < waiters; i++ {
		select {
		case <-woken:
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d was never woken by NotifyAll", i)
		}
	}
	wg.Wait()
}

func TestInterruptDuringTimedWait(t *testing.T) {
	p := newTestProtocol()
	obj := NewLockableObject(12)

	waiterID := make(chan uint32, 1)
	interrupted := make(chan error, 1)
	go func() {
		if err := p.Enter(obj); err != nil {
			t.Errorf("Enter: %v", err)
			return
		}
		waiterID <- p.Threads.Current().ID
		interrupted <- p.WaitOn(obj, 5000, 0, true, threadtable.TimedWaiting)
	}()

	id := <-waiterID
	time.Sleep(20 * time.Millisecond)
	th := p.Threads.FindByID(id)
	if th == nil {
		t.Fatalf("waiter thread %d not found", id)
	}
	th.Interrupt()

	select {
	case err := <-interrupted:
		merr, ok := err.(*Error)
		if !ok || merr.Kind != Interrupted {
			t.Fatalf("WaitOn error = %v, want Interrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("interrupted wait never returned")
	}
}

func TestWaitOnUnownedObjectFails(t *testing.T) {
	p := newTestProtocol()
	obj := NewLockableObject(13)

	err := p.WaitOn(obj, 0, 0, true, threadtable.Waiting)
	if err == nil {
		t.Fatalf("WaitOn on an unlocked object succeeded")
	}
	merr, ok := err.(*Error)
	if !ok || merr.Kind != IllegalMonitorState {
		t.Fatalf("WaitOn error = %v, want IllegalMonitorState", err)
	}
}
