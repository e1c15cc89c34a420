package threadtable

import (
	"testing"
	"time"
)

func TestFindByIDFindsRegisteredThread(t *testing.T) {
	tb := NewTable()
	th := tb.Current()
	found := tb.FindByID(th.ID)
	if found != th {
		t.Fatalf("FindByID(%d) = %v, want %v", th.ID, found, th)
	}
}

func TestFindByIDMissReturnsNil(t *testing.T) {
	tb := NewTable()
	if tb.FindByID(999999) != nil {
		t.Fatalf("FindByID on an unregistered id returned non-nil")
	}
}

func TestSuspendByIDTimesOutWithoutSafepoint(t *testing.T) {
	tb := NewTable()
	done := make(chan struct{})
	ready := make(chan uint32, 1)
	go func() {
		th := tb.Current()
		ready <- th.ID
		<-done
	}()

	id := <-ready
	_, timedOut := tb.SuspendByID(id, 30*time.Millisecond)
	if !timedOut {
		t.Fatalf("SuspendByID did not time out against a goroutine that never reaches a safepoint")
	}
	close(done)
}

func TestSuspendByIDSucceedsAtSafepoint(t *testing.T) {
	tb := NewTable()
	idCh := make(chan uint32, 1)
	release := make(chan struct{})

	go func() {
		th := tb.Current()
		idCh <- th.ID
		for {
			th.CheckSafepoint()
			select {
			case <-release:
				return
			default:
			}
			time.Sleep(time.Millisecond)
		}
	}()

	id := <-idCh
	th, timedOut := tb.SuspendByID(id, time.Second)
	if timedOut {
		t.Fatalf("SuspendByID timed out against a goroutine polling CheckSafepoint")
	}

	tb.Resume(th)
	close(release)
}

func TestResumeOnNilIsNoop(t *testing.T) {
	tb := NewTable()
	tb.Resume(nil) // must not panic
}
