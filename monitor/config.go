package monitor

import (
	"gomonitor/threadtable"
)

// Runtime holds the tunables Monitor.Init configures on the original
// system: how long a thread contending for a thin lock spin-waits before
// triggering suspend-and-inflate, and the threshold that scales how often
// a contended acquisition gets sampled into the log.
type Runtime struct {
	// MaxSpinsBeforeInflation bounds how many times a contended thin
	// lock spins before giving up and suspending the owner to inflate.
	MaxSpinsBeforeInflation int
	// LockProfilingThreshold is the wait duration, in milliseconds, at
	// which a contended Monitor.Lock acquisition is always logged; shorter
	// waits are sampled with probability wait/threshold. Zero disables
	// profiling entirely.
	LockProfilingThreshold int64
	// IsSensitiveThread, when non-nil, lets an embedder suppress
	// lock-contention logging for threads it considers noise (the
	// original runtime uses this to quiet its own GC/JIT threads).
	IsSensitiveThread func() bool
}

// DefaultRuntime is the configuration used when a caller doesn't
// construct its own Runtime.
var DefaultRuntime = &Runtime{
	MaxSpinsBeforeInflation: 50,
	LockProfilingThreshold:  0,
}

func (r *Runtime) isSensitiveThread() bool {
	if r.IsSensitiveThread == nil {
		return false
	}
	return r.IsSensitiveThread()
}

// DefaultRegistry is the process-wide Registry used by the package-level
// Enter/Exit/WaitOn/Notify/NotifyAll helpers.
var DefaultRegistry = NewRegistry()

// DefaultThreads is the process-wide thread table backing CurrentThread.
var DefaultThreads = threadtable.NewTable()

// CurrentThread returns the calling goroutine's Thread handle in the
// default thread table.
func CurrentThread() *threadtable.Thread {
	return DefaultThreads.Current()
}
