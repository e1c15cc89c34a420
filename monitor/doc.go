// Package monitor implements a two-tier per-object lock: a lightweight
// thin lock encoded entirely in a lock word for the uncontended and
// low-recursion case, inflating one-way into a heap-resident Monitor
// (mutex plus FIFO wait set plus contender condition variable) once
// contention or deep recursion makes the thin encoding insufficient.
//
// Enter/Exit implement the entry protocol; WaitOn/Notify/NotifyAll
// implement Object.wait()-style parking. Both dispatch on the object's
// current lockword.Word state and are safe to call concurrently from
// any number of goroutines against any number of objects.
package monitor
