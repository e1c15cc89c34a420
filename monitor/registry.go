package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/elliotchance/orderedmap"
)

// Registry tracks every live fat Monitor by handle, mirroring the
// original runtime's MonitorList. Handles, not pointers, are what a
// lockword.Word's FatLocked payload carries, so every resolution of a
// fat lock word goes through a Registry.
type Registry struct {
	mu       sync.Mutex
	monitors *orderedmap.OrderedMap
	allowNew bool
	addCond  sync.Cond
	nextID   atomic.Uint32
}

// NewRegistry returns an empty Registry that allows new monitors.
func NewRegistry() *Registry {
	r := &Registry{
		monitors: orderedmap.NewOrderedMap(),
		allowNew: true,
	}
	r.addCond.L = &r.mu
	return r
}

// Allocate reserves a fresh handle for a not-yet-published Monitor.
// Handles start at 1; 0 stays reserved so a zero lockword.Word's
// FatHandle can never alias a real monitor.
func (r *Registry) Allocate() uint32 {
	return r.nextID.Add(1)
}

// Add publishes m under handle, blocking while the registry has been
// gated closed by DisallowNew (used during a stop-the-world sweep in
// the original; here, around any caller-defined quiescence window).
func (r *Registry) Add(handle uint32, m *Monitor) {
	r.mu.Lock()
	for !r.allowNew {
		r.addCond.Wait()
	}
	r.monitors.Set(handle, m)
	r.mu.Unlock()
}

// Resolve returns the Monitor for handle, or nil if it isn't (or is no
// longer) registered.
func (r *Registry) Resolve(handle uint32) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.monitors.Get(handle)
	if !ok {
		return nil
	}
	return v.(*Monitor)
}

// DisallowNew closes the gate: further Add calls block until AllowNew.
// Mirrors MonitorList::DisallowNewMonitors, used to freeze the monitor
// set during a consistency sweep.
func (r *Registry) DisallowNew() {
	r.mu.Lock()
	r.allowNew = false
	r.mu.Unlock()
	logRegistryGate(false)
}

// AllowNew reopens the gate and wakes anyone blocked in Add.
func (r *Registry) AllowNew() {
	r.mu.Lock()
	r.allowNew = true
	r.mu.Unlock()
	r.addCond.Broadcast()
	logRegistryGate(true)
}

// Sweep visits every registered Monitor, calling visit once per handle.
// If visit returns a nil Object, the Monitor is destroyed and unlinked
// from the registry. Otherwise the returned Object is installed as the
// Monitor's new back-reference via SetObject, covering a relocating
// collector that has moved the object the Monitor's handle is embedded
// in (a visitor that hasn't moved anything just returns the Monitor's
// current Object() unchanged). Must be called between DisallowNew and
// AllowNew so the set under inspection is stable. Mirrors
// MonitorList::SweepMonitorList's root-visitor pattern, generalized to
// an arbitrary callback since this package has no GC root-visitor
// concept to hook into.
func (r *Registry) Sweep(visit func(handle uint32, m *Monitor) Object) {
	type relocation struct {
		m   *Monitor
		obj Object
	}

	r.mu.Lock()
	var drop []uint32
	var relocate []relocation
	for _, key := range r.monitors.Keys() {
		handle := key.(uint32)
		v, ok := r.monitors.Get(handle)
		if !ok {
			continue
		}
		m := v.(*Monitor)
		newObj := visit(handle, m)
		if newObj == nil {
			drop = append(drop, handle)
			continue
		}
		relocate = append(relocate, relocation{m: m, obj: newObj})
	}
	for _, h := range drop {
		r.monitors.Delete(h)
	}
	r.mu.Unlock()

	// SetObject acquires the Monitor's own mutex; the registry lock is a
	// leaf, so it must already be released before making that call.
	for _, reloc := range relocate {
		reloc.m.SetObject(reloc.obj)
	}
}

// Len reports how many monitors are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.monitors.Len()
}
