package monitor

import (
	"sync/atomic"

	"gomonitor/lockword"
)

// Object is the contract a managed value must satisfy to be lockable:
// an atomically readable and compare-and-swappable lock word, and a
// stable identity hash usable in diagnostics and logs.
type Object interface {
	LockWord() lockword.Word
	CASLockWord(old, new lockword.Word) bool
	SetLockWord(w lockword.Word)
	IdentityHash() uint32
}

// LockableObject is a minimal concrete Object, suitable for embedding
// in application types that want monitor support without writing their
// own lock-word plumbing.
type LockableObject struct {
	word atomic.Uint64
	hash uint32
}

// NewLockableObject returns an unlocked LockableObject with the given
// identity hash.
func NewLockableObject(identityHash uint32) *LockableObject {
	return &LockableObject{hash: identityHash}
}

func (o *LockableObject) LockWord() lockword.Word {
	return lockword.FromRaw(o.word.Load())
}

func (o *LockableObject) CASLockWord(old, new lockword.Word) bool {
	return o.word.CompareAndSwap(old.Raw(), new.Raw())
}

func (o *LockableObject) SetLockWord(w lockword.Word) {
	o.word.Store(w.Raw())
}

func (o *LockableObject) IdentityHash() uint32 {
	return o.hash
}
