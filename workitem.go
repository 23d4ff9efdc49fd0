// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"code.hybscloud.com/kont"
	"code.hybscloud.com/lfq"
)

func newWorkQueue(capacity int) *lfq.SPSC[*workItem] {
	q := &lfq.SPSC[*workItem]{}
	q.Init(capacity)
	return q
}

// workItem is the owner-side record of one remote computation. It is
// mutated only on the loop goroutine; the continuation it carries (susp)
// is a reusable runner built directly on what kont.Suspension already
// provides — the work item simply is the runner state.
type workItem struct {
	ref RemoteRef

	thunk kont.Expr[any]
	susp  *kont.Suspension[any]

	pending any

	done   bool
	result any

	notify []notifyEntry

	clients map[ProcessID]struct{}

	// extDone, when non-nil, is signaled with this item's result on
	// completion. Set only on the throwaway items the public Sync/Fetch
	// entry points submit on behalf of a caller outside the loop
	// goroutine; such items carry no ref of their own and are never
	// registered.
	extDone chan any
}

// notifyEntry is one party awaiting this work item's completion: either a
// peer connection (result is sent over the wire as a :result message) or a
// marker that a local task is parked on Runtime.waiting for (verb, oid).
type notifyEntry struct {
	verb    Verb
	peer    ProcessID
	isLocal bool
}

// waiter is one local task suspended awaiting a particular (verb, ref)
// pair. Runtime.waiting maps a ref's key to a slice of these.
type waiter struct {
	verb Verb
	item *workItem
}

func newWorkItem(ref RemoteRef, thunk kont.Expr[any]) *workItem {
	return &workItem{
		ref:     ref,
		thunk:   thunk,
		clients: make(map[ProcessID]struct{}),
	}
}

// addClient records that peer now holds a strong handle to this item.
func (w *workItem) addClient(peer ProcessID) {
	w.clients[peer] = struct{}{}
}

// delClient removes peer from the client set and reports whether the set
// is now empty — callers use this to decide whether the item should be
// dropped from the registry.
func (w *workItem) delClient(peer ProcessID) (empty bool) {
	delete(w.clients, peer)
	return len(w.clients) == 0
}
