// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"bytes"
	"encoding/gob"
	"runtime"
	"weak"

	"code.hybscloud.com/spin"
)

// Handle is a client-side token identifying a remote computation. Strong
// handles participate in distributed reference counting: when the last
// strong handle to a given (whence, id) disappears locally, a del_client
// notice is sent to the owning process. Weak handles never send deletion
// messages.
type Handle struct {
	ref    RemoteRef
	strong bool
	rt     *Runtime
}

// Ref returns the remote-reference identifier this handle denotes.
func (h *Handle) Ref() RemoteRef { return h.ref }

// Strong reports whether h participates in distributed refcounting.
func (h *Handle) Strong() bool { return h.strong }

// handleTable uniques live handles by (whence, id). It is read on the fast
// path by both the loop goroutine (constructing/looking up handles while
// dispatching messages) and by runtime.AddCleanup callbacks running on
// arbitrary goroutines, so the lookup/insert/delete sequence is guarded by
// a spin.Lock — the smallest critical section that makes the race safe.
// The actual bookkeeping that follows a handle's disappearance (sending
// del_client) happens off this lock, on the loop goroutine, via finalizerCh.
type handleTable struct {
	mu   spin.Lock
	live map[refKey]weak.Pointer[Handle]
}

func newHandleTable() *handleTable {
	return &handleTable{live: make(map[refKey]weak.Pointer[Handle])}
}

// acquireHandle returns the unique live Handle for ref, constructing one if
// none is currently alive. A request for a strong handle upgrades an
// existing weak-only entry's handle in place, arming its del_client cleanup,
// so at most one live *Handle ever exists per ref (I2) instead of leaving
// the original weak object and a second, independently-finalizing strong
// object both reachable for the same identifier.
func (t *handleTable) acquireHandle(rt *Runtime, ref RemoteRef, strong bool) *Handle {
	key := ref.key()

	t.mu.Lock()
	if wp, ok := t.live[key]; ok {
		if h := wp.Value(); h != nil {
			upgrade := strong && !h.strong
			if upgrade {
				h.strong = true
			}
			t.mu.Unlock()
			if upgrade {
				runtime.AddCleanup(h, t.onHandleFinalized, finalizeNotice{rt: rt, ref: ref})
			}
			return h
		}
		delete(t.live, key)
	}
	t.mu.Unlock()

	return t.newHandle(rt, ref, strong)
}

func (t *handleTable) newHandle(rt *Runtime, ref RemoteRef, strong bool) *Handle {
	h := &Handle{ref: ref, strong: strong, rt: rt}

	t.mu.Lock()
	t.live[ref.key()] = weak.Make(h)
	t.mu.Unlock()

	if strong {
		runtime.AddCleanup(h, t.onHandleFinalized, finalizeNotice{rt: rt, ref: ref})
	}
	return h
}

// forget removes ref's uniquing entry once its weak pointer is known dead.
// Called only from the loop goroutine while processing a finalizer notice,
// never from the cleanup callback itself.
func (t *handleTable) forget(ref RemoteRef) {
	t.mu.Lock()
	if wp, ok := t.live[ref.key()]; ok && wp.Value() == nil {
		delete(t.live, ref.key())
	}
	t.mu.Unlock()
}

type finalizeNotice struct {
	rt  *Runtime
	ref RemoteRef
}

// onHandleFinalized runs on an arbitrary cleanup goroutine. It must not
// touch any loop-goroutine-owned state directly; it only hands the notice
// to the loop via finalizerCh, which marshals the actual bookkeeping onto
// the loop goroutine.
func (t *handleTable) onHandleFinalized(n finalizeNotice) {
	select {
	case n.rt.finalizerCh <- n:
	case <-n.rt.closeCh:
	}
}

// GobEncode implements the wire encoding of a strong or weak Handle. It does
// no add_client bookkeeping itself: that, with its elision rules, is applied
// one layer up, in Runtime.prepareOutboundValue, which calls
// maybeSendAddClient before the gob.Encoder ever reaches this method;
// GobEncode only marshals the bare triple and strength flag.
func (h *Handle) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	payload := handleWire{Ref: h.ref, Strong: h.strong}
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode reconstructs the bare wire fields only. It deliberately does
// not perform registry lookups, shortcut substitution, or add_client
// accounting: those require a *Runtime, which is not reachable from a gob
// hook. Runtime.resolveInboundValue walks freshly decoded payloads after
// gob.Decode returns and performs that bookkeeping with full context.
func (h *Handle) GobDecode(data []byte) error {
	var payload handleWire
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&payload); err != nil {
		return err
	}
	h.ref = payload.Ref
	h.strong = payload.Strong
	return nil
}

// handleWire is the bare wire shape of a Handle: just enough to
// reconstruct a RemoteRef and strength flag on the far side.
type handleWire struct {
	Ref    RemoteRef
	Strong bool
}

func init() {
	gob.Register(&Handle{})
}
