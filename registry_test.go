// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"testing"

	"code.hybscloud.com/kont"
)

func TestApplyDelClientRemovesEmptyRegistryEntry(t *testing.T) {
	rt := NewRuntime(1)
	ref := rt.alloc(1)
	item := newWorkItem(ref, kont.Reify(kont.Pure[any](1)))
	item.addClient(1)
	item.addClient(2)
	rt.registry[ref.key()] = item

	rt.applyDelClient(ref, 2)
	if _, ok := rt.registry[ref.key()]; !ok {
		t.Fatal("registry entry removed while a client remains")
	}

	rt.applyDelClient(ref, 1)
	if _, ok := rt.registry[ref.key()]; ok {
		t.Fatal("registry entry should be gone once the client set is empty (invariant I1)")
	}
}

func TestApplyAddClientRecordsHolder(t *testing.T) {
	rt := NewRuntime(1)
	ref := rt.alloc(1)
	item := newWorkItem(ref, kont.Reify(kont.Pure[any](1)))
	item.addClient(1)
	rt.registry[ref.key()] = item

	rt.applyAddClient(ref, 3)
	if _, ok := item.clients[3]; !ok {
		t.Fatal("peer 3 not recorded as a client")
	}
}

func TestMaybeSendAddClientElidesOwnerDestination(t *testing.T) {
	rt := NewRuntime(1)
	ref := RemoteRef{Where: 1, Whence: 1, ID: 1}
	item := newWorkItem(ref, kont.Reify(kont.Pure[any](1)))
	item.addClient(1)
	rt.registry[ref.key()] = item

	// dest == ref.Where: sending a handle to the process that already owns
	// it must not record a spurious client entry.
	rt.maybeSendAddClient(ref, 1, true)
	if len(item.clients) != 1 {
		t.Fatalf("unexpected client set mutation: %v", item.clients)
	}
}

func TestMaybeSendAddClientSkipsKnownClient(t *testing.T) {
	rt := NewRuntime(1)
	ref := RemoteRef{Where: 1, Whence: 1, ID: 1}
	item := newWorkItem(ref, kont.Reify(kont.Pure[any](1)))
	item.addClient(1)
	item.addClient(5)
	rt.registry[ref.key()] = item

	rt.maybeSendAddClient(ref, 5, true)
	if len(item.clients) != 2 {
		t.Fatalf("already-known client re-recorded: %v", item.clients)
	}
}

func TestMaybeSendAddClientLocalOwnerAppliesDirectly(t *testing.T) {
	rt := NewRuntime(1)
	ref := RemoteRef{Where: 1, Whence: 1, ID: 1}
	item := newWorkItem(ref, kont.Reify(kont.Pure[any](1)))
	item.addClient(1)
	rt.registry[ref.key()] = item

	rt.maybeSendAddClient(ref, 9, true)
	if _, ok := item.clients[9]; !ok {
		t.Fatal("expected peer 9 to be recorded as a client of a locally owned ref")
	}
}

// TestHandleResultUniquesDecodedHandle guards against handleResult handing
// a fetch/sync reply's freshly gob-decoded *Handle straight to the waiter:
// it must be resolved through the handle table first, so the delivered
// handle is the process's one canonical instance for that ref (I2) with its
// del_client finalizer armed, not an orphaned value that never reports its
// own disappearance to the owner.
func TestHandleResultUniquesDecodedHandle(t *testing.T) {
	rt := NewRuntime(1)
	ref := RemoteRef{Where: 2, Whence: 1, ID: 5}
	waiter := newWorkItem(RemoteRef{}, kont.Expr[any]{})
	rt.park(waiter, ref, VerbFetch)

	decoded := &Handle{ref: ref, strong: true}
	rt.handleResult(resultPayload{Verb: VerbFetch, OID: ref, Value: decoded})

	got, ok := waiter.pending.(*Handle)
	if !ok {
		t.Fatalf("got %T, want *Handle", waiter.pending)
	}
	if got == decoded {
		t.Fatal("handleResult must unique a freshly decoded handle through the handle table, not hand back the wire value verbatim")
	}
	if canonical := rt.handles.acquireHandle(rt, ref, false); canonical != got {
		t.Fatal("delivered handle is not the table's canonical instance (weak-keyed uniquing, I2)")
	}
}
