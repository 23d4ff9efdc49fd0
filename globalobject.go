// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"encoding/gob"
	"runtime"
	"weak"

	"code.hybscloud.com/kont"
)

// GlobalObject is the one distributed, cyclically-shared object every
// process in the cluster holds its own local instance of. Each process's
// instance is identified by its own work item's ref (ref.Where ==
// rt.self); the peers map records, for every other process, the ref of
// *that* process's own instance — so sending "the global object" to a
// peer never actually ships this process's instance, it hands the peer a
// handle onto the peer's own.
type GlobalObject struct {
	rt  *Runtime
	ref RemoteRef

	peers map[ProcessID]RemoteRef
}

func newGlobalObject(rt *Runtime) *GlobalObject {
	return &GlobalObject{rt: rt, peers: make(map[ProcessID]RemoteRef)}
}

// HandleFor returns a strong handle to dest's own instance of the global
// object, for inclusion in a message addressed to dest.
func (g *GlobalObject) HandleFor(dest ProcessID) *Handle {
	ref, ok := g.peers[dest]
	if !ok {
		ref = g.ref
	}
	return g.rt.handles.acquireHandle(g.rt, ref, true)
}

func (g *GlobalObject) peerRefs() map[ProcessID]RemoteRef {
	out := make(map[ProcessID]RemoteRef, len(g.peers))
	for id, ref := range g.peers {
		out[id] = ref
	}
	return out
}

// globalObjectBox replaces the owning work item's plain result once a
// GlobalObject is installed: it lets the GlobalObject be collected once
// nothing locally or remotely still needs it, instead of the registry
// entry pinning it forever.
type globalObjectBox struct {
	obj weak.Pointer[GlobalObject]
}

func resolveGlobalObjectResult(v any) (*GlobalObject, bool) {
	switch b := v.(type) {
	case *GlobalObject:
		return b, true
	case *globalObjectBox:
		obj := b.obj.Value()
		return obj, obj != nil
	default:
		return nil, false
	}
}

// globalObjectFinalizeNotice is handed to the loop goroutine by the
// cleanup callback runtime.AddCleanup arms on a GlobalObject. It carries a
// plain copy of the peer table rather than a pointer back to the object
// itself, since AddCleanup requires the cleanup argument not retain the
// target.
type globalObjectFinalizeNotice struct {
	rt    *Runtime
	ref   RemoteRef
	peers map[ProcessID]RemoteRef
}

func globalObjectFinalized(n globalObjectFinalizeNotice) {
	select {
	case n.rt.goFinalizerCh <- n:
	case <-n.rt.closeCh:
	}
}

// armGlobalObjectFinalizer registers obj's self-reviving finalizer.
func (rt *Runtime) armGlobalObjectFinalizer(obj *GlobalObject) {
	runtime.AddCleanup(obj, globalObjectFinalized, globalObjectFinalizeNotice{
		rt:    rt,
		ref:   obj.ref,
		peers: obj.peerRefs(),
	})
}

// handleGlobalObjectFinalized runs on the loop goroutine when a
// GlobalObject this process is carrying becomes locally unreachable. If
// self is still counted as a client of its own instance, it withdraws
// that membership and tells every peer the same; if the instance still
// has other clients afterward, it revives a fresh carrier and rearms,
// since runtime.AddCleanup has no way to resurrect the finalized object
// itself — only to arm a cleanup on a new, still-alive replacement.
func (rt *Runtime) handleGlobalObjectFinalized(n globalObjectFinalizeNotice) {
	item, ok := rt.registry[n.ref.key()]
	if !ok {
		return
	}
	if _, stillClient := item.clients[rt.self]; !stillClient {
		return
	}

	for peerID, peerRef := range n.peers {
		rt.remoteDoLocal(peerID, "del_client", []any{peerRef, rt.self})
	}
	rt.applyDelClient(n.ref, rt.self)

	item, stillRegistered := rt.registry[n.ref.key()]
	if !stillRegistered || len(item.clients) == 0 {
		rt.globalObj = nil
		return
	}

	revived := newGlobalObject(rt)
	revived.ref = n.ref
	revived.peers = n.peers
	rt.globalObj = revived
	item.result = &globalObjectBox{obj: weak.Make(revived)}
	rt.armGlobalObjectFinalizer(revived)
}

// installGlobalObject is the body of init_global_object: it binds this
// process's instance's peer table from rids (one ref per process, indexed
// by ProcessID), replaces the owning work item's result with a weak box
// around the instance, marks self as a client of its own instance
// (symmetric with every other process that will hold a strong handle into
// this instance via its own peer table), and arms the self-reviving
// finalizer.
func (rt *Runtime) installGlobalObject(rids []RemoteRef) any {
	if int(rt.self) >= len(rids) {
		return newThunkError(wrapf(ErrProtocolViolation, "init_global_object: self %d out of range of %d rids", rt.self, len(rids)))
	}
	own := rids[rt.self]
	item, ok := rt.registry[own.key()]
	if !ok {
		return newThunkError(wrapf(ErrNotFound, "init_global_object: own ref %s not registered", own))
	}

	obj, ok := resolveGlobalObjectResult(item.result)
	if !ok {
		obj = newGlobalObject(rt)
	}
	obj.ref = own
	for i, ref := range rids {
		pid := ProcessID(i)
		if pid == rt.self {
			continue
		}
		obj.peers[pid] = ref
	}

	rt.globalObj = obj
	item.result = &globalObjectBox{obj: weak.Make(obj)}
	item.addClient(rt.self)
	rt.armGlobalObjectFinalizer(obj)
	return obj
}

// CreateGlobalObject drives the global object's creation protocol across
// the whole cluster. It calls empty_global_object on every process in
// members (the complete, zero-indexed set of process ids in the
// cluster), collecting the resulting refs into a rids table indexed by
// ProcessID, then calls init_global_object(rids) on every member and
// waits for each one to finish installing its own instance before
// returning. Per-peer message ordering (the local queue's FIFO
// discipline, and a connection's in-order delivery) guarantees each
// member's init_global_object runs only after that same member's
// empty_global_object has completed, so installGlobalObject always finds
// a ready instance to bind rather than racing its own creation.
func CreateGlobalObject(rt *Runtime, members []ProcessID) (*GlobalObject, error) {
	rids := make([]RemoteRef, len(members))
	for _, pid := range members {
		rids[pid] = RemoteCall(rt, pid, "empty_global_object")
	}

	for _, pid := range members {
		initRef := RemoteCall(rt, pid, "init_global_object", rids)
		if _, err := Sync(rt, initRef); err != nil {
			return nil, err
		}
	}

	return rt.GlobalObject(), nil
}

func emptyGlobalObjectThunk(rt *Runtime, args []any) kont.Eff[any] {
	return kont.Pure[any](newGlobalObject(rt))
}

func initGlobalObjectThunk(rt *Runtime, args []any) kont.Eff[any] {
	if len(args) == 0 {
		return kont.Pure[any](newThunkError(wrapf(ErrProtocolViolation, "init_global_object: missing rids")))
	}
	rids, ok := args[0].([]RemoteRef)
	if !ok {
		return kont.Pure[any](newThunkError(wrapf(ErrProtocolViolation, "init_global_object: rids args[0] is %T", args[0])))
	}
	return kont.Pure[any](rt.installGlobalObject(rids))
}

func init() {
	RegisterThunk("empty_global_object", emptyGlobalObjectThunk)
	RegisterThunk("init_global_object", initGlobalObjectThunk)
	gob.Register([]RemoteRef(nil))
}
