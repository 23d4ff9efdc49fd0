// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import "code.hybscloud.com/kont"

// RemoteCall allocates a fresh identifier, registers the work item if
// target is local, otherwise sends a :call message to target, and returns
// the ref synchronously. Safe to call from any goroutine; it hands the
// actual mutation to the loop goroutine and waits for the allocated ref.
func RemoteCall(rt *Runtime, target ProcessID, fn string, args ...any) RemoteRef {
	reply := make(chan RemoteRef, 1)
	if !rt.submit(func() {
		reply <- rt.remoteCallLocal(target, fn, args)
	}) {
		return RemoteRef{}
	}
	return <-reply
}

// remoteCallLocal is RemoteCall's loop-goroutine-confined implementation.
func (rt *Runtime) remoteCallLocal(target ProcessID, fn string, args []any) RemoteRef {
	ref := rt.alloc(target)

	if target == rt.self {
		item := newWorkItem(ref, buildThunk(rt, fn, args))
		item.addClient(rt.self)
		rt.registry[ref.key()] = item
		_ = rt.queue.Enqueue(&item)
		rt.msink.SetGauge([]string{"grid", "registry", "size"}, float32(len(rt.registry)))
		return ref
	}

	peer, ok := rt.peers.get(target)
	if !ok {
		rt.logger.Error("remote_call to unknown peer", "target", target)
		return ref
	}
	_ = peer.send(Envelope{Verb: VerbCall, Payload: callPayload{
		OID:  ref,
		Func: fn,
		Args: rt.prepareOutbound(target, args),
	}})
	return ref
}

// RemoteDo is the fire-and-forget form: no identifier is allocated, and
// target enqueues the thunk with no registry entry. The del_client,
// add_client and identify_socket control verbs travel as the same :do
// message, though the package sends them through remoteDoLocal or
// Peer.send directly; empty_global_object and init_global_object are
// issued with RemoteCall by CreateGlobalObject, which awaits their results.
func RemoteDo(rt *Runtime, target ProcessID, fn string, args ...any) {
	rt.submit(func() {
		rt.remoteDoLocal(target, fn, args)
	})
}

func (rt *Runtime) remoteDoLocal(target ProcessID, fn string, args []any) {
	if target == rt.self {
		thunk := buildThunk(rt, fn, args)
		item := newWorkItem(RemoteRef{}, thunk)
		_ = rt.queue.Enqueue(&item)
		return
	}
	peer, ok := rt.peers.get(target)
	if !ok {
		rt.logger.Error("remote_do to unknown peer", "target", target)
		return
	}
	_ = peer.send(Envelope{Verb: VerbDo, Payload: doPayload{
		Func: fn,
		Args: rt.prepareOutbound(target, args),
	}})
}

// awaitExternal submits a throwaway work item whose thunk performs
// awaitRef{ref, verb} and blocks the calling goroutine until it resolves.
// This is how Sync and Fetch, called by something other than the loop
// goroutine itself, participate in the scheduler without violating its
// single-owner discipline: the item is enqueued by a closure that runs on
// the loop goroutine, same as any :call-dispatched item.
func (rt *Runtime) awaitExternal(ref RemoteRef, verb Verb) any {
	done := make(chan any, 1)
	submitted := rt.submit(func() {
		item := &workItem{extDone: done}
		item.thunk = kont.Reify(kont.Perform(awaitRef{Ref: ref, Verb: verb}))
		_ = rt.queue.Enqueue(&item)
	})
	if !submitted {
		return ErrRuntimeClosed
	}
	return <-done
}

// Fetch waits for ref's computation to complete and returns its value. A
// failed thunk is delivered as its value rather than hanging forever; that
// value is *ThunkError, which Fetch surfaces as the error return instead.
func Fetch(rt *Runtime, ref RemoteRef) (any, error) {
	v := rt.awaitExternal(ref, VerbFetch)
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

// Sync waits for ref's computation to complete and returns a strong handle
// to it.
func Sync(rt *Runtime, ref RemoteRef) (*Handle, error) {
	v := rt.awaitExternal(ref, VerbSync)
	if resolved, ok := v.(RemoteRef); ok {
		return rt.handles.acquireHandle(rt, resolved, true), nil
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return nil, wrapf(ErrProtocolViolation, "sync returned unexpected value %v", v)
}
