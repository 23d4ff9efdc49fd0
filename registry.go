// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"log/slog"

	"code.hybscloud.com/kont"
)

// onHandleDropped runs on the loop goroutine after a strong Handle to ref
// has been garbage collected. It applies del_client locally if this
// process owns ref, or sends a del_client message to the owner otherwise.
func (rt *Runtime) onHandleDropped(ref RemoteRef) {
	if ref.Where == rt.self {
		rt.applyDelClient(ref, rt.self)
		return
	}
	peer, ok := rt.peers.get(ref.Where)
	if !ok {
		return
	}
	_ = peer.send(Envelope{Verb: VerbDo, Payload: doPayload{Func: "del_client", Args: []any{ref, rt.self}}})
}

// applyDelClient removes holder from ref's work item's client set and, if
// the set is now empty, removes the item from the registry: a work item
// stays registered exactly as long as its client set is non-empty.
func (rt *Runtime) applyDelClient(ref RemoteRef, holder ProcessID) {
	item, ok := rt.registry[ref.key()]
	if !ok {
		return
	}
	if item.delClient(holder) {
		delete(rt.registry, ref.key())
		rt.msink.SetGauge([]string{"grid", "registry", "size"}, float32(len(rt.registry)))
	}
}

// applyAddClient records that peer now holds a strong handle to ref's work
// item.
func (rt *Runtime) applyAddClient(ref RemoteRef, peer ProcessID) {
	item, ok := rt.registry[ref.key()]
	if !ok {
		rt.logger.Error("add_client for unknown ref", slog.Any("ref", ref), slog.Any("peer", peer))
		return
	}
	item.addClient(peer)
}

// prepareOutbound walks a thunk's argument list just before it crosses the
// wire in a :call or :do message, applying the add_client elision rule: a
// notice is skipped when the destination is the owner itself (it will
// self-insert on decode) or when the sender is the owner and dest is
// already a known client.
func (rt *Runtime) prepareOutbound(dest ProcessID, args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = rt.prepareOutboundValue(dest, a)
	}
	return out
}

func (rt *Runtime) prepareOutboundValue(dest ProcessID, v any) any {
	switch h := v.(type) {
	case *Handle:
		rt.maybeSendAddClient(h.ref, dest, h.strong)
		return h
	case *GlobalObject:
		gh := h.HandleFor(dest)
		rt.maybeSendAddClient(gh.ref, dest, true)
		return gh
	default:
		return v
	}
}

func (rt *Runtime) maybeSendAddClient(ref RemoteRef, dest ProcessID, strong bool) {
	if !strong || dest == ref.Where {
		return
	}
	if ref.Where == rt.self {
		if item, ok := rt.registry[ref.key()]; ok {
			if _, known := item.clients[dest]; known {
				return
			}
		}
	}
	owner := ref.Where
	if owner == rt.self {
		rt.applyAddClient(ref, dest)
		return
	}
	peer, ok := rt.peers.get(owner)
	if !ok {
		return
	}
	_ = peer.send(Envelope{Verb: VerbDo, Payload: doPayload{Func: "add_client", Args: []any{ref, dest}}})
}

// resolveInboundArgs walks a freshly gob-decoded argument list. A decoded
// *Handle whose Ref.Where is this process is resolved against the
// registry, adds self to the client set, and — if the underlying value is
// already computed — is replaced by the local instance (global object) or
// the computed value itself (ordinary value shortcut).
func (rt *Runtime) resolveInboundArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = rt.resolveInboundValue(a)
	}
	return out
}

// delClientThunk and addClientThunk are the registered bodies of the
// del_client/add_client control verbs carried via :do; identifySocketThunk
// exists only so buildThunk never fails to resolve
// the name if identify_socket ever arrives on an already-established
// connection instead of as the first message on a freshly accepted one —
// the real work for mesh completion happens in onAcceptedIdentify, which
// has the net.Conn this thunk form does not.
func delClientThunk(rt *Runtime, args []any) kont.Eff[any] {
	ref, _ := args[0].(RemoteRef)
	peer, _ := args[1].(ProcessID)
	rt.applyDelClient(ref, peer)
	return kont.Pure[any](nil)
}

func addClientThunk(rt *Runtime, args []any) kont.Eff[any] {
	ref, _ := args[0].(RemoteRef)
	peer, _ := args[1].(ProcessID)
	rt.applyAddClient(ref, peer)
	return kont.Pure[any](nil)
}

func identifySocketThunk(rt *Runtime, args []any) kont.Eff[any] {
	rt.logger.Warn("identify_socket thunk invoked off the accept path", slog.Any("args", args))
	return kont.Pure[any](nil)
}

func init() {
	RegisterThunk("del_client", delClientThunk)
	RegisterThunk("add_client", addClientThunk)
	RegisterThunk("identify_socket", identifySocketThunk)
}

func (rt *Runtime) resolveInboundValue(v any) any {
	h, ok := v.(*Handle)
	if !ok {
		return v
	}
	// Unique every decoded handle by (whence, id) regardless of ownership:
	// at most one live handle exists per process for a given identifier,
	// weak-keyed so a dropped reference can still be garbage collected.
	unique := rt.handles.acquireHandle(rt, h.ref, h.strong)

	if h.ref.Where != rt.self {
		return unique
	}
	item, ok := rt.registry[h.ref.key()]
	if !ok {
		return unique
	}
	item.addClient(rt.self)
	if !item.done {
		return unique
	}
	if obj, ok := resolveGlobalObjectResult(item.result); ok && rt.globalObj == obj {
		return obj
	}
	return item.result
}
