// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"log/slog"
	"time"

	"code.hybscloud.com/kont"
	metrics "github.com/hashicorp/go-metrics"
)

// idlePollInterval is the non-zero poll timeout used when the work queue
// is empty, so the loop still notices shutdown and runs maintenance while
// otherwise blocking.
const idlePollInterval = 2 * time.Second

// inboundMsg is one event delivered onto the loop goroutine's inbox,
// either a decoded Envelope from a peer's reader goroutine or a notice
// that the peer's connection closed.
type inboundMsg struct {
	peer   ProcessID
	env    Envelope
	closed bool
	cause  error
}

// Run drives the event loop until the runtime is closed or (for a
// non-initiator process) its last remaining peer connection closes,
// letting the worker's event loop return cleanly instead of idling
// forever. It must be called from its own goroutine; all registry,
// waiting-table, queue, and peer-set mutation happens here and nowhere
// else, so none of that state needs its own lock.
func (rt *Runtime) Run() {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		if rt.performWork() {
			continue
		}

		select {
		case msg := <-rt.inbox:
			rt.handleInbound(msg)
		case fn := <-rt.ctrl:
			fn()
		case n := <-rt.finalizerCh:
			rt.handleFinalizer(n)
		case n := <-rt.goFinalizerCh:
			rt.handleGlobalObjectFinalized(n)
		case <-ticker.C:
			// liveness tick only; nothing to do when idle.
		case <-rt.closeCh:
			return
		}

		if rt.self != Initiator && rt.peers.count() == 0 && rt.bootstrapDone {
			return
		}
	}
}

// performWork pops one runnable item, if any, and steps or resumes its
// continuation. It reports whether it found work, so Run can give the
// queue priority over polling: a non-empty queue is drained with a zero
// timeout before the loop ever blocks waiting on anything else.
func (rt *Runtime) performWork() bool {
	item, err := rt.queue.Dequeue()
	if err != nil {
		return false
	}

	value, next, failed := rt.stepItem(item)
	if failed {
		rt.completeItem(item, value)
		return true
	}

	if next == nil {
		rt.completeItem(item, value)
		return true
	}

	ar, ok := next.Op().(awaitRef)
	if !ok {
		panic("grid: unhandled effect suspension in performWork")
	}
	item.susp = next
	rt.dispatchAwait(item, ar)
	return true
}

// stepItem runs one turn of item's continuation, starting it if this is
// its first turn or resuming it with its pending argument otherwise. A
// panicking thunk is recovered here; the runner is then discarded rather
// than resumed again, since its stack is in an indeterminate state.
func (rt *Runtime) stepItem(item *workItem) (value any, next *kont.Suspension[any], failed bool) {
	defer func() {
		if r := recover(); r != nil {
			value = newThunkError(r)
			next = nil
			failed = true
		}
	}()

	if item.susp == nil {
		value, next = kont.StepExpr(item.thunk)
		return value, next, false
	}
	value, next = item.susp.Resume(item.pending)
	item.pending = nil
	return value, next, false
}

// completeItem marks item done, clears its task slot, and runs
// notifications.
func (rt *Runtime) completeItem(item *workItem, value any) {
	if _, failed := value.(*ThunkError); failed {
		rt.logger.Error("thunk failed", slog.Any("ref", item.ref), slog.Any("result", value))
	}
	item.done = true
	item.result = value
	item.susp = nil
	if item.extDone != nil {
		item.extDone <- value
		return
	}
	rt.notifyDone(item)
	rt.msink.IncrCounter([]string{"grid", "item", "done"}, 1)
}

// dispatchAwait dispatches an awaited ref one of three ways: local
// completion resolves in place, a pending local item parks the waiter, and
// a remote ref sends the request over the wire and parks.
func (rt *Runtime) dispatchAwait(item *workItem, ar awaitRef) {
	ref := ar.Ref

	if ref.Where == rt.self {
		target, ok := rt.registry[ref.key()]
		if !ok {
			rt.resumeWith(item, wrapf(ErrNotFound, "await %s", ref))
			return
		}
		if target.done {
			rt.resumeWith(item, valueForVerb(target, ar.Verb))
			return
		}
		target.notify = append([]notifyEntry{{verb: ar.Verb, isLocal: true}}, target.notify...)
		rt.park(item, ref, ar.Verb)
		return
	}

	// where == 0 (the initiator) and the general "otherwise" case collapse
	// to the same code path here: process 0 is always a normal entry in
	// the peer set, connected during bootstrap like any other peer.
	peer, ok := rt.peers.get(ref.Where)
	if !ok {
		rt.resumeWith(item, wrapf(ErrUnknownPeer, "await target %d", ref.Where))
		return
	}
	if err := peer.send(Envelope{Verb: ar.Verb, Payload: refPayload{OID: ref}}); err != nil {
		rt.resumeWith(item, err)
		return
	}
	rt.park(item, ref, ar.Verb)
}

// valueForVerb extracts what a resolved await returns: the computed value
// for fetch, or the target's RemoteRef for sync (the public Sync turns that
// ref into a strong handle).
func valueForVerb(target *workItem, verb Verb) any {
	if verb == VerbFetch {
		if obj, ok := resolveGlobalObjectResult(target.result); ok {
			return obj
		}
		return target.result
	}
	return target.ref
}

// park records item as waiting on (verb, ref); its task slot stays
// occupied (susp non-nil), so it is not re-enqueued until resolveWaiter
// fires.
func (rt *Runtime) park(item *workItem, ref RemoteRef, verb Verb) {
	key := ref.key()
	rt.waiting[key] = append(rt.waiting[key], waiter{verb: verb, item: item})
}

// resolveWaiter pops the first local waiter on (ref, verb) and re-enqueues
// it with value bound as its resumption argument.
func (rt *Runtime) resolveWaiter(ref RemoteRef, verb Verb, value any) {
	key := ref.key()
	list := rt.waiting[key]
	for i, w := range list {
		if w.verb != verb {
			continue
		}
		rt.waiting[key] = append(list[:i:i], list[i+1:]...)
		if len(rt.waiting[key]) == 0 {
			delete(rt.waiting, key)
		}
		w.item.pending = value
		_ = rt.queue.Enqueue(&w.item)
		return
	}
}

// resumeWith re-enqueues item with value as its resumption argument
// without consulting the waiting table, used for immediate local
// resolutions and dispatch-time errors.
func (rt *Runtime) resumeWith(item *workItem, value any) {
	item.pending = value
	_ = rt.queue.Enqueue(&item)
}

// notifyDone drains item's notify list in registration-reverse order,
// delivering the result to each party. Callers must not depend on the
// delivery order across multiple waiters.
func (rt *Runtime) notifyDone(item *workItem) {
	for _, n := range item.notify {
		rt.deliverResult(item, n)
	}
	item.notify = nil
}

// deliverResult sends item's result to one notify-list entry: a socket
// (remote waiter) or the local waiting table.
func (rt *Runtime) deliverResult(item *workItem, n notifyEntry) {
	value := valueForVerb(item, n.verb)
	if n.isLocal {
		rt.resolveWaiter(item.ref, n.verb, value)
		return
	}
	peer, ok := rt.peers.get(n.peer)
	if !ok {
		return
	}
	value = rt.prepareOutboundValue(n.peer, value)
	if err := peer.send(Envelope{Verb: VerbResult, Payload: resultPayload{Verb: n.verb, OID: item.ref, Value: value}}); err != nil {
		rt.logger.Error("result delivery failed", slog.Any("peer", n.peer), slog.Any("err", err))
	}
}

// handleInbound dispatches one decoded message or a peer-closed notice.
func (rt *Runtime) handleInbound(msg inboundMsg) {
	if msg.closed {
		rt.handlePeerClosed(msg.peer, msg.cause)
		return
	}
	rt.msink.IncrCounterWithLabels([]string{"grid", "msg", "recv"}, 1, []metrics.Label{{Name: "verb", Value: msg.env.Verb.String()}})

	switch msg.env.Verb {
	case VerbCall:
		rt.handleCall(msg.peer, msg.env.Payload.(callPayload))
	case VerbDo:
		rt.handleDo(msg.peer, msg.env.Payload.(doPayload))
	case VerbSync, VerbFetch:
		rt.handleAwaitRequest(msg.peer, msg.env.Verb, msg.env.Payload.(refPayload))
	case VerbResult:
		rt.handleResult(msg.env.Payload.(resultPayload))
	default:
		rt.logger.Error("protocol violation: unknown verb", slog.Any("peer", msg.peer), slog.Any("verb", msg.env.Verb))
	}
}

func (rt *Runtime) handleCall(from ProcessID, p callPayload) {
	item := newWorkItem(p.OID, buildThunk(rt, p.Func, rt.resolveInboundArgs(p.Args)))
	item.addClient(p.OID.Whence)
	rt.registry[p.OID.key()] = item
	_ = rt.queue.Enqueue(&item)
	rt.msink.SetGauge([]string{"grid", "registry", "size"}, float32(len(rt.registry)))
}

func (rt *Runtime) handleDo(from ProcessID, p doPayload) {
	args := rt.resolveInboundArgs(p.Args)
	if p.Func == "identify_socket" {
		args = append(args, from)
	}
	thunk := buildThunk(rt, p.Func, args)
	item := newWorkItem(RemoteRef{}, thunk)
	_ = rt.queue.Enqueue(&item)
}

func (rt *Runtime) handleAwaitRequest(from ProcessID, verb Verb, p refPayload) {
	item, ok := rt.registry[p.OID.key()]
	if !ok {
		rt.logger.Error("await request for unknown ref", slog.Any("peer", from), slog.Any("ref", p.OID))
		return
	}
	if item.done {
		peer, ok := rt.peers.get(from)
		if ok {
			value := rt.prepareOutboundValue(from, valueForVerb(item, verb))
			_ = peer.send(Envelope{Verb: VerbResult, Payload: resultPayload{Verb: verb, OID: p.OID, Value: value}})
		}
		return
	}
	item.notify = append([]notifyEntry{{verb: verb, peer: from}}, item.notify...)
}

func (rt *Runtime) handleResult(p resultPayload) {
	// p.Value is freshly gob-decoded: route it through the same receiver-
	// side handle resolution call/do arguments get, so a *Handle arriving
	// as a fetch result gets uniqued and its finalizer armed instead of
	// becoming an orphaned proxy that never emits del_client.
	rt.resolveWaiter(p.OID, p.Verb, rt.resolveInboundValue(p.Value))
}

func (rt *Runtime) handleFinalizer(n finalizeNotice) {
	rt.handles.forget(n.ref)
	rt.onHandleDropped(n.ref)
}

func (rt *Runtime) handlePeerClosed(id ProcessID, cause error) {
	if cause != nil {
		rt.logger.Error("peer connection lost", slog.Any("peer", id), slog.Any("err", cause))
	} else {
		rt.logger.Info("peer connection closed", slog.Any("peer", id))
	}
	rt.peers.remove(id)
}
