// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gridutil holds user-level conveniences layered on top of
// code.hybscloud.com/grid's core remote-invocation primitives: a
// parallel map across a caller-supplied list of target processes and a
// fire-and-forget broadcast to such a list. Kept separate from the core package since neither
// convenience needs access to the runtime's internals.
package gridutil

import "code.hybscloud.com/grid"

// PMap calls fn once per element of args, round-robin dispatched across
// targets, and returns a RemoteRef per call in input order. targets with
// fewer entries than args simply get called more than once; an empty
// targets slice panics, since there is nowhere to dispatch to.
//
// PMap itself never blocks: it only allocates refs and sends :call
// messages (or registers locally), the same non-blocking guarantee
// grid.RemoteCall gives. Callers collect results with grid.Fetch or
// grid.Sync, one per returned ref, same as any other RemoteCall.
func PMap[T any](rt *grid.Runtime, targets []grid.ProcessID, fn string, args []T) []grid.RemoteRef {
	if len(targets) == 0 {
		panic("gridutil: PMap called with no targets")
	}
	refs := make([]grid.RemoteRef, len(args))
	for i, a := range args {
		target := targets[i%len(targets)]
		refs[i] = grid.RemoteCall(rt, target, fn, a)
	}
	return refs
}

// PMapCollect is PMap followed by a Fetch of every resulting ref, in
// input order. The first fetch error, if any, is returned immediately;
// results for refs not yet fetched at that point are left as zero
// values — callers needing partial results should call PMap and Fetch
// directly instead.
func PMapCollect[T any](rt *grid.Runtime, targets []grid.ProcessID, fn string, args []T) ([]any, error) {
	refs := PMap(rt, targets, fn, args)
	out := make([]any, len(refs))
	for i, ref := range refs {
		v, err := grid.Fetch(rt, ref)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// Broadcast fires fn(args...) at every process in targets via RemoteDo,
// fire-and-forget.
func Broadcast(rt *grid.Runtime, targets []grid.ProcessID, fn string, args ...any) {
	for _, target := range targets {
		grid.RemoteDo(rt, target, fn, args...)
	}
}
