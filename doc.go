// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package grid implements the core of a peer-to-peer distributed
// multiprocessing runtime: a symmetric set of worker processes that execute
// thunks on each other's behalf and exchange results asynchronously via
// remote-reference handles.
//
// # Architecture
//
//   - Scheduler: one loop goroutine per [Runtime], driven by [Runtime.Run],
//     multiplexing peer I/O and the local work queue the way a cooperative
//     event loop multiplexes socket readiness against a ready queue.
//   - Task Runner: thunks are [code.hybscloud.com/kont] continuations.
//     Awaiting a [RemoteRef] is the single effect a thunk can perform
//     (the internal awaitRef operation); the scheduler steps and resumes it
//     via [code.hybscloud.com/kont.StepExpr] and [code.hybscloud.com/kont.Suspension.Resume],
//     the same Step/Advance shape a proactor loop uses to drive a protocol.
//   - Remote references: [RemoteRef] identifies a computation by
//     (where, whence, id); [Handle] is the client-side strong/weak token,
//     uniqued per (whence, id) and distributed-refcounted via finalizer
//     notices marshalled onto the loop goroutine.
//   - Transport: one [Peer] per other process, a [code.hybscloud.com/lfq]
//     SPSC outbound buffer per peer, gob-framed over a plain net.Conn.
//
// # API Topologies
//
//   - Invocation: [RemoteCall], [RemoteDo].
//   - Awaiting: [Sync], [Fetch] and their Cont-world counterparts
//     [SyncBind], [SyncThen], [FetchBind], [FetchThen].
//   - Cluster formation: [Runtime.Bootstrap], [Runtime.AcceptBootstrap].
//   - Global object: [Runtime.GlobalObject].
//
// # Example
//
//	rt := grid.NewRuntime(1)
//	go rt.Run()
//	ref := grid.RemoteCall(rt, 2, "addOne", 41)
//	v, err := grid.Fetch(rt, ref)
package grid
