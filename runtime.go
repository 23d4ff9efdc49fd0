// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"log/slog"
	"sync"

	"code.hybscloud.com/lfq"
	metrics "github.com/hashicorp/go-metrics"
)

// queueCapacity bounds the number of runnable items the work queue holds
// at once. Parked items leave the queue entirely (they live in
// the waiting table instead), so this only bounds genuinely runnable work.
const queueCapacity = 256

// Runtime is one process's view of the cluster: its own identifier, the
// set of other processes it talks to, the reference registry, the waiting
// table, and the work queue. Materialized explicitly and passed to every
// operation rather than kept ambient, so a test can drive several runtimes
// side by side without any hidden global state.
//
// Every field below is owned exclusively by the goroutine running Run,
// except the inbox, ctrl, finalizerCh, goFinalizerCh and closeCh channels
// and the handles table's internal lock, which are the only
// cross-goroutine boundaries this type allows.
type Runtime struct {
	self ProcessID

	peers *PeerSet

	registry map[refKey]*workItem
	waiting  map[refKey][]waiter
	handles  *handleTable

	queue *lfq.SPSC[*workItem]

	inbox         chan inboundMsg
	ctrl          chan func()
	finalizerCh   chan finalizeNotice
	goFinalizerCh chan globalObjectFinalizeNotice
	closeCh       chan struct{}
	closeOnce     sync.Once

	ids idAllocator

	globalObj *GlobalObject

	locations      []Location
	bootstrapDone  bool
	onBootstrapped func()

	logger *slog.Logger
	msink  *metrics.Metrics
}

// NewRuntime creates a Runtime for process id self. It does not start the
// event loop. The initiator calls Bootstrap before starting Run; a worker
// starts Run in its own goroutine first and then calls AcceptBootstrap,
// which blocks until the loop goroutine has processed the incoming
// bootstrap message and completed the mesh.
func NewRuntime(self ProcessID, opts ...Option) *Runtime {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	msink, err := metrics.New(metrics.DefaultConfig("grid"), cfg.sink)
	if err != nil {
		msink, _ = metrics.New(metrics.DefaultConfig("grid"), metrics.NewInmemSink(0, 0))
	}

	rt := &Runtime{
		self:          self,
		peers:         newPeerSet(),
		registry:      make(map[refKey]*workItem),
		waiting:       make(map[refKey][]waiter),
		handles:       newHandleTable(),
		queue:         newWorkQueue(queueCapacity),
		inbox:         make(chan inboundMsg, 256),
		ctrl:          make(chan func(), 64),
		finalizerCh:   make(chan finalizeNotice, 64),
		goFinalizerCh: make(chan globalObjectFinalizeNotice, 16),
		closeCh:       make(chan struct{}),
		logger:        cfg.logger,
		msink:         msink,
	}
	return rt
}

// Self returns this runtime's process id.
func (rt *Runtime) Self() ProcessID { return rt.self }

// Metrics exposes the go-metrics handle for embedding applications,
// matching the accessor every pack repo with a metrics dependency exposes.
func (rt *Runtime) Metrics() *metrics.Metrics { return rt.msink }

// GlobalObject returns this process's local instance of the cluster's
// global object, or nil if init_global_object has not run yet (or its
// instance has since been reclaimed and not revived). Safe to call from
// any goroutine: rt.globalObj is loop-goroutine-owned, so the read is
// marshalled through submit the same way RemoteCall marshals a mutation.
func (rt *Runtime) GlobalObject() *GlobalObject {
	reply := make(chan *GlobalObject, 1)
	if !rt.submit(func() { reply <- rt.globalObj }) {
		return nil
	}
	return <-reply
}

// Shutdown stops the event loop and closes every peer connection. Safe to
// call more than once and from any goroutine.
func (rt *Runtime) Shutdown() {
	rt.closeOnce.Do(func() {
		close(rt.closeCh)
		rt.peers.each(func(p *Peer) { p.close() })
	})
}

// alloc allocates a fresh remote-reference identifier for a computation
// that will run on target.
func (rt *Runtime) alloc(target ProcessID) RemoteRef {
	return RemoteRef{Where: target, Whence: rt.self, ID: rt.ids.next()}
}

// submit hands fn to the loop goroutine for execution, preserving the
// invariant that the registry, waiting table, work queue, and peer set are
// mutated only there. Used by the public RemoteCall/RemoteDo/Sync/Fetch
// entry points, which may be called from any goroutine. Thunk bodies must
// not call submit themselves — they already run on the loop goroutine and
// would deadlock waiting on their own reply.
//
// submit reports whether fn was handed off. It returns false once the
// runtime has started shutting down, in which case fn never runs; callers
// that are waiting on a reply from fn must not block on it unconditionally.
func (rt *Runtime) submit(fn func()) bool {
	select {
	case rt.ctrl <- fn:
		return true
	case <-rt.closeCh:
		return false
	}
}
