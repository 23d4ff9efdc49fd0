// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid_test

import (
	"net"
	"testing"
	"time"

	"code.hybscloud.com/grid"
	"code.hybscloud.com/kont"
)

func init() {
	grid.RegisterThunk("squareOnWorker", func(rt *grid.Runtime, args []any) kont.Eff[any] {
		n := args[0].(int)
		return kont.Pure[any](n * n)
	})
	grid.RegisterThunk("identityOnWorker", func(rt *grid.Runtime, args []any) kont.Eff[any] {
		return kont.Pure[any](args[0])
	})
}

// twoProcessCluster dials a real TCP loopback connection between an
// initiator (process 0) and a single worker (process 1), bootstraps both
// ends, and starts both event loops. The two runtimes share this test
// binary's single funcRegistry, standing in for the separate processes
// that would each call RegisterThunk at startup in production.
func twoProcessCluster(t *testing.T) (initiator, worker *grid.Runtime) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	worker = grid.NewRuntime(0)
	go worker.Run()
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- worker.AcceptBootstrap(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	initiator = grid.NewRuntime(grid.Initiator)
	addr := ln.Addr().(*net.TCPAddr)
	locations := []grid.Location{
		{Host: "127.0.0.1", Port: 0},
		{Host: addr.IP.String(), Port: addr.Port},
	}
	if err := initiator.Bootstrap(map[grid.ProcessID]net.Conn{1: conn}, locations); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	go initiator.Run()

	select {
	case err := <-acceptErr:
		if err != nil {
			t.Fatalf("accept bootstrap: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never completed AcceptBootstrap")
	}

	t.Cleanup(func() {
		initiator.Shutdown()
		worker.Shutdown()
		_ = ln.Close()
	})
	return initiator, worker
}

func TestCrossProcessRemoteCallFetch(t *testing.T) {
	skipRace(t)
	initiator, _ := twoProcessCluster(t)

	ref := grid.RemoteCall(initiator, 1, "squareOnWorker", 7)
	if ref.Where != 1 {
		t.Fatalf("ref targets process %d, want 1", ref.Where)
	}

	v, err := grid.Fetch(initiator, ref)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.(int) != 49 {
		t.Fatalf("got %v, want 49", v)
	}
}

func TestCrossProcessSyncReturnsStrongHandle(t *testing.T) {
	skipRace(t)
	initiator, _ := twoProcessCluster(t)

	ref := grid.RemoteCall(initiator, 1, "squareOnWorker", 3)
	h, err := grid.Sync(initiator, ref)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !h.Strong() {
		t.Fatal("Sync must return a strong handle")
	}
	if !h.Ref().Equal(ref) {
		t.Fatalf("handle denotes %v, want %v", h.Ref(), ref)
	}
}

func TestCrossProcessRemoteDoFireAndForget(t *testing.T) {
	skipRace(t)
	initiator, _ := twoProcessCluster(t)
	done := make(chan struct{}, 1)
	grid.RegisterThunk("markDoneOnWorker", func(rt *grid.Runtime, args []any) kont.Eff[any] {
		done <- struct{}{}
		return kont.Pure[any](nil)
	})

	grid.RemoteDo(initiator, 1, "markDoneOnWorker")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fire-and-forget thunk never ran on the worker")
	}
}

// TestCrossProcessHandleRoundTripShortcutsToValue exercises the "ordinary
// value shortcut": a handle owned by the initiator, handed to the worker
// and returned unchanged, resolves back on the initiator to the
// already-computed value directly rather than a handle, since the
// initiator already owns and has completed the referenced item.
func TestCrossProcessHandleRoundTripShortcutsToValue(t *testing.T) {
	skipRace(t)
	initiator, _ := twoProcessCluster(t)

	local := grid.RemoteCall(initiator, grid.Initiator, "identityOnWorker", 99)
	localHandle, err := grid.Sync(initiator, local)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	roundTrip := grid.RemoteCall(initiator, 1, "identityOnWorker", localHandle)
	v, err := grid.Fetch(initiator, roundTrip)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if v.(int) != 99 {
		t.Fatalf("got %v, want the shortcut-resolved value 99", v)
	}
}

// TestCreateGlobalObjectInstallsOnBothProcesses drives the full
// empty_global_object/init_global_object creation protocol across a real
// two-process cluster and checks that both ends end up holding their own
// instance, cyclically cross-referencing each other's.
func TestCreateGlobalObjectInstallsOnBothProcesses(t *testing.T) {
	skipRace(t)
	initiator, worker := twoProcessCluster(t)

	obj, err := grid.CreateGlobalObject(initiator, []grid.ProcessID{grid.Initiator, 1})
	if err != nil {
		t.Fatalf("create global object: %v", err)
	}
	if obj == nil {
		t.Fatal("expected the initiator's own instance back")
	}
	if initiator.GlobalObject() != obj {
		t.Fatal("initiator's installed instance does not match the returned one")
	}

	// CreateGlobalObject only returns once every member, including the
	// worker, has synced on its own init_global_object call, so the
	// worker's instance is already installed by this point.
	if worker.GlobalObject() == nil {
		t.Fatal("worker never installed its own instance of the global object")
	}
}

// TestWorkerLoopExitsWhenLastPeerDisconnects covers the worker half of
// shutdown: once a non-initiator's peer set empties out after bootstrap
// completed, its event loop returns on its own rather than idling forever.
func TestWorkerLoopExitsWhenLastPeerDisconnects(t *testing.T) {
	skipRace(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	worker := grid.NewRuntime(0)
	runDone := make(chan struct{})
	go func() {
		worker.Run()
		close(runDone)
	}()
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- worker.AcceptBootstrap(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	locations := []grid.Location{
		{Host: "127.0.0.1", Port: 0},
		{Host: addr.IP.String(), Port: addr.Port},
	}
	initiator := grid.NewRuntime(grid.Initiator)
	if err := initiator.Bootstrap(map[grid.ProcessID]net.Conn{1: conn}, locations); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	go initiator.Run()
	t.Cleanup(initiator.Shutdown)

	select {
	case err := <-acceptErr:
		if err != nil {
			t.Fatalf("accept bootstrap: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker never completed AcceptBootstrap")
	}

	initiator.Shutdown()

	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker's event loop never returned after its last peer disconnected")
	}
}
