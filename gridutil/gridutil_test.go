// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gridutil_test

import (
	"testing"
	"time"

	"code.hybscloud.com/grid"
	"code.hybscloud.com/grid/gridutil"
	"code.hybscloud.com/kont"
)

func newRunningRuntime(t *testing.T) *grid.Runtime {
	t.Helper()
	rt := grid.NewRuntime(0)
	go rt.Run()
	t.Cleanup(rt.Shutdown)
	return rt
}

func TestPMapSingleTarget(t *testing.T) {
	rt := newRunningRuntime(t)
	grid.RegisterThunk("gridutil_add_one", func(rt *grid.Runtime, args []any) kont.Eff[any] {
		return kont.Pure[any](args[0].(int) + 1)
	})

	refs := gridutil.PMap(rt, []grid.ProcessID{0}, "gridutil_add_one", []int{1, 2, 3})
	if len(refs) != 3 {
		t.Fatalf("got %d refs, want 3", len(refs))
	}
	for i, want := range []int{2, 3, 4} {
		v, err := grid.Fetch(rt, refs[i])
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if v.(int) != want {
			t.Fatalf("fetch %d got %v, want %d", i, v, want)
		}
	}
}

func TestBroadcastFiresEveryTarget(t *testing.T) {
	rt := newRunningRuntime(t)
	hits := make(chan grid.ProcessID, 4)
	grid.RegisterThunk("gridutil_mark_hit", func(rt *grid.Runtime, args []any) kont.Eff[any] {
		hits <- args[0].(grid.ProcessID)
		return kont.Pure[any](nil)
	})

	gridutil.Broadcast(rt, []grid.ProcessID{0, 0, 0}, "gridutil_mark_hit", grid.ProcessID(0))

	for i := 0; i < 3; i++ {
		select {
		case <-hits:
		case <-time.After(time.Second):
			t.Fatalf("broadcast hit %d never arrived", i)
		}
	}
}

func TestPMapPanicsWithoutTargets(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty targets")
		}
	}()
	rt := newRunningRuntime(t)
	gridutil.PMap(rt, nil, "gridutil_add_one", []int{1})
}
