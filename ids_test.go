// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid_test

import (
	"testing"

	"code.hybscloud.com/grid"
)

func TestRemoteRefEqualIgnoresWhere(t *testing.T) {
	a := grid.RemoteRef{Where: 1, Whence: 3, ID: 7}
	b := grid.RemoteRef{Where: 2, Whence: 3, ID: 7}
	if !a.Equal(b) {
		t.Fatalf("%v and %v should be equal: same (whence, id)", a, b)
	}
	c := grid.RemoteRef{Where: 1, Whence: 3, ID: 8}
	if a.Equal(c) {
		t.Fatalf("%v and %v should not be equal: different id", a, c)
	}
}

func TestLocationString(t *testing.T) {
	loc := grid.Location{Host: "127.0.0.1", Port: 9001}
	if got, want := loc.String(), "127.0.0.1:9001"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
