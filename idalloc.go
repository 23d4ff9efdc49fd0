// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import "code.hybscloud.com/atomix"

// idAllocator hands out monotonically increasing RemoteRef identifiers for
// computations whose Whence is the owning Runtime's own process id. Ids are
// never reused, so a stale Handle can always be told apart from a fresh
// computation that happens to reuse a slot.
type idAllocator struct {
	counter atomix.Uint64
}

// next returns the next id, starting at 1. 0 is reserved to mean "no ref".
func (a *idAllocator) next() uint64 {
	return a.counter.Add(1)
}
