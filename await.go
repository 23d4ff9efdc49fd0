// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import "code.hybscloud.com/kont"

// awaitRef is the single effect operation a thunk may perform: wait for the
// computation named by Ref to complete and yield its value. Verb selects
// whether the resolved value is the computed result (VerbFetch) or the
// RemoteRef itself (VerbSync).
//
// Unlike the non-blocking, immediately-retried dispatch style, awaitRef has
// no Dispatch method: the scheduler inspects Suspension.Op() directly and
// either resolves it in place (the referenced computation is already done)
// or parks the work item on the waiting table until a result arrives,
// possibly after a network round trip.
type awaitRef struct {
	kont.Phantom[any]
	Ref  RemoteRef
	Verb Verb
}
