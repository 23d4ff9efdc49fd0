// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import "code.hybscloud.com/kont"

// FetchThen awaits the computed value of ref and then continues with next,
// discarding the value. Fuses Perform(awaitRef{ref, VerbFetch}) + Then.
func FetchThen[B any](ref RemoteRef, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(awaitRef{Ref: ref, Verb: VerbFetch}), next)
}

// FetchBind awaits the computed value of ref and passes it to f.
// Fuses Perform(awaitRef{ref, VerbFetch}) + Bind.
func FetchBind[B any](ref RemoteRef, f func(any) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(awaitRef{Ref: ref, Verb: VerbFetch}), f)
}

// SyncThen awaits completion of ref and then continues with next, discarding
// the resolved RemoteRef. Fuses Perform(awaitRef{ref, VerbSync}) + Then.
func SyncThen[B any](ref RemoteRef, next kont.Eff[B]) kont.Eff[B] {
	return kont.Then(kont.Perform(awaitRef{Ref: ref, Verb: VerbSync}), next)
}

// SyncBind awaits completion of ref and passes the resolved RemoteRef to f.
// Fuses Perform(awaitRef{ref, VerbSync}) + Bind.
func SyncBind[B any](ref RemoteRef, f func(any) kont.Eff[B]) kont.Eff[B] {
	return kont.Bind(kont.Perform(awaitRef{Ref: ref, Verb: VerbSync}), f)
}
