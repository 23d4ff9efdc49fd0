// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"code.hybscloud.com/kont"
)

// Reify converts a Cont-world thunk to Expr-world. The resulting Expr is
// what gets stored on a workItem and stepped by the scheduler's loop
// goroutine via kont.StepExpr.
func Reify[A any](m kont.Eff[A]) kont.Expr[A] {
	return kont.Reify(m)
}

// Reflect converts an Expr-world thunk back to Cont-world, for callers that
// want to keep composing with Bind/Then after retrieving a stored Expr.
func Reflect[A any](m kont.Expr[A]) kont.Eff[A] {
	return kont.Reflect(m)
}
