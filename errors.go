// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"errors"
	"fmt"
)

var (
	ErrRuntimeClosed       = errors.New("grid: runtime is shutting down")
	ErrUnknownPeer         = errors.New("grid: unknown peer id")
	ErrUnknownThunk        = errors.New("grid: thunk not registered")
	ErrNotFound            = errors.New("grid: remote reference not found in registry")
	ErrBootstrapMismatch   = errors.New("grid: bootstrap payload did not match expected process id")
	ErrProtocolViolation   = errors.New("grid: malformed or out-of-order wire message")
	ErrAlreadyBootstrapped = errors.New("grid: runtime already bootstrapped")
)

// ThunkError wraps a value recovered from a panicking thunk. It is the
// result value delivered to every waiter, local or remote, of a thunk that
// failed; it implements GobEncode/GobDecode so it can always cross the
// wire even when the originally recovered value cannot.
type ThunkError struct {
	Recovered any
	text      string
}

func newThunkError(recovered any) *ThunkError {
	return &ThunkError{Recovered: recovered, text: fmt.Sprintf("%v", recovered)}
}

func (e *ThunkError) Error() string {
	if e.text != "" {
		return "grid: thunk panicked: " + e.text
	}
	return fmt.Sprintf("grid: thunk panicked: %v", e.Recovered)
}

// GobEncode only ever encodes the stringified form: the point of this type
// is to guarantee a failure can always be reported to a waiter, even when
// Recovered itself is not gob-registered.
func (e *ThunkError) GobEncode() ([]byte, error) {
	text := e.text
	if text == "" {
		text = fmt.Sprintf("%v", e.Recovered)
	}
	return []byte(text), nil
}

func (e *ThunkError) GobDecode(data []byte) error {
	e.text = string(data)
	e.Recovered = e.text
	return nil
}

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)
}
