// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"encoding/gob"
	"io"
	"sync"

	"code.hybscloud.com/kont"
)

// gobEncoderFor and gobDecoderFor are the sole construction points for the
// wire codec, grounded on the default gob codec net/rpc uses: one
// long-lived encoder/decoder pair per connection, each Envelope a single
// Encode/Decode call sharing the stream's type cache across messages.
func gobEncoderFor(w io.Writer) *gob.Encoder { return gob.NewEncoder(w) }

func gobDecoderFor(r io.Reader) *gob.Decoder { return gob.NewDecoder(r) }

// Envelope is the single wire message shape: every message between two
// processes is an Envelope gob-encoded onto the connection, one per frame.
type Envelope struct {
	Verb    Verb
	Payload any
}

// callPayload is the :call message body: target creates a work item,
// registers it under OID, adds OID.Whence to the client set, and enqueues
// the named thunk applied to Args.
type callPayload struct {
	OID  RemoteRef
	Func string
	Args []any
}

// doPayload is the :do message body: fire-and-forget, no registry entry.
type doPayload struct {
	Func string
	Args []any
}

// refPayload is the :sync and :fetch message body.
type refPayload struct {
	OID RemoteRef
}

// resultPayload is the :result message body, matched against the local
// waiting table by (Verb, OID) on arrival.
type resultPayload struct {
	Verb  Verb
	OID   RemoteRef
	Value any
}

// bootstrapPayload is the first message on a freshly accepted connection:
// the initiator's assignment of an id and the full location table.
type bootstrapPayload struct {
	Self      ProcessID
	Locations []Location
}

func init() {
	gob.Register(callPayload{})
	gob.Register(doPayload{})
	gob.Register(refPayload{})
	gob.Register(resultPayload{})
	gob.Register(bootstrapPayload{})
	gob.Register(&ThunkError{})

	// RemoteRef and ProcessID appear as the dynamic type of an any-typed
	// field: a ref or process id passed as a del_client/add_client/
	// identify_socket argument. Location is registered as well, although
	// it only travels inside bootstrapPayload's concretely typed Locations
	// field.
	gob.Register(RemoteRef{})
	gob.Register(ProcessID(0))
	gob.Register(Location{})
}

// ThunkFunc is the shape every registered thunk body must have. args is the
// already gob-decoded argument list; the returned kont.Eff[any] is stepped
// by the scheduler exactly like any other thunk.
type ThunkFunc func(rt *Runtime, args []any) kont.Eff[any]

// funcRegistry resolves the string names carried on the wire to the thunk
// bodies registered locally. gob cannot serialize a Go closure, so a thunk
// crossing the wire is always a name plus gob-able arguments; RegisterThunk
// is how a caller makes a name resolvable on every process that might run
// it.
var funcRegistry = struct {
	mu sync.RWMutex
	m  map[string]ThunkFunc
}{m: make(map[string]ThunkFunc)}

// RegisterThunk makes name resolvable as a remote callee. It must be called
// (typically from an init func) on every process that might be asked to run
// it, including by control-verb messages dispatched internally by this
// package under the names del_client, add_client, identify_socket,
// empty_global_object and init_global_object.
func RegisterThunk(name string, fn ThunkFunc) {
	funcRegistry.mu.Lock()
	defer funcRegistry.mu.Unlock()
	funcRegistry.m[name] = fn
}

func lookupThunk(name string) (ThunkFunc, bool) {
	funcRegistry.mu.RLock()
	defer funcRegistry.mu.RUnlock()
	fn, ok := funcRegistry.m[name]
	return fn, ok
}

// buildThunk resolves name and applies it to args, or returns a thunk that
// immediately fails with ErrUnknownThunk — this keeps resolution failures
// inside the normal done/result/notify path rather than forcing a second
// error channel. A panic raised while the thunk is built (by its body, or by
// kont.Reify running an effect-free prefix) is turned into the same kind of
// already-failed thunk carrying a *ThunkError.
func buildThunk(rt *Runtime, name string, args []any) (expr kont.Expr[any]) {
	fn, ok := lookupThunk(name)
	if !ok {
		err := wrapf(ErrUnknownThunk, "thunk %q", name)
		return kont.Reify(kont.Pure[any](newThunkError(err)))
	}
	defer func() {
		if r := recover(); r != nil {
			expr = kont.Reify(kont.Pure[any](newThunkError(r)))
		}
	}()
	return kont.Reify(fn(rt, args))
}

