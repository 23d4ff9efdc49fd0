// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"fmt"
	"net"
	"strconv"
)

// ProcessID is a small non-negative integer assigned at cluster formation.
// Process 0 always designates the initiating client.
type ProcessID uint32

// Initiator is the conventional process id of the client that forms the
// cluster. The protocol itself is peer-symmetric; only bootstrap treats
// Initiator specially.
const Initiator ProcessID = 0

// Location is a (host, port) pair at which a process can be dialed.
type Location struct {
	Host string
	Port int
}

func (l Location) String() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// RemoteRef is the triple (where, whence, id) that names a remote
// computation. Equality and hashing are defined on (Whence, ID) only —
// Where is transport metadata, always recoverable from the owner's
// registry, and two RemoteRef values with different Where but the same
// (Whence, ID) denote the same computation.
type RemoteRef struct {
	Where  ProcessID
	Whence ProcessID
	ID     uint64
}

// Equal reports whether r and other denote the same computation.
func (r RemoteRef) Equal(other RemoteRef) bool {
	return r.Whence == other.Whence && r.ID == other.ID
}

func (r RemoteRef) String() string {
	return fmt.Sprintf("ref(where=%d,whence=%d,id=%d)", r.Where, r.Whence, r.ID)
}

// refKey is the comparable map key derived from a RemoteRef: (Whence, ID)
// only, matching RemoteRef.Equal.
type refKey struct {
	Whence ProcessID
	ID     uint64
}

func (r RemoteRef) key() refKey {
	return refKey{Whence: r.Whence, ID: r.ID}
}

// Verb names one of the five wire message kinds, or (for VerbSync and
// VerbFetch) the query performed against a RemoteRef: Sync waits for
// completion and returns the handle itself; Fetch waits for completion and
// returns the computed value.
type Verb uint8

const (
	VerbCall Verb = iota + 1
	VerbDo
	VerbSync
	VerbFetch
	VerbResult
	verbBootstrap // wire-only: first message on a freshly accepted connection
)

func (v Verb) String() string {
	switch v {
	case VerbCall:
		return "call"
	case VerbDo:
		return "do"
	case VerbSync:
		return "sync"
	case VerbFetch:
		return "fetch"
	case VerbResult:
		return "result"
	case verbBootstrap:
		return "bootstrap"
	default:
		return "verb(unknown)"
	}
}
