// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"encoding/gob"
	"log/slog"
	"net"
)

// Bootstrap is run by the initiator (process 0) before starting Run, while
// it is still the only goroutine touching the runtime. conns holds one
// already-connected net.Conn per worker, keyed by the id the initiator is
// assigning it; obtaining those connections (spawning processes, dialing
// out, SSH tunnels) is the caller's responsibility. Bootstrap sends each
// worker its id and the full location table as the first message on its
// connection, then wires every connection into the peer set.
func (rt *Runtime) Bootstrap(conns map[ProcessID]net.Conn, locations []Location) error {
	if rt.bootstrapDone {
		return ErrAlreadyBootstrapped
	}
	for id, conn := range conns {
		enc := gobEncoderFor(conn)
		env := Envelope{Verb: verbBootstrap, Payload: bootstrapPayload{Self: id, Locations: locations}}
		if err := enc.Encode(&env); err != nil {
			return err
		}
		p := newPeer(rt, id, locations[id], conn)
		p.start()
		rt.peers.put(p)
	}
	rt.bootstrapDone = true
	return nil
}

// AcceptBootstrap runs ln's accept loop and blocks until a bootstrapPayload
// arrives and this process has dialed out to every higher-numbered peer,
// materializing its id and peer set. Run must already be active in its own
// goroutine: the actual mutation happens there, and AcceptBootstrap only
// waits for it to signal completion.
//
// The completion callback is registered on the loop goroutine, and
// AcceptBootstrap waits for that registration to land before starting the
// accept loop — onBootstrapped is loop-goroutine-owned state, and a
// connection accepted before it was registered would have nothing to call.
func (rt *Runtime) AcceptBootstrap(ln net.Listener) error {
	done := make(chan struct{})
	registered := make(chan struct{})
	rt.submit(func() {
		rt.onBootstrapped = func() { close(done) }
		close(registered)
	})
	<-registered
	go rt.acceptLoop(ln)
	<-done
	return nil
}

// onBootstrapPayload runs on the loop goroutine. It records the initiator
// connection as peer 0, materializes the location table, and for every
// peer with a larger id dials out and announces itself via identify_socket,
// completing the cluster's full mesh.
func (rt *Runtime) onBootstrapPayload(conn net.Conn, dec *gob.Decoder, p bootstrapPayload) {
	if rt.bootstrapDone {
		rt.logger.Error("bootstrap payload arrived after bootstrap already completed", slog.Any("err", ErrAlreadyBootstrapped))
		_ = conn.Close()
		return
	}
	if int(p.Self) >= len(p.Locations) || int(Initiator) >= len(p.Locations) {
		rt.logger.Error("malformed bootstrap payload", slog.Any("err", wrapf(ErrBootstrapMismatch, "self %d out of range of %d locations", p.Self, len(p.Locations))))
		_ = conn.Close()
		return
	}

	rt.self = p.Self
	rt.locations = p.Locations

	initiator := newPeerWithDecoder(rt, Initiator, p.Locations[Initiator], conn, dec)
	initiator.start()
	rt.peers.put(initiator)

	for id, loc := range p.Locations {
		pid := ProcessID(id)
		if pid == rt.self || pid == Initiator {
			continue
		}
		if pid < rt.self {
			// The lower-numbered peer is responsible for dialing us; we
			// just wait for its identify_socket.
			continue
		}
		peer, err := rt.dial(pid, loc)
		if err != nil {
			rt.logger.Error("mesh dial failed", slog.Any("target", pid), slog.Any("err", err))
			continue
		}
		_ = peer.send(Envelope{Verb: VerbDo, Payload: doPayload{Func: "identify_socket", Args: []any{rt.self}}})
	}

	rt.bootstrapDone = true
	if rt.onBootstrapped != nil {
		rt.onBootstrapped()
		rt.onBootstrapped = nil
	}
}

// onAcceptedIdentify runs on the loop goroutine for an identify_socket
// announcement that arrived as the first message on a freshly accepted
// connection (the reverse half of the full mesh): the dialing peer tells
// us its id so we can record the accepted connection under it.
func (rt *Runtime) onAcceptedIdentify(conn net.Conn, dec *gob.Decoder, p doPayload) {
	if p.Func != "identify_socket" || len(p.Args) == 0 {
		rt.logger.Error("malformed identify_socket on accept")
		_ = conn.Close()
		return
	}
	id, ok := p.Args[0].(ProcessID)
	if !ok {
		rt.logger.Error("malformed identify_socket payload")
		_ = conn.Close()
		return
	}
	peer := newPeerWithDecoder(rt, id, Location{}, conn, dec)
	peer.start()
	rt.peers.put(peer)
}
