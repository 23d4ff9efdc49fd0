// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"log/slog"
	"net"
)

// Listen starts accepting inbound connections on addr. The accept loop
// runs on its own goroutine and funnels every accepted connection's first
// message (a bootstrapPayload or an identify_socket :do) onto the inbox.
func (rt *Runtime) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go rt.acceptLoop(ln)
	return ln, nil
}

func (rt *Runtime) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-rt.closeCh:
				return
			default:
			}
			rt.logger.Error("accept failed", slog.Any("err", err))
			continue
		}
		go rt.greet(conn)
	}
}

// greet reads exactly one message off a freshly accepted connection before
// handing it to the loop goroutine: either the initiator's bootstrapPayload
// (this process's very first connection) or an identify_socket :do sent by
// a lower-numbered peer completing the mesh.
func (rt *Runtime) greet(conn net.Conn) {
	dec := gobDecoderFor(conn)
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		rt.logger.Error("bootstrap decode failed", slog.Any("err", err))
		_ = conn.Close()
		return
	}

	switch p := env.Payload.(type) {
	case bootstrapPayload:
		rt.submit(func() { rt.onBootstrapPayload(conn, dec, p) })
	case doPayload:
		rt.submit(func() { rt.onAcceptedIdentify(conn, dec, p) })
	default:
		rt.logger.Error("unexpected first message on accepted connection", slog.Any("verb", env.Verb))
		_ = conn.Close()
	}
}

// dial opens an outbound connection to loc, wraps it in a Peer, and
// registers it in the peer set. Called only from the loop goroutine.
func (rt *Runtime) dial(id ProcessID, loc Location) (*Peer, error) {
	conn, err := net.Dial("tcp", loc.String())
	if err != nil {
		return nil, err
	}
	p := newPeer(rt, id, loc, conn)
	p.start()
	rt.peers.put(p)
	return p, nil
}
