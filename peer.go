// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"encoding/gob"
	"errors"
	"io"
	"log/slog"
	"net"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// outboxCapacity bounds the number of pending envelopes a slow peer can
// accumulate before the writer goroutine falls behind the loop goroutine.
const outboxCapacity = 64

// Peer is the local record of one other process: its identity, location,
// connection, and a per-peer outbound framing buffer. The loop goroutine
// is the outbox's sole producer; the peer's own writer goroutine is its
// sole consumer, an exact lfq.SPSC fit.
type Peer struct {
	id   ProcessID
	loc  Location
	conn net.Conn
	dec  *gob.Decoder

	outbox *lfq.SPSC[Envelope]

	rt *Runtime
}

// newPeer wraps a connection on which nothing has been read yet — the
// dialing side of a handshake, which only ever writes the first message.
func newPeer(rt *Runtime, id ProcessID, loc Location, conn net.Conn) *Peer {
	return newPeerWithDecoder(rt, id, loc, conn, nil)
}

// newPeerWithDecoder wraps a connection whose first message (a
// bootstrapPayload or identify_socket :do) has already been decoded by
// greet using dec. gob.Decoder buffers ahead of the message boundary it
// reports, so readLoop must keep reading through that same *gob.Decoder
// rather than constructing a fresh one over the same net.Conn — a second
// decoder would silently drop whatever greet's had already buffered.
func newPeerWithDecoder(rt *Runtime, id ProcessID, loc Location, conn net.Conn, dec *gob.Decoder) *Peer {
	p := &Peer{
		id:     id,
		loc:    loc,
		conn:   conn,
		dec:    dec,
		rt:     rt,
		outbox: &lfq.SPSC[Envelope]{},
	}
	p.outbox.Init(outboxCapacity)
	return p
}

// start launches the peer's reader and writer goroutines. Called once,
// from the loop goroutine, after a connection is accepted or dialed.
func (p *Peer) start() {
	go p.readLoop()
	go p.writeLoop()
}

// send enqueues env for delivery, to be called only from the loop goroutine
// (the sole producer side of the SPSC discipline). Buffering here means the
// loop goroutine never blocks on peer I/O readiness; only the writer
// goroutine does.
func (p *Peer) send(env Envelope) error {
	return p.outbox.Enqueue(&env)
}

// writeLoop drains the outbox and gob-encodes envelopes directly onto the
// connection, retrying iox.ErrWouldBlock from the empty outbox with
// adaptive backoff.
func (p *Peer) writeLoop() {
	var bo iox.Backoff
	enc := gobEncoderFor(p.conn)
	for {
		env, err := p.outbox.Dequeue()
		if err != nil {
			if errors.Is(err, iox.ErrWouldBlock) {
				bo.Wait()
				continue
			}
			return
		}
		bo.Reset()
		if err := enc.Encode(env); err != nil {
			p.rt.logger.Error("peer write failed", slog.Any("peer", p.id), slog.Any("err", err))
			return
		}
	}
}

// readLoop blocking-decodes one Envelope at a time from the connection and
// forwards it to the loop goroutine's inbox. On EOF or decode error it
// notifies the loop and exits: a mid-stream decode error drops the
// connection explicitly rather than attempting to resync frame boundaries,
// since gob's stream has no independent framing to resync on.
func (p *Peer) readLoop() {
	dec := p.dec
	if dec == nil {
		dec = gobDecoderFor(p.conn)
	}
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if errors.Is(err, io.EOF) {
				p.notifyClosed(nil)
			} else {
				p.rt.logger.Error("peer decode failed", slog.Any("peer", p.id), slog.Any("err", err))
				p.notifyClosed(err)
			}
			return
		}
		select {
		case p.rt.inbox <- inboundMsg{peer: p.id, env: env}:
		case <-p.rt.closeCh:
			return
		}
	}
}

func (p *Peer) notifyClosed(cause error) {
	select {
	case p.rt.inbox <- inboundMsg{peer: p.id, closed: true, cause: cause}:
	case <-p.rt.closeCh:
	}
}

func (p *Peer) close() {
	_ = p.conn.Close()
}

// PeerSet is the process group materialized at bootstrap: every other
// process's identity, location, and connection. It is owned exclusively by
// the loop goroutine, and so needs no locking of its own.
type PeerSet struct {
	m map[ProcessID]*Peer
}

func newPeerSet() *PeerSet {
	return &PeerSet{m: make(map[ProcessID]*Peer)}
}

func (s *PeerSet) get(id ProcessID) (*Peer, bool) {
	p, ok := s.m[id]
	return p, ok
}

func (s *PeerSet) put(p *Peer) {
	s.m[p.id] = p
}

func (s *PeerSet) remove(id ProcessID) {
	if p, ok := s.m[id]; ok {
		p.close()
	}
	delete(s.m, id)
}

func (s *PeerSet) count() int {
	return len(s.m)
}

// each calls fn for every peer currently in the set, in unspecified order.
func (s *PeerSet) each(fn func(*Peer)) {
	for _, p := range s.m {
		fn(p)
	}
}
