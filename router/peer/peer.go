// Package peer implements the Peer abstraction and Peer Registry (spec
// components 4.C): the router's bookkeeping for client, remote-node,
// local-computation and control-plane connections.
package peer

import (
	"sync"
	"sync/atomic"

	"github.com/dreamworksanimation/arras4-node/common/queue"
	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/envelope"
	"github.com/dreamworksanimation/arras4-node/router/transport"
)

// Class is one of the four peer kinds the router distinguishes.
type Class uint8

const (
	ClassClient Class = iota
	ClassNode
	ClassComputation
	ClassControlPlane
)

// Peer owns one transport connection, a send queue, and a per-peer
// identity. Peers are created on accept or on outbound connect and are
// only ever destroyed via the accept thread's end-of-loop deletion
// sweep, never inline during routing, so in-flight lookups never race
// against a disappearing peer (spec ownership rules, P1).
type Peer struct {
	Class Class

	// SessionId identifies a client peer; NodeId identifies a remote-node
	// peer; ComputationId identifies a local-computation peer. Exactly
	// one is meaningful per Class.
	SessionId     ids.SessionId
	NodeId        ids.NodeId
	ComputationId ids.ComputationId

	conn *transport.Connection
	send *queue.Blocking[*envelope.Envelope]

	refs int32

	mu      sync.Mutex
	doomed  bool // set once marked for destruction; cleared peers are never re-added
}

// New creates a peer wrapping an already-registered connection.
func New(class Class, conn *transport.Connection) *Peer {
	return &Peer{
		Class: class,
		conn:  conn,
		send:  queue.NewBlocking[*envelope.Envelope](),
		refs:  1,
	}
}

// Connection returns the underlying transport connection.
func (p *Peer) Connection() *transport.Connection { return p.conn }

// SendQueue returns the peer's outbound queue; the send worker pops from
// it and the router's addressing logic pushes onto it.
func (p *Peer) SendQueue() *queue.Blocking[*envelope.Envelope] { return p.send }

// Retain increments the peer's reference count. No routing path in
// this repository calls it, and the count does not delay destruction.
func (p *Peer) Retain() { atomic.AddInt32(&p.refs, 1) }

// Release decrements the reference count. It does not itself tear down
// the connection; the accept thread's deletion sweep does that for
// every doomed peer, whatever its reference count.
func (p *Peer) Release() int32 { return atomic.AddInt32(&p.refs, -1) }

// Refs reports the current reference count.
func (p *Peer) Refs() int32 { return atomic.LoadInt32(&p.refs) }

// MarkDoomed flags the peer for destruction on the next accept-loop
// sweep. Safe to call more than once.
func (p *Peer) MarkDoomed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doomed = true
}

// Doomed reports whether the peer has been marked for destruction.
func (p *Peer) Doomed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doomed
}

// Destroy shuts down the transport and closes the send queue. Only the
// accept thread's deletion sweep calls this.
func (p *Peer) Destroy() {
	p.conn.Shutdown()
	p.send.Close()
}
