package core

import (
	"net"
	"time"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/peer"
	"github.com/dreamworksanimation/arras4-node/router/transport"
)

// handleAccepted reads the registration record from a freshly accepted
// socket and runs the new-connection filter chain: CLIENT, NODE,
// EXECUTOR, CONTROL in order. The first filter whose registration type
// matches takes ownership; refusal closes the socket with a logged
// reason (spec 4.E).
func (r *Router) handleAccepted(conn net.Conn) {
	tc := transport.NewConnection(conn)
	reg, err := tc.ReadRegistration()
	if err != nil {
		r.log.Warn("refusing connection from %s: %v", conn.RemoteAddr(), err)
		_ = tc.Close()
		return
	}

	switch reg.Type {
	case transport.TypeClient:
		r.acceptClient(tc, reg)
	case transport.TypeNode:
		r.acceptNode(tc, reg)
	case transport.TypeExecutor:
		r.acceptComputation(tc, reg)
	case transport.TypeControl:
		r.acceptControl(tc, reg)
	default:
		r.log.Warn("refusing connection from %s: unknown registration type %d", conn.RemoteAddr(), reg.Type)
		_ = tc.Close()
	}
}

func (r *Router) acceptClient(tc *transport.Connection, reg transport.Registration) {
	p := peer.New(peer.ClassClient, tc)
	p.SessionId = reg.SessionId
	r.Registry.TrackClient(reg.SessionId, p)
	r.spawnPeerWorkers(p)
	r.log.Debug("accepted CLIENT peer for session %s", reg.SessionId)
}

func (r *Router) acceptComputation(tc *transport.Connection, reg transport.Registration) {
	p := peer.New(peer.ClassComputation, tc)
	p.ComputationId = reg.ComputationId
	r.Registry.TrackComputation(reg.ComputationId, p)
	r.spawnPeerWorkers(p)
	r.log.Debug("accepted EXECUTOR peer %s", reg.ComputationId)
}

func (r *Router) acceptControl(tc *transport.Connection, reg transport.Registration) {
	p := peer.New(peer.ClassControlPlane, tc)
	if !r.Registry.TrackControl(p) {
		r.log.Warn("refusing second CONTROL connection")
		_ = tc.Close()
		return
	}
	r.spawnPeerWorkers(p)
	r.log.Debug("accepted CONTROL peer")
}

// acceptNode implements the node-to-node tie-break (spec 4.E, P3): the
// steady-state initiator is always the node with the numerically
// greater id.
func (r *Router) acceptNode(tc *transport.Connection, reg transport.Registration) {
	peerNodeId := reg.NodeId
	local := r.cfg.NodeId

	existing, hasExisting := r.Registry.FindNode(peerNodeId)

	if peerNodeId.GreaterThan(local) {
		if !hasExisting {
			p := peer.New(peer.ClassNode, tc)
			p.NodeId = peerNodeId
			r.Registry.TrackNode(peerNodeId, p)
			r.spawnPeerWorkers(p)
			r.flushPending(peerNodeId)
			r.log.Debug("accepted NODE peer %s (greater id, using inbound)", peerNodeId)
			return
		}
		// existing connection record: swap the new socket in.
		old := existing
		newPeer := peer.New(peer.ClassNode, tc)
		newPeer.NodeId = peerNodeId
		r.Registry.TrackNode(peerNodeId, newPeer)
		r.spawnPeerWorkers(newPeer)
		r.queueDelete(old)
		r.flushPending(peerNodeId)
		r.log.Debug("swapped in new socket for NODE peer %s", peerNodeId)
		return
	}

	// peerNodeId < local: we should be the initiator, not them.
	if r.dialInProgress(peerNodeId) || hasExisting {
		r.log.Debug("refusing inbound NODE connection from %s: outbound wins", peerNodeId)
		_ = tc.Close()
		return
	}

	r.log.Debug("refusing inbound NODE connection from %s, initiating reciprocal outbound", peerNodeId)
	_ = tc.Close()
	r.dialNode(peerNodeId, Endpoint{})
}

func (r *Router) dialInProgress(nid ids.NodeId) bool {
	r.dialMu.Lock()
	defer r.dialMu.Unlock()
	return r.dialInFlight[nid]
}

// Endpoint is the minimal dial target the router needs; callers that
// already know the routing-table endpoint pass it in, otherwise the
// router resolves it lazily via routing data when actually addressing
// an envelope to that node.
type Endpoint struct {
	Address string
}

// dialNode opens an outbound NODE connection and performs the outbound
// handshake. If ep.Address is empty, the caller must resolve it first
// (e.g. from session routing data) — this path is only reached from the
// tie-break, which resolves nothing itself since the spec's tie-break
// section describes the steady-state connection, not a dial to an
// unknown address.
func (r *Router) dialNode(nid ids.NodeId, ep Endpoint) {
	if ep.Address == "" {
		r.log.Warn("cannot dial node %s: no known endpoint yet", nid)
		return
	}

	r.dialMu.Lock()
	r.dialInFlight[nid] = true
	r.dialMu.Unlock()

	go func() {
		defer func() {
			r.dialMu.Lock()
			delete(r.dialInFlight, nid)
			r.dialMu.Unlock()
		}()

		conn, err := net.DialTimeout("tcp", ep.Address, 5*time.Second)
		if err != nil {
			r.log.Warn("failed to dial node %s at %s: %v", nid, ep.Address, err)
			return
		}
		tc := transport.NewConnection(conn)
		if err := tc.WriteRegistration(transport.Registration{
			Type:   transport.TypeNode,
			NodeId: r.cfg.NodeId,
		}); err != nil {
			r.log.Warn("failed to register outbound connection to node %s: %v", nid, err)
			_ = tc.Close()
			return
		}

		p := peer.New(peer.ClassNode, tc)
		p.NodeId = nid
		r.Registry.TrackNode(nid, p)
		r.spawnPeerWorkers(p)
		r.flushPending(nid)
		r.log.Debug("established outbound NODE connection to %s", nid)
	}()
}
