package peer

import (
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/common/utils/hashmap"
	"github.com/dreamworksanimation/arras4-node/router/envelope"
)

// Registry holds the four indexed peer maps plus the pending-envelopes
// stash for clients that have not yet connected (spec 4.C). Grounded on
// the bookkeeping in the teacher's common/jupyter/router package, with
// the ZMQ-specific connection handling stripped and the maps swapped
// for the generic hashmap backends used throughout this repo. Map keys
// are the ids' canonical string form since ConcurrentMap's sharded
// backend is keyed on strings.
type Registry struct {
	clients      *hashmap.ConcurrentMap[string, *Peer]
	nodes        *hashmap.ConcurrentMap[string, *Peer]
	computations *hashmap.ConcurrentMap[string, *Peer]

	controlMu sync.Mutex
	control   *Peer

	stashMu sync.Mutex
	stash   map[ids.SessionId][]*envelope.Envelope

	log logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{
		clients:      hashmap.NewConcurrentMap[*Peer](32),
		nodes:        hashmap.NewConcurrentMap[*Peer](32),
		computations: hashmap.NewConcurrentMap[*Peer](32),
		stash:        make(map[ids.SessionId][]*envelope.Envelope),
	}
	config.InitLogger(&r.log, r)
	return r
}

// TrackClient registers p as the client peer for sid, atomically
// draining any stashed envelopes into p's send queue so no enqueue can
// race with a concurrent Stash call (spec 4.C).
func (r *Registry) TrackClient(sid ids.SessionId, p *Peer) {
	r.stashMu.Lock()
	defer r.stashMu.Unlock()

	r.clients.Store(sid.String(), p)
	for _, env := range r.stash[sid] {
		_ = p.SendQueue().Push(env)
	}
	delete(r.stash, sid)
}

// TrackNode registers p as the remote-node peer for nid.
func (r *Registry) TrackNode(nid ids.NodeId, p *Peer) {
	r.nodes.Store(nid.String(), p)
}

// TrackComputation registers p as the local-computation peer for cid.
func (r *Registry) TrackComputation(cid ids.ComputationId, p *Peer) {
	r.computations.Store(cid.String(), p)
}

// TrackControl registers the singleton control-plane peer, refusing a
// second registration (spec 4.E filter chain: "a second CONTROL
// connection" is refused).
func (r *Registry) TrackControl(p *Peer) bool {
	r.controlMu.Lock()
	defer r.controlMu.Unlock()
	if r.control != nil {
		return false
	}
	r.control = p
	return true
}

// FindClient looks up the client peer for sid.
func (r *Registry) FindClient(sid ids.SessionId) (*Peer, bool) { return r.clients.Load(sid.String()) }

// FindNode looks up the remote-node peer for nid.
func (r *Registry) FindNode(nid ids.NodeId) (*Peer, bool) { return r.nodes.Load(nid.String()) }

// FindComputation looks up the local-computation peer for cid.
func (r *Registry) FindComputation(cid ids.ComputationId) (*Peer, bool) {
	return r.computations.Load(cid.String())
}

// FindControl returns the control-plane peer, if any.
func (r *Registry) FindControl() (*Peer, bool) {
	r.controlMu.Lock()
	defer r.controlMu.Unlock()
	return r.control, r.control != nil
}

// Untrack removes p from whichever map matches its class and identity,
// without destroying it (Destroy happens separately on the accept
// thread's sweep, per the ownership rules in spec 3).
func (r *Registry) Untrack(p *Peer) {
	switch p.Class {
	case ClassClient:
		r.clients.Delete(p.SessionId.String())
	case ClassNode:
		r.nodes.Delete(p.NodeId.String())
	case ClassComputation:
		r.computations.Delete(p.ComputationId.String())
	case ClassControlPlane:
		r.controlMu.Lock()
		if r.control == p {
			r.control = nil
		}
		r.controlMu.Unlock()
	}
}

// Stash appends env to the pending list for a not-yet-connected client.
func (r *Registry) Stash(sid ids.SessionId, env *envelope.Envelope) {
	r.stashMu.Lock()
	defer r.stashMu.Unlock()
	r.stash[sid] = append(r.stash[sid], env)
}

// ClearStashed drops any pending envelopes for sid, e.g. when a session
// is deleted before its client ever connected.
func (r *Registry) ClearStashed(sid ids.SessionId) {
	r.stashMu.Lock()
	defer r.stashMu.Unlock()
	delete(r.stash, sid)
}

// RangeNodes iterates all tracked remote-node peers.
func (r *Registry) RangeNodes(cb func(*Peer) bool) {
	r.nodes.Range(func(_ string, p *Peer) bool { return cb(p) })
}

// RangeComputations iterates all tracked local-computation peers.
func (r *Registry) RangeComputations(cb func(*Peer) bool) {
	r.computations.Range(func(_ string, p *Peer) bool { return cb(p) })
}
