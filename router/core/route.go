package core

import (
	"fmt"
	"net"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/control"
	"github.com/dreamworksanimation/arras4-node/router/envelope"
	"github.com/dreamworksanimation/arras4-node/router/peer"
	"github.com/dreamworksanimation/arras4-node/router/routing"
)

func idBytes(c envelope.Class) [16]byte {
	return ids.Id(c).Bytes()
}

func idFromBytes(b [16]byte) ids.Id {
	return ids.FromBytes(b)
}

func encodeAddress(a ids.Address) []byte {
	buf := make([]byte, 0, 48)
	sb := a.Session.Bytes()
	nb := a.Node.Bytes()
	cb := a.Computation.Bytes()
	buf = append(buf, sb[:]...)
	buf = append(buf, nb[:]...)
	buf = append(buf, cb[:]...)
	return buf
}

func decodeAddress(buf []byte) ids.Address {
	var sb, nb, cb [16]byte
	copy(sb[:], buf[0:16])
	copy(nb[:], buf[16:32])
	copy(cb[:], buf[32:48])
	return ids.Address{
		Session:     ids.FromBytes(sb),
		Node:        ids.FromBytes(nb),
		Computation: ids.FromBytes(cb),
	}
}

// dispatch handles one received envelope: control classes never reach
// routing (they're consumed by the router itself), everything else goes
// through addressing.
func (r *Router) dispatch(from *peer.Peer, env *envelope.Envelope) {
	if envelope.AlwaysEager(env.Class) {
		r.handleEagerClass(from, env)
		return
	}

	if from.Class == peer.ClassClient {
		env = r.applyClientAddresser(from, env)
	}

	r.routeEnvelope(env)
}

func (r *Router) handleEagerClass(from *peer.Peer, env *envelope.Envelope) {
	switch env.Class {
	case envelope.ClassHeartbeat:
		r.emit("computationHeartbeat", map[string]any{"computationId": from.ComputationId.String()})
	case envelope.ClassPong:
		// liveness only; no routing or event needed.
	case envelope.ClassControl:
		r.routeEnvelope(env)
	case envelope.ClassControlPlane:
		r.controlQueue.Push(env)
	}
}

// handleControl decodes a ClassControlPlane message from the agent and
// applies it to the routing table, acking back on the control peer
// (spec 4.G: the agent's roundTrip blocks on this Acknowledge).
func (r *Router) handleControl(env *envelope.Envelope) {
	var msg control.Message
	if err := env.Decode(&msg); err != nil {
		r.log.Warn("malformed control-plane message: %v", err)
		return
	}

	switch msg.Kind {
	case control.MessageRouting:
		r.handleSessionRouting(msg.Payload)
	case control.MessageSignal:
		r.handleSessionSignal(msg.Payload)
	case control.MessageDisconnect:
		r.handleDisconnectClient(msg.Payload)
	default:
		r.log.Warn("control-plane message with unknown kind %q", msg.Kind)
	}
}

// handleSessionRouting applies a SessionRoutingData message's Action to
// the Session Routing Table and acknowledges the result.
func (r *Router) handleSessionRouting(raw json.RawMessage) {
	var data control.SessionRoutingData
	if err := json.Unmarshal(raw, &data); err != nil {
		r.log.Warn("malformed session routing message: %v", err)
		return
	}

	var applyErr error
	switch data.Action {
	case control.ActionInitialize, control.ActionUpdate:
		applyErr = r.applySessionRouting(data)
	case control.ActionRelease:
		r.Routing.Release(data.SessionId)
	default:
		applyErr = fmt.Errorf("unknown routing action %q", data.Action)
	}

	r.sendAcknowledge(data.SessionId, applyErr)
}

// applySessionRouting installs or extends a session's routing record:
// node endpoints and computation locations are additive (spec 3: "an
// existing entry must never change"), so Initialize and Update share
// the same merge logic.
func (r *Router) applySessionRouting(data control.SessionRoutingData) error {
	rdata, known := r.Routing.Promote(data.SessionId)
	if !known {
		rdata = routing.NewData(data.SessionId)
	}

	for idStr, n := range data.Nodes {
		nid, err := ids.Parse(idStr)
		if err != nil {
			return fmt.Errorf("malformed node id %q: %w", idStr, err)
		}
		rdata.AddNode(nid, routing.Endpoint{Hostname: n.Host, IP: n.IP, Port: n.Port, Entry: n.Entry})
	}

	for name, ce := range data.Computations {
		rdata.AddComputation(name, routing.ComputationRef{NodeId: ce.NodeId, ComputationId: ce.ComputationId})
	}

	if len(data.ClientAddresser) > 0 {
		applyAddresserRules(rdata, data.ClientAddresser)
	}

	if !known {
		r.Routing.Initialize(rdata)
	}

	return nil
}

// applyAddresserRules resolves each rule's computation name against the
// session's known computations and merges the resulting destination
// into the entry node's addresser, adding only (spec R2: "computations
// see only monotonic additions to the rule set").
func applyAddresserRules(rdata *routing.Data, rules []control.AddresserRule) {
	addresser, ok := rdata.Addresser()
	if !ok {
		addresser = routing.NewClientAddresser()
		rdata.SetAddresser(addresser)
	}
	for _, rule := range rules {
		ref, ok := rdata.Computation(rule.Value)
		if !ok {
			continue
		}
		mergeAddresserRule(addresser, rule.Key, ref.ComputationId)
	}
}

func mergeAddresserRule(addresser *routing.ClientAddresser, class string, cid ids.ComputationId) {
	existing, _ := addresser.Resolve(class)
	for _, e := range existing {
		if e == cid {
			return
		}
	}
	addresser.SetRule(class, append(existing, cid))
}

// handleSessionSignal delivers a run (go/update) or engineReady signal
// (spec 4.G Signals).
func (r *Router) handleSessionSignal(raw json.RawMessage) {
	var sig control.SessionSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		r.log.Warn("malformed session signal message: %v", err)
		return
	}

	var applyErr error
	switch sig.Kind {
	case control.SignalGo, control.SignalUpdate:
		applyErr = r.deliverRunSignal(sig)
	case control.SignalEngineReady:
		applyErr = r.deliverEngineReady(sig)
	default:
		applyErr = fmt.Errorf("unknown signal kind %q", sig.Kind)
	}

	r.sendAcknowledge(sig.SessionId, applyErr)
}

// deliverRunSignal merges any new client-addresser rules into the
// session's routing data, then pushes a go/update control message to
// every computation in the session, local or remote (routeEnvelope
// groups remote destinations by node and forwardToNode queues them if
// the node isn't connected yet).
func (r *Router) deliverRunSignal(sig control.SessionSignal) error {
	data, ok := r.Routing.Promote(sig.SessionId)
	if !ok {
		return fmt.Errorf("no routing data for session %s", sig.SessionId)
	}

	if len(sig.ClientAddresser) > 0 {
		applyAddresserRules(data, sig.ClientAddresser)
	}

	refs := data.Computations()
	if len(refs) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"action": string(sig.Kind)})
	if err != nil {
		return err
	}

	dests := make([]ids.Address, 0, len(refs))
	for _, ref := range refs {
		dests = append(dests, ids.Address{Session: sig.SessionId, Node: ref.NodeId, Computation: ref.ComputationId})
	}

	r.routeEnvelope(envelope.New(envelope.ClassControl, envelope.Metadata{To: dests}, payload))
	return nil
}

// deliverEngineReady routes an engineReady signal to the session's
// client, reusing the same stash-on-disconnect path as ordinary
// client-bound traffic (spec B3).
func (r *Router) deliverEngineReady(sig control.SessionSignal) error {
	payload, err := json.Marshal(map[string]string{"action": string(sig.Kind)})
	if err != nil {
		return err
	}
	dests := []ids.Address{{Session: sig.SessionId}}
	r.routeEnvelope(envelope.New(envelope.ClassControl, envelope.Metadata{To: dests}, payload))
	return nil
}

// handleDisconnectClient drops a session's client connection and
// retires its routing record, the step of session.go's Delete that
// precedes ReleaseSession (Delete sends DisconnectClient first).
func (r *Router) handleDisconnectClient(raw json.RawMessage) {
	var dc control.DisconnectClient
	if err := json.Unmarshal(raw, &dc); err != nil {
		r.log.Warn("malformed disconnect client message: %v", err)
		return
	}
	if p, ok := r.Registry.FindClient(dc.SessionId); ok {
		r.queueDelete(p)
	}
	r.Registry.ClearStashed(dc.SessionId)
	r.Routing.Delete(dc.SessionId)
}

// sendAcknowledge replies to the agent's control connection with the
// outcome of the message it just sent, correlated by SessionId (spec
// 4.G: "block for an Acknowledge reply").
func (r *Router) sendAcknowledge(sid ids.SessionId, applyErr error) {
	ctrl, ok := r.Registry.FindControl()
	if !ok {
		r.log.Warn("no control peer to acknowledge session %s", sid)
		return
	}

	ack := control.Acknowledge{SessionId: sid}
	if applyErr != nil {
		ack.Error = applyErr.Error()
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		r.log.Warn("failed to encode acknowledge for session %s: %v", sid, err)
		return
	}

	if err := ctrl.SendQueue().Push(envelope.New(envelope.ClassControlPlane, envelope.Metadata{}, payload)); err != nil {
		r.log.Warn("failed to queue acknowledge for session %s: %v", sid, err)
	}
}

// applyClientAddresser rewrites a client-originated envelope's empty or
// partial destination list using the session's client addresser filter
// rules (spec 4.E). The special "ping" class is broadcast to all
// computations regardless of rules.
func (r *Router) applyClientAddresser(from *peer.Peer, env *envelope.Envelope) *envelope.Envelope {
	data, ok := r.Routing.Promote(from.SessionId)
	if !ok {
		r.log.Warn("dropping client envelope for unknown session %s", from.SessionId)
		env.Metadata.To = nil
		return env
	}
	addresser, ok := data.Addresser()
	if !ok {
		return env
	}

	if env.Class.String() == pingClassString {
		var dests []ids.Address
		r.Registry.RangeComputations(func(p *peer.Peer) bool {
			dests = append(dests, ids.Address{Session: from.SessionId, Node: r.cfg.NodeId, Computation: p.ComputationId})
			return true
		})
		env.Metadata.To = dests
		return env
	}

	if len(env.Metadata.To) > 0 {
		return env
	}

	compIds, ok := addresser.Resolve(env.Class.String())
	if !ok {
		return env
	}
	dests := make([]ids.Address, 0, len(compIds))
	for _, cid := range compIds {
		dests = append(dests, ids.Address{Session: from.SessionId, Node: r.cfg.NodeId, Computation: cid})
	}
	env.Metadata.To = dests
	return env
}

// pingClassString names the broadcast-to-all-computations ping message
// class, compared against the envelope's class string since ping is a
// well-known application-level class, not a router control class.
const pingClassString = "00000000-0000-0000-0000-0000000000ff"

// routeEnvelope implements the addressing rules of spec 4.E: local
// client, local computation, or group-by-remote-node forwarding.
func (r *Router) routeEnvelope(env *envelope.Envelope) {
	byNode := make(map[ids.NodeId][]ids.Address)

	for _, dest := range env.Metadata.To {
		switch {
		case dest.Node.IsNull():
			r.forwardToClient(dest.Session, env)
		case dest.Node == r.cfg.NodeId && !dest.Computation.IsNull():
			r.forwardToComputation(dest.Computation, env)
		case dest.Node != r.cfg.NodeId:
			byNode[dest.Node] = append(byNode[dest.Node], dest)
		}
	}

	for nid, dests := range byNode {
		r.forwardToNode(nid, env.WithDestinations(dests))
	}
}

// dialAddress builds a dial target from a routing endpoint, preferring
// the resolved IP over the hostname.
func dialAddress(ep routing.Endpoint) string {
	host := ep.IP
	if host == "" {
		host = ep.Hostname
	}
	return net.JoinHostPort(host, strconv.Itoa(ep.Port))
}

func (r *Router) forwardToClient(sid ids.SessionId, env *envelope.Envelope) {
	p, ok := r.Registry.FindClient(sid)
	if !ok {
		data, known := r.Routing.Promote(sid)
		if !known || data.EntryNode() != r.cfg.NodeId {
			r.log.Warn("dropping envelope for unknown session %s on NODE peer (spec B3)", sid)
			return
		}
		r.Registry.Stash(sid, env)
		return
	}
	if err := p.SendQueue().Push(env); err != nil {
		r.log.Warn("undelivered envelope to client of session %s: %v", sid, err)
	}
}

func (r *Router) forwardToComputation(cid ids.ComputationId, env *envelope.Envelope) {
	p, ok := r.Registry.FindComputation(cid)
	if !ok {
		r.log.Warn("dropping envelope for unknown local computation %s", cid)
		return
	}
	if err := p.SendQueue().Push(env); err != nil {
		r.log.Warn("undelivered envelope to computation %s: %v", cid, err)
	}
}

func (r *Router) forwardToNode(nid ids.NodeId, env *envelope.Envelope) {
	p, ok := r.Registry.FindNode(nid)
	if !ok {
		// Buffer the envelope and lazily dial using whatever session's
		// routing data names this node; we scan the destinations'
		// sessions since the envelope itself doesn't carry a single
		// session when it's a multi-dest control message. flushPending
		// delivers everything buffered here once the dial succeeds.
		r.queuePending(nid, env)

		if r.dialInProgress(nid) {
			return
		}
		for _, dest := range env.Metadata.To {
			if data, known := r.Routing.Promote(dest.Session); known {
				if ep, found := data.Node(nid); found {
					r.dialNode(nid, Endpoint{Address: dialAddress(ep)})
					return
				}
			}
		}
		r.log.Warn("no known endpoint for node %s yet; envelope buffered until one is learned", nid)
		return
	}
	if err := p.SendQueue().Push(env); err != nil {
		r.log.Warn("undelivered envelope to node %s: %v", nid, err)
	}
}
