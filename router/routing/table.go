// Package routing implements the Session Routing Table (spec 4.D): the
// per-session record of node endpoints and the entry-node's client
// addresser, dual-indexed by a strong handle (held by the session
// manager during setup) and a router-side reference that survives
// release so in-flight routing can finish.
package routing

import (
	"sync"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// Endpoint is a remote node's dial target.
type Endpoint struct {
	Hostname string
	IP       string
	Port     int
	Entry    bool
}

// ClientAddresser rewrites a client-originated envelope's destination
// list using per-message-class filter rules. Only the entry node's
// routing data carries a non-nil addresser.
type ClientAddresser struct {
	mu    sync.RWMutex
	rules map[string][]ids.ComputationId // message class name -> destinations
}

// NewClientAddresser creates an empty addresser.
func NewClientAddresser() *ClientAddresser {
	return &ClientAddresser{rules: make(map[string][]ids.ComputationId)}
}

// SetRule installs the destination set for a message class, replacing
// whatever was there — used by signal("run") updates, which only ever
// add rules monotonically (spec R2).
func (a *ClientAddresser) SetRule(class string, dests []ids.ComputationId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules[class] = dests
}

// Resolve returns the destination computations for a message class, or
// false if no rule is installed for it.
func (a *ClientAddresser) Resolve(class string) ([]ids.ComputationId, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	dests, ok := a.rules[class]
	return dests, ok
}

// ComputationRef locates one of a session's computations: which node
// runs it and its id, used to address signal delivery (spec 4.G
// Signals) and to resolve a client-addresser rule's computation name.
type ComputationRef struct {
	NodeId        ids.NodeId
	ComputationId ids.ComputationId
}

// Data is the per-session routing record shared between the session
// manager and the router.
type Data struct {
	SessionId ids.SessionId

	mu           sync.RWMutex
	nodes        map[ids.NodeId]Endpoint
	entryNode    ids.NodeId
	addresser    *ClientAddresser
	computations map[string]ComputationRef
}

// NewData creates a routing record for a session.
func NewData(sid ids.SessionId) *Data {
	return &Data{
		SessionId:    sid,
		nodes:        make(map[ids.NodeId]Endpoint),
		computations: make(map[string]ComputationRef),
	}
}

// AddComputation extends the session's computation map. An existing
// entry is never overwritten, matching AddNode's replay semantics.
func (d *Data) AddComputation(name string, ref ComputationRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.computations[name]; exists {
		return
	}
	d.computations[name] = ref
}

// Computation looks up a computation's node/id by its definition name.
func (d *Data) Computation(name string) (ComputationRef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.computations[name]
	return ref, ok
}

// Computations returns every computation currently known for the
// session, local or remote.
func (d *Data) Computations() []ComputationRef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ComputationRef, 0, len(d.computations))
	for _, ref := range d.computations {
		out = append(out, ref)
	}
	return out
}

// AddNode extends the node map. An existing entry is never overwritten
// (spec 3: "an existing entry must never change").
func (d *Data) AddNode(nid ids.NodeId, ep Endpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.nodes[nid]; exists {
		return
	}
	d.nodes[nid] = ep
	if ep.Entry {
		d.entryNode = nid
	}
}

// Node looks up a node's dial endpoint.
func (d *Data) Node(nid ids.NodeId) (Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ep, ok := d.nodes[nid]
	return ep, ok
}

// EntryNode returns the session's entry node id.
func (d *Data) EntryNode() ids.NodeId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entryNode
}

// SetAddresser installs the client addresser (entry node only).
func (d *Data) SetAddresser(a *ClientAddresser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresser = a
}

// Addresser returns the installed client addresser, if any.
func (d *Data) Addresser() (*ClientAddresser, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addresser, d.addresser != nil
}

type entry struct {
	data   *Data
	strong bool
}

// Table is the dual-indexed session routing table. Per spec 3/9, the
// session manager holds a strong handle from Initialize through
// Release; the router only ever promotes-on-use, which fails cleanly
// once Delete has run even if a routing operation raced with teardown.
// Go's GC does not support dropping the map's own reference on
// Release the way a true weak pointer would; Release here is the
// router-observable "no longer session-owned" transition, and Delete
// is the point at which the record actually becomes unreachable.
type Table struct {
	mu      sync.RWMutex
	entries map[ids.SessionId]*entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[ids.SessionId]*entry)}
}

// Initialize installs data for sid with a strong reference held.
func (t *Table) Initialize(data *Data) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[data.SessionId] = &entry{data: data, strong: true}
}

// Promote returns the routing data for sid if it still exists, whether
// or not the strong reference has been released.
func (t *Table) Promote(sid ids.SessionId) (*Data, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[sid]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Release drops the strong reference for sid; the weak entry remains so
// in-flight routing paths can still Promote it until Delete runs.
func (t *Table) Release(sid ids.SessionId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[sid]; ok {
		e.strong = false
	}
}

// Delete drops both references, making the record unreachable.
func (t *Table) Delete(sid ids.SessionId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sid)
}

// Len reports the number of sessions currently tracked (strong or weak).
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
