// Package core implements the Router Core (spec 4.E): the accept loop,
// per-peer send/recv workers, the new-connection filter chain, the
// node-to-node tie-break, and envelope addressing/routing. Grounded on
// the accept/send/recv threading model mined from the teacher's
// common/jupyter/router package before that package's ZMQ-specific
// framing was dropped.
package core

import (
	"net"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/common/queue"
	"github.com/dreamworksanimation/arras4-node/router/envelope"
	"github.com/dreamworksanimation/arras4-node/router/peer"
	"github.com/dreamworksanimation/arras4-node/router/routing"
)

// AcceptBatchCap bounds how many newly-accepted peers the accept loop
// processes in a single wake (spec 4.E).
const AcceptBatchCap = 32

// AcceptPollInterval is the wait timeout for the accept thread's single
// wait primitive across both listeners.
const AcceptPollInterval = time.Second

// RecvPollInterval is the per-peer recv worker's blocking-read timeout.
const RecvPollInterval = time.Second

// EventSink receives structured router events for the agent's event
// fan-out queue (spec 4.H). nil is a valid Router field: events are
// simply dropped (used by the router binary running detached from an
// agent, e.g. in tests).
type EventSink interface {
	Emit(name string, detail map[string]any)
}

// Config configures a Router instance.
type Config struct {
	NodeId       ids.NodeId
	ListenTCP    string // address to accept NODE/CLIENT/EXECUTOR connections on, e.g. ":7070"
	ListenUnix   string // path of the local-domain socket, also used for the agent control plane
	Events       EventSink
}

// Router owns the peer registry, the session routing table, and the
// accept/send/recv worker lifecycle for one agent process's sibling
// router.
type Router struct {
	cfg Config

	Registry *peer.Registry
	Routing  *routing.Table

	log logger.Logger

	tcpListener  net.Listener
	unixListener net.Listener

	controlQueue *queue.Blocking[*envelope.Envelope]

	deleteMu    sync.Mutex
	deleteQueue []*peer.Peer

	dialMu       sync.Mutex
	dialInFlight map[ids.NodeId]bool

	pendingMu     sync.Mutex
	pendingByNode map[ids.NodeId][]*envelope.Envelope

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Router. Call Start to begin accepting connections.
func New(cfg Config) *Router {
	r := &Router{
		cfg:          cfg,
		Registry:     peer.NewRegistry(),
		Routing:      routing.NewTable(),
		controlQueue:  queue.NewBlocking[*envelope.Envelope](),
		dialInFlight:  make(map[ids.NodeId]bool),
		pendingByNode: make(map[ids.NodeId][]*envelope.Envelope),
		stopCh:        make(chan struct{}),
	}
	config.InitLogger(&r.log, r)
	return r
}

// Start opens the listeners and launches the accept loop and the
// control-queue pump thread.
func (r *Router) Start() error {
	if r.cfg.ListenTCP != "" {
		l, err := net.Listen("tcp", r.cfg.ListenTCP)
		if err != nil {
			return err
		}
		r.tcpListener = l
	}
	if r.cfg.ListenUnix != "" {
		l, err := net.Listen("unix", r.cfg.ListenUnix)
		if err != nil {
			return err
		}
		r.unixListener = l
	}

	r.wg.Add(1)
	go r.acceptLoop()

	r.wg.Add(1)
	go r.controlPump()

	return nil
}

// Stop signals shutdown and waits for the accept loop and control pump
// to exit. It does not forcibly close already-established peer
// connections; callers that need a hard stop should MarkDoomed every
// tracked peer first.
func (r *Router) Stop() {
	close(r.stopCh)
	if r.tcpListener != nil {
		_ = r.tcpListener.Close()
	}
	if r.unixListener != nil {
		_ = r.unixListener.Close()
	}
	r.controlQueue.Close()
	r.wg.Wait()
}

// ControlQueue returns the agent-to-router control queue; the agent
// process pushes SessionRoutingData and signal control envelopes here.
func (r *Router) ControlQueue() *queue.Blocking[*envelope.Envelope] {
	return r.controlQueue
}

// TCPAddr returns the address the TCP listener is actually bound to,
// useful when Config.ListenTCP asked for an ephemeral port (":0").
func (r *Router) TCPAddr() net.Addr {
	if r.tcpListener == nil {
		return nil
	}
	return r.tcpListener.Addr()
}

func (r *Router) emit(name string, detail map[string]any) {
	if r.cfg.Events != nil {
		r.cfg.Events.Emit(name, detail)
	}
}

// queuePending buffers an envelope addressed to a node with no live
// connection yet, to be delivered once flushPending runs for that node.
func (r *Router) queuePending(nid ids.NodeId, env *envelope.Envelope) {
	r.pendingMu.Lock()
	r.pendingByNode[nid] = append(r.pendingByNode[nid], env)
	r.pendingMu.Unlock()
}

// flushPending delivers and clears every envelope buffered for a node
// whose connection just came up, via the ordinary forwardToNode path.
func (r *Router) flushPending(nid ids.NodeId) {
	r.pendingMu.Lock()
	pending := r.pendingByNode[nid]
	delete(r.pendingByNode, nid)
	r.pendingMu.Unlock()

	for _, env := range pending {
		r.forwardToNode(nid, env)
	}
}

// acceptLoop accepts new peers from both listeners, batches them
// (capped at AcceptBatchCap), runs the filter chain on each, and sweeps
// the deletion queue once per wake (spec 4.E).
func (r *Router) acceptLoop() {
	defer r.wg.Done()

	accepted := make(chan net.Conn, AcceptBatchCap)
	if r.tcpListener != nil {
		go forwardAccepts(r.tcpListener, accepted)
	}
	if r.unixListener != nil {
		go forwardAccepts(r.unixListener, accepted)
	}

	for {
		select {
		case <-r.stopCh:
			return
		case conn := <-accepted:
			batch := []net.Conn{conn}
			for len(batch) < AcceptBatchCap {
				select {
				case c := <-accepted:
					batch = append(batch, c)
				default:
					goto drained
				}
			}
		drained:
			for _, c := range batch {
				r.handleAccepted(c)
			}
			r.sweepDeleted()
		case <-time.After(AcceptPollInterval):
			r.sweepDeleted()
		}
	}
}

func forwardAccepts(l net.Listener, out chan<- net.Conn) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		out <- conn
	}
}

// queueDelete marks p for destruction on the next sweep (spec 4.E
// failure semantics: destruction only happens on the accept thread).
func (r *Router) queueDelete(p *peer.Peer) {
	p.MarkDoomed()
	r.deleteMu.Lock()
	r.deleteQueue = append(r.deleteQueue, p)
	r.deleteMu.Unlock()
}

func (r *Router) sweepDeleted() {
	r.deleteMu.Lock()
	batch := r.deleteQueue
	r.deleteQueue = nil
	r.deleteMu.Unlock()

	for _, p := range batch {
		r.Registry.Untrack(p)
		p.Destroy()
	}
}
