// Package ipc implements the agent side of the router<->agent IPC
// contract (spec §6): a single local-domain socket at
// /<ipcdir>/arrasnodeipc-<node-id>, carrying the same length-prefixed
// framing and registration handshake as any other peer (spec 4.A),
// with PeerType CONTROL and envelope.ClassControlPlane payloads (spec
// 4.B). Grounded on router/core's accept/send/recv shape, reduced to
// a single persistent connection since the agent only ever talks to
// its own co-located router.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/control"
	"github.com/dreamworksanimation/arras4-node/router/envelope"
	"github.com/dreamworksanimation/arras4-node/router/transport"
)

// SocketPath returns the configured path for a node's router IPC
// socket (spec §6 default: /<ipcdir>/arrasnodeipc-<node-id>).
func SocketPath(ipcDir string, nodeId ids.NodeId) string {
	return filepath.Join(ipcDir, "arrasnodeipc-"+nodeId.String())
}

// Client is the agent's connection to its co-located router's control
// socket. One Client is shared by every session the agent manages.
type Client struct {
	conn   *transport.Connection
	nodeId ids.NodeId

	mu      sync.Mutex
	pending map[string]chan control.Acknowledge
	closed  bool
}

// Dial connects to the router's control socket and completes the
// registration handshake as a CONTROL peer.
func Dial(socketPath string, nodeId ids.NodeId) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "dialing router ipc socket")
	}

	tc := transport.NewConnection(conn)
	if err := tc.WriteRegistration(transport.Registration{Type: transport.TypeControl, NodeId: nodeId}); err != nil {
		tc.Close()
		return nil, errors.Wrap(err, "registering with router")
	}

	c := &Client{
		conn:    tc,
		nodeId:  nodeId,
		pending: make(map[string]chan control.Acknowledge),
	}
	go c.recvLoop()
	return c, nil
}

func (c *Client) recvLoop() {
	for {
		f, err := c.conn.Recv(0)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = map[string]chan control.Acknowledge{}
			c.mu.Unlock()
			return
		}

		if idFromBytes(f.ClassId) != ids.Id(envelope.ClassControlPlane) {
			continue
		}

		var ack control.Acknowledge
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			continue
		}

		c.mu.Lock()
		if ch, ok := c.pending[ack.SessionId.String()]; ok {
			ch <- ack
			delete(c.pending, ack.SessionId.String())
		}
		c.mu.Unlock()
	}
}

func idFromBytes(b [16]byte) ids.Id {
	return ids.FromBytes(b)
}

func classBytes(c envelope.Class) [16]byte {
	return ids.Id(c).Bytes()
}

// send wraps data in a control.Message{Kind} envelope and writes it as
// a single control-plane frame, so the router can tell a
// SessionRoutingData from a SessionSignal from a DisconnectClient
// before decoding it.
func (c *Client) send(kind control.MessageKind, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	wire, err := json.Marshal(control.Message{Kind: kind, Payload: payload})
	if err != nil {
		return err
	}
	return c.conn.Send(transport.Frame{
		ClassId: classBytes(envelope.ClassControlPlane),
		Payload: wire,
	})
}

// RegisterSession sends a SessionRoutingData{Initialize} message and
// blocks for the router's Acknowledge, bounded by timeout (spec 4.G
// Create: "bounded by 10 s").
func (c *Client) RegisterSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	data.Action = control.ActionInitialize
	return c.roundTrip(ctx, data.SessionId, control.MessageRouting, data, timeout)
}

// UpdateSession sends a SessionRoutingData{Update} message and blocks
// for the router's Acknowledge (spec 4.G Modify: client-addresser
// changes pushed without touching existing computations).
func (c *Client) UpdateSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	data.Action = control.ActionUpdate
	return c.roundTrip(ctx, data.SessionId, control.MessageRouting, data, timeout)
}

// ReleaseSession asks the router to release a session's routing data
// (spec 4.G Delete). Fire-and-forget: the router is expected to ack,
// but a deleted session no longer blocks on the reply.
func (c *Client) ReleaseSession(sessionId ids.SessionId) error {
	return c.send(control.MessageRouting, control.SessionRoutingData{Action: control.ActionRelease, SessionId: sessionId})
}

// DisconnectClient asks the router to drop a session's client
// connection with a human-readable reason (spec 4.G Delete).
func (c *Client) DisconnectClient(sessionId ids.SessionId, reason string) error {
	return c.send(control.MessageDisconnect, control.DisconnectClient{SessionId: sessionId, Reason: reason})
}

// SendSignal delivers a run (go/update) or engineReady signal and
// blocks for the router's Acknowledge, the same way RegisterSession
// does (spec 4.G Signals).
func (c *Client) SendSignal(ctx context.Context, signal control.SessionSignal, timeout time.Duration) error {
	return c.roundTrip(ctx, signal.SessionId, control.MessageSignal, signal, timeout)
}

func (c *Client) roundTrip(ctx context.Context, sessionId ids.SessionId, kind control.MessageKind, data any, timeout time.Duration) error {
	ch := make(chan control.Acknowledge, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("ipc client closed")
	}
	c.pending[sessionId.String()] = ch
	c.mu.Unlock()

	if err := c.send(kind, data); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack, ok := <-ch:
		if !ok {
			return errors.New("ipc connection closed while waiting for acknowledge")
		}
		if ack.Error != "" {
			return fmt.Errorf("router rejected session routing update: %s", ack.Error)
		}
		return nil
	case <-timer.C:
		return errors.New("timed out waiting for router acknowledge")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the control connection.
func (c *Client) Close() error {
	c.conn.Shutdown()
	return nil
}

// EnsureIPCDir creates the IPC socket directory if missing, matching
// the 0700 permission the spec requires on the socket file itself.
func EnsureIPCDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}
