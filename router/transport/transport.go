// Package transport implements the Peer Transport (spec 4.A): a
// length-prefixed binary frame over TCP or a local-domain socket, and
// the fixed-width registration handshake exchanged before any frames.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// PeerType identifies the registration type advertised by a connecting
// peer, matched against the router's filter chain in order CLIENT, NODE,
// EXECUTOR, CONTROL.
type PeerType uint8

const (
	TypeClient PeerType = iota
	TypeNode
	TypeExecutor
	TypeControl
)

func (t PeerType) String() string {
	switch t {
	case TypeClient:
		return "CLIENT"
	case TypeNode:
		return "NODE"
	case TypeExecutor:
		return "EXECUTOR"
	case TypeControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// Magic identifies the registration record on the wire.
var Magic = [4]byte{'A', 'R', '4', 'N'}

// APIVersion is the protocol version this build speaks. Only the major
// component must match for a connection to proceed.
var APIVersion = struct {
	Major, Minor, Patch uint16
}{Major: 1, Minor: 0, Patch: 0}

const registrationSize = 4 + 2 + 2 + 2 + 1 + 16 + 16 + 16

// RegistrationDeadline bounds how long a newly accepted socket may take
// to present its registration record before the connection is refused.
const RegistrationDeadline = 5 * time.Second

// Registration is the fixed-width handshake record exchanged before any
// frames flow in either direction.
type Registration struct {
	Type          PeerType
	NodeId        ids.NodeId
	SessionId     ids.SessionId
	ComputationId ids.ComputationId
}

// WriteRegistration writes the fixed-width handshake record to w.
func WriteRegistration(w io.Writer, reg Registration) error {
	buf := make([]byte, registrationSize)
	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint16(buf[4:6], APIVersion.Major)
	binary.BigEndian.PutUint16(buf[6:8], APIVersion.Minor)
	binary.BigEndian.PutUint16(buf[8:10], APIVersion.Patch)
	buf[10] = byte(reg.Type)
	nb := reg.NodeId.Bytes()
	sb := reg.SessionId.Bytes()
	cb := reg.ComputationId.Bytes()
	copy(buf[11:27], nb[:])
	copy(buf[27:43], sb[:])
	copy(buf[43:59], cb[:])
	_, err := w.Write(buf)
	return err
}

// ReadRegistration reads and validates the handshake record from r,
// honoring RegistrationDeadline via the deadline-setting conn passed in
// by the caller. Wrong magic or a mismatched major version fails with a
// descriptive error so the caller can log the refusal reason.
func ReadRegistration(r io.Reader) (Registration, error) {
	buf := make([]byte, registrationSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Registration{}, fmt.Errorf("registration read failed: %w", err)
	}
	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		return Registration{}, fmt.Errorf("bad registration magic %v", magic)
	}
	major := binary.BigEndian.Uint16(buf[4:6])
	if major != APIVersion.Major {
		return Registration{}, fmt.Errorf("incompatible api major version %d (want %d)", major, APIVersion.Major)
	}

	var nb, sb, cb [16]byte
	copy(nb[:], buf[11:27])
	copy(sb[:], buf[27:43])
	copy(cb[:], buf[43:59])

	return Registration{
		Type:          PeerType(buf[10]),
		NodeId:        ids.FromBytes(nb),
		SessionId:     ids.FromBytes(sb),
		ComputationId: ids.FromBytes(cb),
	}, nil
}

// Frame is the on-wire unit: {total_length, class_id, version,
// metadata_len, payload_len} followed by metadata bytes then payload
// bytes.
type Frame struct {
	ClassId     [16]byte
	Version     uint16
	MetadataLen uint32
	PayloadLen  uint32
	Metadata    []byte
	Payload     []byte
}

const frameHeaderSize = 4 + 16 + 2 + 4 + 4 // total_length + class_id + version + metadata_len + payload_len

// WriteFrame serializes and writes a single frame.
func WriteFrame(w io.Writer, f Frame) error {
	f.MetadataLen = uint32(len(f.Metadata))
	f.PayloadLen = uint32(len(f.Payload))
	total := uint32(frameHeaderSize) + f.MetadataLen + f.PayloadLen

	buf := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], total)
	copy(buf[4:20], f.ClassId[:])
	binary.BigEndian.PutUint16(buf[20:22], f.Version)
	binary.BigEndian.PutUint32(buf[22:26], f.MetadataLen)
	binary.BigEndian.PutUint32(buf[26:30], f.PayloadLen)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(f.Metadata) > 0 {
		if _, err := w.Write(f.Metadata); err != nil {
			return err
		}
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads and deserializes a single frame.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	total := binary.BigEndian.Uint32(header[0:4])
	var f Frame
	copy(f.ClassId[:], header[4:20])
	f.Version = binary.BigEndian.Uint16(header[20:22])
	f.MetadataLen = binary.BigEndian.Uint32(header[22:26])
	f.PayloadLen = binary.BigEndian.Uint32(header[26:30])

	if frameHeaderSize+int(f.MetadataLen)+int(f.PayloadLen) != int(total) {
		return Frame{}, fmt.Errorf("frame length mismatch: header says %d, parts sum to %d",
			total, frameHeaderSize+f.MetadataLen+f.PayloadLen)
	}

	if f.MetadataLen > 0 {
		f.Metadata = make([]byte, f.MetadataLen)
		if _, err := io.ReadFull(r, f.Metadata); err != nil {
			return Frame{}, err
		}
	}
	if f.PayloadLen > 0 {
		f.Payload = make([]byte, f.PayloadLen)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// ErrShutdown is returned by Send/Recv once Shutdown has unblocked them.
type ErrShutdown struct{}

func (ErrShutdown) Error() string { return "transport: connection shut down" }

// Connection wraps a net.Conn with framed send/recv and a thread-safe
// shutdown that unblocks any in-flight call with ErrShutdown.
type Connection struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	sendMu sync.Mutex

	mu       sync.Mutex
	shutdown bool
}

// NewConnection wraps an already-dialed or already-accepted net.Conn.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Send writes one frame, flushing immediately. Frames from a single
// sender to a single Connection are delivered in the order Send is
// called (spec P2), since this repo serializes all Sends through
// sendMu and the router only ever runs one send worker per peer.
func (c *Connection) Send(f Frame) error {
	if c.isShutdown() {
		return ErrShutdown{}
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := WriteFrame(c.w, f); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv blocks until a frame is available, the connection is shut down,
// or deadline elapses (a zero deadline disables the timeout).
func (c *Connection) Recv(deadline time.Duration) (Frame, error) {
	if c.isShutdown() {
		return Frame{}, ErrShutdown{}
	}
	if deadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	}
	f, err := ReadFrame(c.r)
	if err != nil && c.isShutdown() {
		return Frame{}, ErrShutdown{}
	}
	return f, err
}

// WriteRegistration/ReadRegistration convenience wrappers bound to this
// connection's underlying stream.
func (c *Connection) WriteRegistration(reg Registration) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := WriteRegistration(c.w, reg); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Connection) ReadRegistration() (Registration, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(RegistrationDeadline))
	reg, err := ReadRegistration(c.r)
	_ = c.conn.SetReadDeadline(time.Time{})
	return reg, err
}

// Shutdown unblocks any blocked Send/Recv with ErrShutdown and closes
// the underlying socket. Safe to call more than once.
func (c *Connection) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *Connection) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Close closes the underlying connection without marking it as a
// cooperative shutdown (used after a protocol violation is detected).
func (c *Connection) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer's network address, used for ban-list
// bookkeeping and log lines.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
