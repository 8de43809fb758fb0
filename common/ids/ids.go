// Package ids defines the 128-bit identifier kinds shared by the agent
// and router processes, and the session/node/computation address triple
// used to direct envelopes.
package ids

import (
	"encoding/binary"
	"github.com/google/uuid"
)

// Kind distinguishes the four identifier spaces. Values never mix:
// a NodeId is never compared against a SessionId even though both are
// backed by the same underlying representation.
type Kind uint8

const (
	KindNode Kind = iota
	KindSession
	KindComputation
	KindProcess
)

// Id is a 128-bit identifier rendered as canonical hex-with-dashes text
// at every boundary (HTTP bodies, peer registration records, log lines).
// The zero value is the reserved null id.
type Id uuid.UUID

// Null is the reserved zero-value identifier.
var Null = Id{}

// New generates a fresh random identifier.
func New() Id {
	return Id(uuid.New())
}

// Parse decodes a canonical hex-with-dashes string into an Id.
func Parse(s string) (Id, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Null, err
	}
	return Id(u), nil
}

// MustParse panics on malformed input; used for compile-time-known ids
// in tests and constants.
func MustParse(s string) Id {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Id) String() string {
	return uuid.UUID(id).String()
}

// MarshalText renders id in its canonical hex-with-dashes form, so JSON
// bodies carry ids as strings.
func (id Id) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical hex-with-dashes form.
func (id *Id) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// IsNull reports whether id is the reserved null value.
func (id Id) IsNull() bool {
	return id == Null
}

// Bytes returns the 16-byte wire representation used by the registration
// record and the envelope metadata block.
func (id Id) Bytes() [16]byte {
	return id
}

// FromBytes reconstructs an Id from its 16-byte wire representation.
func FromBytes(b [16]byte) Id {
	return Id(b)
}

// Compare orders two ids numerically, treating the 128 bits as a pair of
// big-endian uint64s. Used by the router's node-to-node tie-break: the
// initiator at steady state is always the node with the greater id.
func (id Id) Compare(other Id) int {
	hi1 := binary.BigEndian.Uint64(id[0:8])
	hi2 := binary.BigEndian.Uint64(other[0:8])
	if hi1 != hi2 {
		if hi1 < hi2 {
			return -1
		}
		return 1
	}
	lo1 := binary.BigEndian.Uint64(id[8:16])
	lo2 := binary.BigEndian.Uint64(other[8:16])
	switch {
	case lo1 < lo2:
		return -1
	case lo1 > lo2:
		return 1
	default:
		return 0
	}
}

// GreaterThan reports whether id should be the steady-state initiator
// when dialing other.
func (id Id) GreaterThan(other Id) bool {
	return id.Compare(other) > 0
}

// NodeId, SessionId, ComputationId and ProcessId are distinct aliases of
// Id used purely for documentation/readability at call sites; the
// underlying representation and null semantics are shared.
type (
	NodeId        = Id
	SessionId     = Id
	ComputationId = Id
	ProcessId     = Id
)

// Address is the (session, node, computation) triple used to direct an
// envelope. Any field may be Null. Node == Null denotes "the external
// client of this session"; Computation == Null && Node == self denotes
// "the agent itself".
type Address struct {
	Session     SessionId     `json:"session"`
	Node        NodeId        `json:"node"`
	Computation ComputationId `json:"computation"`
}

// IsClient reports whether this address denotes the session's external
// client (no node specified).
func (a Address) IsClient() bool {
	return a.Node.IsNull()
}

// IsAgent reports whether this address denotes the agent itself on the
// given local node, i.e. node == self and no computation is named.
func (a Address) IsAgent(self NodeId) bool {
	return a.Node == self && a.Computation.IsNull()
}

func (a Address) String() string {
	return a.Session.String() + "/" + a.Node.String() + "/" + a.Computation.String()
}
