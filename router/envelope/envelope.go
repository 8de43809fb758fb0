// Package envelope implements the addressed message envelope (spec
// component 4.B): a content class id, metadata naming sender and
// destinations, and a payload that is deserialized lazily except for a
// small set of always-eager control classes.
package envelope

import (
	"github.com/goccy/go-json"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// Class identifies the kind of content an envelope carries. It is a
// stable, UUID-shaped tag so that new application message classes never
// collide with the router's own control classes.
type Class ids.Id

func (c Class) String() string { return ids.Id(c).String() }

// Well-known classes that the router always deserializes eagerly,
// regardless of the lazy-payload policy (spec 4.B).
var (
	ClassControl      = Class(ids.MustParse("00000000-0000-0000-0000-000000000001"))
	ClassHeartbeat     = Class(ids.MustParse("00000000-0000-0000-0000-000000000002"))
	ClassPong          = Class(ids.MustParse("00000000-0000-0000-0000-000000000003"))
	ClassControlPlane  = Class(ids.MustParse("00000000-0000-0000-0000-000000000004"))
)

// AlwaysEager reports whether a class must be fully deserialized on
// receive regardless of the router's lazy-payload policy.
func AlwaysEager(c Class) bool {
	switch c {
	case ClassControl, ClassHeartbeat, ClassPong, ClassControlPlane:
		return true
	default:
		return false
	}
}

// Metadata is the structured, always-deserialized part of an envelope:
// sender, destination list, and the wire content version.
type Metadata struct {
	From    ids.Address   `json:"from"`
	To      []ids.Address `json:"to"`
	Version uint16        `json:"version"`
}

// Envelope is an addressed unit of routing. Payload access is lazy: the
// raw bytes are kept until Decode or Clear is called, so envelopes that
// only pass through the router (the common case) never pay a
// deserialization cost.
type Envelope struct {
	Class    Class
	Metadata Metadata

	raw     []byte
	decoded any
}

// New builds an envelope over an already-encoded payload.
func New(class Class, meta Metadata, raw []byte) *Envelope {
	return &Envelope{Class: class, Metadata: meta, raw: raw}
}

// Raw returns the opaque wire payload. It is nil once Clear has run.
func (e *Envelope) Raw() []byte {
	return e.raw
}

// Decode unmarshals the raw payload into v (a pointer) using the
// envelope's stored bytes, caching the result so repeated calls with the
// same destination pointer don't re-parse. Callers of an application-opaque
// envelope never call this; only control-class handlers do.
func (e *Envelope) Decode(v any) error {
	if e.decoded != nil && e.decoded == v {
		return nil
	}
	if err := json.Unmarshal(e.raw, v); err != nil {
		return err
	}
	e.decoded = v
	return nil
}

// Clear drops the payload to release memory once the envelope has been
// forwarded or fully consumed.
func (e *Envelope) Clear() {
	e.raw = nil
	e.decoded = nil
}

// WithDestinations returns a shallow copy of the envelope addressed to a
// reduced destination list, used when the router groups a multi-target
// envelope by remote node id (spec 4.E addressing).
func (e *Envelope) WithDestinations(to []ids.Address) *Envelope {
	clone := *e
	clone.Metadata.To = to
	return &clone
}
