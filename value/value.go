// Package value implements the Value sum type and the ValueID
// handle used to address a value from outside the driver.
package value

import "fmt"

// Genre classifies why a value exists, mirroring the OpenZWave taxonomy.
type Genre byte

const (GenreBasic Genre = iota
	GenreUser
	GenreConfig
	GenreSystem)

// Kind is the sum-type tag for a Value's payload.
type Kind byte

const (KindBool Kind = iota
	KindByte
	KindShort
	KindInt
	KindDecimal
	KindString
	KindList
	KindButton
	KindSchedule
	KindRaw
	KindBitSet)

// ID is the opaque, comparable handle it calls ValueID: it packs
// HomeId/NodeId/Genre/CommandClassId/Instance/Index so it can key maps
// directly, the way CommandRegistry keys commands by a
// packed 16-bit id.
type ID struct {
	HomeID uint32
	NodeID byte
	Genre Genre
	CommandClassID byte
	Instance byte
	Index byte
}

func (id ID) String() string {
	return fmt.Sprintf("0x%08x:%d:%d:%d:%d:%d", id.HomeID, id.NodeID, id.Genre, id.CommandClassID, id.Instance, id.Index)
}

// Value is one addressable datum on a node's command class.
type Value struct {
	ID ID

	Kind Kind
	Label string
	Units string
	Help string

	ReadOnly bool
	WriteOnly bool
	Set bool

	// Polled/PollIntensity mirror the poll list membership invariant: a
	// value's polled flag matches membership in the poll list.
	Polled bool
	PollIntensity int

	// VerifyChanges requests double-read confirmation before a
	// ValueChanged notification fires.
	VerifyChanges bool
	pendingRaw []byte
	confirmedOnce bool

	Min, Max int

	raw []byte
	str string
}

// New() creates a Value with the given kind and identity.
func New(id ID, kind Kind) *Value {
	return &Value{ID: id, Kind: kind}
}

// SetRaw stores the underlying bytes for Byte/Short/Int/Raw/BitSet kinds.
func (v *Value) SetRaw(b []byte) { v.raw = append([]byte(nil), b...) }

// Raw returns the underlying bytes.
func (v *Value) Raw() []byte { return v.raw }

// SetString stores the String/List/Decimal textual representation.
func (v *Value) SetString(s string) { v.str = s }

// GetAsString() renders the value for display, regardless of Kind.
func (v *Value) GetAsString() string {
	if v.str != "" {
		return v.str
	}
	return fmt.Sprintf("%v", v.raw)
}

// SetFromString parses a textual representation into the value's native
// representation. Command-class decoders own the actual semantics; this
// default just stores the string.
func (v *Value) SetFromString(s string) error {
	v.str = s
	return nil
}

// BeginVerify records a freshly-observed raw value as pending confirmation
// and reports whether it already matches a prior pending read (two
// identical reads before ValueChanged).
func (v *Value) BeginVerify(raw []byte) (confirmed bool) {
	if !v.VerifyChanges {
		return true
	}
	if v.pendingRaw != nil && bytesEqual(v.pendingRaw, raw) {
		v.pendingRaw = nil
		return true
	}
	v.pendingRaw = append([]byte(nil), raw...)
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
