// Package value implements the AgentX tagged-union variable value
// (RFC 2741 Section 5.4): the set of SNMP datatypes a VarBind may carry.
package value

import (
	"errors"
	"fmt"

	"github.com/agentx-go/subagent/agentx/oid"
)

// Kind identifies which variant a Value holds. The numeric values match
// the RFC 2741 VarBind type tags so the codec can use Kind directly on the
// wire.
type Kind uint16

// Kind values, RFC 2741 Section 5.4 / RFC 2578.
const (
	KindInteger          Kind = 2
	KindOctetString      Kind = 4
	KindNull             Kind = 5
	KindObjectIdentifier Kind = 6
	KindIPAddress        Kind = 64
	KindCounter32        Kind = 65
	KindGauge32          Kind = 66
	KindTimeTicks        Kind = 67
	KindOpaque           Kind = 68
	KindCounter64        Kind = 70
	KindNoSuchObject     Kind = 128
	KindNoSuchInstance   Kind = 129
	KindEndOfMibView     Kind = 130
)

var kindNames = map[Kind]string{
	KindInteger:          "Integer",
	KindOctetString:      "OctetString",
	KindNull:             "Null",
	KindObjectIdentifier: "ObjectIdentifier",
	KindIPAddress:        "IpAddress",
	KindCounter32:        "Counter32",
	KindGauge32:          "Gauge32",
	KindTimeTicks:        "TimeTicks",
	KindOpaque:           "Opaque",
	KindCounter64:        "Counter64",
	KindNoSuchObject:     "NoSuchObject",
	KindNoSuchInstance:   "NoSuchInstance",
	KindEndOfMibView:     "EndOfMibView",
}

const unknownKindFmt = "Kind(%d)"

// String renders the kind's RFC 2741 name, falling back to a numeric form
// for an unrecognized tag.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf(unknownKindFmt, uint16(k))
}

// MaxOctetStringLen is the maximum OctetString payload length
// (RFC 2741 Section 5.3).
const MaxOctetStringLen = 65535

// ErrOctetStringTooLong is returned when constructing an OctetString value
// whose byte length exceeds MaxOctetStringLen.
var ErrOctetStringTooLong = errors.New("octet string exceeds maximum length")

// ErrUnknownKind is returned by decoders when a VarBind type tag does not
// match any known Kind.
var ErrUnknownKind = errors.New("unknown value kind")

// Value is a tagged union over the AgentX variable-value set. Only the
// field(s) relevant to Kind are meaningful; constructors enforce this.
type Value struct {
	kind Kind
	i    int32
	u64  uint64
	oct  []byte
	obj  oid.OID
	ip   [4]byte
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// Integer constructs an Integer (i32) value.
func Integer(i int32) Value { return Value{kind: KindInteger, i: i} }

// IntegerValue returns the i32 payload. Valid only when Kind == KindInteger.
func (v Value) IntegerValue() int32 { return v.i }

// OctetString constructs an OctetString value, copying b.
func OctetString(b []byte) (Value, error) {
	if len(b) > MaxOctetStringLen {
		return Value{}, fmt.Errorf("%w: %d bytes", ErrOctetStringTooLong, len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindOctetString, oct: cp}, nil
}

// OctetStringValue returns the byte payload. Valid only when
// Kind == KindOctetString.
func (v Value) OctetStringValue() []byte {
	cp := make([]byte, len(v.oct))
	copy(cp, v.oct)
	return cp
}

// Null constructs the Null value.
func Null() Value { return Value{kind: KindNull} }

// ObjectIdentifier constructs an ObjectIdentifier value.
func ObjectIdentifier(o oid.OID) Value { return Value{kind: KindObjectIdentifier, obj: o} }

// ObjectIdentifierValue returns the OID payload. Valid only when
// Kind == KindObjectIdentifier.
func (v Value) ObjectIdentifierValue() oid.OID { return v.obj }

// IPAddress constructs an IpAddress value from four octets.
func IPAddress(a, b, c, d byte) Value {
	return Value{kind: KindIPAddress, ip: [4]byte{a, b, c, d}}
}

// IPAddressValue returns the four address octets. Valid only when
// Kind == KindIPAddress.
func (v Value) IPAddressValue() [4]byte { return v.ip }

// Counter32 constructs a Counter32 (u32) value.
func Counter32(u uint32) Value { return Value{kind: KindCounter32, u64: uint64(u)} }

// Gauge32 constructs a Gauge32 (u32) value.
func Gauge32(u uint32) Value { return Value{kind: KindGauge32, u64: uint64(u)} }

// TimeTicks constructs a TimeTicks (u32) value.
func TimeTicks(u uint32) Value { return Value{kind: KindTimeTicks, u64: uint64(u)} }

// Uint32Value returns the u32 payload shared by Counter32, Gauge32, and
// TimeTicks. Valid only when Kind is one of those three.
func (v Value) Uint32Value() uint32 { return uint32(v.u64) }

// Opaque constructs an Opaque value, copying b.
func Opaque(b []byte) (Value, error) {
	if len(b) > MaxOctetStringLen {
		return Value{}, fmt.Errorf("%w: %d bytes", ErrOctetStringTooLong, len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindOpaque, oct: cp}, nil
}

// OpaqueValue returns the byte payload. Valid only when Kind == KindOpaque.
func (v Value) OpaqueValue() []byte {
	cp := make([]byte, len(v.oct))
	copy(cp, v.oct)
	return cp
}

// Counter64 constructs a Counter64 (u64) value. The caller is responsible
// for only using this when the session negotiated Counter64 support.
func Counter64(u uint64) Value { return Value{kind: KindCounter64, u64: u} }

// Uint64Value returns the u64 payload. Valid only when Kind == KindCounter64.
func (v Value) Uint64Value() uint64 { return v.u64 }

// NoSuchObject constructs the NoSuchObject exception marker.
func NoSuchObject() Value { return Value{kind: KindNoSuchObject} }

// NoSuchInstance constructs the NoSuchInstance exception marker.
func NoSuchInstance() Value { return Value{kind: KindNoSuchInstance} }

// EndOfMibView constructs the EndOfMibView exception marker.
func EndOfMibView() Value { return Value{kind: KindEndOfMibView} }

// IsException reports whether v is one of the three exception markers
// (NoSuchObject, NoSuchInstance, EndOfMibView).
func (v Value) IsException() bool {
	switch v.kind {
	case KindNoSuchObject, KindNoSuchInstance, KindEndOfMibView:
		return true
	default:
		return false
	}
}
