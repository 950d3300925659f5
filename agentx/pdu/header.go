// Package pdu implements the AgentX PDU wire format: the 20-byte header,
// OID/OctetString/VarBind/SearchRange encodings, and every PDU type
// defined by RFC 2741 Section 6.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the AgentX PDU header in bytes
// (RFC 2741 Section 6.1).
const HeaderSize = 20

// Version is the only AgentX protocol version this codec understands.
const Version = 1

// Type identifies an AgentX PDU variant (RFC 2741 Section 6.1).
type Type uint8

// PDU type constants, RFC 2741 Section 6.1.
const (
	TypeOpen            Type = 1
	TypeClose           Type = 2
	TypeRegister        Type = 3
	TypeUnregister      Type = 4
	TypeGet             Type = 5
	TypeGetNext         Type = 6
	TypeGetBulk         Type = 7
	TypeTestSet         Type = 8
	TypeCommitSet       Type = 9
	TypeUndoSet         Type = 10
	TypeCleanupSet      Type = 11
	TypeNotify          Type = 12
	TypePing            Type = 13
	TypeIndexAllocate   Type = 14
	TypeIndexDeallocate Type = 15
	TypeAddAgentCaps    Type = 16
	TypeRemoveAgentCaps Type = 17
	TypeResponse        Type = 18
)

var typeNames = [...]string{
	1: "Open", 2: "Close", 3: "Register", 4: "Unregister",
	5: "Get", 6: "GetNext", 7: "GetBulk", 8: "TestSet",
	9: "CommitSet", 10: "UndoSet", 11: "CleanupSet", 12: "Notify",
	13: "Ping", 14: "IndexAllocate", 15: "IndexDeallocate",
	16: "AddAgentCaps", 17: "RemoveAgentCaps", 18: "Response",
}

const unknownTypeFmt = "Type(%d)"

// String renders the PDU type's RFC 2741 name, falling back to a numeric
// form for an unrecognized value.
func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return fmt.Sprintf(unknownTypeFmt, uint8(t))
}

// Flags is the header's bitfield (RFC 2741 Section 6.1).
type Flags uint8

// Flag bits, RFC 2741 Section 6.1.
const (
	FlagInstanceRegistration Flags = 1 << 0
	FlagNewIndex             Flags = 1 << 1
	FlagAnyIndex             Flags = 1 << 2
	FlagNonDefaultContext    Flags = 1 << 3
	FlagNetworkByteOrder     Flags = 1 << 4
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

var (
	// ErrUnsupportedVersion is returned when the header's version field is
	// not 1.
	ErrUnsupportedVersion = errors.New("unsupported agentx version")
	// ErrReservedNonZero is returned when a reserved byte is not 0.
	ErrReservedNonZero = errors.New("reserved field is not zero")
	// ErrShortBuffer is returned when fewer than HeaderSize bytes are
	// available to decode a header, or a payload is truncated.
	ErrShortBuffer = errors.New("buffer too short")
	// ErrPayloadLengthMismatch is returned when the header's declared
	// payload length does not match the number of remaining bytes.
	ErrPayloadLengthMismatch = errors.New("payload length does not match remaining bytes")
)

// Header is the 20-byte prefix common to every AgentX PDU.
type Header struct {
	Version       uint8
	Type          Type
	Flags         Flags
	SessionID     uint32
	TransactionID uint32
	PacketID      uint32
	PayloadLength uint32
}

// byteOrder returns the binary.ByteOrder implied by h.Flags, per PDU.
func (h Header) byteOrder() binary.ByteOrder {
	if h.Flags.Has(FlagNetworkByteOrder) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// EncodeHeader writes h into the first HeaderSize bytes of buf. buf must be
// at least HeaderSize bytes long.
func EncodeHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, HeaderSize, len(buf))
	}
	bo := h.byteOrder()
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	buf[2] = uint8(h.Flags)
	buf[3] = 0
	bo.PutUint32(buf[4:8], h.SessionID)
	bo.PutUint32(buf[8:12], h.TransactionID)
	bo.PutUint32(buf[12:16], h.PacketID)
	bo.PutUint32(buf[16:20], h.PayloadLength)
	return nil
}

// DecodeHeader parses the first HeaderSize bytes of buf, validating version
// and the reserved byte.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, HeaderSize, len(buf))
	}
	if buf[0] != Version {
		return Header{}, fmt.Errorf("%w: got %d", ErrUnsupportedVersion, buf[0])
	}
	if buf[3] != 0 {
		return Header{}, fmt.Errorf("%w: header reserved byte", ErrReservedNonZero)
	}
	h := Header{
		Version: buf[0],
		Type:    Type(buf[1]),
		Flags:   Flags(buf[2]),
	}
	bo := h.byteOrder()
	h.SessionID = bo.Uint32(buf[4:8])
	h.TransactionID = bo.Uint32(buf[8:12])
	h.PacketID = bo.Uint32(buf[12:16])
	h.PayloadLength = bo.Uint32(buf[16:20])
	return h, nil
}
