package pdu

import (
	"fmt"

	"github.com/agentx-go/subagent/agentx/oid"
)

// CloseReason is the RFC 2741 Section 7.2.2 close reason code.
type CloseReason uint8

// Close reason codes, RFC 2741 Section 7.2.2.
const (
	CloseReasonOther         CloseReason = 1
	CloseReasonParseError    CloseReason = 2
	CloseReasonProtocolError CloseReason = 3
	CloseReasonTimeouts      CloseReason = 4
	CloseReasonShutdown      CloseReason = 5
	CloseReasonByManager     CloseReason = 6
)

// ErrorStatus is the RFC 2741 Section 7.2.4 PDU-level error code carried in
// a Response PDU.
type ErrorStatus uint16

// Error statuses relevant to non-SET responses (RFC 2741 Section 7.2.4) and
// SET-specific statuses (RFC 2741 Section 7.2.4.1 / RFC 3416 Section 3).
const (
	ErrNone                  ErrorStatus = 0
	ErrGenErr                ErrorStatus = 5
	ErrNoAccess              ErrorStatus = 6
	ErrWrongType             ErrorStatus = 7
	ErrWrongLength           ErrorStatus = 8
	ErrWrongEncoding         ErrorStatus = 9
	ErrWrongValue            ErrorStatus = 10
	ErrNoCreation            ErrorStatus = 11
	ErrInconsistentValue     ErrorStatus = 12
	ErrResourceUnavailable   ErrorStatus = 13
	ErrCommitFailed          ErrorStatus = 14
	ErrUndoFailed            ErrorStatus = 15
	ErrNotWritable           ErrorStatus = 17
	ErrInconsistentName      ErrorStatus = 18
	ErrOpenFailed            ErrorStatus = 256
	ErrNotOpen               ErrorStatus = 257
	ErrIndexWrongType        ErrorStatus = 258
	ErrIndexAlreadyAllocated ErrorStatus = 259
	ErrIndexNoneAvailable    ErrorStatus = 260
	ErrIndexNotAllocated     ErrorStatus = 261
	ErrUnsupportedContext    ErrorStatus = 262
	ErrParseError            ErrorStatus = 263
	ErrRequestDenied         ErrorStatus = 264
	ErrProcessingError       ErrorStatus = 265
	ErrDuplicateRegistration ErrorStatus = 266
)

var errorStatusNames = map[ErrorStatus]string{
	ErrNone:                  "none",
	ErrGenErr:                "genErr",
	ErrNoAccess:              "noAccess",
	ErrWrongType:             "wrongType",
	ErrWrongLength:           "wrongLength",
	ErrWrongEncoding:         "wrongEncoding",
	ErrWrongValue:            "wrongValue",
	ErrNoCreation:            "noCreation",
	ErrInconsistentValue:     "inconsistentValue",
	ErrResourceUnavailable:   "resourceUnavailable",
	ErrCommitFailed:          "commitFailed",
	ErrUndoFailed:            "undoFailed",
	ErrNotWritable:           "notWritable",
	ErrInconsistentName:      "inconsistentName",
	ErrOpenFailed:            "openFailed",
	ErrNotOpen:               "notOpen",
	ErrIndexWrongType:        "indexWrongType",
	ErrIndexAlreadyAllocated: "indexAlreadyAllocated",
	ErrIndexNoneAvailable:    "indexNoneAvailable",
	ErrIndexNotAllocated:     "indexNotAllocated",
	ErrUnsupportedContext:    "unsupportedContext",
	ErrParseError:            "parseError",
	ErrRequestDenied:         "requestDenied",
	ErrProcessingError:       "processingError",
	ErrDuplicateRegistration: "duplicateRegistration",
}

// String renders the error status's RFC 2741 name, falling back to a
// numeric form for an unrecognized value.
func (e ErrorStatus) String() string {
	if name, ok := errorStatusNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ErrorStatus(%d)", uint16(e))
}

// Packet is a decoded (or to-be-encoded) AgentX PDU: the header plus
// whichever fields are meaningful for Header.Type. Only the fields
// documented against each Type below are populated by Decode / consulted
// by Encode for that type.
type Packet struct {
	Header Header

	// Context is the optional non-default context octet string, present
	// when Header.Flags has FlagNonDefaultContext set. Not used by Open,
	// Close, or Response.
	Context string

	// Open.
	OpenTimeout uint8
	OpenID      oid.OID
	OpenDescr   string

	// Close.
	CloseReason CloseReason

	// Register / Unregister.
	RegTimeout    uint8
	RegPriority   uint8
	RegRangeSubid uint8
	RegSubtree    oid.OID
	RegUpperBound uint32

	// Get / GetNext / GetBulk.
	SearchRanges   []SearchRange
	NonRepeaters   uint16
	MaxRepetitions uint16

	// TestSet / Notify / IndexAllocate / IndexDeallocate / Response
	// VarBinds.
	VarBinds []VarBind

	// AddAgentCaps / RemoveAgentCaps.
	AgentCapsID    oid.OID
	AgentCapsDescr string

	// Response.
	RespSysUpTime uint32
	RespError     ErrorStatus
	RespIndex     uint16
}

// Encode renders p to its complete wire form (header + payload), computing
// and filling in Header.PayloadLength.
func Encode(p Packet) ([]byte, error) {
	e := newEncBuf(p.Header.byteOrder())

	hasContext := p.Header.Flags.Has(FlagNonDefaultContext)
	encodeContext := func() {
		if hasContext {
			e.putOctetString([]byte(p.Context))
		}
	}

	switch p.Header.Type {
	case TypeOpen:
		e.putUint8(p.OpenTimeout)
		e.putUint8(0)
		e.putUint8(0)
		e.putUint8(0)
		e.putOID(p.OpenID, false)
		e.putOctetString([]byte(p.OpenDescr))

	case TypeClose:
		e.putUint8(uint8(p.CloseReason))
		e.putUint8(0)
		e.putUint8(0)
		e.putUint8(0)

	case TypeRegister:
		encodeContext()
		e.putUint8(p.RegTimeout)
		e.putUint8(p.RegPriority)
		e.putUint8(p.RegRangeSubid)
		e.putUint8(0)
		e.putOID(p.RegSubtree, false)
		if p.RegRangeSubid != 0 {
			e.putUint32(p.RegUpperBound)
		}

	case TypeUnregister:
		encodeContext()
		e.putUint8(0)
		e.putUint8(p.RegPriority)
		e.putUint8(p.RegRangeSubid)
		e.putUint8(0)
		e.putOID(p.RegSubtree, false)
		if p.RegRangeSubid != 0 {
			e.putUint32(p.RegUpperBound)
		}

	case TypeGet, TypeGetNext:
		encodeContext()
		for _, sr := range p.SearchRanges {
			e.putSearchRange(sr)
		}

	case TypeGetBulk:
		encodeContext()
		e.putUint16(p.NonRepeaters)
		e.putUint16(p.MaxRepetitions)
		for _, sr := range p.SearchRanges {
			e.putSearchRange(sr)
		}

	case TypeTestSet:
		encodeContext()
		for _, vb := range p.VarBinds {
			if err := e.putVarBind(vb.Name, vb.Value); err != nil {
				return nil, err
			}
		}

	case TypeCommitSet, TypeUndoSet, TypeCleanupSet:
		encodeContext()

	case TypeNotify:
		encodeContext()
		for _, vb := range p.VarBinds {
			if err := e.putVarBind(vb.Name, vb.Value); err != nil {
				return nil, err
			}
		}

	case TypePing:
		encodeContext()

	case TypeIndexAllocate, TypeIndexDeallocate:
		encodeContext()
		for _, vb := range p.VarBinds {
			if err := e.putVarBind(vb.Name, vb.Value); err != nil {
				return nil, err
			}
		}

	case TypeAddAgentCaps:
		encodeContext()
		e.putOID(p.AgentCapsID, false)
		e.putOctetString([]byte(p.AgentCapsDescr))

	case TypeRemoveAgentCaps:
		encodeContext()
		e.putOID(p.AgentCapsID, false)

	case TypeResponse:
		e.putUint32(p.RespSysUpTime)
		e.putUint16(uint16(p.RespError))
		e.putUint16(p.RespIndex)
		for _, vb := range p.VarBinds {
			if err := e.putVarBind(vb.Name, vb.Value); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("%w: unknown pdu type %v", ErrMalformedPdu, p.Header.Type)
	}

	full := make([]byte, HeaderSize+len(e.buf))
	h := p.Header
	h.PayloadLength = uint32(len(e.buf))
	if err := EncodeHeader(h, full); err != nil {
		return nil, err
	}
	copy(full[HeaderSize:], e.buf)
	return full, nil
}

// Decode parses a complete PDU (header + payload) from buf. buf must
// contain exactly HeaderSize + header.PayloadLength bytes; Decode returns
// ErrPayloadLengthMismatch otherwise.
func Decode(buf []byte) (Packet, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	payload := buf[HeaderSize:]
	if uint32(len(payload)) != h.PayloadLength {
		return Packet{}, fmt.Errorf("%w: header says %d, have %d", ErrPayloadLengthMismatch, h.PayloadLength, len(payload))
	}

	d := newDecBuf(h.byteOrder(), payload)
	p := Packet{Header: h}

	hasContext := h.Flags.Has(FlagNonDefaultContext)
	decodeContext := func() error {
		if !hasContext {
			return nil
		}
		b, err := d.getOctetString()
		if err != nil {
			return err
		}
		p.Context = string(b)
		return nil
	}

	switch h.Type {
	case TypeOpen:
		to, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		if _, err := d.getBytes(3); err != nil { // reserved
			return Packet{}, err
		}
		id, _, err := d.getOID()
		if err != nil {
			return Packet{}, err
		}
		descr, err := d.getOctetString()
		if err != nil {
			return Packet{}, err
		}
		p.OpenTimeout, p.OpenID, p.OpenDescr = to, id, string(descr)

	case TypeClose:
		reason, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		if _, err := d.getBytes(3); err != nil {
			return Packet{}, err
		}
		p.CloseReason = CloseReason(reason)

	case TypeRegister:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		to, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		prio, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		rangeSubid, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		if _, err := d.getUint8(); err != nil {
			return Packet{}, err
		}
		subtree, _, err := d.getOID()
		if err != nil {
			return Packet{}, err
		}
		p.RegTimeout, p.RegPriority, p.RegRangeSubid, p.RegSubtree = to, prio, rangeSubid, subtree
		if rangeSubid != 0 {
			ub, err := d.getUint32()
			if err != nil {
				return Packet{}, err
			}
			p.RegUpperBound = ub
		}

	case TypeUnregister:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		if _, err := d.getUint8(); err != nil { // reserved timeout slot
			return Packet{}, err
		}
		prio, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		rangeSubid, err := d.getUint8()
		if err != nil {
			return Packet{}, err
		}
		if _, err := d.getUint8(); err != nil {
			return Packet{}, err
		}
		subtree, _, err := d.getOID()
		if err != nil {
			return Packet{}, err
		}
		p.RegPriority, p.RegRangeSubid, p.RegSubtree = prio, rangeSubid, subtree
		if rangeSubid != 0 {
			ub, err := d.getUint32()
			if err != nil {
				return Packet{}, err
			}
			p.RegUpperBound = ub
		}

	case TypeGet, TypeGetNext:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		ranges, err := decodeSearchRanges(d)
		if err != nil {
			return Packet{}, err
		}
		p.SearchRanges = ranges

	case TypeGetBulk:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		nr, err := d.getUint16()
		if err != nil {
			return Packet{}, err
		}
		mr, err := d.getUint16()
		if err != nil {
			return Packet{}, err
		}
		ranges, err := decodeSearchRanges(d)
		if err != nil {
			return Packet{}, err
		}
		p.NonRepeaters, p.MaxRepetitions, p.SearchRanges = nr, mr, ranges

	case TypeTestSet, TypeNotify, TypeIndexAllocate, TypeIndexDeallocate:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		vbs, err := decodeVarBinds(d)
		if err != nil {
			return Packet{}, err
		}
		p.VarBinds = vbs

	case TypeCommitSet, TypeUndoSet, TypeCleanupSet, TypePing:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}

	case TypeAddAgentCaps:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		id, _, err := d.getOID()
		if err != nil {
			return Packet{}, err
		}
		descr, err := d.getOctetString()
		if err != nil {
			return Packet{}, err
		}
		p.AgentCapsID, p.AgentCapsDescr = id, string(descr)

	case TypeRemoveAgentCaps:
		if err := decodeContext(); err != nil {
			return Packet{}, err
		}
		id, _, err := d.getOID()
		if err != nil {
			return Packet{}, err
		}
		p.AgentCapsID = id

	case TypeResponse:
		uptime, err := d.getUint32()
		if err != nil {
			return Packet{}, err
		}
		errStatus, err := d.getUint16()
		if err != nil {
			return Packet{}, err
		}
		index, err := d.getUint16()
		if err != nil {
			return Packet{}, err
		}
		vbs, err := decodeVarBinds(d)
		if err != nil {
			return Packet{}, err
		}
		p.RespSysUpTime, p.RespError, p.RespIndex, p.VarBinds = uptime, ErrorStatus(errStatus), index, vbs

	default:
		return Packet{}, fmt.Errorf("%w: unknown pdu type %v", ErrMalformedPdu, h.Type)
	}

	if d.remaining() != 0 {
		return Packet{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPdu, d.remaining())
	}
	return p, nil
}

func decodeSearchRanges(d *decBuf) ([]SearchRange, error) {
	var ranges []SearchRange
	for d.remaining() > 0 {
		sr, err := d.getSearchRange()
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, sr)
	}
	return ranges, nil
}

func decodeVarBinds(d *decBuf) ([]VarBind, error) {
	var vbs []VarBind
	for d.remaining() > 0 {
		vb, err := d.getVarBind()
		if err != nil {
			return nil, err
		}
		vbs = append(vbs, vb)
	}
	return vbs, nil
}
