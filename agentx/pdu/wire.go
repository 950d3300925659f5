package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/value"
)

var (
	// ErrMalformedPdu is returned for any structural decode failure beyond
	// the header: bad OID/OctetString length, unknown value kind, etc.
	ErrMalformedPdu = errors.New("malformed pdu")
)

// agentxPrefixRoot is the OID prefix implied by a nonzero OID "prefix"
// byte: 1.3.6.1.<prefix> (RFC 2741 Section 5.1).
var agentxPrefixRoot = [4]uint32{1, 3, 6, 1}

// encBuf is a small append-only byte builder carrying the per-PDU byte
// order, mirroring the direct encoding/binary bit-packing style of
// internal/bfd/packet.go, generalized to a growable buffer since AgentX
// PDUs are variable length.
type encBuf struct {
	bo  binary.ByteOrder
	buf []byte
}

func newEncBuf(bo binary.ByteOrder) *encBuf {
	return &encBuf{bo: bo}
}

func (e *encBuf) putUint8(v uint8) { e.buf = append(e.buf, v) }
func (e *encBuf) putUint16(v uint16) {
	var b [2]byte
	e.bo.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encBuf) putUint32(v uint32) {
	var b [4]byte
	e.bo.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encBuf) putUint64(v uint64) {
	var b [8]byte
	e.bo.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encBuf) putBytes(b []byte) { e.buf = append(e.buf, b...) }

// putOID writes the OID encoding: n_subid, prefix, include, reserved, then
// n_subid u32 sub-identifiers (RFC 2741 Section 5.1). When o starts with
// 1.3.6.1.<x> for some x in 1..255, the prefix-compression form is used: x
// goes into the prefix byte and only the sub-identifiers after it follow.
func (e *encBuf) putOID(o oid.OID, include bool) {
	sub := o.SubIdentifiers()
	prefix := uint8(0)
	if len(sub) >= 5 && sub[0] == agentxPrefixRoot[0] && sub[1] == agentxPrefixRoot[1] &&
		sub[2] == agentxPrefixRoot[2] && sub[3] == agentxPrefixRoot[3] && sub[4] >= 1 && sub[4] <= 255 {
		prefix = uint8(sub[4])
		sub = sub[5:]
	}
	e.putUint8(uint8(len(sub)))
	e.putUint8(prefix)
	if include {
		e.putUint8(1)
	} else {
		e.putUint8(0)
	}
	e.putUint8(0)
	for _, s := range sub {
		e.putUint32(s)
	}
}

// putOctetString writes length + bytes, zero-padded to 4-byte alignment
// (RFC 2741 Section 5.3).
func (e *encBuf) putOctetString(b []byte) {
	e.putUint32(uint32(len(b)))
	e.putBytes(b)
	if pad := (4 - len(b)%4) % 4; pad != 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

// putValue writes a VarBind's value payload per its kind (RFC 2741
// Section 5.4). The type tag itself is written by putVarBind.
func (e *encBuf) putValue(v value.Value) error {
	switch v.Kind() {
	case value.KindInteger:
		e.putUint32(uint32(v.IntegerValue()))
	case value.KindOctetString, value.KindOpaque:
		var b []byte
		if v.Kind() == value.KindOctetString {
			b = v.OctetStringValue()
		} else {
			b = v.OpaqueValue()
		}
		e.putOctetString(b)
	case value.KindObjectIdentifier:
		e.putOID(v.ObjectIdentifierValue(), false)
	case value.KindIPAddress:
		ip := v.IPAddressValue()
		e.putOctetString(ip[:])
	case value.KindCounter32, value.KindGauge32, value.KindTimeTicks:
		e.putUint32(v.Uint32Value())
	case value.KindCounter64:
		e.putUint64(v.Uint64Value())
	case value.KindNull, value.KindNoSuchObject, value.KindNoSuchInstance, value.KindEndOfMibView:
		// zero-length payload
	default:
		return fmt.Errorf("%w: unsupported value kind %v", ErrMalformedPdu, v.Kind())
	}
	return nil
}

// putVarBind writes type, reserved, name OID, and value payload
// (RFC 2741 Section 5.4).
func (e *encBuf) putVarBind(o oid.OID, v value.Value) error {
	e.putUint16(uint16(v.Kind()))
	e.putUint16(0)
	e.putOID(o, false)
	return e.putValue(v)
}

// putSearchRange writes a SearchRange: start OID (with include flag), end
// OID (include always 0) (RFC 2741 Section 5.2).
func (e *encBuf) putSearchRange(sr SearchRange) {
	e.putOID(sr.Start, sr.Include)
	e.putOID(sr.End, false)
}

// FindUnencodableVarBind returns the 0-based index of the first VarBind
// whose Value cannot be encoded (an unsupported Kind), or -1 if every
// VarBind in vbs would encode cleanly.
func FindUnencodableVarBind(vbs []VarBind) int {
	e := newEncBuf(binary.BigEndian)
	for i, vb := range vbs {
		if err := e.putValue(vb.Value); err != nil {
			return i
		}
	}
	return -1
}

// decBuf is a cursor over a decode buffer, paired with the PDU's byte
// order.
type decBuf struct {
	bo  binary.ByteOrder
	buf []byte
	pos int
}

func newDecBuf(bo binary.ByteOrder, buf []byte) *decBuf {
	return &decBuf{bo: bo, buf: buf}
}

func (d *decBuf) remaining() int { return len(d.buf) - d.pos }

func (d *decBuf) need(n int) error {
	if d.remaining() < n {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, d.remaining())
	}
	return nil
}

func (d *decBuf) getUint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decBuf) getUint16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := d.bo.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decBuf) getUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := d.bo.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decBuf) getUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := d.bo.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decBuf) getBytes(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// getOID decodes an OID per RFC 2741 Section 5.1, returning the OID and its
// include flag.
func (d *decBuf) getOID() (oid.OID, bool, error) {
	n, err := d.getUint8()
	if err != nil {
		return oid.OID{}, false, err
	}
	if int(n) > oid.MaxLength {
		return oid.OID{}, false, fmt.Errorf("%w: oid length %d exceeds maximum", ErrMalformedPdu, n)
	}
	prefix, err := d.getUint8()
	if err != nil {
		return oid.OID{}, false, err
	}
	includeByte, err := d.getUint8()
	if err != nil {
		return oid.OID{}, false, err
	}
	reserved, err := d.getUint8()
	if err != nil {
		return oid.OID{}, false, err
	}
	if reserved != 0 {
		return oid.OID{}, false, fmt.Errorf("%w: oid reserved byte nonzero", ErrMalformedPdu)
	}

	sub := make([]uint32, 0, int(n)+4)
	if prefix != 0 {
		sub = append(sub, agentxPrefixRoot[:]...)
		sub = append(sub, uint32(prefix))
	}
	for i := uint8(0); i < n; i++ {
		v, err := d.getUint32()
		if err != nil {
			return oid.OID{}, false, err
		}
		sub = append(sub, v)
	}
	o, err := oid.New(sub...)
	if err != nil {
		return oid.OID{}, false, fmt.Errorf("%w: %v", ErrMalformedPdu, err)
	}
	return o, includeByte != 0, nil
}

// getOctetString decodes length + bytes + alignment padding
// (RFC 2741 Section 5.3).
func (d *decBuf) getOctetString() ([]byte, error) {
	n, err := d.getUint32()
	if err != nil {
		return nil, err
	}
	if n > value.MaxOctetStringLen {
		return nil, fmt.Errorf("%w: octet string length %d exceeds maximum", ErrMalformedPdu, n)
	}
	b, err := d.getBytes(int(n))
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	if pad := (4 - int(n)%4) % 4; pad != 0 {
		if _, err := d.getBytes(pad); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// getValue decodes a value payload for the given kind tag.
func (d *decBuf) getValue(kind value.Kind) (value.Value, error) {
	switch kind {
	case value.KindInteger:
		v, err := d.getUint32()
		if err != nil {
			return value.Value{}, err
		}
		return value.Integer(int32(v)), nil
	case value.KindOctetString:
		b, err := d.getOctetString()
		if err != nil {
			return value.Value{}, err
		}
		return value.OctetString(b)
	case value.KindOpaque:
		b, err := d.getOctetString()
		if err != nil {
			return value.Value{}, err
		}
		return value.Opaque(b)
	case value.KindObjectIdentifier:
		o, _, err := d.getOID()
		if err != nil {
			return value.Value{}, err
		}
		return value.ObjectIdentifier(o), nil
	case value.KindIPAddress:
		b, err := d.getOctetString()
		if err != nil {
			return value.Value{}, err
		}
		if len(b) != 4 {
			return value.Value{}, fmt.Errorf("%w: ip address length %d", ErrMalformedPdu, len(b))
		}
		return value.IPAddress(b[0], b[1], b[2], b[3]), nil
	case value.KindCounter32:
		v, err := d.getUint32()
		if err != nil {
			return value.Value{}, err
		}
		return value.Counter32(v), nil
	case value.KindGauge32:
		v, err := d.getUint32()
		if err != nil {
			return value.Value{}, err
		}
		return value.Gauge32(v), nil
	case value.KindTimeTicks:
		v, err := d.getUint32()
		if err != nil {
			return value.Value{}, err
		}
		return value.TimeTicks(v), nil
	case value.KindCounter64:
		v, err := d.getUint64()
		if err != nil {
			return value.Value{}, err
		}
		return value.Counter64(v), nil
	case value.KindNull:
		return value.Null(), nil
	case value.KindNoSuchObject:
		return value.NoSuchObject(), nil
	case value.KindNoSuchInstance:
		return value.NoSuchInstance(), nil
	case value.KindEndOfMibView:
		return value.EndOfMibView(), nil
	default:
		return value.Value{}, fmt.Errorf("%w: %w %d", ErrMalformedPdu, value.ErrUnknownKind, kind)
	}
}

// getVarBind decodes type, reserved, name OID, and value payload.
func (d *decBuf) getVarBind() (VarBind, error) {
	kindTag, err := d.getUint16()
	if err != nil {
		return VarBind{}, err
	}
	reserved, err := d.getUint16()
	if err != nil {
		return VarBind{}, err
	}
	if reserved != 0 {
		return VarBind{}, fmt.Errorf("%w: varbind reserved field nonzero", ErrMalformedPdu)
	}
	name, _, err := d.getOID()
	if err != nil {
		return VarBind{}, err
	}
	v, err := d.getValue(value.Kind(kindTag))
	if err != nil {
		return VarBind{}, err
	}
	return VarBind{Name: name, Value: v}, nil
}

// getSearchRange decodes a SearchRange (RFC 2741 Section 5.2).
func (d *decBuf) getSearchRange() (SearchRange, error) {
	start, include, err := d.getOID()
	if err != nil {
		return SearchRange{}, err
	}
	end, _, err := d.getOID()
	if err != nil {
		return SearchRange{}, err
	}
	return SearchRange{Start: start, End: end, Include: include}, nil
}

// VarBind is an (OID, Value) pair.
type VarBind struct {
	Name  oid.OID
	Value value.Value
}

// SearchRange is a (start OID, end OID) pair with an inclusive-start flag.
// A zero-length End means unbounded.
type SearchRange struct {
	Start   oid.OID
	End     oid.OID
	Include bool
}
