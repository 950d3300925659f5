// Package oid implements the AgentX object identifier: an ordered sequence
// of unsigned 32-bit sub-identifiers (RFC 2741 Section 5.1).
package oid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxLength is the maximum number of sub-identifiers an OID may hold
// (RFC 2741 Section 5.1).
const MaxLength = 128

// MaxSubIdentifier is the maximum value of a single sub-identifier.
const MaxSubIdentifier = 1<<32 - 1

var (
	// ErrInvalidOid is returned when a dotted-decimal string fails to parse
	// as a well-formed object identifier.
	ErrInvalidOid = errors.New("invalid oid")
	// ErrTooLong is returned when an OID exceeds MaxLength sub-identifiers.
	ErrTooLong = errors.New("oid exceeds maximum length")
	// ErrSubIdentifierOverflow is returned when a component exceeds
	// MaxSubIdentifier.
	ErrSubIdentifierOverflow = errors.New("oid sub-identifier overflow")
	// ErrEmptyComponent is returned for a missing component between dots,
	// e.g. "1..2".
	ErrEmptyComponent = errors.New("empty oid component")
	// ErrLeadingZero is returned for a component like "01" (a leading zero
	// not alone).
	ErrLeadingZero = errors.New("oid component has leading zero")
)

// OID is an immutable sequence of sub-identifiers. The zero value is the
// empty OID, permitted only as a sentinel for "no name".
type OID struct {
	sub []uint32
}

// New builds an OID from the given sub-identifiers, copying the slice so
// the returned OID is independent of the caller's backing array.
func New(sub ...uint32) (OID, error) {
	if len(sub) > MaxLength {
		return OID{}, fmt.Errorf("%w: %d components", ErrTooLong, len(sub))
	}
	cp := make([]uint32, len(sub))
	copy(cp, sub)
	return OID{sub: cp}, nil
}

// Parse decodes a dot-separated decimal string into an OID, rejecting empty
// components, leading zeros beyond a single "0", values greater than
// MaxSubIdentifier, and a component count above MaxLength.
func Parse(s string) (OID, error) {
	if s == "" {
		return OID{}, nil
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxLength {
		return OID{}, fmt.Errorf("%w: %d components", ErrTooLong, len(parts))
	}

	sub := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := parseComponent(p)
		if err != nil {
			return OID{}, fmt.Errorf("%w: component %d (%q): %v", ErrInvalidOid, i, p, err)
		}
		sub[i] = v
	}
	return OID{sub: sub}, nil
}

func parseComponent(p string) (uint32, error) {
	if p == "" {
		return 0, ErrEmptyComponent
	}
	if len(p) > 1 && p[0] == '0' {
		return 0, ErrLeadingZero
	}
	v, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return 0, err
	}
	if v > MaxSubIdentifier {
		return 0, fmt.Errorf("%w: %d", ErrSubIdentifierOverflow, v)
	}
	return uint32(v), nil
}

// MustParse parses s and panics on error. Intended for package-level
// constants and tests, not for parsing untrusted input.
func MustParse(s string) OID {
	o, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return o
}

// String renders the OID in canonical dot-separated decimal form. The
// empty OID renders as the empty string.
func (o OID) String() string {
	if len(o.sub) == 0 {
		return ""
	}
	var b strings.Builder
	for i, v := range o.sub {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return b.String()
}

// Len returns the number of sub-identifiers.
func (o OID) Len() int { return len(o.sub) }

// IsEmpty reports whether this is the zero-length sentinel OID.
func (o OID) IsEmpty() bool { return len(o.sub) == 0 }

// At returns the sub-identifier at index i.
func (o OID) At(i int) uint32 { return o.sub[i] }

// SubIdentifiers returns a copy of the underlying sub-identifier slice.
func (o OID) SubIdentifiers() []uint32 {
	cp := make([]uint32, len(o.sub))
	copy(cp, o.sub)
	return cp
}

// Equal reports component-wise equality.
func (o OID) Equal(other OID) bool {
	return o.Compare(other) == 0
}

// Compare produces a total order: component-wise comparison until a
// mismatch or exhaustion; a strict prefix is smaller than its extension.
func (o OID) Compare(other OID) int {
	n := len(o.sub)
	if len(other.sub) < n {
		n = len(other.sub)
	}
	for i := 0; i < n; i++ {
		if o.sub[i] != other.sub[i] {
			if o.sub[i] < other.sub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(o.sub) < len(other.sub):
		return -1
	case len(o.sub) > len(other.sub):
		return 1
	default:
		return 0
	}
}

// Less reports whether o sorts strictly before other.
func (o OID) Less(other OID) bool { return o.Compare(other) < 0 }

// IsPrefixOf reports whether o is a prefix of other: o.Len() <= other.Len()
// and component-wise equal over o's length.
func (o OID) IsPrefixOf(other OID) bool {
	if len(o.sub) > len(other.sub) {
		return false
	}
	for i, v := range o.sub {
		if other.sub[i] != v {
			return false
		}
	}
	return true
}

// Parent returns the OID with its final sub-identifier removed. Calling
// Parent on the empty OID returns the empty OID.
func (o OID) Parent() OID {
	if len(o.sub) == 0 {
		return o
	}
	cp := make([]uint32, len(o.sub)-1)
	copy(cp, o.sub[:len(o.sub)-1])
	return OID{sub: cp}
}

// Child appends suffix sub-identifiers to o and returns the result. The
// receiver is not mutated.
func (o OID) Child(suffix ...uint32) (OID, error) {
	if len(o.sub)+len(suffix) > MaxLength {
		return OID{}, fmt.Errorf("%w: %d components", ErrTooLong, len(o.sub)+len(suffix))
	}
	cp := make([]uint32, 0, len(o.sub)+len(suffix))
	cp = append(cp, o.sub...)
	cp = append(cp, suffix...)
	return OID{sub: cp}, nil
}

// TrimPrefix returns the sub-identifiers of o that follow prefix, assuming
// prefix.IsPrefixOf(o). If it is not a prefix, ok is false.
func (o OID) TrimPrefix(prefix OID) (suffix []uint32, ok bool) {
	if !prefix.IsPrefixOf(o) {
		return nil, false
	}
	rest := o.sub[len(prefix.sub):]
	cp := make([]uint32, len(rest))
	copy(cp, rest)
	return cp, true
}
