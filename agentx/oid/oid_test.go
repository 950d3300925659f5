package oid_test

import (
	"errors"
	"testing"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRenderRoundTrip(t *testing.T) {
	// S1: "1.3.6.1.4.1.12345" -> [1,3,6,1,4,1,12345], re-render equals input.
	o, err := oid.Parse("1.3.6.1.4.1.12345")
	require.NoError(t, err)
	require.Equal(t, 7, o.Len())
	assert.Equal(t, []uint32{1, 3, 6, 1, 4, 1, 12345}, o.SubIdentifiers())
	assert.Equal(t, "1.3.6.1.4.1.12345", o.String())
}

func TestParseEmpty(t *testing.T) {
	o, err := oid.Parse("")
	require.NoError(t, err)
	assert.True(t, o.IsEmpty())
	assert.Equal(t, "", o.String())
}

func TestParseRejectsEmptyComponent(t *testing.T) {
	_, err := oid.Parse("1..2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, oid.ErrInvalidOid))
}

func TestParseRejectsLeadingZero(t *testing.T) {
	_, err := oid.Parse("1.01.2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, oid.ErrInvalidOid))
}

func TestParseAllowsSingleZero(t *testing.T) {
	o, err := oid.Parse("1.0.2")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", o.String())
}

func TestParseRejectsOverflow(t *testing.T) {
	_, err := oid.Parse("1.4294967296")
	require.Error(t, err)
}

func TestParseRejectsTooLong(t *testing.T) {
	s := "1"
	for i := 0; i < oid.MaxLength; i++ {
		s += ".1"
	}
	_, err := oid.Parse(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, oid.ErrTooLong))
}

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.4", -1},
		{"1.2.4", "1.2.3", 1},
		{"1.2", "1.2.3", -1},
		{"1.2.3", "1.2", 1},
		{"1.9", "1.10", -1},
	}
	for _, c := range cases {
		a, err := oid.Parse(c.a)
		require.NoError(t, err)
		b, err := oid.Parse(c.b)
		require.NoError(t, err)
		got := a.Compare(b)
		if c.want < 0 {
			assert.Negative(t, got)
		} else if c.want > 0 {
			assert.Positive(t, got)
		} else {
			assert.Zero(t, got)
		}
	}
}

func TestIsPrefixOf(t *testing.T) {
	root := oid.MustParse("1.3.6.1.4.1.12345")
	child := oid.MustParse("1.3.6.1.4.1.12345.1.0")
	assert.True(t, root.IsPrefixOf(child))
	assert.False(t, child.IsPrefixOf(root))
	assert.True(t, root.IsPrefixOf(root))
}

func TestParentChild(t *testing.T) {
	o := oid.MustParse("1.3.6.1.4.1.12345.1.0")
	assert.Equal(t, "1.3.6.1.4.1.12345.1", o.Parent().String())

	base := oid.MustParse("1.3.6.1.4.1.12345")
	child, err := base.Child(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "1.3.6.1.4.1.12345.1.0", child.String())
}

func TestTrimPrefix(t *testing.T) {
	root := oid.MustParse("1.3.6.1.4.1.12345")
	full := oid.MustParse("1.3.6.1.4.1.12345.2.0")
	suffix, ok := full.TrimPrefix(root)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 0}, suffix)

	_, ok = root.TrimPrefix(full)
	assert.False(t, ok)
}
