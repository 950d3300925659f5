package value_test

import (
	"testing"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegerRoundTrip(t *testing.T) {
	v := value.Integer(42)
	assert.Equal(t, value.KindInteger, v.Kind())
	assert.Equal(t, int32(42), v.IntegerValue())
}

func TestOctetStringRoundTrip(t *testing.T) {
	v, err := value.OctetString([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v.OctetStringValue())
}

func TestOctetStringTooLong(t *testing.T) {
	_, err := value.OctetString(make([]byte, value.MaxOctetStringLen+1))
	require.ErrorIs(t, err, value.ErrOctetStringTooLong)
}

func TestObjectIdentifier(t *testing.T) {
	o := oid.MustParse("1.3.6.1.4.1.12345")
	v := value.ObjectIdentifier(o)
	assert.True(t, v.ObjectIdentifierValue().Equal(o))
}

func TestExceptionMarkers(t *testing.T) {
	assert.True(t, value.NoSuchObject().IsException())
	assert.True(t, value.NoSuchInstance().IsException())
	assert.True(t, value.EndOfMibView().IsException())
	assert.False(t, value.Integer(0).IsException())
}

func TestCounter64(t *testing.T) {
	v := value.Counter64(1 << 40)
	assert.Equal(t, uint64(1<<40), v.Uint64Value())
}

func TestKindStringFallback(t *testing.T) {
	assert.Equal(t, "Integer", value.KindInteger.String())
	assert.Contains(t, value.Kind(9999).String(), "9999")
}
