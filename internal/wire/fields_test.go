package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/gatewire/errs"
)

func TestCursorTypedReads(t *testing.T) {
	payload := NewBuilder().
		AddInt(42).
		AddString("AAPL").
		AddFloat(150.25).
		AddDecimal(decimal.RequireFromString("99.95")).
		AddBool(true).
		AddInt(1700000000).
		Bytes()

	c := NewCursor(payload)
	require.Equal(t, 6, c.Len())

	i, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, int64(42), i)

	s, err := c.NextString()
	require.NoError(t, err)
	require.Equal(t, "AAPL", s)

	f, err := c.NextFloat()
	require.NoError(t, err)
	require.Equal(t, 150.25, f)

	d, err := c.NextDecimal()
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.RequireFromString("99.95")))

	b, err := c.NextBool()
	require.NoError(t, err)
	require.True(t, b)

	ts, err := c.NextTime()
	require.NoError(t, err)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), ts)

	require.Equal(t, 0, c.Remaining())
}

func TestCursorUnsetSentinels(t *testing.T) {
	payload := NewBuilder().AddEmpty().AddEmpty().AddEmpty().AddEmpty().Bytes()
	c := NewCursor(payload)

	i, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, UnsetInt, i)

	f, err := c.NextFloat()
	require.NoError(t, err)
	require.Equal(t, UnsetFloat, f)

	d, err := c.NextDecimal()
	require.NoError(t, err)
	require.True(t, IsUnsetDecimal(d))

	ts, err := c.NextTime()
	require.NoError(t, err)
	require.True(t, ts.IsZero())
}

func TestCursorUnsetDistinctFromZero(t *testing.T) {
	payload := NewBuilder().AddInt(0).AddEmpty().Bytes()
	c := NewCursor(payload)

	zero, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, int64(0), zero)

	unset, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, UnsetInt, unset)
	require.NotEqual(t, zero, unset)
}

func TestCursorUnderrun(t *testing.T) {
	c := NewCursor(NewBuilder().AddInt(1).Bytes())
	_, err := c.NextInt()
	require.NoError(t, err)

	_, err = c.NextString()
	require.Error(t, err)
	require.Equal(t, errs.CodeDecode, errs.CodeOf(err))
}

func TestCursorMalformedNumeric(t *testing.T) {
	c := NewCursor([]byte("not-a-number\x00"))
	_, err := c.NextInt()
	require.Error(t, err)
	require.Equal(t, errs.CodeDecode, errs.CodeOf(err))
}

func TestCursorRemainingFields(t *testing.T) {
	c := NewCursor(NewBuilder().AddInt(7).AddString("a").AddString("b").Bytes())
	_, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, c.RemainingFields())
	require.Equal(t, 0, c.Remaining())
}

func TestBuilderRoundTrip(t *testing.T) {
	payload := NewBuilder().
		AddInt(UnsetInt).
		AddFloat(UnsetFloat).
		AddDecimal(UnsetDecimal).
		AddString("").
		Bytes()

	c := NewCursor(payload)
	require.Equal(t, 4, c.Len())

	i, err := c.NextInt()
	require.NoError(t, err)
	require.Equal(t, UnsetInt, i)

	f, err := c.NextFloat()
	require.NoError(t, err)
	require.Equal(t, UnsetFloat, f)

	d, err := c.NextDecimal()
	require.NoError(t, err)
	require.True(t, IsUnsetDecimal(d))

	s, err := c.NextString()
	require.NoError(t, err)
	require.Equal(t, "", s)
}
