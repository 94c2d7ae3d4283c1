package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny_NullAndEmpty(t *testing.T) {
	for _, in := range []interface{}{nil, ""} {
		m, err := FromAny(in)
		require.NoError(t, err)
		assert.True(t, m.IsZero())
	}
}

func TestFromAny_ParseError(t *testing.T) {
	_, err := FromAny("not-a-number")
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestCmp_BitwiseCanonicalEquality(t *testing.T) {
	a, err := FromAny("150.00")
	require.NoError(t, err)
	b, err := FromAny("150")
	require.NoError(t, err)
	c, err := FromAny(150.001)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Cmp(b))
	assert.True(t, a.Eq(b))
	assert.Equal(t, a.String(), b.String())

	assert.Equal(t, 0, a.Cmp(c))
	assert.Equal(t, a.String(), c.String())
}

func TestInRange_Inclusive(t *testing.T) {
	lo := mustMoney(t, "50.00")
	hi := mustMoney(t, "300.00")

	assert.True(t, lo.InRange(lo, hi), "lower bound is in range")
	assert.True(t, hi.InRange(lo, hi), "upper bound is in range")
	assert.False(t, mustMoney(t, "49.99").InRange(lo, hi))
	assert.False(t, mustMoney(t, "300.01").InRange(lo, hi))
}

func TestClamp(t *testing.T) {
	lo := mustMoney(t, "50.00")
	hi := mustMoney(t, "300.00")

	assert.True(t, mustMoney(t, "1000.00").Clamp(lo, hi).Eq(hi))
	assert.True(t, mustMoney(t, "1.00").Clamp(lo, hi).Eq(lo))
	assert.True(t, mustMoney(t, "150.00").Clamp(lo, hi).Eq(mustMoney(t, "150.00")))
}

func TestSumAndAvg(t *testing.T) {
	vals := []Money{mustMoney(t, "100.00"), mustMoney(t, "200.00"), mustMoney(t, "300.00")}
	assert.True(t, Sum(vals).Eq(mustMoney(t, "600.00")))
	assert.True(t, Avg(vals).Eq(mustMoney(t, "200.00")))
	assert.True(t, Avg(nil).IsZero())
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$150.00", mustMoney(t, "150").FormatUSD())
}

func TestJSONRoundTrip(t *testing.T) {
	m := mustMoney(t, "1234.5")
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"1234.50"`, string(b))

	var out Money
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, m.Eq(out))
	assert.Equal(t, m.String(), out.String())
}

func TestScanValueRoundTrip(t *testing.T) {
	m := mustMoney(t, "42.5")
	v, err := m.Value()
	require.NoError(t, err)

	var out Money
	require.NoError(t, out.Scan(v))
	assert.True(t, m.Eq(out))
}

func mustMoney(t *testing.T, s string) Money {
	t.Helper()
	m, err := FromAny(s)
	require.NoError(t, err)
	return m
}
