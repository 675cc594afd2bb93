package amount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsExact(t *testing.T) {
	// 0.1 + 0.2 is the classic float drift case
	got := Sum(MustNew("0.1"), MustNew("0.2"))
	require.Equal(t, 0, got.Cmp(MustNew("0.3")))
	require.Equal(t, "0.3", got.String())
}

func TestCmpAndSub(t *testing.T) {
	a := MustNew("1200.50")
	b := MustNew("1000")
	assert.Equal(t, 1, a.Cmp(b))
	assert.Equal(t, -1, b.Cmp(a))
	assert.Equal(t, "200.50", a.Sub(b).String())
	assert.True(t, a.Sub(a).IsZero())
}

func TestRound(t *testing.T) {
	assert.Equal(t, "10.13", MustNew("10.125").Round(2).String())
	assert.Equal(t, "3", MustNew("2.5").Round(0).String())
}

func TestJSONRoundTripsAsString(t *testing.T) {
	b, err := json.Marshal(MustNew("42.10"))
	require.NoError(t, err)
	require.JSONEq(t, `"42.10"`, string(b))

	var d Decimal
	require.NoError(t, json.Unmarshal([]byte(`17.5`), &d))
	require.Equal(t, "17.5", d.String())
}

func TestScan(t *testing.T) {
	var d Decimal
	require.NoError(t, d.Scan("12.34"))
	assert.Equal(t, "12.34", d.String())
	require.NoError(t, d.Scan(int64(7)))
	assert.Equal(t, "7", d.String())
	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())
	require.Error(t, d.Scan(struct{}{}))
}

func TestNewRejectsGarbage(t *testing.T) {
	_, err := New("twelve")
	require.Error(t, err)
}
