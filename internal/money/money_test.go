package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimesKeepsTwoDecimals(t *testing.T) {
	unit := MustParse("19.90")
	assert.Equal(t, "39.80", unit.Times(2).String())
	assert.Equal(t, int64(3980), unit.Times(2).MinorUnits())
}

func TestParseRoundsToCents(t *testing.T) {
	a, err := Parse("10.005")
	require.NoError(t, err)
	assert.Equal(t, "10.01", a.String())

	_, err = Parse("ten")
	assert.Error(t, err)
}

func TestSum(t *testing.T) {
	total := Sum(MustParse("0.10"), MustParse("0.20"), MustParse("12"))
	assert.Equal(t, "12.30", total.String())
	assert.True(t, total.Equal(FromMinor(1230)))
}

func TestJSONRoundTripUsesFixedString(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{MustParse("39.8")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"39.80"}`, string(b))

	var out struct {
		Price Amount `json:"price"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"price":19.9}`), &out))
	assert.Equal(t, "19.90", out.Price.String())
}

func TestScan(t *testing.T) {
	var a Amount
	require.NoError(t, a.Scan([]byte("39.80")))
	assert.Equal(t, "39.80", a.String())
	require.NoError(t, a.Scan(nil))
	assert.Equal(t, "0.00", a.String())
	assert.Error(t, a.Scan(struct{}{}))
}
