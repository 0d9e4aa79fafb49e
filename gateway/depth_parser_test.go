package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCombinedDepth(t *testing.T) {
	raw := []byte(`{
		"stream":"btcusdt@depth20@100ms",
		"data":{
		  "E":1700000000000,
		  "s":"BTCUSDT",
		  "b":[["100.1","1.2"],["100.0","2"]],
		  "a":[["100.2","1.1"],["100.3","2.2"]]
		}
	}`)
	u, err := ParseDepth(raw)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if u.Symbol != "BTCUSDT" || u.Bids[0].Price != 100.1 || u.Asks[0].Price != 100.2 {
		t.Fatalf("unexpected parse result: %+v", u)
	}
	assert.Equal(t, 1.2, u.Bids[0].Size)
	assert.Len(t, u.Asks, 2)
	assert.Equal(t, int64(1700000000000), u.EventTime.UnixMilli())
}

func TestParseSpotPartialDepth(t *testing.T) {
	raw := []byte(`{"lastUpdateId":160,"bids":[["0.0024","10"]],"asks":[["0.0026","100"]]}`)
	u, err := ParseDepth(raw)
	require.NoError(t, err)
	assert.Empty(t, u.Symbol)

	tick := u.Tick("BNBBTC")
	assert.Equal(t, "BNBBTC", tick.Symbol)
	assert.Equal(t, 0.0024, tick.Bid)
	assert.Equal(t, 0.0026, tick.Ask)
	assert.InDelta(t, 0.0025, tick.Price, 1e-12)
	assert.False(t, tick.Timestamp.IsZero())
}

func TestParseSymbolFromStreamName(t *testing.T) {
	raw := []byte(`{"stream":"ethusdt@depth5","data":{"bids":[],"asks":[["2000","1"]]}}`)
	u, err := ParseDepth(raw)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", u.Symbol)
	assert.Equal(t, 2000.0, u.Tick("").Price)
}

func TestParseRejectsNonDepth(t *testing.T) {
	_, err := ParseDepth([]byte(`{"result":null,"id":1}`))
	assert.ErrorIs(t, err, ErrNotDepth)

	_, err = ParseDepth([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseSkipsShortLevels(t *testing.T) {
	u, err := ParseDepth([]byte(`{"bids":[["1"],["2","3"]],"asks":[]}`))
	require.NoError(t, err)
	require.Len(t, u.Bids, 1)
	assert.Equal(t, 2.0, u.Bids[0].Price)
}
