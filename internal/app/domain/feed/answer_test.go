package feed

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackedLayout(t *testing.T) {
	packed := CustomNumber{ID: "custom_x", Value: 258, Decimals: 2}.Packed()
	require.Len(t, packed, len("custom_x")+64)
	require.Equal(t, "custom_x", string(packed[:8]))
	word := packed[8:40]
	require.Equal(t, "0000000000000000000000000000000000000000000000000000000000000102", hex.EncodeToString(word))
	require.Equal(t, byte(2), packed[71])

	str := CustomString{ID: "id", Value: "val"}.Packed()
	require.Equal(t, []byte("idval"), str)

	def := DefaultPriceFeed{Symbol: "ETH/USD", Rate: 1, Decimals: 9, Timestamp: 7}.Packed()
	require.Len(t, def, len("ETH/USD")+3*32)
	require.Equal(t, byte(7), def[len(def)-1])
}

func TestPackedDiffersBetweenPriceVariantsOnlyByValue(t *testing.T) {
	a := DefaultPriceFeed{Symbol: "BTC/USD", Rate: 5, Decimals: 2, Timestamp: 9}.Packed()
	b := CustomPriceFeed{Symbol: "BTC/USD", Rate: 5, Decimals: 2, Timestamp: 9}.Packed()
	require.Equal(t, a, b)
}

func TestAnswerJSONRoundTrip(t *testing.T) {
	answers := []Answer{
		{Data: DefaultPriceFeed{Symbol: "ETH/USD", Rate: 3000, Decimals: 2, Timestamp: 10}, Signature: "abcd"},
		{Data: CustomPriceFeed{Symbol: "custom_eth", Rate: 1, Decimals: 0, Timestamp: 11}},
		{Data: CustomNumber{ID: "custom_n", Value: 200, Decimals: 2}},
		{Data: CustomString{ID: "custom_s", Value: "a"}},
	}
	for _, in := range answers {
		raw, err := json.Marshal(in)
		require.NoError(t, err)
		var out Answer
		require.NoError(t, json.Unmarshal(raw, &out))
		require.Equal(t, in, out)
	}

	var bad Answer
	require.Error(t, json.Unmarshal([]byte(`{"type":"nope","data":{}}`), &bad))
}

func TestSourceURLAndCensor(t *testing.T) {
	src := Source{
		URI:     "https://api.example.com/price?key={example}",
		APIKeys: []APIKey{{Title: "example", Key: "secret"}},
	}
	require.Equal(t, "https://api.example.com/price?key=secret", src.URL())
	require.Equal(t, "***", src.Censored().APIKeys[0].Key)
	require.Equal(t, "secret", src.APIKeys[0].Key)
	require.Equal(t, MaxExpectedBytes, src.MaxResponseBytes())
}

func TestFilterMatch(t *testing.T) {
	f := Feed{
		ID:      "custom_btc",
		Kind:    KindCustom,
		Owner:   "0xabc",
		Sources: []Source{{URI: "https://binance.com/api/v3/ticker/price"}},
	}
	require.True(t, Filter{}.Match(f))
	require.True(t, Filter{Kind: KindCustom, Owner: "0xABC"}.Match(f))
	require.False(t, Filter{Kind: KindDefault}.Match(f))
	require.True(t, Filter{Search: "binance"}.Match(f))
	require.True(t, Filter{Search: "BTC"}.Match(f))
	require.False(t, Filter{Search: "bybit"}.Match(f))
}
