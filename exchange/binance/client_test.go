package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/exchange"
	"tradegate/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testFutures(server *httptest.Server) *Client {
	c := newClient(server.URL, "test-key", "test-secret", true)
	c.httpClient = &http.Client{Timeout: 5 * time.Second}
	return c
}

func TestCreateMarketOrder_Signed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "MARKET", q.Get("type"))
		assert.Equal(t, "0.005", q.Get("quantity"))
		assert.Equal(t, "my-key-1", q.Get("newClientOrderId"))
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))

		w.Write([]byte(`{"orderId":123456,"clientOrderId":"my-key-1","status":"FILLED","executedQty":"0.005","avgPrice":"64250.10"}`))
	}))
	defer server.Close()

	res, err := testFutures(server).CreateMarketOrder(context.Background(), exchange.OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          market.SideBuy,
		Amount:        d("0.005"),
		ClientOrderID: "my-key-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "123456", res.OrderID)
	assert.Equal(t, "my-key-1", res.ClientOrderID)
	assert.True(t, res.FilledAmount.Equal(d("0.005")))
	assert.NotEmpty(t, res.Raw)
}

func TestClassify(t *testing.T) {
	c := NewFutures("k", "s")

	tests := []struct {
		name   string
		status int
		body   string
		want   exchange.Kind
	}{
		{"rate limited by status", http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`, exchange.KindNetworkTransient},
		{"banned teapot", 418, `{}`, exchange.KindNetworkTransient},
		{"server error", 503, `upstream unavailable`, exchange.KindNetworkTransient},
		{"rate limit code", 400, `{"code":-1003,"msg":"Way too many requests"}`, exchange.KindNetworkTransient},
		{"clock skew", 400, `{"code":-1021,"msg":"Timestamp outside recvWindow"}`, exchange.KindNetworkTransient},
		{"duplicate futures client id", 400, `{"code":-4015,"msg":"Client order id is duplicated"}`, exchange.KindDuplicateSubmission},
		{"duplicate spot order", 400, `{"code":-2010,"msg":"Duplicate order sent."}`, exchange.KindDuplicateSubmission},
		{"insufficient margin", 400, `{"code":-2019,"msg":"Margin is insufficient."}`, exchange.KindVenueReject},
		{"bad symbol", 400, `{"code":-1121,"msg":"Invalid symbol."}`, exchange.KindVenueReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.classify(tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, exchange.KindOf(err))
		})
	}
}

func TestLimits_ParsedAndCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","minQty":"0.001","stepSize":"0.001"},
			{"filterType":"MIN_NOTIONAL","minNotional":"100"}
		]}]}`))
	}))
	defer server.Close()

	c := testFutures(server)

	limits, err := c.Limits(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, limits.MinNotional.Equal(d("100")))
	assert.True(t, limits.MinAmount.Equal(d("0.001")))
	assert.Equal(t, int32(3), limits.AmountPrecision)
	assert.Equal(t, int32(1), limits.PricePrecision)

	_, err = c.Limits(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup must hit the cache")
}

func TestRoundAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"LOT_SIZE","minQty":"0.001","stepSize":"0.001"}
		]}]}`))
	}))
	defer server.Close()

	got, err := testFutures(server).RoundAmount(context.Background(), "BTCUSDT", d("0.0057999"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.005")), "got %s", got)
}

func TestPositions_SkipsFlat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/positionRisk", r.URL.Path)
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"0.010","entryPrice":"64000","unRealizedProfit":"25.0","leverage":"5"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","unRealizedProfit":"0","leverage":"20"},
			{"symbol":"SOLUSDT","positionAmt":"-10","entryPrice":"150","unRealizedProfit":"-4.2","leverage":"3"}
		]`))
	}))
	defer server.Close()

	positions, err := testFutures(server).Positions(context.Background())

	require.NoError(t, err)
	require.Len(t, positions, 2, "flat positions are dropped")

	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, market.SideBuy, positions[0].Side)
	assert.Equal(t, 5, positions[0].Leverage)

	assert.Equal(t, "SOLUSDT", positions[1].Symbol)
	assert.Equal(t, market.SideSell, positions[1].Side)
}

func TestTickers_FiltersRequested(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","bidPrice":"64000.0","askPrice":"64001.0"},
			{"symbol":"ETHUSDT","bidPrice":"3000.0","askPrice":"3000.5"},
			{"symbol":"DOGEUSDT","bidPrice":"0.10","askPrice":"0.11"}
		]`))
	}))
	defer server.Close()

	tickers, err := testFutures(server).Tickers(context.Background(), []string{"BTCUSDT", "ETHUSDT"})

	require.NoError(t, err)
	require.Len(t, tickers, 2)
	assert.True(t, tickers["BTCUSDT"].Mid().Equal(d("64000.5")))
	_, ok := tickers["DOGEUSDT"]
	assert.False(t, ok)
}

func TestSpotHasNoPositions(t *testing.T) {
	c := NewSpot("k", "s")
	positions, err := c.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestStepPrecision(t *testing.T) {
	tests := []struct {
		step string
		want int32
	}{
		{"1", 0},
		{"0.1", 1},
		{"0.001", 3},
		{"0.00100000", 3},
		{"0.00000001", 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stepPrecision(d(tt.step)), "step %s", tt.step)
	}
}
