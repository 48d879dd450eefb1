package oanda

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/exchange"
	"tradegate/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testClient(server *httptest.Server) *Client {
	return &Client{
		baseURL:    server.URL,
		token:      "test-token",
		accountID:  "001-001-1234567-001",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestNewClient(t *testing.T) {
	t.Run("practice mode", func(t *testing.T) {
		client := NewClient("test-token", "acct", true)
		assert.Equal(t, PracticeURL, client.baseURL)
	})

	t.Run("live mode", func(t *testing.T) {
		client := NewClient("test-token", "acct", false)
		assert.Equal(t, LiveURL, client.baseURL)
	})
}

func TestCreateOrder_Fill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v3/accounts/001-001-1234567-001/orders", r.URL.Path)

		var body marketOrderBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MARKET", body.Order.Type)
		assert.Equal(t, "EUR_USD", body.Order.Instrument)
		// 0.5 lots sell -> -50000 units.
		assert.Equal(t, "-50000", body.Order.Units)
		require.NotNil(t, body.Order.StopLossOnFill)
		assert.Equal(t, "1.095", body.Order.StopLossOnFill.Price)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"orderFillTransaction":{"id":"6789"}}`))
	}))
	defer server.Close()

	res, err := testClient(server).CreateOrder(context.Background(), exchange.PlatformOrderRequest{
		Symbol:   "EUR_USD",
		Side:     market.SideSell,
		Lots:     d("0.5"),
		StopLoss: d("1.095"),
	})

	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "6789", res.OrderID)
}

func TestCreateOrder_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"orderCancelTransaction":{"reason":"INSUFFICIENT_MARGIN"}}`))
	}))
	defer server.Close()

	res, err := testClient(server).CreateOrder(context.Background(), exchange.PlatformOrderRequest{
		Symbol: "EUR_USD", Side: market.SideBuy, Lots: d("100"),
	})

	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, "INSUFFICIENT_MARGIN", res.Message)
}

func TestCreateOrder_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient(server).CreateOrder(context.Background(), exchange.PlatformOrderRequest{
		Symbol: "EUR_USD", Side: market.SideBuy, Lots: d("1"),
	})

	require.Error(t, err)
	assert.Equal(t, exchange.KindNetworkTransient, exchange.KindOf(err))
}

func TestPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/001-001-1234567-001/openPositions", r.URL.Path)
		w.Write([]byte(`{"positions":[{
			"instrument":"EUR_USD",
			"long":{"units":"50000","averagePrice":"1.0850","unrealizedPL":"12.5"},
			"short":{"units":"0","averagePrice":"0","unrealizedPL":"0"}
		},{
			"instrument":"GBP_USD",
			"long":{"units":"0","averagePrice":"0","unrealizedPL":"0"},
			"short":{"units":"-25000","averagePrice":"1.2700","unrealizedPL":"-3.1"}
		}]}`))
	}))
	defer server.Close()

	positions, err := testClient(server).Positions(context.Background())

	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "EUR_USD", positions[0].Symbol)
	assert.Equal(t, market.KindForex, positions[0].Kind)
	assert.Equal(t, market.SideBuy, positions[0].Side)
	assert.True(t, positions[0].EntryPrice.Equal(d("1.0850")))

	assert.Equal(t, "GBP_USD", positions[1].Symbol)
	assert.Equal(t, market.SideSell, positions[1].Side)
	assert.True(t, positions[1].UnrealizedPnL.Equal(d("-3.1")))
}

func TestAccountEquity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/001-001-1234567-001/summary", r.URL.Path)
		w.Write([]byte(`{"account":{"NAV":"10432.17"}}`))
	}))
	defer server.Close()

	nav, err := testClient(server).AccountEquity(context.Background())

	require.NoError(t, err)
	assert.True(t, nav.Equal(d("10432.17")))
}
