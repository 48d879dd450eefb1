// Package binance adapts Binance's signed REST API to the crypto
// exchange interface. One Client serves either the spot market or the
// USDT-margined futures market.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/exchange"
	"tradegate/market"
)

const (
	SpotURL    = "https://api.binance.com"
	FuturesURL = "https://fapi.binance.com"
)

// Client is a Binance REST client for one market (spot or futures).
type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	futures    bool
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	limits map[string]market.SymbolLimits
}

// NewSpot returns a client for the spot market.
func NewSpot(apiKey, secret string) *Client {
	return newClient(SpotURL, apiKey, secret, false)
}

// NewFutures returns a client for the USDT-margined futures market.
func NewFutures(apiKey, secret string) *Client {
	return newClient(FuturesURL, apiKey, secret, true)
}

func newClient(baseURL, apiKey, secret string, futures bool) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		futures: futures,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now:    time.Now,
		limits: make(map[string]market.SymbolLimits),
	}
}

var _ exchange.Exchange = (*Client)(nil)

func (c *Client) Name() string {
	if c.futures {
		return "binance-futures"
	}
	return "binance-spot"
}

// apiPath prefixes an endpoint with the market's API root.
func (c *Client) apiPath(endpoint string) string {
	if c.futures {
		return "/fapi/v1/" + endpoint
	}
	return "/api/v3/" + endpoint
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (c *Client) CreateMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", "MARKET")
	params.Set("quantity", req.Amount.String())
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.ReduceOnly && c.futures {
		params.Set("reduceOnly", "true")
	}

	raw, err := c.signed(ctx, http.MethodPost, c.apiPath("order"), params)
	if err != nil {
		return nil, err
	}
	return decodeOrderResult(raw)
}

func (c *Client) CreateTriggerOrder(ctx context.Context, req exchange.TriggerOrderRequest) (*exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", req.Amount.String())
	params.Set("stopPrice", req.TriggerPrice.String())
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if c.futures {
		params.Set("type", "STOP_MARKET")
		if req.ReduceOnly {
			params.Set("reduceOnly", "true")
		}
	} else {
		// Spot has no stop-market type; a stop-limit at the trigger
		// price is the closest equivalent.
		params.Set("type", "STOP_LOSS_LIMIT")
		params.Set("price", req.TriggerPrice.String())
		params.Set("timeInForce", "GTC")
	}

	raw, err := c.signed(ctx, http.MethodPost, c.apiPath("order"), params)
	if err != nil {
		return nil, err
	}
	return decodeOrderResult(raw)
}

func decodeOrderResult(raw []byte) (*exchange.OrderResult, error) {
	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	res := &exchange.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
		Raw:           raw,
	}
	if resp.ExecutedQty != "" {
		res.FilledAmount, _ = decimal.NewFromString(resp.ExecutedQty)
	}
	if resp.AvgPrice != "" {
		res.AvgPrice, _ = decimal.NewFromString(resp.AvgPrice)
	}
	return res, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.signed(ctx, http.MethodDelete, c.apiPath("order"), params)
	return err
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]market.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := c.signed(ctx, http.MethodGet, c.apiPath("openOrders"), params)
	if err != nil {
		return nil, err
	}
	return c.decodeOrders(raw, nil)
}

// ClosedOrders returns up to limit recent orders that are no longer
// open, newest first.
func (c *Client) ClosedOrders(ctx context.Context, symbol string, limit int) ([]market.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.signed(ctx, http.MethodGet, c.apiPath("allOrders"), params)
	if err != nil {
		return nil, err
	}
	return c.decodeOrders(raw, func(status string) bool {
		return status != "NEW" && status != "PARTIALLY_FILLED"
	})
}

func (c *Client) decodeOrders(raw []byte, keep func(status string) bool) ([]market.Order, error) {
	var resp []orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	kind := market.KindSpot
	if c.futures {
		kind = market.KindFuture
	}

	out := make([]market.Order, 0, len(resp))
	for _, o := range resp {
		if keep != nil && !keep(o.Status) {
			continue
		}
		amount, _ := decimal.NewFromString(o.OrigQty)
		price, _ := decimal.NewFromString(o.Price)
		created := o.Time
		if created == 0 {
			created = o.UpdateTime
		}
		out = append(out, market.Order{
			ID:            strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Kind:          kind,
			Side:          market.Side(strings.ToLower(o.Side)),
			Amount:        amount,
			Price:         price,
			Status:        o.Status,
			CreatedAt:     time.UnixMilli(created),
		})
	}
	return out, nil
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
}

// Positions returns open futures positions. The spot market has no
// positions; spot holdings surface through Balances.
func (c *Client) Positions(ctx context.Context) ([]market.Position, error) {
	if !c.futures {
		return nil, nil
	}

	raw, err := c.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}
	var resp []positionRisk
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	var out []market.Position
	for _, p := range resp {
		size, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || size.IsZero() {
			continue
		}
		side := market.SideBuy
		if size.Sign() < 0 {
			side = market.SideSell
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		pnl, _ := decimal.NewFromString(p.UnRealizedProfit)
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, market.Position{
			Symbol:        p.Symbol,
			Kind:          market.KindFuture,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			Leverage:      lev,
			UnrealizedPnL: pnl,
		})
	}
	return out, nil
}

func (c *Client) Balances(ctx context.Context) ([]market.Balance, error) {
	if c.futures {
		return c.futuresBalances(ctx)
	}
	return c.spotBalances(ctx)
}

func (c *Client) spotBalances(ctx context.Context) ([]market.Balance, error) {
	raw, err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	var out []market.Balance
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		out = append(out, market.Balance{
			Asset: b.Asset, Free: free, Used: locked, Total: total,
		})
	}
	return out, nil
}

func (c *Client) futuresBalances(ctx context.Context) ([]market.Balance, error) {
	raw, err := c.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}

	var out []market.Balance
	for _, b := range resp {
		total, _ := decimal.NewFromString(b.Balance)
		if total.IsZero() {
			continue
		}
		free, _ := decimal.NewFromString(b.AvailableBalance)
		out = append(out, market.Balance{
			Asset: b.Asset, Free: free, Used: total.Sub(free), Total: total,
		})
	}
	return out, nil
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

func (c *Client) Ticker(ctx context.Context, symbol string) (market.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := c.public(ctx, c.apiPath("ticker/bookTicker"), params)
	if err != nil {
		return market.Ticker{}, err
	}
	var resp bookTicker
	if err := json.Unmarshal(raw, &resp); err != nil {
		return market.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return toTicker(resp)
}

// Tickers fetches the full book-ticker snapshot once and filters it,
// so pricing many spot holdings costs one request.
func (c *Client) Tickers(ctx context.Context, symbols []string) (map[string]market.Ticker, error) {
	raw, err := c.public(ctx, c.apiPath("ticker/bookTicker"), url.Values{})
	if err != nil {
		return nil, err
	}
	var resp []bookTicker
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	out := make(map[string]market.Ticker, len(symbols))
	for _, bt := range resp {
		if !want[bt.Symbol] {
			continue
		}
		t, err := toTicker(bt)
		if err != nil {
			return nil, err
		}
		out[bt.Symbol] = t
	}
	return out, nil
}

func toTicker(bt bookTicker) (market.Ticker, error) {
	bid, err := decimal.NewFromString(bt.BidPrice)
	if err != nil {
		return market.Ticker{}, fmt.Errorf("parse bid for %s: %w", bt.Symbol, err)
	}
	ask, err := decimal.NewFromString(bt.AskPrice)
	if err != nil {
		return market.Ticker{}, fmt.Errorf("parse ask for %s: %w", bt.Symbol, err)
	}
	t := market.Ticker{Symbol: bt.Symbol, Bid: bid, Ask: ask}
	t.Last = t.Mid()
	return t, nil
}

// Limits fetches and caches the venue's constraints for a symbol.
// Exchange filters change rarely enough that the cache lives for the
// process lifetime.
func (c *Client) Limits(ctx context.Context, symbol string) (market.SymbolLimits, error) {
	c.mu.Lock()
	cached, ok := c.limits[symbol]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	raw, err := c.public(ctx, c.apiPath("exchangeInfo"), params)
	if err != nil {
		return market.SymbolLimits{}, err
	}

	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				MinNotional string `json:"minNotional"`
				Notional    string `json:"notional"`
				MinQty      string `json:"minQty"`
				StepSize    string `json:"stepSize"`
				TickSize    string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return market.SymbolLimits{}, fmt.Errorf("decode exchange info: %w", err)
	}

	var limits market.SymbolLimits
	for _, s := range resp.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "MIN_NOTIONAL", "NOTIONAL":
				v := f.MinNotional
				if v == "" {
					v = f.Notional
				}
				limits.MinNotional, _ = decimal.NewFromString(v)
			case "LOT_SIZE":
				limits.MinAmount, _ = decimal.NewFromString(f.MinQty)
				if step, err := decimal.NewFromString(f.StepSize); err == nil {
					limits.AmountPrecision = stepPrecision(step)
				}
			case "PRICE_FILTER":
				if tick, err := decimal.NewFromString(f.TickSize); err == nil {
					limits.PricePrecision = stepPrecision(tick)
				}
			}
		}
	}

	c.mu.Lock()
	c.limits[symbol] = limits
	c.mu.Unlock()
	return limits, nil
}

// stepPrecision converts a step size like 0.00100000 into the number
// of meaningful decimal places.
func stepPrecision(step decimal.Decimal) int32 {
	ten := decimal.NewFromInt(10)
	var places int32
	for !step.IsInteger() && places < 12 {
		step = step.Mul(ten)
		places++
	}
	return places
}

func (c *Client) TradeHistory(ctx context.Context, symbol string, since time.Time) ([]market.Fill, error) {
	endpoint := "myTrades"
	if c.futures {
		endpoint = "userTrades"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	raw, err := c.signed(ctx, http.MethodGet, c.apiPath(endpoint), params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		OrderID    int64  `json:"orderId"`
		Symbol     string `json:"symbol"`
		Price      string `json:"price"`
		Qty        string `json:"qty"`
		Commission string `json:"commission"`
		Time       int64  `json:"time"`
		IsBuyer    bool   `json:"isBuyer"`
		Side       string `json:"side"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	out := make([]market.Fill, 0, len(resp))
	for _, tr := range resp {
		side := market.SideSell
		if tr.IsBuyer || strings.EqualFold(tr.Side, "BUY") {
			side = market.SideBuy
		}
		price, _ := decimal.NewFromString(tr.Price)
		qty, _ := decimal.NewFromString(tr.Qty)
		fee, _ := decimal.NewFromString(tr.Commission)
		out = append(out, market.Fill{
			OrderID: strconv.FormatInt(tr.OrderID, 10),
			Symbol:  tr.Symbol,
			Side:    side,
			Amount:  qty,
			Price:   price,
			Fee:     fee,
			Time:    time.UnixMilli(tr.Time),
		})
	}
	return out, nil
}

// FundingHistory returns funding fee payments. Spot has no funding.
func (c *Client) FundingHistory(ctx context.Context, symbol string, since time.Time) ([]market.FundingPayment, error) {
	if !c.futures {
		return nil, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("incomeType", "FUNDING_FEE")
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	raw, err := c.signed(ctx, http.MethodGet, "/fapi/v1/income", params)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		Symbol string `json:"symbol"`
		Income string `json:"income"`
		Time   int64  `json:"time"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode income: %w", err)
	}

	out := make([]market.FundingPayment, 0, len(resp))
	for _, f := range resp {
		amount, _ := decimal.NewFromString(f.Income)
		out = append(out, market.FundingPayment{
			Symbol: f.Symbol,
			Amount: amount,
			Time:   time.UnixMilli(f.Time),
		})
	}
	return out, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if !c.futures {
		return exchange.NewError(exchange.KindVenueReject, c.Name(), 0,
			"leverage is a futures-only setting")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func (c *Client) SetMarginMode(ctx context.Context, symbol, mode string) error {
	if !c.futures {
		return exchange.NewError(exchange.KindVenueReject, c.Name(), 0,
			"margin mode is a futures-only setting")
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(mode))
	_, err := c.signed(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	// Binance rejects a no-op margin change; that is success for us.
	if exchange.KindOf(err) == exchange.KindVenueReject && strings.Contains(err.Error(), "No need to change") {
		return nil
	}
	return err
}

func (c *Client) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	limits, err := c.Limits(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return price.RoundDown(limits.PricePrecision), nil
}

func (c *Client) RoundAmount(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	limits, err := c.Limits(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.RoundDown(limits.AmountPrecision), nil
}

// public issues an unauthenticated GET.
func (c *Client) public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.roundTrip(req)
}

// signed issues an authenticated request with the HMAC-SHA256
// signature Binance requires on account endpoints.
func (c *Client) signed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.roundTrip(req)
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, exchange.WrapTransport(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exchange.WrapTransport(c.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.classify(resp.StatusCode, body)
	}
	return body, nil
}

// classify maps a Binance error response onto the closed error kinds
// the pipeline switches on.
func (c *Client) classify(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.Msg == "" {
		apiErr.Msg = string(body)
	}

	kind := exchange.KindVenueReject
	switch {
	case status == http.StatusTooManyRequests, status == 418, status >= 500:
		kind = exchange.KindNetworkTransient
	case apiErr.Code == -1003 || apiErr.Code == -1015:
		// Request-weight and order-rate limits.
		kind = exchange.KindNetworkTransient
	case apiErr.Code == -1021:
		// Timestamp outside recvWindow; clock skew, retryable.
		kind = exchange.KindNetworkTransient
	case apiErr.Code == -4015,
		apiErr.Code == -2010 && strings.Contains(apiErr.Msg, "Duplicate"):
		kind = exchange.KindDuplicateSubmission
	}
	return exchange.NewError(kind, c.Name(), apiErr.Code, apiErr.Msg)
}
