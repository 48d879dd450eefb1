// Package oanda adapts OANDA's v3 REST API to the platform interface
// used for forex orders.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/exchange"
	"tradegate/market"
)

const (
	// PracticeURL is OANDA's practice/demo environment.
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is OANDA's live trading environment.
	LiveURL = "https://api-fxtrade.oanda.com"

	// unitsPerLot converts MT-style lots to OANDA base-currency units.
	unitsPerLot = 100000
)

// Client is an OANDA v3 API client scoped to one account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

func NewClient(token, accountID string, practice bool) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}
	return &Client{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

var _ exchange.PlatformExchange = (*Client)(nil)

func (c *Client) Name() string { return "oanda" }

type marketOrderBody struct {
	Order struct {
		Type             string          `json:"type"`
		Instrument       string          `json:"instrument"`
		Units            string          `json:"units"`
		TimeInForce      string          `json:"timeInForce"`
		PositionFill     string          `json:"positionFill"`
		StopLossOnFill   *priceDetail    `json:"stopLossOnFill,omitempty"`
		TakeProfitOnFill *priceDetail    `json:"takeProfitOnFill,omitempty"`
		ClientExtensions *clientExt      `json:"clientExtensions,omitempty"`
	} `json:"order"`
}

type priceDetail struct {
	Price string `json:"price"`
}

type clientExt struct {
	Comment string `json:"comment,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

type orderResponse struct {
	OrderFillTransaction *struct {
		ID string `json:"id"`
	} `json:"orderFillTransaction"`
	OrderCreateTransaction *struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	ErrorMessage string `json:"errorMessage"`
}

// CreateOrder places a market order. Lots are converted to units;
// sells are negative units. A fill is RetCode zero; a created-then-
// cancelled order surfaces the cancel reason as a nonzero RetCode.
func (c *Client) CreateOrder(ctx context.Context, req exchange.PlatformOrderRequest) (*exchange.PlatformOrderResult, error) {
	units := req.Lots.Mul(decimal.NewFromInt(unitsPerLot))
	if req.Side == market.SideSell {
		units = units.Neg()
	}

	var body marketOrderBody
	body.Order.Type = "MARKET"
	body.Order.Instrument = req.Symbol
	body.Order.Units = units.String()
	body.Order.TimeInForce = "FOK"
	body.Order.PositionFill = "DEFAULT"
	if req.StopLoss.Sign() > 0 {
		body.Order.StopLossOnFill = &priceDetail{Price: req.StopLoss.String()}
	}
	if req.TakeProfit.Sign() > 0 {
		body.Order.TakeProfitOnFill = &priceDetail{Price: req.TakeProfit.String()}
	}
	if req.Comment != "" || req.Magic != 0 {
		ext := &clientExt{Comment: req.Comment}
		if req.Magic != 0 {
			ext.Tag = fmt.Sprintf("%d", req.Magic)
		}
		body.Order.ClientExtensions = ext
	}

	var resp orderResponse
	if err := c.post(ctx, fmt.Sprintf("/v3/accounts/%s/orders", c.accountID), body, &resp); err != nil {
		return nil, err
	}

	if resp.OrderCancelTransaction != nil {
		return &exchange.PlatformOrderResult{
			RetCode: 1,
			Message: resp.OrderCancelTransaction.Reason,
		}, nil
	}
	res := &exchange.PlatformOrderResult{RetCode: 0}
	if resp.OrderFillTransaction != nil {
		res.OrderID = resp.OrderFillTransaction.ID
	} else if resp.OrderCreateTransaction != nil {
		res.OrderID = resp.OrderCreateTransaction.ID
	}
	return res, nil
}

type openPositionsResponse struct {
	Positions []struct {
		Instrument string `json:"instrument"`
		Long       struct {
			Units        string `json:"units"`
			AveragePrice string `json:"averagePrice"`
			UnrealizedPL string `json:"unrealizedPL"`
		} `json:"long"`
		Short struct {
			Units        string `json:"units"`
			AveragePrice string `json:"averagePrice"`
			UnrealizedPL string `json:"unrealizedPL"`
		} `json:"short"`
	} `json:"positions"`
}

func (c *Client) Positions(ctx context.Context) ([]market.Position, error) {
	var resp openPositionsResponse
	if err := c.get(ctx, fmt.Sprintf("/v3/accounts/%s/openPositions", c.accountID), &resp); err != nil {
		return nil, err
	}

	var out []market.Position
	for _, p := range resp.Positions {
		for _, leg := range []struct {
			units, price, pl string
			side             market.Side
		}{
			{p.Long.Units, p.Long.AveragePrice, p.Long.UnrealizedPL, market.SideBuy},
			{p.Short.Units, p.Short.AveragePrice, p.Short.UnrealizedPL, market.SideSell},
		} {
			units, err := decimal.NewFromString(leg.units)
			if err != nil || units.IsZero() {
				continue
			}
			price, err := decimal.NewFromString(leg.price)
			if err != nil {
				return nil, fmt.Errorf("parse average price for %s: %w", p.Instrument, err)
			}
			pl, _ := decimal.NewFromString(leg.pl)
			out = append(out, market.Position{
				Symbol:        p.Instrument,
				Kind:          market.KindForex,
				Side:          leg.side,
				Size:          units,
				EntryPrice:    price,
				UnrealizedPnL: pl,
			})
		}
	}
	return out, nil
}

type pendingOrdersResponse struct {
	Orders []struct {
		ID         string `json:"id"`
		Instrument string `json:"instrument"`
		Units      string `json:"units"`
		Price      string `json:"price"`
		CreateTime string `json:"createTime"`
	} `json:"orders"`
}

func (c *Client) OpenOrders(ctx context.Context) ([]market.Order, error) {
	var resp pendingOrdersResponse
	if err := c.get(ctx, fmt.Sprintf("/v3/accounts/%s/pendingOrders", c.accountID), &resp); err != nil {
		return nil, err
	}

	var out []market.Order
	for _, o := range resp.Orders {
		units, err := decimal.NewFromString(o.Units)
		if err != nil {
			continue
		}
		side := market.SideBuy
		if units.Sign() < 0 {
			side = market.SideSell
			units = units.Neg()
		}
		price, _ := decimal.NewFromString(o.Price)
		ord := market.Order{
			ID:     o.ID,
			Symbol: o.Instrument,
			Kind:   market.KindForex,
			Side:   side,
			Amount: units,
			Price:  price,
		}
		if t, err := time.Parse(time.RFC3339, o.CreateTime); err == nil {
			ord.CreatedAt = t
		}
		out = append(out, ord)
	}
	return out, nil
}

type summaryResponse struct {
	Account struct {
		NAV string `json:"NAV"`
	} `json:"account"`
}

// AccountEquity returns the account's net asset value.
func (c *Client) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	var resp summaryResponse
	if err := c.get(ctx, fmt.Sprintf("/v3/accounts/%s/summary", c.accountID), &resp); err != nil {
		return decimal.Zero, err
	}
	nav, err := decimal.NewFromString(resp.Account.NAV)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse NAV %q: %w", resp.Account.NAV, err)
	}
	return nav, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exchange.WrapTransport("oanda", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return exchange.WrapTransport("oanda",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return exchange.NewError(exchange.KindVenueReject, "oanda", resp.StatusCode,
			string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
