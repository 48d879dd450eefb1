package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradegate/exchange"
	"tradegate/market"
	"tradegate/pkg/id"
	"tradegate/portfolio"
	"tradegate/risk"
	"tradegate/store"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second

	// How many recent closed orders to scan during reconciliation.
	recentOrdersLimit = 20
)

// LeaseGate reports whether this process currently holds the instance
// lease. Reads process-local state only; never blocks.
type LeaseGate interface {
	IsHeld() bool
}

// Config wires the pipeline to its venues and tunes the retry loop.
type Config struct {
	Spot     exchange.Exchange
	Futures  exchange.Exchange
	Platform exchange.PlatformExchange

	// MaxAttempts bounds the crypto submission loop; Backoff is the
	// first retry delay and doubles per attempt.
	MaxAttempts int
	Backoff     time.Duration
}

// Pipeline is the only entry point strategies use to trade. It
// enforces the instance lease, risk validation and idempotency before
// any venue call, retries and reconciles ambiguous crypto failures,
// and normalizes every code path into an Outcome.
type Pipeline struct {
	cfg       Config
	lease     LeaseGate
	validator *risk.Validator
	cache     *portfolio.Cache
	store     *store.Store
	log       *zap.Logger

	idem  *idempotencyRegistry
	sleep func(time.Duration)
}

func NewPipeline(cfg Config, lease LeaseGate, validator *risk.Validator, cache *portfolio.Cache, st *store.Store, log *zap.Logger) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Pipeline{
		cfg:       cfg,
		lease:     lease,
		validator: validator,
		cache:     cache,
		store:     st,
		log:       log,
		idem:      newIdempotencyRegistry(),
		sleep:     time.Sleep,
	}
}

// Execute validates and submits a proposed trade. Every failure mode
// is converted into an Outcome; no venue error escapes.
func (pl *Pipeline) Execute(ctx context.Context, p *market.TradeProposal) Outcome {
	out := pl.execute(ctx, p)
	pl.audit(p, out)
	if out.Success {
		pl.cache.UpdateAfterExecution()
	}
	return out
}

func (pl *Pipeline) execute(ctx context.Context, p *market.TradeProposal) Outcome {
	key, out := pl.gate(ctx, p)
	if out != nil {
		return *out
	}

	if p.Kind.Crypto() {
		o := pl.executeCrypto(ctx, p, key)
		if o.Success && p.StopLoss.Sign() > 0 {
			pl.placeProtectiveStop(ctx, p, key)
		}
		return o
	}
	return pl.executePlatform(ctx, p, key)
}

// CreateTriggerOrder places a reduce-only stop order with the same
// lease/risk/idempotency discipline as Execute.
func (pl *Pipeline) CreateTriggerOrder(ctx context.Context, p *market.TradeProposal, triggerPrice decimal.Decimal) Outcome {
	out := pl.createTrigger(ctx, p, triggerPrice)
	pl.audit(p, out)
	if out.Success {
		pl.cache.UpdateAfterExecution()
	}
	return out
}

func (pl *Pipeline) createTrigger(ctx context.Context, p *market.TradeProposal, triggerPrice decimal.Decimal) Outcome {
	key, out := pl.gate(ctx, p)
	if out != nil {
		return *out
	}
	if !p.Kind.Crypto() {
		return failed(key, "trigger orders are only supported on crypto venues")
	}

	ex := pl.adapterFor(p.Kind)
	req, o := pl.buildOrderRequest(ctx, ex, p, key)
	if o != nil {
		return *o
	}

	price, err := ex.RoundPrice(ctx, p.Symbol, triggerPrice)
	if err != nil {
		return failed(key, fmt.Sprintf("round trigger price: %v", err))
	}

	return pl.submitWithRecovery(ctx, ex, p.Symbol, key, func(ctx context.Context) (*exchange.OrderResult, error) {
		return ex.CreateTriggerOrder(ctx, exchange.TriggerOrderRequest{
			OrderRequest: exchange.OrderRequest{
				Symbol:        req.Symbol,
				Side:          req.Side,
				Amount:        req.Amount,
				ClientOrderID: key,
				ReduceOnly:    true,
			},
			TriggerPrice: price,
		})
	})
}

// gate runs the shared prologue: instance check, idempotency key
// resolution, risk validation and the atomic idempotency gate. A
// non-nil Outcome means the call was rejected before any venue I/O.
func (pl *Pipeline) gate(ctx context.Context, p *market.TradeProposal) (string, *Outcome) {
	if !pl.lease.IsHeld() {
		o := rejected(p.IdempotencyKey, "instance not active: this process does not hold the trading lease")
		return o.IdempotencyKey, &o
	}

	key := p.IdempotencyKey
	if key == "" {
		key = id.New()
	}

	dec := pl.validator.Validate(p)
	if !dec.Allowed {
		o := rejected(key, dec.Reason)
		return key, &o
	}
	if ex := pl.adapterFor(p.Kind); ex != nil {
		dec = pl.validator.ValidateWithVenue(ctx, p, ex, dec.Factor)
	} else {
		// Platform instruments have no venue limits to fetch, but the
		// global trade-size cap still applies.
		dec = pl.validator.ValidateSize(p, dec.Factor)
	}
	if !dec.Allowed {
		o := rejected(key, dec.Reason)
		return key, &o
	}

	if !pl.idem.register(key) {
		o := rejected(key, "duplicate request: idempotency key already used")
		pl.log.Warn("duplicate execution suppressed",
			zap.String("idempotency_key", key),
			zap.String("symbol", p.Symbol))
		return key, &o
	}

	return key, nil
}

// buildOrderRequest converts the proposal's USD margin into a venue
// order amount at the current price, rounded to venue precision.
func (pl *Pipeline) buildOrderRequest(ctx context.Context, ex exchange.Exchange, p *market.TradeProposal, key string) (exchange.OrderRequest, *Outcome) {
	ticker, err := ex.Ticker(ctx, p.Symbol)
	if err != nil {
		o := failed(key, fmt.Sprintf("price unavailable for %s: %v", p.Symbol, err))
		return exchange.OrderRequest{}, &o
	}
	if ticker.Last.Sign() <= 0 {
		o := failed(key, fmt.Sprintf("no valid price for %s", p.Symbol))
		return exchange.OrderRequest{}, &o
	}

	amount := p.RequestedNotional().Div(ticker.Last)
	amount, err = ex.RoundAmount(ctx, p.Symbol, amount)
	if err != nil {
		o := failed(key, fmt.Sprintf("round amount: %v", err))
		return exchange.OrderRequest{}, &o
	}
	if amount.Sign() <= 0 {
		o := rejected(key, "order amount rounds to zero at venue precision")
		return exchange.OrderRequest{}, &o
	}

	return exchange.OrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Amount:        amount,
		ClientOrderID: key,
	}, nil
}

func (pl *Pipeline) executeCrypto(ctx context.Context, p *market.TradeProposal, key string) Outcome {
	ex := pl.adapterFor(p.Kind)
	req, o := pl.buildOrderRequest(ctx, ex, p, key)
	if o != nil {
		return *o
	}

	return pl.submitWithRecovery(ctx, ex, p.Symbol, key, func(ctx context.Context) (*exchange.OrderResult, error) {
		return ex.CreateMarketOrder(ctx, req)
	})
}

// submitWithRecovery drives the retry/reconciliation state machine:
// submit; on a duplicate error reconcile immediately; on a transient
// error back off and, before the next submit, reconcile in case the
// previous attempt reached the venue; any other error is terminal.
func (pl *Pipeline) submitWithRecovery(ctx context.Context, ex exchange.Exchange, symbol, key string, submit func(context.Context) (*exchange.OrderResult, error)) Outcome {
	var lastErr error
	for attempt := 1; attempt <= pl.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if ord, ok := pl.findByKey(ctx, ex, symbol, key); ok {
				return success(key, ord.ID, "order recovered after ambiguous failure", nil)
			}
		}

		res, err := submit(ctx)
		if err == nil {
			return success(key, res.OrderID, "order submitted", res.Raw)
		}
		lastErr = err

		switch exchange.KindOf(err) {
		case exchange.KindDuplicateSubmission:
			if ord, ok := pl.findByKey(ctx, ex, symbol, key); ok {
				return success(key, ord.ID, "duplicate submission reconciled to existing order", nil)
			}
			return failed(key, fmt.Sprintf("venue reports duplicate but no order found: %v", err))
		case exchange.KindNetworkTransient:
			if attempt < pl.cfg.MaxAttempts {
				pl.sleep(pl.cfg.Backoff << (attempt - 1))
			}
		default:
			return failed(key, fmt.Sprintf("venue rejected order: %v", err))
		}
	}
	return failed(key, fmt.Sprintf("retry budget exhausted: %v", lastErr))
}

// findByKey reconciles an ambiguous failure against the venue: scan
// open orders first, then recent closed orders, for our client order
// id.
func (pl *Pipeline) findByKey(ctx context.Context, ex exchange.Exchange, symbol, key string) (market.Order, bool) {
	open, err := ex.OpenOrders(ctx, symbol)
	if err != nil {
		pl.log.Warn("reconciliation open-orders lookup failed", zap.Error(err))
	}
	for _, o := range open {
		if o.ClientOrderID == key {
			return o, true
		}
	}

	closed, err := ex.ClosedOrders(ctx, symbol, recentOrdersLimit)
	if err != nil {
		pl.log.Warn("reconciliation closed-orders lookup failed", zap.Error(err))
	}
	for _, o := range closed {
		if o.ClientOrderID == key {
			return o, true
		}
	}
	return market.Order{}, false
}

// placeProtectiveStop submits a reduce-only stop at the proposal's
// stop-loss level right after a successful entry. Best-effort: a
// failure here is logged and never fails the entry.
func (pl *Pipeline) placeProtectiveStop(ctx context.Context, p *market.TradeProposal, entryKey string) {
	ex := pl.adapterFor(p.Kind)

	req, o := pl.buildOrderRequest(ctx, ex, p, entryKey+"-sl")
	if o != nil {
		pl.log.Warn("protective stop skipped", zap.String("reason", o.Message))
		return
	}

	side := market.SideSell
	if p.Side == market.SideSell {
		side = market.SideBuy
	}

	_, err := ex.CreateTriggerOrder(ctx, exchange.TriggerOrderRequest{
		OrderRequest: exchange.OrderRequest{
			Symbol:        p.Symbol,
			Side:          side,
			Amount:        req.Amount,
			ClientOrderID: entryKey + "-sl",
			ReduceOnly:    true,
		},
		TriggerPrice: p.StopLoss,
	})
	if err != nil {
		pl.log.Warn("protective stop placement failed",
			zap.String("symbol", p.Symbol), zap.Error(err))
	}
}

func (pl *Pipeline) executePlatform(ctx context.Context, p *market.TradeProposal, key string) Outcome {
	if pl.cfg.Platform == nil {
		return failed(key, "no platform adapter configured for forex orders")
	}

	res, err := pl.cfg.Platform.CreateOrder(ctx, exchange.PlatformOrderRequest{
		Symbol:     p.Symbol,
		Side:       p.Side,
		Lots:       p.Amount,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Comment:    p.Comment,
		Magic:      p.Magic,
	})
	if err != nil {
		return failed(key, fmt.Sprintf("platform order failed: %v", err))
	}
	if !res.OK() {
		return failed(key, fmt.Sprintf("platform rejected order: retcode %d %s", res.RetCode, res.Message))
	}
	return success(key, res.OrderID, "platform order placed", nil)
}

// AdjustLeverage sets leverage and optionally margin mode for a
// symbol, with the pipeline's lease gate and transient-retry
// discipline. Leverage changes are idempotent on the venue side, so
// no idempotency record is kept.
func (pl *Pipeline) AdjustLeverage(ctx context.Context, kind market.Kind, symbol string, leverage int, marginMode string) Outcome {
	if !pl.lease.IsHeld() {
		return rejected("", "instance not active: this process does not hold the trading lease")
	}
	ex := pl.adapterFor(kind)
	if ex == nil {
		return failed("", fmt.Sprintf("no adapter for market kind %q", kind))
	}

	maxLev, err := pl.store.GlobalMaxLeverage()
	if err != nil {
		return rejected("", fmt.Sprintf("risk config unreadable: %v", err))
	}
	if leverage > maxLev {
		return rejected("", fmt.Sprintf("requested leverage %dx exceeds global cap %dx", leverage, maxLev))
	}

	var lastErr error
	for attempt := 1; attempt <= pl.cfg.MaxAttempts; attempt++ {
		err := ex.SetLeverage(ctx, symbol, leverage)
		if err == nil && marginMode != "" {
			err = ex.SetMarginMode(ctx, symbol, marginMode)
		}
		if err == nil {
			return Outcome{Success: true, Status: StatusSuccess,
				Message: fmt.Sprintf("leverage set to %dx", leverage)}
		}
		lastErr = err
		if !exchange.Retryable(err) {
			return failed("", fmt.Sprintf("set leverage: %v", err))
		}
		if attempt < pl.cfg.MaxAttempts {
			pl.sleep(pl.cfg.Backoff << (attempt - 1))
		}
	}
	return failed("", fmt.Sprintf("set leverage: retry budget exhausted: %v", lastErr))
}

// LeverageAdvice answers "what leverage could this margin trade at".
type LeverageAdvice struct {
	Allowed             bool
	Tiers               []int
	MinLeverageRequired int
	Reason              string
}

// AllowedLeverages returns the minimum leverage satisfying the venue
// minimum notional for the given margin and the ladder of standard
// tiers up to the global cap.
func (pl *Pipeline) AllowedLeverages(ctx context.Context, kind market.Kind, symbol string, margin decimal.Decimal) LeverageAdvice {
	ex := pl.adapterFor(kind)
	if ex == nil {
		return LeverageAdvice{Reason: fmt.Sprintf("no adapter for market kind %q", kind)}
	}
	if margin.Sign() <= 0 {
		return LeverageAdvice{Reason: "margin must be positive"}
	}

	limits, err := ex.Limits(ctx, symbol)
	if err != nil {
		return LeverageAdvice{Reason: fmt.Sprintf("symbol limits unavailable: %v", err)}
	}
	maxLev, err := pl.store.GlobalMaxLeverage()
	if err != nil {
		return LeverageAdvice{Reason: fmt.Sprintf("risk config unreadable: %v", err)}
	}

	minRequired := 1
	if limits.MinNotional.Sign() > 0 {
		minRequired = int(limits.MinNotional.Div(margin).Ceil().IntPart())
		if minRequired < 1 {
			minRequired = 1
		}
	}

	tiers := risk.TiersUpTo(minRequired, maxLev)
	if len(tiers) == 0 {
		return LeverageAdvice{
			MinLeverageRequired: minRequired,
			Reason: fmt.Sprintf(
				"margin %s cannot clear venue minimum %s within the %dx cap",
				margin, limits.MinNotional, maxLev),
		}
	}
	return LeverageAdvice{Allowed: true, Tiers: tiers, MinLeverageRequired: minRequired}
}

// Read-side passthroughs: the upward interface strategies use.

func (pl *Pipeline) Positions(kind market.Kind, symbol string) []market.Position {
	return pl.cache.Positions(kind, symbol)
}

func (pl *Pipeline) Orders(kind market.Kind, symbol string) []market.Order {
	return pl.cache.Orders(kind, symbol)
}

func (pl *Pipeline) TotalEquity() (decimal.Decimal, error) {
	return pl.cache.TotalEquity()
}

func (pl *Pipeline) adapterFor(kind market.Kind) exchange.Exchange {
	switch kind {
	case market.KindSpot:
		return pl.cfg.Spot
	case market.KindFuture:
		return pl.cfg.Futures
	default:
		return nil
	}
}

// audit emits the one structured record every outcome gets, and
// persists a copy for post-hoc review.
func (pl *Pipeline) audit(p *market.TradeProposal, out Outcome) {
	now := time.Now().UTC()
	pl.log.Info("execution outcome",
		zap.String("market_kind", string(p.Kind)),
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.String("amount", p.Amount.String()),
		zap.Int("leverage", p.Leverage),
		zap.String("status", string(out.Status)),
		zap.String("order_id", out.OrderID),
		zap.String("idempotency_key", out.IdempotencyKey),
		zap.String("message", out.Message),
		zap.Time("time", now))

	if err := pl.store.AppendAudit(store.AuditRecord{
		MarketKind:     string(p.Kind),
		Symbol:         p.Symbol,
		Side:           string(p.Side),
		Amount:         p.Amount,
		Leverage:       p.Leverage,
		Status:         string(out.Status),
		OrderID:        out.OrderID,
		IdempotencyKey: out.IdempotencyKey,
		Message:        out.Message,
		Time:           now,
	}); err != nil {
		pl.log.Warn("audit record not persisted", zap.Error(err))
	}
}
