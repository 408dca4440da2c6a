package exchange

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// NativeDriver is the abstract surface of the underlying exchange SDK (spec
// §6 "Exchange (consumed)"). Implementations are out of this core's scope —
// only this interface is.
type NativeDriver interface {
	OrderBookDetails(ctx context.Context, market int) (MarketMeta, error)
	CreateOrder(ctx context.Context, market int, clientOrderIndex int32, baseAmountInt, priceInt int64, isAsk bool, orderType, timeInForce int, orderExpiry *time.Time) (string, error)
	CreateMarketOrder(ctx context.Context, market int, clientOrderIndex int32, baseAmountInt int64, isAsk bool) (string, error)
	CancelOrder(ctx context.Context, market int, orderIndex string) error
	Account(ctx context.Context, index int) (availableBalance float64, positions []Position, err error)
}

// Client is the narrow, testable contract the rest of the core talks to. One
// Client is constructed per cycle from the active credential and released
// at the end of that cycle's scope; it is never shared across cycles.
type Client struct {
	driver NativeDriver
	creds  Credentials
	mock   bool

	metaMu sync.Mutex
	meta   map[int]MarketMeta
}

// NewClient builds a client around a real native driver.
func NewClient(creds Credentials, driver NativeDriver) *Client {
	return &Client{driver: driver, creds: creds, meta: make(map[int]MarketMeta)}
}

// NewMockClient builds a client whose driver never touches the network:
// every call logs and returns synthetic success. Used when the underlying
// SDK is unavailable (local dev, tests, CI).
func NewMockClient(creds Credentials) *Client {
	return &Client{driver: &mockDriver{}, creds: creds, mock: true, meta: make(map[int]MarketMeta)}
}

// IsMock reports whether this client is running in mock mode.
func (c *Client) IsMock() bool { return c.mock }

func (c *Client) marketMeta(ctx context.Context, market int) (MarketMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if m, ok := c.meta[market]; ok {
		return m, nil
	}
	m, err := c.driver.OrderBookDetails(ctx, market)
	if err != nil {
		return MarketMeta{}, fmt.Errorf("order book details for market %d: %w", market, err)
	}
	c.meta[market] = m
	return m, nil
}

// toGridInt converts a value to integer grid units: round(value *
// 10^decimals). The value is scaled as a float64 and the product is rounded
// half away from zero with shopspring/decimal, so 1.005 (stored as
// 1.00499...) at 2 decimals becomes 100.
func toGridInt(value float64, decimals int) int64 {
	scaled := decimal.NewFromFloat(value * math.Pow10(decimals))
	return scaled.Round(0).IntPart()
}

// PlaceOrderParams describes a single leg submission.
type PlaceOrderParams struct {
	Market           int
	BaseAmount       float64
	Price            float64
	IsAsk            bool
	Market_          bool // true => immediate-or-cancel market order; false => GTT limit
	ClientOrderIndex *int32
}

// PlaceOrder submits a limit or market order, converting price and size to
// the market's integer grid before submission.
func (c *Client) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*OrderResult, error) {
	meta, err := c.marketMeta(ctx, p.Market)
	if err != nil {
		return nil, err
	}
	baseInt := toGridInt(p.BaseAmount, meta.SizeDecimals)
	priceInt := toGridInt(p.Price, meta.PriceDecimals)

	coi := p.ClientOrderIndex
	if coi == nil {
		idx := clientOrderIndex(time.Now())
		coi = &idx
	}

	var orderID string
	if p.Market_ {
		orderID, err = c.driver.CreateMarketOrder(ctx, p.Market, *coi, baseInt, p.IsAsk)
	} else {
		expiry := time.Now().Add(24 * time.Hour)
		orderID, err = c.driver.CreateOrder(ctx, p.Market, *coi, baseInt, priceInt, p.IsAsk, OrderTypeLimit, TimeInForceGTT, &expiry)
	}
	if err != nil {
		log.Warn().Int("market", p.Market).Err(err).Msg("order rejected")
		return &OrderResult{Success: false, Error: err.Error()}, nil
	}
	return &OrderResult{Success: true, OrderID: orderID, FilledPrice: p.Price, FilledAmount: p.BaseAmount}, nil
}

// PlaceTWAPOrderParams describes a TWAP leg submission.
type PlaceTWAPOrderParams struct {
	Market           int
	BaseAmount       float64
	Price            float64
	IsAsk            bool
	DurationMinutes  int
	ClientOrderIndex *int32
}

// PlaceTWAPOrder submits a TWAP order; the exchange time-slices execution
// server-side over DurationMinutes*60 seconds.
func (c *Client) PlaceTWAPOrder(ctx context.Context, p PlaceTWAPOrderParams) (*OrderResult, error) {
	meta, err := c.marketMeta(ctx, p.Market)
	if err != nil {
		return nil, err
	}
	baseInt := toGridInt(p.BaseAmount, meta.SizeDecimals)
	priceInt := toGridInt(p.Price, meta.PriceDecimals)

	coi := p.ClientOrderIndex
	if coi == nil {
		idx := clientOrderIndex(time.Now())
		coi = &idx
	}
	expiry := time.Now().Add(time.Duration(p.DurationMinutes) * time.Minute)
	orderID, err := c.driver.CreateOrder(ctx, p.Market, *coi, baseInt, priceInt, p.IsAsk, OrderTypeTWAP, TimeInForceGTT, &expiry)
	if err != nil {
		log.Warn().Int("market", p.Market).Err(err).Msg("twap order rejected")
		return &OrderResult{Success: false, Error: err.Error()}, nil
	}
	return &OrderResult{Success: true, OrderID: orderID, FilledPrice: p.Price, FilledAmount: p.BaseAmount}, nil
}

// CancelOrder cancels a resting order; true on success.
func (c *Client) CancelOrder(ctx context.Context, market int, orderID string) bool {
	if err := c.driver.CancelOrder(ctx, market, orderID); err != nil {
		log.Warn().Int("market", market).Str("order_id", orderID).Err(err).Msg("cancel failed")
		return false
	}
	return true
}

// GetBalance returns the available quote-currency balance. Failures return
// 0 (logged), never an error, so a transient balance-fetch outage degrades
// to "nothing to size against" rather than crashing the cycle.
func (c *Client) GetBalance(ctx context.Context) float64 {
	bal, _, err := c.driver.Account(ctx, c.creds.AccountIndex)
	if err != nil {
		log.Warn().Err(err).Msg("get_balance failed, treating as zero")
		return 0
	}
	return bal
}

// GetPositions returns the exchange's current position book, with dust
// filtered out.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	_, positions, err := c.driver.Account(ctx, c.creds.AccountIndex)
	if err != nil {
		return nil, fmt.Errorf("get_positions: %w", err)
	}
	return FilterDust(positions), nil
}
