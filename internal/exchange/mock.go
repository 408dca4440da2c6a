package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// mockDriver satisfies NativeDriver without touching the network: every call
// logs and returns synthetic success. Used when the real SDK is unavailable.
// Constructed fresh per cycle (not a singleton) to avoid cross-cycle state
// leakage.
type mockDriver struct {
	mu        sync.Mutex
	nextOrder int64
}

func (m *mockDriver) OrderBookDetails(ctx context.Context, market int) (MarketMeta, error) {
	log.Info().Int("market", market).Msg("mock: order_book_details")
	return MarketMeta{PriceDecimals: 2, SizeDecimals: 4}, nil
}

func (m *mockDriver) CreateOrder(ctx context.Context, market int, clientOrderIndex int32, baseAmountInt, priceInt int64, isAsk bool, orderType, timeInForce int, orderExpiry *time.Time) (string, error) {
	id := m.newOrderID()
	log.Info().Int("market", market).Str("order_id", id).Int64("base", baseAmountInt).
		Int64("price", priceInt).Bool("is_ask", isAsk).Int("order_type", orderType).
		Msg("mock: create_order")
	return id, nil
}

func (m *mockDriver) CreateMarketOrder(ctx context.Context, market int, clientOrderIndex int32, baseAmountInt int64, isAsk bool) (string, error) {
	id := m.newOrderID()
	log.Info().Int("market", market).Str("order_id", id).Int64("base", baseAmountInt).
		Bool("is_ask", isAsk).Msg("mock: create_market_order")
	return id, nil
}

func (m *mockDriver) CancelOrder(ctx context.Context, market int, orderIndex string) error {
	log.Info().Int("market", market).Str("order_id", orderIndex).Msg("mock: cancel_order")
	return nil
}

func (m *mockDriver) Account(ctx context.Context, index int) (float64, []Position, error) {
	log.Info().Int("account_index", index).Msg("mock: account")
	return 10000, nil, nil
}

func (m *mockDriver) newOrderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	return fmt.Sprintf("mock-%d", m.nextOrder)
}
