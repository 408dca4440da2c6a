// Package emergency implements the operator-triggered stop: close every
// open position and/or disable every pair.
package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/store"
)

const recentCandles = 5

// ClientFactory builds an exchange client from the active credential.
type ClientFactory func() (*exchange.Client, error)

// SchedulerRemover removes a pair's job; satisfied by *scheduler.Scheduler.
type SchedulerRemover interface {
	Remove(pairID uint)
}

type Stopper struct {
	Store     *store.Store
	Gateway   *marketdata.Gateway
	NewClient ClientFactory
	Scheduler SchedulerRemover
}

func New(st *store.Store, gw *marketdata.Gateway, factory ClientFactory, sched SchedulerRemover) *Stopper {
	return &Stopper{Store: st, Gateway: gw, NewClient: factory, Scheduler: sched}
}

// Request is the {close_positions, disable_pairs} input to an emergency stop.
type Request struct {
	ClosePositions bool
	DisablePairs   bool
}

// Result mirrors the {positions_closed, pairs_disabled, errors[]} output.
type Result struct {
	PositionsClosed int
	PairsDisabled   int
	Errors          []string
}

// Run executes the request. Both flags false is a no-op that returns a
// zero Result and no errors.
func (s *Stopper) Run(ctx context.Context, req Request) (Result, error) {
	var res Result

	if req.ClosePositions {
		positions, err := s.Store.ListOpenPositions()
		if err != nil {
			return res, fmt.Errorf("list open positions: %w", err)
		}
		for i := range positions {
			if err := s.closeOne(ctx, &positions[i]); err != nil {
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			res.PositionsClosed++
		}
	}

	if req.DisablePairs {
		n, err := s.disableAll()
		if err != nil {
			return res, fmt.Errorf("disable pairs: %w", err)
		}
		res.PairsDisabled = n
	}

	return res, nil
}

// closeOne runs a simplified close: fetch a handful of recent candles for
// current prices, place reverse market orders, persist Trade + equity
// snapshot, delete the position. Per-position errors are returned to the
// caller, who must not let them abort the batch.
func (s *Stopper) closeOne(ctx context.Context, pos *models.OpenPosition) error {
	pair, err := s.Store.GetPair(pos.PairID)
	if err != nil || pair == nil {
		return fmt.Errorf("position %d: load pair: %w", pos.ID, err)
	}

	client, err := s.NewClient()
	if err != nil {
		return fmt.Errorf("pair %s: no active client: %w", pair.Name, err)
	}

	closesA := s.Gateway.FetchCandles(ctx, pair.MarketA, pair.WindowInterval, recentCandles)
	closesB := s.Gateway.FetchCandles(ctx, pair.MarketB, pair.WindowInterval, recentCandles)
	if len(closesA) == 0 || len(closesB) == 0 {
		return fmt.Errorf("pair %s: no recent prices available for emergency close", pair.Name)
	}
	priceA := closesA[len(closesA)-1]
	priceB := closesB[len(closesB)-1]

	isAskA, isAskB := false, false
	if pos.Direction == 1 {
		isAskA, isAskB = true, false
	} else {
		isAskA, isAskB = false, true
	}

	units := 0.0
	dollarPerUnit := pos.EntryPriceA + abs(pos.EntryHedgeRatio)*pos.EntryPriceB
	if dollarPerUnit != 0 {
		units = pos.EntryNotional / dollarPerUnit
	}

	if _, err := client.PlaceOrder(ctx, exchange.PlaceOrderParams{Market: pair.MarketA, BaseAmount: units, Price: priceA, IsAsk: isAskA, Market_: true}); err != nil {
		log.Warn().Str("pair", pair.Name).Err(err).Msg("emergency close: leg a failed")
	}
	if _, err := client.PlaceOrder(ctx, exchange.PlaceOrderParams{Market: pair.MarketB, BaseAmount: units * abs(pos.EntryHedgeRatio), Price: priceB, IsAsk: isAskB, Market_: true}); err != nil {
		log.Warn().Str("pair", pair.Name).Err(err).Msg("emergency close: leg b failed")
	}

	exitSpread := priceA - pos.EntryHedgeRatio*priceB
	pnl := float64(pos.Direction) * (exitSpread - pos.EntrySpread) * units
	pnlPct := 0.0
	if pair.CurrentEquity != 0 {
		pnlPct = 100 * pnl / pair.CurrentEquity
	}

	direction := "long"
	if pos.Direction == -1 {
		direction = "short"
	}
	trade := &models.Trade{
		PairID:      pair.ID,
		Direction:   direction,
		EntryTime:   pos.EntryTime,
		ExitTime:    time.Now().UTC(),
		EntryPriceA: pos.EntryPriceA,
		EntryPriceB: pos.EntryPriceB,
		ExitPriceA:  priceA,
		ExitPriceB:  priceB,
		EntrySizeA:  units,
		EntrySizeB:  units * abs(pos.EntryHedgeRatio),
		ExitSizeA:   units,
		ExitSizeB:   units * abs(pos.EntryHedgeRatio),
		HedgeRatio:  pos.EntryHedgeRatio,
		PnL:         pnl,
		PnLPct:      pnlPct,
		ExitReason:  "emergency_stop",
	}

	if err := s.Store.CloseTrade(pair.ID, trade, pnl, time.Now().UTC()); err != nil {
		return fmt.Errorf("pair %s: persist emergency close: %w", pair.Name, err)
	}
	return nil
}

// disableAll sets is_enabled=false on every enabled pair and removes its
// scheduler job.
func (s *Stopper) disableAll() (int, error) {
	pairs, err := s.Store.ListEnabledPairs()
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	if err := s.Store.DisableAllPairs(); err != nil {
		return 0, err
	}
	for i := range pairs {
		s.Scheduler.Remove(pairs[i].ID)
	}
	return len(pairs), nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
