package cycle

import (
	"context"

	"github.com/tscore/statarb/internal/exchange"
)

// legRequest is one leg of a two-legged order: which market, which side,
// how much, at what reference price.
type legRequest struct {
	Market int
	IsAsk  bool
	Size   float64
	Price  float64
}

// pairOrderOutcome is the result of placing both legs of a pair order,
// sequentially (never in parallel) with rollback on partial failure.
type pairOrderOutcome struct {
	ResA, ResB        *exchange.OrderResult
	BothSucceeded     bool
	FailedLeg         string // "a" | "b" | ""
	RollbackAttempted bool
	RollbackSucceeded bool
}

// placePairOrder submits leg A then leg B, never in parallel. If one leg
// succeeds and the other fails, it cancels the successful leg.
func (r *Runner) placePairOrder(ctx context.Context, client *exchange.Client, legA, legB legRequest, twapMinutes int) pairOrderOutcome {
	resA := r.placeLeg(ctx, client, legA, twapMinutes)
	resB := r.placeLeg(ctx, client, legB, twapMinutes)

	switch {
	case resA.Success && resB.Success:
		return pairOrderOutcome{ResA: resA, ResB: resB, BothSucceeded: true}

	case resA.Success && !resB.Success:
		ok := client.CancelOrder(ctx, legA.Market, resA.OrderID)
		return pairOrderOutcome{ResA: resA, ResB: resB, FailedLeg: "b", RollbackAttempted: true, RollbackSucceeded: ok}

	case !resA.Success && resB.Success:
		ok := client.CancelOrder(ctx, legB.Market, resB.OrderID)
		return pairOrderOutcome{ResA: resA, ResB: resB, FailedLeg: "a", RollbackAttempted: true, RollbackSucceeded: ok}

	default:
		// Both legs failed: nothing was opened, nothing to roll back.
		return pairOrderOutcome{ResA: resA, ResB: resB, FailedLeg: "a"}
	}
}

func (r *Runner) placeLeg(ctx context.Context, client *exchange.Client, leg legRequest, twapMinutes int) *exchange.OrderResult {
	if twapMinutes > 0 {
		res, err := client.PlaceTWAPOrder(ctx, exchange.PlaceTWAPOrderParams{
			Market: leg.Market, BaseAmount: leg.Size, Price: leg.Price, IsAsk: leg.IsAsk, DurationMinutes: twapMinutes,
		})
		if err != nil {
			return &exchange.OrderResult{Success: false, Error: err.Error()}
		}
		return res
	}
	res, err := client.PlaceOrder(ctx, exchange.PlaceOrderParams{
		Market: leg.Market, BaseAmount: leg.Size, Price: leg.Price, IsAsk: leg.IsAsk, Market_: true,
	})
	if err != nil {
		return &exchange.OrderResult{Success: false, Error: err.Error()}
	}
	return res
}

// marketsPresent checks whether the given markets are present in a
// get_positions snapshot — used by both entry and exit settlement-confirm.
func marketsPresent(positions []exchange.Position, markets ...int) bool {
	seen := make(map[int]bool, len(markets))
	for _, p := range positions {
		seen[p.MarketIndex] = true
	}
	for _, m := range markets {
		if !seen[m] {
			return false
		}
	}
	return true
}
