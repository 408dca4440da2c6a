package cycle

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/metrics"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/signal"
)

// runExit runs the exit path: evaluate unrealized P&L and the exit
// predicate, and if it fires, reverse both legs, confirm settlement, and
// persist the closed Trade and equity snapshot transactionally.
func (r *Runner) runExit(ctx context.Context, pair *models.TradingPair, pos *models.OpenPosition, sig signal.Signals, closeA, closeB float64, data marketdata.PairData) {
	params := signal.ExitParams{
		Direction:       pos.Direction,
		ExitZ:           pair.ExitZ,
		StopZ:           pair.StopZ,
		StopLossPct:     pair.StopLossPct,
		EntrySpread:     pos.EntrySpread,
		EntryPriceA:     pos.EntryPriceA,
		EntryPriceB:     pos.EntryPriceB,
		EntryHedgeRatio: pos.EntryHedgeRatio,
		EntryNotional:   pos.EntryNotional,
		CurrentEquity:   pair.CurrentEquity,
	}

	// Step 1: exit predicate on unrealized P&L.
	exitSpread, unrealPnL, unrealPct, units := signal.UnrealizedPnL(params, closeA, closeB)
	reason := signal.ExitDecision(params, sig.Z, unrealPct)
	if reason == signal.ExitNone {
		r.writeLog(pair.ID, "success", "hold", holdMessage(unrealPnL, unrealPct), &sig, &closeA, &closeB, nil)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "success").Inc()
		return
	}

	client, _, err := r.activeClient(ctx)
	if err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("no active client for exit")
		r.logError(pair.ID, "no_credential", err.Error(), nil)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 2: reverse legs, same sequential + rollback discipline as entry.
	var sideA, sideB exchange.Side
	if pos.Direction == 1 {
		sideA, sideB = exchange.Sell, exchange.Buy
	} else {
		sideA, sideB = exchange.Buy, exchange.Sell
	}
	legA := legRequest{Market: pair.MarketA, IsAsk: bool(sideA), Size: units, Price: closeA}
	legB := legRequest{Market: pair.MarketB, IsAsk: bool(sideB), Size: units * math.Abs(pos.EntryHedgeRatio), Price: closeB}

	outcome := r.placePairOrder(ctx, client, legA, legB, pair.TwapMinutes)
	blob := r.blobFor(data)
	blob.Orders = append(blob.Orders, toOrderBlob("a", outcome.ResA), toOrderBlob("b", outcome.ResB))

	if !outcome.BothSucceeded {
		if outcome.RollbackAttempted && !outcome.RollbackSucceeded {
			r.logError(pair.ID, "exit_rollback_failed", "failed leg's counterpart could not be cancelled", blob)
			metrics.RollbackFailures.WithLabelValues(pair.Name, "exit").Inc()
			r.Notifier.Notify(notify.SeverityCritical, "pair %s: exit rollback failed, manual intervention required", pair.Name)
		} else {
			r.logError(pair.ID, "exit_leg_failed", "one or both exit legs failed to place", blob)
		}
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 3: settlement-confirm. Either market still present on the
	// exchange means the close didn't actually settle; abort and leave the
	// position in the database for operator review.
	r.Clock.Sleep(r.SettlementWait)
	positions, err := client.GetPositions(ctx)
	if err != nil || marketsPresent(positions, pair.MarketA, pair.MarketB) {
		r.logError(pair.ID, "exit_not_confirmed", "markets still present on exchange after settlement delay", blob)
		r.Notifier.Notify(notify.SeverityCritical, "pair %s: exit not confirmed on exchange", pair.Name)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 4: realized P&L.
	var pnl float64
	if reason == signal.ExitStopLoss {
		pnl = -pair.StopLossPct / 100 * pair.CurrentEquity
	} else {
		pnl = float64(pos.Direction) * (exitSpread - pos.EntrySpread) * units
	}
	var pnlPct float64
	if pair.CurrentEquity != 0 {
		pnlPct = 100 * pnl / pair.CurrentEquity
	}

	direction := "long"
	if pos.Direction == -1 {
		direction = "short"
	}
	trade := &models.Trade{
		PairID:          pair.ID,
		Direction:       direction,
		EntryTime:       pos.EntryTime,
		ExitTime:        r.Clock.Now(),
		EntryPriceA:     pos.EntryPriceA,
		EntryPriceB:     pos.EntryPriceB,
		ExitPriceA:      closeA,
		ExitPriceB:      closeB,
		EntrySizeA:      units,
		EntrySizeB:      units * math.Abs(pos.EntryHedgeRatio),
		ExitSizeA:       units,
		ExitSizeB:       units * math.Abs(pos.EntryHedgeRatio),
		HedgeRatio:      pos.EntryHedgeRatio,
		PnL:             pnl,
		PnLPct:          pnlPct,
		ExitReason:      string(reason),
		DurationCandles: 0, // candles-since-entry semantics were never recorded upstream; see DESIGN.md
	}

	// Step 5: atomic persistence.
	if err := r.Store.CloseTrade(pair.ID, trade, pnl, r.Clock.Now()); err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("close-trade transaction failed")
		r.logError(pair.ID, "exit_persist_failed", err.Error(), blob)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}
	metrics.CurrentEquity.WithLabelValues(pair.Name).Set(pair.CurrentEquity + pnl)

	// Step 6: log and notify.
	r.writeLog(pair.ID, "success", "exit:"+string(reason), exitMessage(pnl, pnlPct, reason), &sig, &closeA, &closeB, blob)
	metrics.ExitsTotal.WithLabelValues(pair.Name, string(reason)).Inc()
	metrics.CyclesTotal.WithLabelValues(pair.Name, "success").Inc()
	r.Notifier.Notify(notify.SeverityInfo, "pair %s: exited (%s), pnl=%.2f (%.2f%%)", pair.Name, reason, pnl, pnlPct)
}

func holdMessage(unrealPnL, unrealPct float64) string {
	return fmt.Sprintf("holding position, unrealized pnl=%.4f (%.2f%%)", unrealPnL, unrealPct)
}

func exitMessage(pnl, pnlPct float64, reason signal.ExitReason) string {
	return fmt.Sprintf("closed position (%s), pnl=%.4f (%.2f%%)", reason, pnl, pnlPct)
}
