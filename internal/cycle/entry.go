package cycle

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/metrics"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/signal"
)

// runEntry runs the entry path: size the position from current balance,
// evaluate the entry predicate, place both legs, confirm settlement, guard
// against a duplicate position, and persist the new OpenPosition.
func (r *Runner) runEntry(ctx context.Context, pair *models.TradingPair, sig signal.Signals, closeA, closeB float64, data marketdata.PairData) {
	client, _, err := r.activeClient(ctx)
	if err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("no active client for entry")
		r.logError(pair.ID, "no_credential", err.Error(), nil)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 1: balance read, position sizing.
	balance := client.GetBalance(ctx)
	positionSize := balance * pair.PositionSizePct / 100
	if balance <= 0 {
		r.logError(pair.ID, "no_balance", "balance is zero or unavailable, aborting entry", nil)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 2: current_equity is overwritten to position_size ahead of the
	// equity-floor check — the two accounting systems (account balance vs.
	// per-pair current_equity) can drift; this core follows the documented
	// behavior rather than reconciling them. See DESIGN.md.
	if err := r.Store.UpdatePairEquity(pair.ID, positionSize); err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("persist current_equity failed")
	}
	metrics.CurrentEquity.WithLabelValues(pair.Name).Set(positionSize)

	// Step 3: entry predicate.
	params := signal.EntryParams{
		EntryZ:        pair.EntryZ,
		MaxHalfLife:   pair.MaxHalfLife,
		RSILower:      pair.RSILower,
		RSIUpper:      pair.RSIUpper,
		CurrentEquity: positionSize,
		PositionSize:  positionSize,
		MinEquityPct:  pair.MinEquityPct,
		Leverage:      pair.Leverage,
	}
	allowed, direction, notional, reason := signal.EntryDecision(sig, params)
	if !allowed {
		action := "skip:" + reason
		if reason == "no_signal" {
			action = "none"
		}
		r.writeLog(pair.ID, "success", action, "entry predicate did not fire", &sig, &closeA, &closeB, nil)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "success").Inc()
		return
	}

	// Step 4: leg sizes.
	dollarPerUnit := closeA + math.Abs(sig.Beta)*closeB
	var units float64
	if dollarPerUnit != 0 {
		units = notional / dollarPerUnit
	}
	sizeA := units
	sizeB := units * math.Abs(sig.Beta)

	// Step 5: direction -> sides. direction=+1 is long the spread (buy A,
	// sell B); direction=-1 is short the spread (sell A, buy B).
	var sideA, sideB exchange.Side
	if direction == 1 {
		sideA, sideB = exchange.Buy, exchange.Sell
	} else {
		sideA, sideB = exchange.Sell, exchange.Buy
	}

	legA := legRequest{Market: pair.MarketA, IsAsk: bool(sideA), Size: sizeA, Price: closeA}
	legB := legRequest{Market: pair.MarketB, IsAsk: bool(sideB), Size: sizeB, Price: closeB}

	// Step 6: sequential placement, never parallel.
	outcome := r.placePairOrder(ctx, client, legA, legB, pair.TwapMinutes)
	blob := r.blobFor(data)
	blob.Orders = append(blob.Orders, toOrderBlob("a", outcome.ResA), toOrderBlob("b", outcome.ResB))

	if !outcome.BothSucceeded {
		// Step 7: rollback on partial failure.
		if outcome.RollbackAttempted && !outcome.RollbackSucceeded {
			r.logError(pair.ID, "entry_rollback_failed", "failed leg's counterpart could not be cancelled", blob)
			metrics.RollbackFailures.WithLabelValues(pair.Name, "entry").Inc()
			r.Notifier.Notify(notify.SeverityCritical, "pair %s: entry rollback failed, manual intervention required", pair.Name)
		} else {
			r.logError(pair.ID, "entry_failed", entryFailureMessage(outcome), blob)
		}
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 8: settlement-confirm.
	r.Clock.Sleep(r.SettlementWait)
	positions, err := client.GetPositions(ctx)
	if err != nil || !marketsPresent(positions, pair.MarketA, pair.MarketB) {
		r.logError(pair.ID, "entry_not_confirmed", "markets not present on exchange after settlement delay", blob)
		r.Notifier.Notify(notify.SeverityCritical, "pair %s: entry not confirmed on exchange", pair.Name)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	// Step 9: duplicate guard — re-check under a fresh read.
	existing, err := r.Store.GetOpenPosition(pair.ID)
	if err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("duplicate-guard read failed")
	}
	if existing != nil {
		r.logSkip(pair.ID, "entry_aborted_duplicate", "a position already exists for this pair, aborting entry")
		metrics.CyclesTotal.WithLabelValues(pair.Name, "skipped").Inc()
		return
	}

	// Step 10: persist.
	pos := &models.OpenPosition{
		PairID:          pair.ID,
		Direction:       direction,
		EntryZ:          sig.Z,
		EntrySpread:     sig.Spread,
		EntryPriceA:     closeA,
		EntryPriceB:     closeB,
		EntryHedgeRatio: sig.Beta,
		EntryNotional:   notional,
		EntryTime:       r.Clock.Now(),
		OrderIDA:        outcome.ResA.OrderID,
		OrderIDB:        outcome.ResB.OrderID,
	}
	if err := r.Store.CreateOpenPosition(pos); err != nil {
		log.Error().Uint("pair_id", pair.ID).Err(err).Msg("persist open position failed")
		r.logError(pair.ID, "entry_persist_failed", err.Error(), blob)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	action := "entry_long"
	if direction == -1 {
		action = "entry_short"
	}
	r.writeLog(pair.ID, "success", action, "entry executed", &sig, &closeA, &closeB, blob)
	metrics.EntriesTotal.WithLabelValues(pair.Name, sideLabel(direction)).Inc()
	metrics.CyclesTotal.WithLabelValues(pair.Name, "success").Inc()
	r.Notifier.Notify(notify.SeverityInfo, "pair %s: entered %s, z=%.3f, notional=%.2f", pair.Name, action, sig.Z, notional)
}

func sideLabel(direction int) string {
	if direction == 1 {
		return "long"
	}
	return "short"
}

// entryFailureMessage reports which leg(s) failed and why, so an operator
// reading the job log doesn't have to cross-reference the market_data blob.
func entryFailureMessage(outcome pairOrderOutcome) string {
	var failures []string
	if outcome.ResA != nil && !outcome.ResA.Success {
		failures = append(failures, fmt.Sprintf("leg a: %s", outcome.ResA.Error))
	}
	if outcome.ResB != nil && !outcome.ResB.Success {
		failures = append(failures, fmt.Sprintf("leg b: %s", outcome.ResB.Error))
	}
	if len(failures) == 0 {
		return "one or both entry legs failed to place"
	}
	return "entry leg(s) failed to place: " + strings.Join(failures, "; ")
}
