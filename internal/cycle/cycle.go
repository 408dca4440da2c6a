// Package cycle implements the per-pair trading cycle: the central state
// machine that turns fetched market data into an entry or exit decision and
// executes it as a coordinated two-legged order with rollback on partial
// failure.
package cycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/cryptutil"
	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/metrics"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/signal"
	"github.com/tscore/statarb/internal/store"
)

// ClientFactory constructs an exchange client for one cycle's use. The real
// wiring returns a mock client when the native SDK is unavailable; tests
// supply their own.
type ClientFactory func(creds exchange.Credentials) *exchange.Client

// Clock abstracts time so settlement-confirm delays are injectable in tests.
type Clock struct {
	Now   func() time.Time
	Sleep func(time.Duration)
}

func RealClock() Clock {
	return Clock{Now: func() time.Time { return time.Now().UTC() }, Sleep: time.Sleep}
}

// Runner executes pair cycles. One Runner is shared across all pairs; the
// mutex registry provides per-pair serialization.
type Runner struct {
	Store          *store.Store
	Gateway        *marketdata.Gateway
	Notifier       *notify.Notifier
	Cipher         *cryptutil.AEAD
	Registry       *MutexRegistry
	NewClient      ClientFactory
	SettlementWait time.Duration
	Clock          Clock
}

func NewRunner(st *store.Store, gw *marketdata.Gateway, n *notify.Notifier, cipher *cryptutil.AEAD, factory ClientFactory, settlementWait time.Duration) *Runner {
	return &Runner{
		Store:          st,
		Gateway:        gw,
		Notifier:       n,
		Cipher:         cipher,
		Registry:       NewMutexRegistry(),
		NewClient:      factory,
		SettlementWait: settlementWait,
		Clock:          RealClock(),
	}
}

// Run is the entrypoint the scheduler calls once per firing. It holds the
// per-pair mutex for the entire cycle and traps any panic/error so a single
// pair's failure can never take down the scheduler.
func (r *Runner) Run(ctx context.Context, pairID uint) {
	release, ok := r.Registry.TryAcquire(pairID)
	if !ok {
		r.logSkip(pairID, "cycle_skipped_overlap", "another cycle for this pair is already running")
		metrics.CycleSkippedOverlap.WithLabelValues(pairName(pairID)).Inc()
		return
	}
	defer release()

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("panic in cycle: %v", rec)
			log.Error().Uint("pair_id", pairID).Str("panic", msg).Msg("cycle panicked")
			r.logError(pairID, "uncaught_exception", msg, nil)
			r.Notifier.Notify(notify.SeverityCritical, "pair %d cycle panic: %v", pairID, rec)
		}
	}()

	r.run(ctx, pairID)
}

func (r *Runner) run(ctx context.Context, pairID uint) {
	pair, err := r.Store.GetPair(pairID)
	if err != nil {
		log.Error().Uint("pair_id", pairID).Err(err).Msg("load pair failed")
		return
	}
	if pair == nil || !pair.IsEnabled {
		return
	}

	data := r.Gateway.FetchPairData(ctx, marketdata.PairSeriesRequest{
		MarketA: pair.MarketA, MarketB: pair.MarketB,
		WindowInterval: pair.WindowInterval, WindowCandles: pair.WindowCandles,
		TrainInterval: pair.TrainInterval, TrainCandles: pair.TrainCandles,
	})

	if len(data.TrainA) < pair.TrainCandles || len(data.TrainB) < pair.TrainCandles ||
		len(data.WindowA) < pair.WindowCandles || len(data.WindowB) < pair.WindowCandles {
		blob := r.blobFor(data)
		r.logError(pairID, "insufficient_data", "candle series shorter than required window", blob)
		metrics.CyclesTotal.WithLabelValues(pair.Name, "error").Inc()
		return
	}

	sig := signal.ComputeSignals(data.TrainA, data.TrainB, data.WindowA, data.WindowB, pair.WindowCandles, pair.RSIPeriod)
	closeA := data.WindowA[len(data.WindowA)-1]
	closeB := data.WindowB[len(data.WindowB)-1]

	pos, err := r.Store.GetOpenPosition(pairID)
	if err != nil {
		log.Error().Uint("pair_id", pairID).Err(err).Msg("load open position failed")
		return
	}

	if pos == nil {
		r.runEntry(ctx, pair, sig, closeA, closeB, data)
	} else {
		r.runExit(ctx, pair, pos, sig, closeA, closeB, data)
	}
}

func (r *Runner) blobFor(data marketdata.PairData) *marketDataBlob {
	blob := &marketDataBlob{}
	blob.Candles.TrainA, blob.Candles.TrainB = data.TrainA, data.TrainB
	blob.Candles.WindowA, blob.Candles.WindowB = data.WindowA, data.WindowB
	return blob
}

func (r *Runner) activeClient(ctx context.Context) (*exchange.Client, *models.Credential, error) {
	cred, err := r.Store.GetActiveCredential()
	if err != nil {
		return nil, nil, fmt.Errorf("load active credential: %w", err)
	}
	if cred == nil {
		return nil, nil, fmt.Errorf("no active credential")
	}
	hexKey, err := r.Cipher.DecryptHexString(cred.PrivateKeyEncrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt credential: %w", err)
	}
	creds := exchange.Credentials{
		Host:          cred.Host,
		PrivateKeyHex: hexKey,
		APIKeyIndex:   cred.APIKeyIndex,
		AccountIndex:  cred.AccountIndex,
	}
	client := r.NewClient(creds)
	return client, cred, nil
}

// --- JobLog helpers ---

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	v := f
	return &v
}

func (r *Runner) writeLog(pairID uint, status, action, message string, sig *signal.Signals, closeA, closeB *float64, blob *marketDataBlob) {
	entry := &models.JobLog{
		PairID:    pairID,
		Timestamp: r.Clock.Now(),
		Status:    status,
		Action:    action,
		Message:   message,
		CloseA:    closeA,
		CloseB:    closeB,
	}
	if sig != nil {
		entry.Z = finite(sig.Z)
		entry.Spread = finite(sig.Spread)
		entry.Mu = finite(sig.Mu)
		entry.Sigma = finite(sig.Sigma)
		entry.HalfLife = finite(sig.HalfLife)
		entry.RSI = finite(sig.RSI)
	}
	var marketData any
	if blob != nil {
		marketData = blob
	}
	ev := log.Info()
	switch status {
	case "error":
		ev = log.Error()
	case "skipped", "warning":
		ev = log.Warn()
	}
	ev.Uint("pair_id", pairID).Str("status", status).Str("action", action).Msg(message)
	if err := r.Store.AppendJobLog(entry, marketData); err != nil {
		log.Error().Uint("pair_id", pairID).Err(err).Msg("failed to append job_log")
	}
}

func (r *Runner) logSkip(pairID uint, action, message string) {
	r.writeLog(pairID, "skipped", action, message, nil, nil, nil, nil)
}

func (r *Runner) logError(pairID uint, action, message string, blob *marketDataBlob) {
	r.writeLog(pairID, "error", action, message, nil, nil, nil, blob)
}

func pairName(pairID uint) string {
	return fmt.Sprintf("%d", pairID)
}
