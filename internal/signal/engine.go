// Package signal implements the stateless numerical core of the pair-trading
// strategy: hedge ratio, z-score, OU half-life, RSI, and the entry/exit
// predicates built on top of them. Every function here is pure — no I/O, no
// shared state — so the whole package is covered by table-driven tests
// without mocks.
package signal

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// HedgeRatio is the OLS slope of a ~ alpha + beta*b. With fewer than two
// observations the series can't be regressed, so the conventional 1:1 hedge
// is returned.
func HedgeRatio(a, b []float64) float64 {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	if n < 2 {
		return 1.0
	}
	_, beta := stat.LinearRegression(b[:n], a[:n], nil, false)
	return beta
}

// ZScore computes spread[i] = a[i] - beta*b[i] over the last W observations
// and standardizes the most recent point against that window's sample mean
// and standard deviation (ddof=1). A zero or non-finite sigma yields z=0
// rather than a division blowup.
func ZScore(a, b []float64, beta float64, window int) (z, spread, mu, sigma float64) {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	full := make([]float64, n)
	for i := 0; i < n; i++ {
		full[i] = a[i] - beta*b[i]
	}
	if window > n {
		window = n
	}
	if window <= 0 {
		return 0, 0, 0, 0
	}
	win := full[n-window:]
	mu, variance := stat.MeanVariance(win, nil)
	sigma = math.Sqrt(variance)
	spread = win[len(win)-1]
	if sigma == 0 || math.IsNaN(sigma) {
		return 0, spread, mu, sigma
	}
	z = (spread - mu) / sigma
	return z, spread, mu, sigma
}

// HalfLife estimates the Ornstein-Uhlenbeck mean-reversion half-life via a
// regression of Δspread on lag(spread). A non-negative slope means the
// series isn't mean-reverting, so half-life is +Inf — "never".
func HalfLife(spread []float64) float64 {
	n := len(spread)
	if n < 5 {
		return math.Inf(1)
	}
	lag := make([]float64, 0, n-1)
	delta := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		lag = append(lag, spread[i-1])
		delta = append(delta, spread[i]-spread[i-1])
	}
	_, beta := stat.LinearRegression(lag, delta, nil, false)
	if beta >= 0 {
		return math.Inf(1)
	}
	return -math.Ln2 / beta
}

// RSI computes Wilder's Relative Strength Index over the full values series,
// seeding with a simple average of the first `period` gains/losses and then
// smoothing the remainder. Fewer than period+2 values is insufficient data.
func RSI(values []float64, period int) float64 {
	n := len(values)
	if period < 2 || n < period+2 {
		return math.NaN()
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gainSum += d
		} else {
			lossSum -= d
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	for i := period + 1; i < n; i++ {
		d := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Signals bundles a single compute_signals() call's output.
type Signals struct {
	Beta     float64
	Z        float64
	Spread   float64
	Mu       float64
	Sigma    float64
	HalfLife float64
	RSI      float64
}

// ComputeSignals runs the full pipeline: hedge ratio over the training
// window, z-score/spread over the trading window (using that hedge ratio),
// half-life on the trading-window spread, and RSI over the price ratio a/b
// taken over the trading window.
func ComputeSignals(trainA, trainB, windowA, windowB []float64, window, rsiPeriod int) Signals {
	beta := HedgeRatio(trainA, trainB)
	z, spread, mu, sigma := ZScore(windowA, windowB, beta, window)

	n := len(windowA)
	if n > len(windowB) {
		n = len(windowB)
	}
	fullSpread := make([]float64, n)
	for i := 0; i < n; i++ {
		fullSpread[i] = windowA[i] - beta*windowB[i]
	}
	hl := HalfLife(fullSpread)

	ratio := make([]float64, n)
	for i := 0; i < n; i++ {
		if windowB[i] == 0 {
			ratio[i] = math.NaN()
			continue
		}
		ratio[i] = windowA[i] / windowB[i]
	}
	r := RSI(ratio, rsiPeriod)

	return Signals{Beta: beta, Z: z, Spread: spread, Mu: mu, Sigma: sigma, HalfLife: hl, RSI: r}
}

// EntryParams are the pair's configured entry-regime filters.
type EntryParams struct {
	EntryZ        float64
	MaxHalfLife   float64
	RSILower      float64
	RSIUpper      float64
	CurrentEquity float64
	PositionSize  float64 // balance * position_size_pct/100
	MinEquityPct  float64
	Leverage      float64
}

// EntryDecision evaluates the entry predicate. direction is 0
// when entry is not allowed. reason is "" when allowed, else one of
// "no_signal", "half_life", "rsi", "equity_floor" naming the clause that
// blocked entry — used for the skip:<reason> JobLog action.
func EntryDecision(s Signals, p EntryParams) (allowed bool, direction int, notional float64, reason string) {
	if !(math.Abs(s.Z) > p.EntryZ) {
		return false, 0, 0, "no_signal"
	}
	if p.MaxHalfLife > 0 {
		if !(s.HalfLife > 0 && s.HalfLife <= p.MaxHalfLife) {
			return false, 0, 0, "half_life"
		}
	}
	if (p.RSILower > 0 || p.RSIUpper < 100) && !math.IsNaN(s.RSI) {
		if !(s.RSI >= p.RSILower && s.RSI <= p.RSIUpper) {
			return false, 0, 0, "rsi"
		}
	}
	equityFloor := p.PositionSize * (p.MinEquityPct / 100)
	if p.CurrentEquity < equityFloor {
		return false, 0, 0, "equity_floor"
	}

	if s.Z > p.EntryZ {
		direction = -1
	} else {
		direction = 1
	}
	notional = p.CurrentEquity * p.Leverage
	return true, direction, notional, ""
}

// ExitReason names the rule that closed the position.
type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitSignal         ExitReason = "signal"
	ExitStopLoss       ExitReason = "stop_loss"
	ExitStopZ          ExitReason = "stop_z"
	ExitEmergencyStop  ExitReason = "emergency_stop"
	ExitManual         ExitReason = "manual"
)

// ExitParams are the held position's configured exit thresholds plus the
// entry snapshot needed to compute unrealized P&L.
type ExitParams struct {
	Direction       int
	ExitZ           float64
	StopZ           float64
	StopLossPct     float64
	EntrySpread     float64
	EntryPriceA     float64
	EntryPriceB     float64
	EntryHedgeRatio float64
	EntryNotional   float64
	CurrentEquity   float64
}

// UnrealizedPnL computes the exit-path P&L snapshot. The spread and the
// leg-B quantity are both priced against the position's entry-time hedge
// ratio, not whatever beta the current cycle happens to recompute — the
// position was opened against entry_hedge_ratio, so that's what closing it
// must be measured and sized against.
func UnrealizedPnL(p ExitParams, priceA, priceB float64) (exitSpread, unrealPnL, unrealPct, units float64) {
	exitSpread = priceA - p.EntryHedgeRatio*priceB
	spreadChange := exitSpread - p.EntrySpread
	dollarPerUnit := p.EntryPriceA + math.Abs(p.EntryHedgeRatio)*p.EntryPriceB
	if dollarPerUnit != 0 {
		units = p.EntryNotional / dollarPerUnit
	}
	unrealPnL = float64(p.Direction) * spreadChange * units
	if p.CurrentEquity != 0 {
		unrealPct = 100 * unrealPnL / p.CurrentEquity
	}
	return exitSpread, unrealPnL, unrealPct, units
}

// ExitDecision evaluates the exit predicate in its documented priority
// order: stop-loss first, then the direction-specific z-based rules.
func ExitDecision(p ExitParams, z float64, unrealPct float64) ExitReason {
	if p.StopLossPct > 0 && unrealPct <= -p.StopLossPct {
		return ExitStopLoss
	}
	switch p.Direction {
	case 1:
		if z > -p.ExitZ {
			return ExitSignal
		}
		if z > p.StopZ {
			return ExitStopZ
		}
	case -1:
		if z < p.ExitZ {
			return ExitSignal
		}
		if z < -p.StopZ {
			return ExitStopZ
		}
	}
	return ExitNone
}
