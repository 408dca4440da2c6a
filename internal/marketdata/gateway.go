// Package marketdata fetches candle series and mid-price quotes and
// normalizes them into the aligned time series the signal engine consumes.
package marketdata

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tscore/statarb/internal/exchange"
)

// CandleSource is the narrow candle-fetching contract: OHLC candles per
// market/interval, timestamped in milliseconds, ascending.
type CandleSource interface {
	FetchCandles(ctx context.Context, market int, interval string, n int) ([]exchange.Candle, error)
}

// QuoteSource fetches a best-bid/best-ask snapshot.
type QuoteSource interface {
	FetchQuote(ctx context.Context, market int) (exchange.Quote, error)
}

// Gateway bundles a candle source and a quote source.
type Gateway struct {
	Candles CandleSource
	Quotes  QuoteSource
}

func New(candles CandleSource, quotes QuoteSource) *Gateway {
	return &Gateway{Candles: candles, Quotes: quotes}
}

// fetchMargin over-fetches by 20% so short upstream gaps don't starve the
// requested window.
const fetchMargin = 1.2

// FetchCandles returns an ascending close-price series covering at least n
// candles. Any upstream failure yields an empty series — never an error —
// so the cycle can uniformly treat it as insufficient data.
func (g *Gateway) FetchCandles(ctx context.Context, market int, interval string, n int) []float64 {
	want := int(float64(n) * fetchMargin)
	if want < n {
		want = n
	}
	candles, err := g.Candles.FetchCandles(ctx, market, interval, want)
	if err != nil {
		log.Warn().Int("market", market).Str("interval", interval).Err(err).Msg("fetch_candles failed")
		return nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// FetchOrderbook returns {mid, best_bid, best_ask}. mid is the midpoint when
// both sides are present, else whichever side is present, else 0.
func (g *Gateway) FetchOrderbook(ctx context.Context, market int) exchange.Quote {
	q, err := g.Quotes.FetchQuote(ctx, market)
	if err != nil {
		log.Warn().Int("market", market).Err(err).Msg("fetch_orderbook failed")
		return exchange.Quote{}
	}
	switch {
	case q.BestBid > 0 && q.BestAsk > 0:
		q.Mid = (q.BestBid + q.BestAsk) / 2
	case q.BestBid > 0:
		q.Mid = q.BestBid
	case q.BestAsk > 0:
		q.Mid = q.BestAsk
	default:
		q.Mid = 0
	}
	return q
}

// PairSeriesRequest names the four (or two) candle series a pair cycle
// needs.
type PairSeriesRequest struct {
	MarketA, MarketB           int
	WindowInterval             string
	WindowCandles              int
	TrainInterval              string
	TrainCandles               int
}

// PairData is the aligned output of fetch_pair_data.
type PairData struct {
	TrainA, TrainB   []float64
	WindowA, WindowB []float64
	QuoteA, QuoteB   exchange.Quote
}

// FetchPairData runs the candle fetches concurrently (four, or two when
// train_interval == window_interval, in which case the window series is the
// tail of the training series) plus both orderbook snapshots.
func (g *Gateway) FetchPairData(ctx context.Context, req PairSeriesRequest) PairData {
	var data PairData
	var wg sync.WaitGroup

	sameInterval := req.TrainInterval == req.WindowInterval

	if sameInterval {
		wg.Add(2)
		go func() {
			defer wg.Done()
			data.TrainA = g.FetchCandles(ctx, req.MarketA, req.TrainInterval, req.TrainCandles)
			data.WindowA = tail(data.TrainA, req.WindowCandles)
		}()
		go func() {
			defer wg.Done()
			data.TrainB = g.FetchCandles(ctx, req.MarketB, req.TrainInterval, req.TrainCandles)
			data.WindowB = tail(data.TrainB, req.WindowCandles)
		}()
	} else {
		wg.Add(4)
		go func() {
			defer wg.Done()
			data.TrainA = g.FetchCandles(ctx, req.MarketA, req.TrainInterval, req.TrainCandles)
		}()
		go func() {
			defer wg.Done()
			data.TrainB = g.FetchCandles(ctx, req.MarketB, req.TrainInterval, req.TrainCandles)
		}()
		go func() {
			defer wg.Done()
			data.WindowA = g.FetchCandles(ctx, req.MarketA, req.WindowInterval, req.WindowCandles)
		}()
		go func() {
			defer wg.Done()
			data.WindowB = g.FetchCandles(ctx, req.MarketB, req.WindowInterval, req.WindowCandles)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		data.QuoteA = g.FetchOrderbook(ctx, req.MarketA)
	}()
	go func() {
		defer wg.Done()
		data.QuoteB = g.FetchOrderbook(ctx, req.MarketB)
	}()

	wg.Wait()
	return data
}

func tail(series []float64, n int) []float64 {
	if n >= len(series) {
		return series
	}
	if n <= 0 {
		return nil
	}
	return series[len(series)-n:]
}
