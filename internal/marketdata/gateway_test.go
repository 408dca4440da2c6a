package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tscore/statarb/internal/exchange"
)

type fakeCandles struct {
	closes map[int][]float64
	err    error
}

func (f *fakeCandles) FetchCandles(ctx context.Context, market int, interval string, n int) ([]exchange.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	closes := f.closes[market]
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Close: c}
	}
	return out, nil
}

type fakeQuotes struct {
	quotes map[int]exchange.Quote
}

func (f *fakeQuotes) FetchQuote(ctx context.Context, market int) (exchange.Quote, error) {
	return f.quotes[market], nil
}

func TestFetchCandles_FailureYieldsEmpty(t *testing.T) {
	g := New(&fakeCandles{err: errors.New("boom")}, &fakeQuotes{})
	got := g.FetchCandles(context.Background(), 1, "1m", 10)
	assert.Empty(t, got)
}

func TestFetchOrderbook_MidComputation(t *testing.T) {
	g := New(&fakeCandles{}, &fakeQuotes{quotes: map[int]exchange.Quote{
		1: {BestBid: 99, BestAsk: 101},
		2: {BestBid: 50},
		3: {},
	}})
	ctx := context.Background()
	assert.Equal(t, 100.0, g.FetchOrderbook(ctx, 1).Mid)
	assert.Equal(t, 50.0, g.FetchOrderbook(ctx, 2).Mid)
	assert.Equal(t, 0.0, g.FetchOrderbook(ctx, 3).Mid)
}

func TestFetchPairData_SameIntervalReusesSeries(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(i)
	}
	g := New(&fakeCandles{closes: map[int][]float64{1: closes, 2: closes}}, &fakeQuotes{quotes: map[int]exchange.Quote{}})
	data := g.FetchPairData(context.Background(), PairSeriesRequest{
		MarketA: 1, MarketB: 2,
		WindowInterval: "1h", WindowCandles: 10,
		TrainInterval: "1h", TrainCandles: 30,
	})
	require.Len(t, data.TrainA, 30)
	require.Len(t, data.WindowA, 10)
	assert.Equal(t, data.TrainA[20:], data.WindowA)
}
