package exchange

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGridInt_RoundTrip(t *testing.T) {
	cases := []struct {
		value    float64
		decimals int
	}{
		{100.12, 2}, {0.00001234, 8}, {50000, 0}, {1.005, 2}, {0.1, 1},
	}
	for _, tc := range cases {
		grid := toGridInt(tc.value, tc.decimals)
		got := float64(grid) / math.Pow10(tc.decimals)
		assert.InDelta(t, tc.value, got, 0.5/math.Pow10(tc.decimals))
	}
}

func TestMockClient_PlaceOrderSucceeds(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(Credentials{Host: "mock://", AccountIndex: 1})
	require.True(t, c.IsMock())

	res, err := c.PlaceOrder(ctx, PlaceOrderParams{Market: 1, BaseAmount: 1.5, Price: 100, IsAsk: false})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.OrderID)
}

func TestMockClient_GetBalanceAndPositions(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(Credentials{AccountIndex: 1})
	assert.Equal(t, 10000.0, c.GetBalance(ctx))

	positions, err := c.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestMockClient_CancelOrder(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(Credentials{})
	assert.True(t, c.CancelOrder(ctx, 1, "mock-1"))
}

func TestFilterDust(t *testing.T) {
	positions := []Position{
		{MarketIndex: 1, Size: 1e-11},
		{MarketIndex: 2, Size: 0.5},
	}
	filtered := FilterDust(positions)
	require.Len(t, filtered, 1)
	assert.Equal(t, 2, filtered[0].MarketIndex)
}

func TestMarketMeta_CachedAcrossCalls(t *testing.T) {
	ctx := context.Background()
	c := NewMockClient(Credentials{})
	_, err := c.marketMeta(ctx, 7)
	require.NoError(t, err)
	_, ok := c.meta[7]
	assert.True(t, ok)
}
