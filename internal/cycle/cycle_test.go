package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tscore/statarb/internal/cryptutil"
	"github.com/tscore/statarb/internal/exchange"
	"github.com/tscore/statarb/internal/marketdata"
	"github.com/tscore/statarb/internal/models"
	"github.com/tscore/statarb/internal/notify"
	"github.com/tscore/statarb/internal/store"
)

// fakeDriver is a fully in-memory exchange.NativeDriver so cycle tests can
// control order placement and settlement confirmation deterministically,
// unlike the package-level mock driver (which always reports an empty
// position book).
type fakeDriver struct {
	mu        sync.Mutex
	positions []exchange.Position
	balance   float64
	failB     bool // force leg B's CreateMarketOrder to fail
	cancelled []string
}

func (f *fakeDriver) OrderBookDetails(ctx context.Context, market int) (exchange.MarketMeta, error) {
	return exchange.MarketMeta{PriceDecimals: 2, SizeDecimals: 4}, nil
}

func (f *fakeDriver) CreateOrder(ctx context.Context, market int, coi int32, baseInt, priceInt int64, isAsk bool, orderType, tif int, expiry *time.Time) (string, error) {
	return "ord", nil
}

func (f *fakeDriver) CreateMarketOrder(ctx context.Context, market int, coi int32, baseInt int64, isAsk bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failB && market == 2 {
		return "", errTest
	}
	return "ord", nil
}

func (f *fakeDriver) CancelOrder(ctx context.Context, market int, orderIndex string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderIndex)
	return nil
}

func (f *fakeDriver) Account(ctx context.Context, index int) (float64, []exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.positions, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("leg rejected")

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st := store.OpenWithDB(db)
	require.NoError(t, st.Migrate())
	return st
}

func testCipher(t *testing.T) *cryptutil.AEAD {
	t.Helper()
	key, err := cryptutil.GenerateKey()
	require.NoError(t, err)
	aead, err := cryptutil.NewAEAD(key)
	require.NoError(t, err)
	return aead
}

type fakeCandleSource struct{ closes map[int][]float64 }

func (f fakeCandleSource) FetchCandles(ctx context.Context, market int, interval string, n int) ([]exchange.Candle, error) {
	closes := f.closes[market]
	out := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		out[i] = exchange.Candle{Close: c}
	}
	return out, nil
}

type fakeQuoteSource struct{}

func (fakeQuoteSource) FetchQuote(ctx context.Context, market int) (exchange.Quote, error) {
	return exchange.Quote{}, nil
}

func seqVals(start, n float64) []float64 {
	out := make([]float64, int(n))
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

// shockedSeries builds a monotonic 20-candle series for each leg, with asset
// A's final candle sharply dropped so the trading window's z-score blows
// past any reasonable entry_z.
func shockedSeries() map[int][]float64 {
	a := seqVals(100, 20)
	a[19] = 90
	b := seqVals(50, 20)
	return map[int][]float64{1: a, 2: b}
}

func setupRunner(t *testing.T, driver *fakeDriver, closes map[int][]float64) (*Runner, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	cipher := testCipher(t)

	hexKey := "deadbeef"
	ciphertext, err := cipher.EncryptHexString(hexKey)
	require.NoError(t, err)
	cred := &models.Credential{Host: "mock://", APIKeyIndex: 1, AccountIndex: 1, PrivateKeyEncrypted: ciphertext, IsActive: true}
	require.NoError(t, st.DB().Create(cred).Error)

	gw := marketdata.New(fakeCandleSource{closes: closes}, fakeQuoteSource{})
	notifier := notify.New("", nil)

	factory := func(creds exchange.Credentials) *exchange.Client {
		return exchange.NewClient(creds, driver)
	}
	runner := NewRunner(st, gw, notifier, cipher, factory, time.Millisecond)
	runner.Clock = Clock{Now: func() time.Time { return time.Unix(0, 0).UTC() }, Sleep: func(time.Duration) {}}
	return runner, st
}

func basicPair(t *testing.T, st *store.Store) *models.TradingPair {
	t.Helper()
	pair := &models.TradingPair{
		Name: "BTC-ETH", AssetA: "BTC", AssetB: "ETH", MarketA: 1, MarketB: 2,
		EntryZ: 2, ExitZ: 0.5, StopZ: 4,
		WindowInterval: "1h", WindowCandles: 20, TrainInterval: "1h", TrainCandles: 20,
		MaxHalfLife: 0, RSIUpper: 100, RSILower: 0, RSIPeriod: 14,
		StopLossPct: 10, PositionSizePct: 50, Leverage: 2, MinEquityPct: 0, TwapMinutes: 0,
		ScheduleInterval: "5m", IsEnabled: true,
	}
	require.NoError(t, st.DB().Create(pair).Error)
	return pair
}

func TestRun_OverlapSkip(t *testing.T) {
	driver := &fakeDriver{balance: 10000}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)

	release, ok := runner.Registry.TryAcquire(pair.ID)
	require.True(t, ok)
	defer release()

	runner.Run(context.Background(), pair.ID)

	var logs []models.JobLog
	require.NoError(t, st.DB().Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "skipped", logs[0].Status)
	require.Equal(t, "cycle_skipped_overlap", logs[0].Action)
}

func TestRun_EntryOpensPosition(t *testing.T) {
	driver := &fakeDriver{
		balance:   10000,
		positions: []exchange.Position{{MarketIndex: 1, Size: 1, Side: "long"}, {MarketIndex: 2, Size: 1, Side: "short"}},
	}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)

	runner.Run(context.Background(), pair.ID)

	pos, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.NotNil(t, pos, "entry should have opened a position for a price series with |z|>entry_z")
	require.Equal(t, 1, pos.Direction, "z is strongly negative, so direction should be +1 (long the spread)")
}

func TestRun_EntryRollsBackOnPartialLegFailure(t *testing.T) {
	driver := &fakeDriver{balance: 10000, failB: true}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)

	runner.Run(context.Background(), pair.ID)

	pos, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.Nil(t, pos, "no position should persist when a leg fails")

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.Len(t, driver.cancelled, 1, "the successful leg must be cancelled exactly once")

	var logs []models.JobLog
	require.NoError(t, st.DB().Where("pair_id = ?", pair.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "error", logs[0].Status)
	require.Equal(t, "entry_failed", logs[0].Action)
	require.Contains(t, logs[0].Message, errTest.Error())
}

func TestRun_InsufficientDataLogsError(t *testing.T) {
	driver := &fakeDriver{balance: 10000}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)
	pair.TrainCandles = 1000
	require.NoError(t, st.DB().Save(pair).Error)

	runner.Run(context.Background(), pair.ID)

	var logs []models.JobLog
	require.NoError(t, st.DB().Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "error", logs[0].Status)
	require.Equal(t, "insufficient_data", logs[0].Action)
}

func flatSeries() map[int][]float64 {
	return map[int][]float64{1: seqVals(100, 20), 2: seqVals(50, 20)}
}

func openPositionFor(t *testing.T, st *store.Store, pairID uint) {
	t.Helper()
	pos := &models.OpenPosition{
		PairID: pairID, Direction: 1,
		EntryZ: 0, EntrySpread: 50, EntryPriceA: 100, EntryPriceB: 50,
		EntryHedgeRatio: 1, EntryNotional: 1000,
		OrderIDA: "entry-a", OrderIDB: "entry-b",
	}
	require.NoError(t, st.CreateOpenPosition(pos))
}

func TestRun_ExitHoldsWhenPredicateDoesNotFire(t *testing.T) {
	driver := &fakeDriver{balance: 10000}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)
	openPositionFor(t, st, pair.ID)

	runner.Run(context.Background(), pair.ID)

	pos, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.NotNil(t, pos, "a strongly negative z with direction=+1 should not trigger exit yet")

	var logs []models.JobLog
	require.NoError(t, st.DB().Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "hold", logs[0].Action)
}

func TestRun_ExitFiresSignalAndClosesTrade(t *testing.T) {
	driver := &fakeDriver{balance: 10000}
	runner, st := setupRunner(t, driver, flatSeries())
	pair := basicPair(t, st)
	openPositionFor(t, st, pair.ID)

	runner.Run(context.Background(), pair.ID)

	pos, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.Nil(t, pos, "exit should have closed the position")

	var trades []models.Trade
	require.NoError(t, st.DB().Find(&trades).Error)
	require.Len(t, trades, 1)
	require.Equal(t, "signal", trades[0].ExitReason)
}

func TestRun_DisabledPairIsSkippedSilently(t *testing.T) {
	driver := &fakeDriver{balance: 10000}
	runner, st := setupRunner(t, driver, shockedSeries())
	pair := basicPair(t, st)
	pair.IsEnabled = false
	require.NoError(t, st.DB().Save(pair).Error)

	runner.Run(context.Background(), pair.ID)

	var logs []models.JobLog
	require.NoError(t, st.DB().Find(&logs).Error)
	require.Empty(t, logs, "a disabled pair must produce no job_log row at all")
}
