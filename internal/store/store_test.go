package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tscore/statarb/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st := OpenWithDB(db)
	require.NoError(t, st.Migrate())
	return st
}

func basicPair(t *testing.T, st *Store) *models.TradingPair {
	t.Helper()
	pair := &models.TradingPair{
		Name: "BTC-ETH", AssetA: "BTC", AssetB: "ETH", MarketA: 1, MarketB: 2,
		EntryZ: 2, ExitZ: 0.5, StopZ: 4,
		WindowInterval: "1h", WindowCandles: 20, TrainInterval: "1h", TrainCandles: 20,
		RSIUpper: 100, RSILower: 0, RSIPeriod: 14,
		StopLossPct: 10, PositionSizePct: 50, Leverage: 2,
		ScheduleInterval: "5m", IsEnabled: true, CurrentEquity: 1000,
	}
	require.NoError(t, st.DB().Create(pair).Error)
	return pair
}

func TestMigrate_CreatesOpenPositionUniqueIndex(t *testing.T) {
	st := newTestStore(t)
	require.True(t, st.DB().Migrator().HasIndex(&models.OpenPosition{}, "idx_open_position_pair_id"))
}

func TestMigrate_IsIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Migrate())
}

func TestGetPair_ReturnsNilWithoutErrorWhenMissing(t *testing.T) {
	st := newTestStore(t)
	pair, err := st.GetPair(999)
	require.NoError(t, err)
	require.Nil(t, pair)
}

func TestListEnabledPairs_ExcludesDisabled(t *testing.T) {
	st := newTestStore(t)
	enabled := basicPair(t, st)
	disabled := *enabled
	disabled.ID = 0
	disabled.Name = "ETH-SOL"
	disabled.IsEnabled = false
	require.NoError(t, st.DB().Create(&disabled).Error)

	pairs, err := st.ListEnabledPairs()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, enabled.ID, pairs[0].ID)
}

func TestUpdatePairEquity_PersistsNewValue(t *testing.T) {
	st := newTestStore(t)
	pair := basicPair(t, st)
	require.NoError(t, st.UpdatePairEquity(pair.ID, 1234.5))

	got, err := st.GetPair(pair.ID)
	require.NoError(t, err)
	require.Equal(t, 1234.5, got.CurrentEquity)
}

func TestDisableAllPairs_OnlyTouchesEnabledRows(t *testing.T) {
	st := newTestStore(t)
	a := basicPair(t, st)
	b := *a
	b.ID = 0
	b.Name = "ETH-SOL"
	b.IsEnabled = false
	require.NoError(t, st.DB().Create(&b).Error)

	require.NoError(t, st.DisableAllPairs())

	gotA, err := st.GetPair(a.ID)
	require.NoError(t, err)
	require.False(t, gotA.IsEnabled)

	gotB, err := st.GetPair(b.ID)
	require.NoError(t, err)
	require.False(t, gotB.IsEnabled)
}

func TestOpenPosition_CreateGetDeleteRoundTrip(t *testing.T) {
	st := newTestStore(t)
	pair := basicPair(t, st)

	pos := &models.OpenPosition{
		PairID: pair.ID, Direction: 1,
		EntryZ: 2.1, EntrySpread: 5, EntryPriceA: 100, EntryPriceB: 50,
		EntryHedgeRatio: 1, EntryNotional: 1000, EntryTime: time.Now().UTC(),
	}
	require.NoError(t, st.CreateOpenPosition(pos))

	got, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, pos.EntryPriceA, got.EntryPriceA)

	require.NoError(t, st.DeleteOpenPosition(pair.ID))
	got, err = st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetActiveCredential_ReturnsOnlyTheActiveOne(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.DB().Create(&models.Credential{Host: "old", PrivateKeyEncrypted: []byte{1}, IsActive: false}).Error)
	require.NoError(t, st.DB().Create(&models.Credential{Host: "current", PrivateKeyEncrypted: []byte{2}, IsActive: true}).Error)

	cred, err := st.GetActiveCredential()
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.Equal(t, "current", cred.Host)
}

func TestAppendJobLog_MarshalsMarketDataBlob(t *testing.T) {
	st := newTestStore(t)
	pair := basicPair(t, st)

	type blob struct {
		Candles int `json:"candles"`
	}
	z := 1.5
	entry := &models.JobLog{PairID: pair.ID, Timestamp: time.Now().UTC(), Status: "success", Z: &z}
	require.NoError(t, st.AppendJobLog(entry, blob{Candles: 20}))
	require.NotEmpty(t, entry.MarketData)
	require.Contains(t, string(entry.MarketData), `"candles":20`)
}

func TestAppendJobLog_NilMarketDataLeavesBlobEmpty(t *testing.T) {
	st := newTestStore(t)
	pair := basicPair(t, st)

	entry := &models.JobLog{PairID: pair.ID, Timestamp: time.Now().UTC(), Status: "skipped"}
	require.NoError(t, st.AppendJobLog(entry, nil))
	require.Empty(t, entry.MarketData)
}

func TestCloseTrade_UpdatesEquityAppendsSnapshotAndDeletesPosition(t *testing.T) {
	st := newTestStore(t)
	pair := basicPair(t, st)
	require.NoError(t, st.CreateOpenPosition(&models.OpenPosition{
		PairID: pair.ID, Direction: 1, EntryPriceA: 100, EntryPriceB: 50,
		EntryHedgeRatio: 1, EntryNotional: 1000, EntryTime: time.Now().UTC(),
	}))

	trade := &models.Trade{
		PairID: pair.ID, Direction: "long",
		EntryTime: time.Now().UTC(), ExitTime: time.Now().UTC(),
		EntryPriceA: 100, EntryPriceB: 50, ExitPriceA: 105, ExitPriceB: 50,
		EntrySizeA: 10, EntrySizeB: 10, ExitSizeA: 10, ExitSizeB: 10,
		HedgeRatio: 1, PnL: 50, PnLPct: 5, ExitReason: "exit_z",
	}
	require.NoError(t, st.CloseTrade(pair.ID, trade, 50, time.Now().UTC()))

	got, err := st.GetPair(pair.ID)
	require.NoError(t, err)
	require.Equal(t, 1050.0, got.CurrentEquity)

	var snapshots []models.EquitySnapshot
	require.NoError(t, st.DB().Where("pair_id = ?", pair.ID).Find(&snapshots).Error)
	require.Len(t, snapshots, 1)
	require.Equal(t, 1050.0, snapshots[0].Equity)

	pos, err := st.GetOpenPosition(pair.ID)
	require.NoError(t, err)
	require.Nil(t, pos)

	var trades []models.Trade
	require.NoError(t, st.DB().Where("pair_id = ?", pair.ID).Find(&trades).Error)
	require.Len(t, trades, 1)
}

func TestCloseTrade_RollsBackOnUnknownPair(t *testing.T) {
	st := newTestStore(t)
	trade := &models.Trade{
		PairID: 999, Direction: "long",
		EntryTime: time.Now().UTC(), ExitTime: time.Now().UTC(),
		EntryPriceA: 100, EntryPriceB: 50, ExitPriceA: 105, ExitPriceB: 50,
		EntrySizeA: 10, EntrySizeB: 10, ExitSizeA: 10, ExitSizeB: 10,
		HedgeRatio: 1, PnL: 50, PnLPct: 5, ExitReason: "exit_z",
	}
	err := st.CloseTrade(999, trade, 50, time.Now().UTC())
	require.Error(t, err)

	var trades []models.Trade
	require.NoError(t, st.DB().Where("pair_id = ?", 999).Find(&trades).Error)
	require.Empty(t, trades, "the trade insert must roll back along with the rest of the transaction")
}
