// Package models defines the GORM row types for every table the core
// persists. Table names are singular, so each type overrides GORM's default
// pluralized name via its own TableName().
package models

import "time"

// TradingPair is both configuration and the pair's runtime equity.
type TradingPair struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`

	AssetA  string `gorm:"not null"`
	AssetB  string `gorm:"not null"`
	MarketA int    `gorm:"not null"`
	MarketB int    `gorm:"not null"`

	EntryZ float64 `gorm:"not null"`
	ExitZ  float64 `gorm:"not null"`
	StopZ  float64 `gorm:"not null"`

	WindowInterval string `gorm:"not null"`
	WindowCandles  int    `gorm:"not null"`
	TrainInterval  string `gorm:"not null"`
	TrainCandles   int    `gorm:"not null"`

	MaxHalfLife float64 `gorm:"not null"`
	RSIUpper    float64 `gorm:"not null"`
	RSILower    float64 `gorm:"not null"`
	RSIPeriod   int     `gorm:"not null"`

	StopLossPct     float64 `gorm:"not null"`
	PositionSizePct float64 `gorm:"not null"`
	Leverage        float64 `gorm:"not null"`
	MinEquityPct    float64 `gorm:"not null"`
	TwapMinutes     int     `gorm:"not null"`

	ScheduleInterval string `gorm:"not null"`
	IsEnabled        bool   `gorm:"not null;default:false"`

	CurrentEquity float64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TradingPair) TableName() string { return "trading_pair" }

// OpenPosition is at most one per pair — enforced by the unique index on
// pair_id.
type OpenPosition struct {
	ID     uint `gorm:"primaryKey"`
	PairID uint `gorm:"uniqueIndex;not null"`

	Direction int `gorm:"not null"` // +1 or -1

	EntryZ          float64 `gorm:"not null"`
	EntrySpread     float64 `gorm:"not null"`
	EntryPriceA     float64 `gorm:"not null"`
	EntryPriceB     float64 `gorm:"not null"`
	EntryHedgeRatio float64 `gorm:"not null"`
	EntryNotional   float64 `gorm:"not null"`
	EntryTime       time.Time `gorm:"not null"`

	OrderIDA string
	OrderIDB string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OpenPosition) TableName() string { return "open_position" }

// Trade is an immutable closed-trade record.
type Trade struct {
	ID     uint `gorm:"primaryKey"`
	PairID uint `gorm:"index;not null"`

	Direction string `gorm:"not null"` // "long" | "short", for readability

	EntryTime time.Time `gorm:"not null"`
	ExitTime  time.Time `gorm:"not null"`

	EntryPriceA float64 `gorm:"not null"`
	EntryPriceB float64 `gorm:"not null"`
	ExitPriceA  float64 `gorm:"not null"`
	ExitPriceB  float64 `gorm:"not null"`

	EntrySizeA float64 `gorm:"not null"`
	EntrySizeB float64 `gorm:"not null"`
	ExitSizeA  float64 `gorm:"not null"`
	ExitSizeB  float64 `gorm:"not null"`

	HedgeRatio float64 `gorm:"not null"`

	PnL    float64 `gorm:"not null"`
	PnLPct float64 `gorm:"not null"`

	ExitReason       string `gorm:"not null"`
	DurationCandles  int    `gorm:"not null"`

	CreatedAt time.Time
}

func (Trade) TableName() string { return "trade" }

// EquitySnapshot is append-only.
type EquitySnapshot struct {
	ID          uint      `gorm:"primaryKey"`
	PairID      uint      `gorm:"index;not null"`
	Timestamp   time.Time `gorm:"not null"`
	Equity      float64   `gorm:"not null"`
	DrawdownPct float64   `gorm:"not null"`
}

func (EquitySnapshot) TableName() string { return "equity_snapshot" }

// JobLog is the per-cycle observability row. Signal fields are pointers so
// non-finite values can be persisted as SQL NULL instead of being coerced to
// a magic number — no non-finite float is ever written to these columns.
type JobLog struct {
	ID        uint      `gorm:"primaryKey"`
	PairID    uint      `gorm:"index;not null"`
	Timestamp time.Time `gorm:"not null"`

	Status string `gorm:"not null"` // success | error | skipped | warning

	Z        *float64
	Spread   *float64
	Mu       *float64
	Sigma    *float64
	HalfLife *float64
	RSI      *float64

	Action  string
	CloseA  *float64
	CloseB  *float64
	Message string

	// MarketData is the observability escape hatch: a JSON blob shaped
	// roughly {candles, orders}, stored as raw bytes so the schema doesn't
	// need to track every upstream shape change.
	MarketData []byte `gorm:"type:jsonb"`
}

func (JobLog) TableName() string { return "job_log" }

// Credential holds exchange access. PrivateKeyEncrypted is ciphertext of
// encrypt(hex_string); plaintext never touches this struct once constructed.
type Credential struct {
	ID                  uint   `gorm:"primaryKey"`
	Host                string `gorm:"not null"`
	APIKeyIndex         int    `gorm:"not null"`
	AccountIndex        int    `gorm:"not null"`
	PrivateKeyEncrypted []byte `gorm:"not null"`
	IsActive            bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Credential) TableName() string { return "credential" }

// User is persisted for completeness; login/2FA is out of this core's scope
// (handled by the REST surface), so this row exists only so the schema the
// REST surface depends on is complete.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	IsAdmin      bool   `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "user" }
