// Package store is the persistence layer: GORM models over Postgres, using
// the gorm.Open + AutoMigrate pattern plus one deliberately-transactional
// write for the exit path.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tscore/statarb/internal/models"
)

// Store wraps a single logical connection pool. Each method opens a
// short-lived session; long operations (order placement, sleeps) must
// happen outside a Store call.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and returns a Store. Call Migrate before using
// it against a fresh database.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *gorm.DB (used by tests with sqlite).
func OpenWithDB(db *gorm.DB) *Store { return &Store{db: db} }

// Migrate runs the lightweight startup migration: auto-migrate every table,
// then create the open_position.pair_id unique index if it's somehow absent.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(
		&models.TradingPair{},
		&models.OpenPosition{},
		&models.Trade{},
		&models.EquitySnapshot{},
		&models.JobLog{},
		&models.Credential{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	if !s.db.Migrator().HasIndex(&models.OpenPosition{}, "idx_open_position_pair_id") {
		if err := s.db.Migrator().CreateIndex(&models.OpenPosition{}, "PairID"); err != nil {
			log.Warn().Err(err).Msg("could not (re)create open_position.pair_id unique index")
		}
	}
	return nil
}

// --- TradingPair ---

func (s *Store) GetPair(pairID uint) (*models.TradingPair, error) {
	var p models.TradingPair
	if err := s.db.First(&p, pairID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListEnabledPairs() ([]models.TradingPair, error) {
	var pairs []models.TradingPair
	err := s.db.Where("is_enabled = ?", true).Find(&pairs).Error
	return pairs, err
}

func (s *Store) ListAllPairs() ([]models.TradingPair, error) {
	var pairs []models.TradingPair
	err := s.db.Find(&pairs).Error
	return pairs, err
}

func (s *Store) UpdatePairEquity(pairID uint, equity float64) error {
	return s.db.Model(&models.TradingPair{}).Where("id = ?", pairID).
		Updates(map[string]any{"current_equity": equity, "updated_at": time.Now().UTC()}).Error
}

func (s *Store) DisableAllPairs() error {
	return s.db.Model(&models.TradingPair{}).Where("is_enabled = ?", true).
		Update("is_enabled", false).Error
}

// --- OpenPosition ---

func (s *Store) GetOpenPosition(pairID uint) (*models.OpenPosition, error) {
	var pos models.OpenPosition
	err := s.db.Where("pair_id = ?", pairID).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *Store) ListOpenPositions() ([]models.OpenPosition, error) {
	var positions []models.OpenPosition
	err := s.db.Find(&positions).Error
	return positions, err
}

func (s *Store) CreateOpenPosition(pos *models.OpenPosition) error {
	return s.db.Create(pos).Error
}

func (s *Store) DeleteOpenPosition(pairID uint) error {
	return s.db.Where("pair_id = ?", pairID).Delete(&models.OpenPosition{}).Error
}

func (s *Store) DeleteOpenPositionByID(id uint) error {
	return s.db.Delete(&models.OpenPosition{}, id).Error
}

// --- Credential ---

func (s *Store) GetActiveCredential() (*models.Credential, error) {
	var cred models.Credential
	err := s.db.Where("is_active = ?", true).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// --- JobLog ---

// AppendJobLog persists one cycle's observability row. marketData, if
// non-nil, is marshalled to JSON; marshal failures are logged, never fatal —
// a cycle's outcome must still be recorded.
func (s *Store) AppendJobLog(entry *models.JobLog, marketData any) error {
	if marketData != nil {
		raw, err := json.Marshal(marketData)
		if err != nil {
			log.Warn().Err(err).Msg("failed to marshal job_log market_data blob")
		} else {
			entry.MarketData = raw
		}
	}
	return s.db.Create(entry).Error
}

// --- Exit-path atomic transaction ---

// CloseTrade appends the Trade, adds pnl to the pair's current_equity,
// appends an EquitySnapshot, and deletes the OpenPosition — all in one
// transaction, the one place a long-lived session is deliberately held.
func (s *Store) CloseTrade(pairID uint, trade *models.Trade, pnl float64, snapshotTime time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return fmt.Errorf("append trade: %w", err)
		}

		var pair models.TradingPair
		if err := tx.Clauses().First(&pair, pairID).Error; err != nil {
			return fmt.Errorf("load pair for equity update: %w", err)
		}
		newEquity := pair.CurrentEquity + pnl
		if err := tx.Model(&models.TradingPair{}).Where("id = ?", pairID).
			Update("current_equity", newEquity).Error; err != nil {
			return fmt.Errorf("update current_equity: %w", err)
		}

		snapshot := &models.EquitySnapshot{
			PairID:      pairID,
			Timestamp:   snapshotTime,
			Equity:      newEquity,
			DrawdownPct: 0, // peak-tracking is an open question, see DESIGN.md
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return fmt.Errorf("append equity snapshot: %w", err)
		}

		if err := tx.Where("pair_id = ?", pairID).Delete(&models.OpenPosition{}).Error; err != nil {
			return fmt.Errorf("delete open position: %w", err)
		}
		return nil
	})
}

// DB exposes the underlying *gorm.DB for queries this package doesn't wrap
// directly; the tests use it to seed and inspect rows.
func (s *Store) DB() *gorm.DB { return s.db }
