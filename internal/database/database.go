package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// Models

// PositionRecord is the durable ledger entry for one short
type PositionRecord struct {
	ID          int64  `gorm:"primaryKey"`
	Asset       string `gorm:"index"` // WETH, WBTC, ARB
	TokenAddr   string
	SourceChain string
	Collateral  decimal.Decimal `gorm:"type:decimal(20,6)"`
	SizeUSD     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Leverage    int64
	EntryPrice  decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Confidence  float64
	Status      string `gorm:"index"` // "OPEN", "CLOSED"
	TxHash      string
	CloseTxHash string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SignalRecord is the audit trail of every detected signal
type SignalRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Type      string `gorm:"index"` // EARNINGS_MISS, TVL_DROP, ...
	Asset     string `gorm:"index"`
	Chain     string
	Score     float64
	Source    string
	Detail    string // JSON-encoded metadata
	CreatedAt time.Time
}

// BridgeRecord tracks each monitored cross-chain transfer
type BridgeRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TxHash      string `gorm:"index"`
	Tool        string
	FromChain   string
	ToChain     string
	AmountUSD   decimal.Decimal `gorm:"type:decimal(20,6)"`
	SlippagePct decimal.Decimal `gorm:"type:decimal(10,6)"`
	State       string          // "DONE", "FAILED", "TIMED_OUT"
	ReceivingTx string
	Polls       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DailyStats rolls up one trading day
type DailyStats struct {
	Date            string `gorm:"primaryKey"` // YYYY-MM-DD
	SignalCount     int64
	PositionsOpened int64
	PositionsClosed int64
	RealizedPnL     decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&PositionRecord{}, &SignalRecord{}, &BridgeRecord{}, &DailyStats{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Position operations

func (d *Database) SavePosition(pos *PositionRecord) error {
	return d.db.Save(pos).Error
}

func (d *Database) GetPosition(id int64) (*PositionRecord, error) {
	var pos PositionRecord
	err := d.db.First(&pos, "id = ?", id).Error
	return &pos, err
}

func (d *Database) GetOpenPositions() ([]PositionRecord, error) {
	var positions []PositionRecord
	err := d.db.Where("status = ?", "OPEN").Order("opened_at ASC").Find(&positions).Error
	return positions, err
}

func (d *Database) GetRecentPositions(limit int) ([]PositionRecord, error) {
	var positions []PositionRecord
	err := d.db.Order("opened_at DESC").Limit(limit).Find(&positions).Error
	return positions, err
}

func (d *Database) GetTotalPnL() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&PositionRecord{}).Where("status = ?", "CLOSED").
		Select("COALESCE(SUM(pn_l), 0) as total").Scan(&result).Error
	return result.Total, err
}

// Signal operations

func (d *Database) SaveSignal(sig *SignalRecord) error {
	return d.db.Create(sig).Error
}

func (d *Database) GetRecentSignals(limit int) ([]SignalRecord, error) {
	var signals []SignalRecord
	err := d.db.Order("created_at DESC").Limit(limit).Find(&signals).Error
	return signals, err
}

func (d *Database) GetSignalsByAsset(asset string, since time.Time) ([]SignalRecord, error) {
	var signals []SignalRecord
	err := d.db.Where("asset = ? AND created_at >= ?", asset, since).
		Order("created_at DESC").Find(&signals).Error
	return signals, err
}

// Bridge operations

func (d *Database) SaveBridge(rec *BridgeRecord) error {
	return d.db.Save(rec).Error
}

func (d *Database) GetUnsettledBridges() ([]BridgeRecord, error) {
	// TIMED_OUT transfers may still settle and need reconciliation
	var recs []BridgeRecord
	err := d.db.Where("state = ?", "TIMED_OUT").Order("created_at ASC").Find(&recs).Error
	return recs, err
}

// Stats operations

func (d *Database) BumpDailyStats(date string, signals, opened, closed int64, pnl decimal.Decimal) error {
	var stats DailyStats
	if err := d.db.FirstOrCreate(&stats, DailyStats{Date: date}).Error; err != nil {
		return err
	}
	stats.SignalCount += signals
	stats.PositionsOpened += opened
	stats.PositionsClosed += closed
	stats.RealizedPnL = stats.RealizedPnL.Add(pnl)
	return d.db.Save(&stats).Error
}

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var signalCount int64
	d.db.Model(&SignalRecord{}).Count(&signalCount)
	stats["total_signals"] = signalCount

	var positionCount int64
	d.db.Model(&PositionRecord{}).Count(&positionCount)
	stats["total_positions"] = positionCount

	var openCount int64
	d.db.Model(&PositionRecord{}).Where("status = ?", "OPEN").Count(&openCount)
	stats["open_positions"] = openCount

	pnl, _ := d.GetTotalPnL()
	stats["total_pnl"] = pnl

	return stats, nil
}
