package storage

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/fadebot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// JOURNAL - Trade / signal / catastrophe persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// SQLite file by default; Postgres when DATABASE_URL is set. The
// journal is a sink: the decision pipeline never reads it back except
// for display queries.
//
// Suppressed signals are logged with their reason so an operator can
// tell "no signal" from "signal suppressed by policy".
//
// ═══════════════════════════════════════════════════════════════════════════════

type Journal struct {
	db *gorm.DB
}

// TradeLog is one closed trade.
type TradeLog struct {
	ID        string `gorm:"primaryKey"`
	Symbol    string `gorm:"index"`
	Direction string
	Entry     decimal.Decimal `gorm:"type:decimal(18,8)"`
	Exit      decimal.Decimal `gorm:"type:decimal(18,8)"`
	Size      decimal.Decimal `gorm:"type:decimal(18,8)"`
	SizeUSD   decimal.Decimal `gorm:"type:decimal(18,2)"`
	PnL       decimal.Decimal `gorm:"type:decimal(18,8)"`
	Reason    string
	MFE       float64
	HeldMs    int64
	CreatedAt time.Time
}

// SignalLog is one pipeline decision, admitted or suppressed.
type SignalLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"index"`
	Side       string
	Regime     string
	Confidence float64
	Admitted   bool
	Reason     string // suppression reason, empty when admitted
	CreatedAt  time.Time
}

// CatastropheLog is one failure-escalation transition.
type CatastropheLog struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Failure   string
	Details   string
	FromState string
	ToState   string
	CreatedAt time.Time
}

// NewJournal opens the journal. An empty databaseURL selects SQLite at
// the given path.
func NewJournal(sqlitePath, databaseURL string) (*Journal, error) {
	var dialector gorm.Dialector
	if databaseURL != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(sqlitePath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&TradeLog{}, &SignalLog{}, &CatastropheLog{}); err != nil {
		return nil, err
	}

	log.Info().Msg("💾 Journal ready")
	return &Journal{db: db}, nil
}

// LogTrade records a closed trade.
func (j *Journal) LogTrade(rec types.TradeRecord, mfe float64, held time.Duration) {
	entry := TradeLog{
		ID:        rec.ID,
		Symbol:    rec.Symbol,
		Direction: string(rec.Direction),
		Entry:     rec.Entry,
		Exit:      rec.Exit,
		Size:      rec.Size,
		PnL:       rec.PnL,
		Reason:    rec.Reason,
		MFE:       mfe,
		HeldMs:    held.Milliseconds(),
		CreatedAt: rec.ClosedAt,
	}
	if err := j.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Msg("Trade journal write failed")
	}
}

// LogSignal records an admission decision.
func (j *Journal) LogSignal(symbol string, side types.Side, regime string, confidence float64, admitted bool, reason string) {
	entry := SignalLog{
		Symbol:     symbol,
		Side:       string(side),
		Regime:     regime,
		Confidence: confidence,
		Admitted:   admitted,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := j.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Msg("Signal journal write failed")
	}
}

// LogCatastrophe records a state transition.
func (j *Journal) LogCatastrophe(failure, details, from, to string) {
	entry := CatastropheLog{
		Failure:   failure,
		Details:   details,
		FromState: from,
		ToState:   to,
		CreatedAt: time.Now(),
	}
	if err := j.db.Create(&entry).Error; err != nil {
		log.Error().Err(err).Msg("Catastrophe journal write failed")
	}
}

// RecentTrades returns the last n closed trades, newest first.
func (j *Journal) RecentTrades(n int) ([]TradeLog, error) {
	var out []TradeLog
	err := j.db.Order("created_at desc").Limit(n).Find(&out).Error
	return out, err
}
