package store

import (
	"time"

	"gorm.io/datatypes"
)

// StrategyModel is the durable row for one strategy. Params and account
// state travel as JSON; the closed enums are stored as their string form
// and re-validated on load.
type StrategyModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Name       string         `gorm:"column:name"`
	Type       string         `gorm:"column:type"`
	Symbol     string         `gorm:"column:symbol;index"`
	Mode       string         `gorm:"column:mode;index"`
	PausedFrom string         `gorm:"column:paused_from"`
	Params     datatypes.JSON `gorm:"column:params"`
	Account    datatypes.JSON `gorm:"column:account"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }

// TradeModel is the immutable fill audit row. Closing attaches the exit
// columns; rows are never deleted.
type TradeModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	StrategyID string    `gorm:"column:strategy_id;index"`
	Symbol     string    `gorm:"column:symbol"`
	Side       string    `gorm:"column:side"`
	Quantity   float64   `gorm:"column:quantity"`
	EntryPrice float64   `gorm:"column:entry_price"`
	EntryTime  time.Time `gorm:"column:entry_time"`
	ExitPrice  float64   `gorm:"column:exit_price"`
	ExitTime   time.Time `gorm:"column:exit_time"`
	PnL        float64   `gorm:"column:pnl"`
	Status     string    `gorm:"column:status;index"`
	Paper      bool      `gorm:"column:paper"`
}

func (TradeModel) TableName() string { return "trades" }
