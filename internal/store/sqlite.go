package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"polaris/internal/strategy"
)

// SqliteStore implements Store on SQLite via Gorm, WAL mode so engine
// writes and HTTP reads coexist.
type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&StrategyModel{}, &TradeModel{}); err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

// NewSqliteStoreFromDB wraps an existing connection, used by tests with
// in-memory databases.
func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if err := db.AutoMigrate(&StrategyModel{}, &TradeModel{}); err != nil {
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) LoadActiveStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	var rows []StrategyModel
	err := s.db.WithContext(ctx).
		Where("mode <> ?", string(strategy.ModeRetired)).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: loading strategies: %w", err)
	}
	out := make([]*strategy.Strategy, 0, len(rows))
	for _, row := range rows {
		st, err := rowToStrategy(row)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *SqliteStore) SaveStrategyState(ctx context.Context, st *strategy.Strategy) error {
	row, err := strategyToRow(st)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("store: saving strategy %s: %w", st.ID, err)
	}
	return nil
}

func (s *SqliteStore) AppendTrade(ctx context.Context, tr strategy.Trade) error {
	row := TradeModel{
		ID:         tr.ID,
		StrategyID: tr.StrategyID,
		Symbol:     tr.Symbol,
		Side:       string(tr.Side),
		Quantity:   tr.Quantity,
		EntryPrice: tr.EntryPrice,
		EntryTime:  tr.EntryTime,
		ExitPrice:  tr.ExitPrice,
		ExitTime:   tr.ExitTime,
		PnL:        tr.PnL,
		Status:     string(tr.Status),
		Paper:      tr.Paper,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: appending trade %s: %w", tr.ID, err)
	}
	return nil
}

func (s *SqliteStore) CloseOpenTrades(ctx context.Context, strategyID string, price float64, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&TradeModel{}).
		Where("strategy_id = ? AND status = ?", strategyID, string(strategy.TradeOpen)).
		Updates(map[string]any{
			"status":     string(strategy.TradeClosed),
			"exit_price": price,
			"exit_time":  at,
			"pnl":        gorm.Expr("(? - entry_price) * quantity", price),
		}).Error
	if err != nil {
		return fmt.Errorf("store: closing trades for %s: %w", strategyID, err)
	}
	return nil
}

func (s *SqliteStore) TradesForStrategy(ctx context.Context, strategyID string) ([]strategy.Trade, error) {
	var rows []TradeModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("entry_time asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: loading trades for %s: %w", strategyID, err)
	}
	out := make([]strategy.Trade, 0, len(rows))
	for _, row := range rows {
		out = append(out, strategy.Trade{
			ID:         row.ID,
			StrategyID: row.StrategyID,
			Symbol:     row.Symbol,
			Side:       strategy.Side(row.Side),
			Quantity:   row.Quantity,
			EntryPrice: row.EntryPrice,
			EntryTime:  row.EntryTime,
			ExitPrice:  row.ExitPrice,
			ExitTime:   row.ExitTime,
			PnL:        row.PnL,
			Status:     strategy.TradeStatus(row.Status),
			Paper:      row.Paper,
		})
	}
	return out, nil
}

func (s *SqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func strategyToRow(st *strategy.Strategy) (StrategyModel, error) {
	params, err := json.Marshal(st.Params)
	if err != nil {
		return StrategyModel{}, fmt.Errorf("store: encoding params for %s: %w", st.ID, err)
	}
	account, err := json.Marshal(st.Account)
	if err != nil {
		return StrategyModel{}, fmt.Errorf("store: encoding account for %s: %w", st.ID, err)
	}
	return StrategyModel{
		ID:         st.ID,
		Name:       st.Name,
		Type:       string(st.Type),
		Symbol:     st.Symbol,
		Mode:       string(st.Mode),
		PausedFrom: string(st.PausedFrom),
		Params:     datatypes.JSON(params),
		Account:    datatypes.JSON(account),
		CreatedAt:  st.CreatedAt,
		UpdatedAt:  time.Now(),
	}, nil
}

func rowToStrategy(row StrategyModel) (*strategy.Strategy, error) {
	st := &strategy.Strategy{
		ID:        row.ID,
		Name:      row.Name,
		Symbol:    row.Symbol,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	typ, err := strategy.ParseType(row.Type)
	if err != nil {
		return nil, fmt.Errorf("store: strategy %s: %w", row.ID, err)
	}
	st.Type = typ
	mode, err := strategy.ParseMode(row.Mode)
	if err != nil {
		return nil, fmt.Errorf("store: strategy %s: %w", row.ID, err)
	}
	st.Mode = mode
	if row.PausedFrom != "" {
		prev, err := strategy.ParseMode(row.PausedFrom)
		if err != nil {
			return nil, fmt.Errorf("store: strategy %s: %w", row.ID, err)
		}
		st.PausedFrom = prev
	}
	if len(row.Params) > 0 {
		if err := json.Unmarshal(row.Params, &st.Params); err != nil {
			return nil, fmt.Errorf("store: decoding params for %s: %w", row.ID, err)
		}
	}
	if len(row.Account) > 0 {
		if err := json.Unmarshal(row.Account, &st.Account); err != nil {
			return nil, fmt.Errorf("store: decoding account for %s: %w", row.ID, err)
		}
	}
	return st, nil
}
