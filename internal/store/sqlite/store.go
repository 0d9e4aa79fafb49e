// Package sqlite persists orders, trades and positions in a local SQLite
// file through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"hft-engine/inventory"
	"hft-engine/order"
)

// Store implements order.Store and inventory.Store.
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）数据库文件并自动迁移表结构。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&orderModel{}, &tradeModel{}, &positionModel{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite 单写者
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertOrder(ctx context.Context, o order.Order) error {
	m := toOrderModel(o)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("sqlite: insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *Store) UpdateOrder(ctx context.Context, o order.Order) error {
	m := toOrderModel(o)
	res := s.db.WithContext(ctx).Model(&orderModel{}).Where("id = ?", o.ID).
		Select("price", "filled_size", "status", "last_error", "filled_at", "updated_at").
		Updates(&m)
	if res.Error != nil {
		return fmt.Errorf("sqlite: update order %s: %w", o.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sqlite: update order %s: %w", o.ID, order.ErrOrderNotFound)
	}
	return nil
}

func (s *Store) InsertTrade(ctx context.Context, t order.Trade) error {
	m := toTradeModel(t)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("sqlite: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// GetOrder 按 id 读取订单。
func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	var m orderModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order.Order{}, fmt.Errorf("sqlite: get order %s: %w", id, order.ErrOrderNotFound)
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return m.toOrder(), nil
}

// RecentTrades 返回最近 limit 笔成交，新的在前。
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]order.Trade, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).
		Order("executed_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent trades %s: %w", symbol, err)
	}
	out := make([]order.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toTrade())
	}
	return out, nil
}

func (s *Store) UpsertPosition(ctx context.Context, p inventory.Position) error {
	m := toPositionModel(p)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size", "entry_price", "current_price", "unrealized_pnl", "realized_pnl", "updated_at",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %s: %w", p.Symbol, err)
	}
	return nil
}

func (s *Store) LoadAllPositions(ctx context.Context) ([]inventory.Position, error) {
	var rows []positionModel
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: load positions: %w", err)
	}
	out := make([]inventory.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPosition())
	}
	return out, nil
}
