// Package store 基于 Gorm + SQLite 持久化停机开关与交易档位状态，
// 以及有界的告警历史。启动时必须能原样恢复先前状态（包括生效中的急停）。
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bastion/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const stateRowID = 1

// GormStore implements durable state storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 打开（必要时创建）状态库并迁移模型。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: state db path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&model.KillSwitchStateModel{},
		&model.TradingModeStateModel{},
		&model.AlertModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep connection count small to avoid lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 供健康检查确认持久层可达。
func (s *GormStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveKillSwitchState 整行覆盖写入（id 固定）。
func (s *GormStore) SaveKillSwitchState(ctx context.Context, rec model.KillSwitchStateModel) error {
	rec.ID = stateRowID
	rec.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// LoadKillSwitchState 返回先前状态；从未写入时返回 (nil, nil)。
func (s *GormStore) LoadKillSwitchState(ctx context.Context) (*model.KillSwitchStateModel, error) {
	var rec model.KillSwitchStateModel
	err := s.db.WithContext(ctx).First(&rec, stateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) SaveTradingModeState(ctx context.Context, rec model.TradingModeStateModel) error {
	rec.ID = stateRowID
	rec.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *GormStore) LoadTradingModeState(ctx context.Context) (*model.TradingModeStateModel, error) {
	var rec model.TradingModeStateModel
	err := s.db.WithContext(ctx).First(&rec, stateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendAlert 落盘一条告警，并裁剪超出上限的最老记录。
func (s *GormStore) AppendAlert(ctx context.Context, rec model.AlertModel, keep int) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.AlertModel{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= int64(keep) {
		return nil
	}
	sub := s.db.WithContext(ctx).Model(&model.AlertModel{}).
		Select("id").Order("created_at ASC").Limit(int(count) - keep)
	return s.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&model.AlertModel{}).Error
}

// MarkAlertResolved 标记告警已处理。
func (s *GormStore) MarkAlertResolved(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.AlertModel{}).
		Where("id = ?", id).Update("resolved", true).Error
}

// RecentAlerts 按时间倒序返回最近 limit 条告警。
func (s *GormStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertModel, error) {
	var recs []model.AlertModel
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
