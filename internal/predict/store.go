package predict

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
)

// SignalModel is the persisted form of a generated signal.
type SignalModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Direction      string         `gorm:"column:direction"`
	Confidence     float64        `gorm:"column:confidence"`
	PredictedPrice float64        `gorm:"column:predicted_price"`
	HorizonMinutes int            `gorm:"column:horizon_minutes"`
	ModelVersion   string         `gorm:"column:model_version"`
	Features       datatypes.JSON `gorm:"column:features"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
}

func (SignalModel) TableName() string { return "prediction_signals" }

// SignalStore keeps a log of every generated signal so decisions can be
// audited after a run.
type SignalStore struct {
	db *gorm.DB
}

func NewSignalStore(path string) (*SignalStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("signal store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SignalModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &SignalStore{db: db}, nil
}

func (s *SignalStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Log persists one generated signal with its feature vector.
func (s *SignalStore) Log(ctx context.Context, sig Signal, feat Features) error {
	raw, err := json.Marshal(feat)
	if err != nil {
		return err
	}
	rec := SignalModel{
		Symbol:         sig.Symbol,
		Direction:      sig.Direction,
		Confidence:     sig.Confidence,
		PredictedPrice: sig.PredictedPrice,
		HorizonMinutes: sig.HorizonMinutes,
		ModelVersion:   sig.ModelVersion,
		Features:       datatypes.JSON(raw),
		CreatedAtUnix:  sig.CreatedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns the newest logged signals for a symbol.
func (s *SignalStore) Recent(ctx context.Context, symbol string, limit int) ([]SignalModel, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []SignalModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SignalAt rebuilds the wire Signal from a stored row.
func (m SignalModel) SignalAt() Signal {
	return Signal{
		Symbol:         m.Symbol,
		PredictedPrice: m.PredictedPrice,
		Direction:      m.Direction,
		Confidence:     m.Confidence,
		HorizonMinutes: m.HorizonMinutes,
		ModelVersion:   m.ModelVersion,
		CreatedAt:      time.UnixMilli(m.CreatedAtUnix).UTC(),
	}
}
