package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trade_sim/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EstimateRecord is one persisted cost estimate.
type EstimateRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;size:36"`
	Symbol    string `gorm:"size:32"`

	Side     string
	Urgency  string
	Quantity decimal.Decimal `gorm:"type:text"`

	FillPrice        decimal.Decimal `gorm:"type:text"`
	ReferencePrice   decimal.Decimal `gorm:"type:text"`
	ExpectedSlippage decimal.Decimal `gorm:"type:text"`
	MarketImpact     decimal.Decimal `gorm:"type:text"`
	Fee              decimal.Decimal `gorm:"type:text"`
	NetCost          decimal.Decimal `gorm:"type:text"`
	NetCostBps       decimal.Decimal `gorm:"type:text"`
	MakerTakerRatio  decimal.Decimal `gorm:"type:text"`
	Degraded         bool

	BookSequence uint64
	ComputedAt   time.Time `gorm:"index"`
}

// SessionRecord tracks one session lifetime and its final counters.
type SessionRecord struct {
	ID       string `gorm:"primaryKey;size:36"`
	Symbol   string
	Exchange string
	Codec    string

	StartedAt  time.Time
	StoppedAt  *time.Time
	FinalState string
	LastError  string

	UpdatesTotal uint64
	Resyncs      uint64
	Drops        uint64
	Reconnects   uint64
}

// Storage persists estimate history in SQLite (pure Go driver).
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func NewStorage(path string) (*Storage, error) {
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&EstimateRecord{}, &SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Estimate Operations
// ======================================================================================

// NewEstimateRecord flattens an estimate for storage.
func NewEstimateRecord(sessionID, symbol string, est domain.CostEstimate) *EstimateRecord {
	return &EstimateRecord{
		SessionID:        sessionID,
		Symbol:           symbol,
		Side:             est.Side.String(),
		Urgency:          est.Urgency.String(),
		Quantity:         est.Quantity,
		FillPrice:        est.FillPrice,
		ReferencePrice:   est.ReferencePrice,
		ExpectedSlippage: est.ExpectedSlippage,
		MarketImpact:     est.MarketImpact,
		Fee:              est.Fee,
		NetCost:          est.NetCost,
		NetCostBps:       est.NetCostBps,
		MakerTakerRatio:  est.MakerTakerRatio,
		Degraded:         est.Degraded,
		BookSequence:     est.BookSequence,
		ComputedAt:       est.ComputedAt,
	}
}

// SaveEstimates inserts records in one batch.
func (s *Storage) SaveEstimates(ctx context.Context, recs []*EstimateRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(recs, 100).Error
}

// RecentEstimates returns the newest estimates of a session, newest first.
func (s *Storage) RecentEstimates(ctx context.Context, sessionID string, limit int) ([]EstimateRecord, error) {
	var recs []EstimateRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("computed_at DESC, id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// PruneEstimates deletes estimates computed before cutoff and returns how many were removed.
func (s *Storage) PruneEstimates(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("computed_at < ?", cutoff).Delete(&EstimateRecord{})
	return res.RowsAffected, res.Error
}

// ======================================================================================
// Session Operations
// ======================================================================================

// StartSession records a new session.
func (s *Storage) StartSession(ctx context.Context, rec *SessionRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

// FinishSession stores the final state and counters of a session.
func (s *Storage) FinishSession(ctx context.Context, id string, m domain.MetricsSnapshot) error {
	stopped := time.Now()
	res := s.db.WithContext(ctx).Model(&SessionRecord{}).Where("id = ?", id).Updates(map[string]any{
		"stopped_at":    &stopped,
		"final_state":   m.ConnectionState.String(),
		"last_error":    m.LastError,
		"updates_total": m.UpdatesTotal,
		"resyncs":       m.Resyncs,
		"drops":         m.Drops,
		"reconnects":    m.Reconnects,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Storage) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &rec, err
}
