// Package postgres stores concluded game sessions for later review.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
)

// GameRecord is one concluded session. Join codes are reused across
// restarts, so rows are keyed by ID and (code, concluded_at) is unique.
type GameRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"size:6;not null;uniqueIndex:idx_game_records_code_concluded" json:"code"`
	Prompt      string    `gorm:"not null" json:"prompt"`
	Strokes     string    `gorm:"type:jsonb;not null" json:"strokes"` // participant id -> stroke events
	AICanvas    string    `gorm:"type:text" json:"ai_canvas"`
	ConcludedAt time.Time `gorm:"not null;uniqueIndex:idx_game_records_code_concluded" json:"concluded_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (GameRecord) TableName() string {
	return "game_records"
}

type Archive struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the game_records table.
func Open(dsn string) (*Archive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}
	if err := db.AutoMigrate(&GameRecord{}); err != nil {
		return nil, fmt.Errorf("migrating archive schema: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

// Archive inserts a new record; earlier games under the same code are kept.
func (a *Archive) Archive(ctx context.Context, s engine.Summary) error {
	rec, err := ToRecord(s)
	if err != nil {
		return err
	}
	if err := a.insert(ctx, &rec).Error; err != nil {
		return fmt.Errorf("saving game %s: %w", s.Code, err)
	}
	return nil
}

func (a *Archive) insert(ctx context.Context, rec *GameRecord) *gorm.DB {
	return a.db.WithContext(ctx).Create(rec)
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ToRecord(s engine.Summary) (GameRecord, error) {
	strokes := s.Strokes
	if strokes == nil {
		strokes = map[string][]engine.Stroke{}
	}
	data, err := json.Marshal(strokes)
	if err != nil {
		return GameRecord{}, fmt.Errorf("encoding strokes: %w", err)
	}
	return GameRecord{
		Code:        s.Code,
		Prompt:      s.Prompt,
		Strokes:     string(data),
		AICanvas:    s.AICanvas,
		ConcludedAt: s.ConcludedAt,
	}, nil
}
