package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// roomRow keeps the queried fields in columns and the rest as a JSON document.
type roomRow struct {
	Code           string `gorm:"primarykey;size:6"`
	Name           string `gorm:"size:128;not null"`
	CodeVisible    bool   `gorm:"not null;default:true"`
	Document       string `gorm:"type:text;not null"`
	CreatedAt      time.Time
	LastActiveUnix int64 `gorm:"index;not null"`
}

func (roomRow) TableName() string {
	return "rooms"
}

// SQL stores rooms through gorm. The primary key on code is the uniqueness index.
type SQL struct {
	db *gorm.DB
}

func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&roomRow{}); err != nil {
		return nil, fmt.Errorf("migrate rooms: %w", err)
	}
	return &SQL{db: db}, nil
}

// OpenSQLite opens a database file (or ":memory:") with gorm's logger silenced.
func OpenSQLite(dsn string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer, and every ":memory:" connection is a fresh database
	sqlDB.SetMaxOpenConns(1)
	return NewSQL(db)
}

func toRow(rec *core.RoomRecord) (*roomRow, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode room: %w", err)
	}
	return &roomRow{
		Code:           string(rec.Code),
		Name:           rec.Name,
		CodeVisible:    rec.CodeVisible,
		Document:       string(doc),
		CreatedAt:      rec.CreatedAt,
		LastActiveUnix: rec.LastActiveAt.UnixMilli(),
	}, nil
}

func (s *SQL) Insert(ctx context.Context, rec *core.RoomRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("insert room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrCodeTaken
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	var row roomRow
	err := s.db.WithContext(ctx).First(&row, "code = ?", string(code)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	var rec core.RoomRecord
	if err := json.Unmarshal([]byte(row.Document), &rec); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &rec, nil
}

func (s *SQL) Put(ctx context.Context, rec *core.RoomRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return fmt.Errorf("put room: %w", err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, code domain.RoomCode) error {
	if err := s.db.WithContext(ctx).Delete(&roomRow{}, "code = ?", string(code)).Error; err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (s *SQL) ListIdle(ctx context.Context, before time.Time) ([]domain.RoomCode, error) {
	var codes []string
	err := s.db.WithContext(ctx).Model(&roomRow{}).
		Where("last_active_unix <= ?", before.UnixMilli()).
		Pluck("code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("list idle rooms: %w", err)
	}
	out := make([]domain.RoomCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, domain.RoomCode(c))
	}
	return out, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
