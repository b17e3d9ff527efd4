package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NightHydra/PokemonBattleBingoWebsite/internal/game"
)

var ErrNotFound = errors.New("no snapshot for room")

// Record is one exported lobby, upserted per room code. This is best-effort
// recovery, not durable storage: whatever was exported last wins.
type Record struct {
	RoomCode  string `gorm:"primaryKey;size:8"`
	AdminCode string
	BoardSize int
	Payload   []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (Record) TableName() string { return "lobby_snapshots" }

type Store struct {
	db *gorm.DB
}

func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, exp game.Export) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return err
	}
	rec := Record{
		RoomCode:  exp.RoomCode,
		AdminCode: exp.AdminCode,
		BoardSize: exp.BoardSize,
		Payload:   payload,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_code"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *Store) Load(ctx context.Context, roomCode string) (game.Export, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "room_code = ?", roomCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Export{}, ErrNotFound
	}
	if err != nil {
		return game.Export{}, err
	}
	var exp game.Export
	if err := json.Unmarshal(rec.Payload, &exp); err != nil {
		return game.Export{}, err
	}
	return exp, nil
}
