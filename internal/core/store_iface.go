package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/scribe/internal/domain"
)

var (
	ErrRecordNotFound = errors.New("room record not found")
	ErrCodeTaken      = errors.New("room code already taken")
)

// MemberRecord is the persisted form of a member. Connection ids are not
// stored because they do not survive a restart.
type MemberRecord struct {
	Token    domain.ClientToken  `json:"token"`
	Username string              `json:"username"`
	Status   domain.MemberStatus `json:"status"`
	IsHost   bool                `json:"is_host"`
	JoinedAt time.Time           `json:"joined_at"`
}

// RoomRecord is the document written to the backing store after each
// committed room transition.
type RoomRecord struct {
	Code         domain.RoomCode  `json:"room_code"`
	Name         string           `json:"room_name"`
	CodeVisible  bool             `json:"is_code_visible"`
	Members      []MemberRecord   `json:"members"`
	Messages     []domain.Message `json:"messages"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActiveAt time.Time        `json:"last_active_at"`
	// Version grows with every committed transition of the live room.
	Version uint64 `json:"version"`
}

// RoomStore is the persistent document store keyed by room code.
type RoomStore interface {
	// Insert stores a new record and fails with ErrCodeTaken if the code exists.
	Insert(ctx context.Context, rec *RoomRecord) error
	// Get fails with ErrRecordNotFound for unknown codes.
	Get(ctx context.Context, code domain.RoomCode) (*RoomRecord, error)
	// Put creates or replaces the record.
	Put(ctx context.Context, rec *RoomRecord) error
	// Delete is idempotent.
	Delete(ctx context.Context, code domain.RoomCode) error
	// ListIdle returns codes whose last activity is at or before the cutoff.
	ListIdle(ctx context.Context, before time.Time) ([]domain.RoomCode, error)
	Close() error
}
