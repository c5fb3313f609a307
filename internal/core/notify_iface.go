package core

import (
	"context"
	"time"

	"github.com/dkeye/scribe/internal/domain"
)

type LifecycleKind string

const (
	LifecycleCreated LifecycleKind = "created"
	LifecycleDeleted LifecycleKind = "deleted"
	LifecycleExpired LifecycleKind = "expired"
)

type LifecycleEvent struct {
	Kind LifecycleKind   `json:"kind"`
	Code domain.RoomCode `json:"room_code"`
	Name string          `json:"room_name,omitempty"`
	At   time.Time       `json:"at"`
}

// Notifier publishes room lifecycle events to outside observers.
// Publish is fire-and-forget; implementations log their own failures.
type Notifier interface {
	Publish(ctx context.Context, ev LifecycleEvent)
}
