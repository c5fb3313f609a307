package app

import (
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection that could not take a frame.
type Policy interface {
	OnBackPressure(room domain.RoomCode, conn core.SignalConnection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomCode, core.SignalConnection) BackpressureAction {
	return KickMember
}
