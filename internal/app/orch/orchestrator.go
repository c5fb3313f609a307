package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventConnect     EventKind = "connect"
	EventCreateRoom  EventKind = "create_room"
	EventJoinRoom    EventKind = "join_room"
	EventLeaveRoom   EventKind = "leave_room"
	EventSendMessage EventKind = "send_message"
	EventHostAction  EventKind = "host_action"
	EventPing        EventKind = "ping"
	EventDisconnect  EventKind = "disconnect"
)

const (
	ActionRename     = "rename_room"
	ActionToggleCode = "toggle_code_visibility"
	ActionDelete     = "delete_room"
)

var ErrUnknownConn = errors.New("unknown connection")

// Event is one inbound occurrence on a connection, already decoded.
type Event struct {
	Kind EventKind
	Conn domain.ConnID

	// Transport is only set on connect. Token is bound on connect and, when
	// present on a join or create, overrides the bound one.
	Transport core.SignalConnection
	Token     domain.ClientToken

	RoomCode string
	Username string
	RoomName string
	Message  string
	Action   string
	Payload  json.RawMessage
}

// Rooms is the part of the room registry the dispatcher routes to.
type Rooms interface {
	Create(ctx context.Context, req app.CreateRequest) (*app.Room, error)
	Lookup(ctx context.Context, code domain.RoomCode) (*app.Room, error)
	Live(code domain.RoomCode) (*app.Room, bool)
	Delete(ctx context.Context, code domain.RoomCode, by domain.ConnID) error
}

type handlerFunc func(ctx context.Context, ev Event) error

type hostActionFunc func(ctx context.Context, room *app.Room, ev Event) error

// Orchestrator is the single entry point for connection events. It routes
// by event kind and does the authorization pre-checks; all state changes
// happen inside the room.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    Rooms

	handlers    map[EventKind]handlerFunc
	hostActions map[string]hostActionFunc
}

func New(reg *app.Registry, rooms Rooms) *Orchestrator {
	o := &Orchestrator{Registry: reg, Rooms: rooms}
	o.handlers = map[EventKind]handlerFunc{
		EventConnect:     o.onConnect,
		EventCreateRoom:  o.onCreate,
		EventJoinRoom:    o.onJoin,
		EventLeaveRoom:   o.onLeave,
		EventSendMessage: o.onSend,
		EventHostAction:  o.onHostAction,
		EventPing:        o.onPing,
		EventDisconnect:  o.onDisconnect,
	}
	o.hostActions = map[string]hostActionFunc{
		ActionRename:     o.renameRoom,
		ActionToggleCode: o.toggleCode,
		ActionDelete:     o.deleteRoom,
	}
	return o
}

// Dispatch runs the handler for ev. A failure is reported back to the
// originating connection as an error event and returned.
func (o *Orchestrator) Dispatch(ctx context.Context, ev Event) error {
	h, ok := o.handlers[ev.Kind]
	if !ok {
		h = func(context.Context, Event) error {
			return fmt.Errorf("%w: %q", domain.ErrUnknownAction, ev.Kind)
		}
	}
	err := h(ctx, ev)
	if err != nil && ev.Kind != EventDisconnect {
		o.reject(ev.Conn, ev.Kind, err)
	}
	return err
}

func (o *Orchestrator) reject(id domain.ConnID, kind EventKind, err error) {
	l := log.Debug()
	if !domain.Expected(err) {
		l = log.Error()
	}
	l.Err(err).Str("module", "orch").Str("conn", string(id)).Str("event", string(kind)).Msg("event rejected")

	conn, _, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	o.send(conn, core.ErrorEvent{Type: core.EventError, Message: domain.UserMessage(err)})
}

func (o *Orchestrator) send(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal event")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn.ID())).Msg("direct send dropped")
	}
}

// currentRoom resolves the room the connection is joined to. A room code in
// the event must match it.
func (o *Orchestrator) currentRoom(ev Event) (*app.Room, error) {
	code, ok := o.Registry.RoomOf(ev.Conn)
	if !ok {
		return nil, domain.ErrNotAMember
	}
	if ev.RoomCode != "" && domain.NormalizeRoomCode(ev.RoomCode) != code {
		return nil, domain.ErrNotAMember
	}
	room, ok := o.Rooms.Live(code)
	if !ok {
		o.Registry.RemoveRoom(ev.Conn)
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (o *Orchestrator) onPing(_ context.Context, ev Event) error {
	conn, _, ok := o.Registry.Get(ev.Conn)
	if !ok {
		return ErrUnknownConn
	}
	o.send(conn, core.Simple{Type: core.EventPong})
	return nil
}
