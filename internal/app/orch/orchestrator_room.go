package orch

import (
	"context"

	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) onConnect(_ context.Context, ev Event) error {
	if ev.Transport == nil {
		return ErrUnknownConn
	}
	token := ev.Token
	if !token.Valid() {
		token = domain.NewClientToken()
	}
	o.Registry.Bind(ev.Transport, token)
	return nil
}

// identity returns the connection and the reconnection token to use. A
// token carried by the event wins over the one bound at connect time.
func (o *Orchestrator) identity(ev Event) (core.SignalConnection, domain.ClientToken, error) {
	conn, token, ok := o.Registry.Get(ev.Conn)
	if !ok {
		return nil, "", ErrUnknownConn
	}
	if ev.Token.Valid() {
		token = ev.Token
	}
	return conn, token, nil
}

func (o *Orchestrator) onCreate(ctx context.Context, ev Event) error {
	conn, token, err := o.identity(ev)
	if err != nil {
		return err
	}
	prev, hadPrev := o.Registry.RoomOf(ev.Conn)

	room, err := o.Rooms.Create(ctx, app.CreateRequest{
		Name:     ev.RoomName,
		Username: ev.Username,
		Conn:     conn,
		Token:    token,
	})
	if err != nil {
		return err
	}
	if hadPrev {
		o.leaveQuietly(prev, ev.Conn)
	}
	o.Registry.UpdateRoom(ev.Conn, room.Code())
	return nil
}

func (o *Orchestrator) onJoin(ctx context.Context, ev Event) error {
	conn, token, err := o.identity(ev)
	if err != nil {
		return err
	}
	code := domain.NormalizeRoomCode(ev.RoomCode)
	room, err := o.Rooms.Lookup(ctx, code)
	if err != nil {
		return err
	}
	if _, err := room.Join(conn, token, ev.Username); err != nil {
		return err
	}
	if prev, ok := o.Registry.RoomOf(ev.Conn); ok && prev != code {
		o.leaveQuietly(prev, ev.Conn)
	}
	o.Registry.UpdateRoom(ev.Conn, code)
	return nil
}

// leaveQuietly drops the connection from a room it is switching away from.
func (o *Orchestrator) leaveQuietly(code domain.RoomCode, id domain.ConnID) {
	room, ok := o.Rooms.Live(code)
	if !ok {
		return
	}
	if err := room.Leave(id); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("room", string(code)).Str("conn", string(id)).Msg("leave previous room")
	}
}

func (o *Orchestrator) onLeave(_ context.Context, ev Event) error {
	room, err := o.currentRoom(ev)
	if err != nil {
		return err
	}
	if err := room.Leave(ev.Conn); err != nil {
		return err
	}
	o.Registry.RemoveRoom(ev.Conn)
	if conn, _, ok := o.Registry.Get(ev.Conn); ok {
		o.send(conn, core.Simple{Type: core.EventLeft})
	}
	return nil
}

func (o *Orchestrator) onDisconnect(_ context.Context, ev Event) error {
	code, ok := o.Registry.Unbind(ev.Conn)
	if !ok {
		return nil
	}
	if room, live := o.Rooms.Live(code); live {
		room.Disconnect(ev.Conn)
	}
	return nil
}
