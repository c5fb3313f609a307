package orch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) onSend(_ context.Context, ev Event) error {
	room, err := o.currentRoom(ev)
	if err != nil {
		return err
	}
	return room.Send(ev.Conn, ev.Message)
}

func (o *Orchestrator) onHostAction(ctx context.Context, ev Event) error {
	room, err := o.currentRoom(ev)
	if err != nil {
		return err
	}
	action, ok := o.hostActions[ev.Action]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownAction, ev.Action)
	}
	if !room.IsHost(ev.Conn) {
		return domain.ErrUnauthorized
	}
	log.Info().Str("module", "orch").Str("room", string(room.Code())).Str("conn", string(ev.Conn)).Str("action", ev.Action).Msg("host action")
	return action(ctx, room, ev)
}

func (o *Orchestrator) renameRoom(_ context.Context, room *app.Room, ev Event) error {
	var name string
	if err := json.Unmarshal(ev.Payload, &name); err != nil {
		return fmt.Errorf("%w: room name: %v", domain.ErrBadPayload, err)
	}
	return room.Rename(ev.Conn, name)
}

// toggleCode sets the flag from an explicit boolean. An absent payload
// makes the code visible.
func (o *Orchestrator) toggleCode(_ context.Context, room *app.Room, ev Event) error {
	visible := true
	payload := bytes.TrimSpace(ev.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return room.SetCodeVisible(ev.Conn, &visible)
	}
	if err := json.Unmarshal(payload, &visible); err != nil {
		return fmt.Errorf("%w: visibility: %v", domain.ErrBadPayload, err)
	}
	return room.SetCodeVisible(ev.Conn, &visible)
}

func (o *Orchestrator) deleteRoom(ctx context.Context, room *app.Room, ev Event) error {
	return o.Rooms.Delete(ctx, room.Code(), ev.Conn)
}
