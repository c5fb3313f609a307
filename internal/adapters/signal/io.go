package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/scribe/internal/app/orch"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeWait))
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		c.Close()
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(c.id)
		}
		// the server context may already be gone, the room still has to learn about it
		_ = ctl.Orch.Dispatch(context.WithoutCancel(ctx), orch.Event{Kind: orch.EventDisconnect, Conn: c.id})
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, c, data)
		}
	}
}

// inbound is the wire shape of every client event.
type inbound struct {
	Type     string          `json:"type"`
	RoomCode string          `json:"room_code"`
	Username string          `json:"username"`
	RoomName string          `json:"room_name"`
	Message  string          `json:"message"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	Token    string          `json:"token"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendError(c, domain.ErrBadPayload)
		return
	}

	kind := orch.EventKind(in.Type)
	switch kind {
	case orch.EventConnect, orch.EventDisconnect:
		// only the transport itself may raise these
		ctl.sendError(c, domain.ErrUnknownAction)
		return
	case orch.EventSendMessage:
		if ctl.Limiter != nil && !ctl.Limiter.Allow(c.id) {
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("rate limited")
			ctl.sendError(c, domain.ErrRateLimited)
			return
		}
	}

	_ = ctl.Orch.Dispatch(ctx, orch.Event{
		Kind:     kind,
		Conn:     c.id,
		Token:    domain.ClientToken(in.Token),
		RoomCode: in.RoomCode,
		Username: in.Username,
		RoomName: in.RoomName,
		Message:  in.Message,
		Action:   in.Action,
		Payload:  in.Payload,
	})
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, core.ErrorEvent{Type: core.EventError, Message: domain.UserMessage(err)})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
