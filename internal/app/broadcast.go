package app

import (
	"encoding/json"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

// Send appends a chat message and fans it out in the room's total order.
func (r *Room) Send(conn domain.ConnID, raw string) error {
	r.lock()
	defer r.unlock()

	if r.closed {
		return domain.ErrRoomNotFound
	}
	sender := r.memberByConn(conn)
	if sender == nil {
		return domain.ErrNotAMember
	}
	text, err := domain.NormalizeMessage(raw, r.cfg.MaxMessageLen)
	if err != nil {
		return err
	}

	now := r.now()
	msg := domain.Message{
		ID:        r.nextMessageID(now),
		Username:  sender.Username,
		Text:      text,
		Timestamp: now,
		Sender:    sender.Token,
	}
	r.messages = append(r.messages, msg)
	if limit := r.cfg.HistoryLimit; limit > 0 && len(r.messages) > limit {
		r.messages = append([]domain.Message(nil), r.messages[len(r.messages)-limit:]...)
	}
	r.meta.LastActiveAt = now
	r.dirty = true

	own := encode(core.NewChatMessage(msg, true))
	other := encode(core.NewChatMessage(msg, false))
	for _, m := range r.members {
		c, ok := r.conns[m.Conn]
		if !ok {
			continue
		}
		if m == sender {
			r.sendLocked(c, own)
		} else {
			r.sendLocked(c, other)
		}
	}
	return nil
}

// sendLocked never blocks. A full or closed connection is remembered and
// handed to the back-pressure policy once the lock is released.
func (r *Room) sendLocked(c core.SignalConnection, frame core.Frame) {
	if frame == nil {
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.broadcast").Str("room", string(r.meta.Code)).Str("conn", string(c.ID())).Msg("send dropped")
		for _, d := range r.dropped {
			if d == c {
				return
			}
		}
		r.dropped = append(r.dropped, c)
	}
}

func (r *Room) broadcastLocked(v any) {
	frame := encode(v)
	for _, m := range r.members {
		if c, ok := r.conns[m.Conn]; ok {
			r.sendLocked(c, frame)
		}
	}
}

func (r *Room) systemLocked(text string) {
	r.broadcastLocked(core.SystemMessage{Type: core.EventSystem, Text: text})
}

func (r *Room) systemExceptLocked(skip *domain.Member, text string) {
	frame := encode(core.SystemMessage{Type: core.EventSystem, Text: text})
	for _, m := range r.members {
		if m == skip {
			continue
		}
		if c, ok := r.conns[m.Conn]; ok {
			r.sendLocked(c, frame)
		}
	}
}

// rosterLocked sends the member list to every connected member, with each
// recipient's own entry flagged.
func (r *Room) rosterLocked() {
	for _, m := range r.members {
		c, ok := r.conns[m.Conn]
		if !ok {
			continue
		}
		r.sendLocked(c, encode(core.UserList{Type: core.EventUserList, Users: r.rosterFor(m)}))
	}
}

// evictLocked notifies everyone and tears the room down. The returned
// connections are closed by the caller outside the lock.
func (r *Room) evictLocked(reason string) []core.SignalConnection {
	r.broadcastLocked(core.RoomDeleted{Type: core.EventRoomDeleted, Message: reason})

	conns := make([]core.SignalConnection, 0, len(r.conns))
	for _, m := range r.members {
		if c, ok := r.conns[m.Conn]; ok {
			conns = append(conns, c)
		}
	}
	r.closed = true
	r.hosts.stop()
	r.hosts.host = nil
	r.members = nil
	r.conns = make(map[domain.ConnID]core.SignalConnection)
	r.dropped = nil
	return conns
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Msg("encode event")
		return nil
	}
	return b
}
