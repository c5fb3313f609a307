package app

import (
	"fmt"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join admits conn into the room, or resumes the member that token already
// owns. The snapshot is delivered to conn before the roster broadcast.
func (r *Room) Join(conn core.SignalConnection, token domain.ClientToken, rawName string) (core.RoomInfo, error) {
	username, err := domain.NormalizeUsername(rawName)
	if err != nil {
		return core.RoomInfo{}, err
	}

	r.lock()
	defer r.unlock()

	if r.closed {
		return core.RoomInfo{}, domain.ErrRoomNotFound
	}

	id := conn.ID()
	now := r.now()

	m := r.memberByConn(id)
	if m == nil {
		m = r.memberByToken(token)
	}
	switch {
	case m != nil:
		r.resumeLocked(m, conn, username)
	case r.hosts.reservedFor(token) != nil:
		// the host left explicitly and comes back inside the window
		m = r.hosts.vacating()
		r.insertByJoinTime(m)
		r.resumeLocked(m, conn, username)
	default:
		if r.occupancyLocked() >= r.cfg.Capacity {
			log.Debug().Str("module", "app.room").Str("room", string(r.meta.Code)).Str("conn", string(id)).Msg("join refused, room full")
			return core.RoomInfo{}, domain.ErrRoomFull
		}
		m = domain.NewMember(token, id, username, now)
		r.members = append(r.members, m)
		r.conns[id] = conn
		if r.hosts.promoteIfVacant(m) {
			log.Info().Str("module", "app.host").Str("room", string(r.meta.Code)).Str("token", string(token)).Msg("host assigned")
		}
		r.systemExceptLocked(m, fmt.Sprintf("%s has joined the chat.", username))
	}

	r.meta.LastActiveAt = now
	r.dirty = true

	info := r.snapshotLocked(m)
	r.sendLocked(conn, encode(info))
	r.rosterLocked()

	log.Info().Str("module", "app.room").Str("room", string(r.meta.Code)).Str("conn", string(id)).Str("user", username).Int("members", len(r.members)).Msg("joined")
	return info, nil
}

func (r *Room) resumeLocked(m *domain.Member, conn core.SignalConnection, username string) {
	id := conn.ID()
	if m.Conn != "" && m.Conn != id {
		// the member switched connections; the old one stops receiving room events
		if old, ok := r.conns[m.Conn]; ok {
			delete(r.conns, m.Conn)
			r.sendLocked(old, encode(core.Simple{Type: core.EventLeft}))
		}
	}
	m.Attach(id)
	m.Username = username
	r.conns[id] = conn

	if r.hosts.vacating() == m {
		r.reclaimLocked(m)
	}
}

// Leave removes the member bound to conn. A leaving host opens the grace
// window; its seat stays reserved until the window closes.
func (r *Room) Leave(conn domain.ConnID) error {
	r.lock()
	defer r.unlock()

	if r.closed {
		return domain.ErrRoomNotFound
	}
	m := r.memberByConn(conn)
	if m == nil {
		return domain.ErrNotAMember
	}

	delete(r.conns, conn)
	r.removeMember(m)
	m.Detach()
	r.dirty = true

	if r.hosts.host == m {
		r.beginGraceLocked(m)
	}
	r.systemLocked(fmt.Sprintf("%s has left the chat.", m.Username))
	r.rosterLocked()

	log.Info().Str("module", "app.room").Str("room", string(r.meta.Code)).Str("conn", string(conn)).Int("members", len(r.members)).Msg("left")
	return nil
}

// Disconnect handles a dropped transport. The settled host is kept as away
// for the grace window; any other member is removed at once.
// It reports whether conn belonged to the room.
func (r *Room) Disconnect(conn domain.ConnID) bool {
	r.lock()
	defer r.unlock()

	if r.closed {
		return false
	}
	m := r.memberByConn(conn)
	if m == nil {
		return false
	}

	delete(r.conns, conn)
	r.dirty = true

	if r.hosts.host == m {
		m.Detach()
		r.beginGraceLocked(m)
		r.rosterLocked()
		return true
	}

	r.removeMember(m)
	r.systemLocked(fmt.Sprintf("%s has left the chat.", m.Username))
	r.rosterLocked()

	log.Info().Str("module", "app.room").Str("room", string(r.meta.Code)).Str("conn", string(conn)).Int("members", len(r.members)).Msg("disconnected")
	return true
}

func (r *Room) snapshotLocked(viewer *domain.Member) core.RoomInfo {
	isHost := r.hosts.isHost(viewer)
	msgs := make([]core.ChatMessage, 0, len(r.messages))
	for _, msg := range r.messages {
		msgs = append(msgs, core.NewChatMessage(msg, viewer.Token != "" && msg.Sender == viewer.Token))
	}
	return core.RoomInfo{
		Type:          core.EventRoomInfo,
		RoomName:      r.meta.Name,
		RoomCode:      r.meta.Code.Display(r.meta.CodeVisible, isHost),
		IsHost:        isHost,
		IsCodeVisible: r.meta.CodeVisible,
		Username:      viewer.Username,
		ConnectionID:  viewer.Conn,
		Members:       r.rosterFor(viewer),
		Messages:      msgs,
	}
}

func (r *Room) rosterFor(viewer *domain.Member) []core.RosterEntry {
	out := make([]core.RosterEntry, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, core.RosterEntry{
			Username: m.Username,
			IsHost:   r.hosts.isHost(m),
			IsActive: m.Active(),
			IsSelf:   viewer != nil && m == viewer,
		})
	}
	return out
}
