package app

import (
	"fmt"
	"math"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

// graceWindow keeps the host seat reserved for a vacating host.
type graceWindow struct {
	vacating *domain.Member
	deadline time.Time
	timer    *time.Timer
}

// hostCoordinator has no lock of its own; it is only touched under Room.mu.
type hostCoordinator struct {
	host  *domain.Member
	grace *graceWindow
	// epoch invalidates timers that fired after being superseded
	epoch uint64
}

func (h *hostCoordinator) isHost(m *domain.Member) bool {
	if m == nil {
		return false
	}
	return h.host == m || (h.grace != nil && h.grace.vacating == m)
}

func (h *hostCoordinator) vacating() *domain.Member {
	if h.grace == nil {
		return nil
	}
	return h.grace.vacating
}

// reservedFor returns the vacating host if it belongs to token.
func (h *hostCoordinator) reservedFor(token domain.ClientToken) *domain.Member {
	if m := h.vacating(); m != nil && token != "" && m.Token == token {
		return m
	}
	return nil
}

// promoteIfVacant makes m the host of a room that has neither a host nor a
// reserved seat.
func (h *hostCoordinator) promoteIfVacant(m *domain.Member) bool {
	if h.host != nil || h.grace != nil {
		return false
	}
	h.host = m
	return true
}

func (h *hostCoordinator) stop() {
	if h.grace != nil {
		h.grace.timer.Stop()
		h.grace = nil
	}
	h.epoch++
}

func (r *Room) beginGraceLocked(m *domain.Member) {
	h := &r.hosts
	h.stop()
	epoch := h.epoch
	d := r.cfg.GracePeriod
	h.host = nil
	h.grace = &graceWindow{
		vacating: m,
		deadline: r.now().Add(d),
		timer:    time.AfterFunc(d, func() { r.expireGrace(epoch) }),
	}
	log.Info().Str("module", "app.host").Str("room", string(r.meta.Code)).Str("token", string(m.Token)).Dur("grace", d).Msg("host vacated, grace started")
	r.broadcastLocked(core.HostGrace{
		Type:        core.EventHostGrace,
		SecondsLeft: int(math.Ceil(d.Seconds())),
		Username:    m.Username,
	})
}

// reclaimLocked settles the returning vacating host back into the seat.
func (r *Room) reclaimLocked(m *domain.Member) {
	r.hosts.stop()
	r.hosts.host = m
	log.Info().Str("module", "app.host").Str("room", string(r.meta.Code)).Str("token", string(m.Token)).Msg("host returned")
	r.broadcastLocked(core.HostReturned{Type: core.EventHostReturned, Username: m.Username})
}

func (r *Room) expireGrace(epoch uint64) {
	r.lock()
	defer r.unlock()

	g := r.hosts.grace
	if r.closed || g == nil || r.hosts.epoch != epoch {
		return
	}
	r.hosts.grace = nil
	r.hosts.epoch++

	old := g.vacating
	present := r.indexOf(old) >= 0
	r.removeMember(old)
	next := r.oldestActiveLocked()
	r.hosts.host = next
	r.dirty = true

	l := log.Info().Str("module", "app.host").Str("room", string(r.meta.Code)).Str("old", string(old.Token))
	if next != nil {
		l = l.Str("new", string(next.Token))
	}
	l.Msg("grace expired, host reassigned")

	if present {
		r.systemLocked(fmt.Sprintf("%s has left the chat.", old.Username))
	}
	if next != nil {
		r.broadcastLocked(core.NewHost{Type: core.EventNewHost, ConnectionID: next.Conn, Username: next.Username})
		r.systemLocked(fmt.Sprintf("%s is now the host.", next.Username))
	}
	r.rosterLocked()
}

// authorizeLocked resolves the connection to a member holding host authority.
func (r *Room) authorizeLocked(conn domain.ConnID) (*domain.Member, error) {
	if r.closed {
		return nil, domain.ErrRoomNotFound
	}
	m := r.memberByConn(conn)
	if m == nil {
		return nil, domain.ErrNotAMember
	}
	if !r.hosts.isHost(m) {
		return nil, domain.ErrUnauthorized
	}
	return m, nil
}

// IsHost is the dispatcher's pre-check before routing a host action.
func (r *Room) IsHost(conn domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts.isHost(r.memberByConn(conn))
}

func (r *Room) Rename(conn domain.ConnID, raw string) error {
	r.lock()
	defer r.unlock()

	if _, err := r.authorizeLocked(conn); err != nil {
		return err
	}
	name, err := domain.NormalizeRoomName(raw, r.cfg.MaxNameLen)
	if err != nil {
		return err
	}
	r.meta.Name = name
	r.meta.LastActiveAt = r.now()
	r.dirty = true

	r.broadcastLocked(core.RoomUpdated{Type: core.EventRoomUpdated, Key: core.KeyRoomName, Value: name})
	r.systemLocked(fmt.Sprintf("Host changed the room name to \"%s\"", name))
	return nil
}

// SetCodeVisible sets the flag, or flips it when visible is nil.
func (r *Room) SetCodeVisible(conn domain.ConnID, visible *bool) error {
	r.lock()
	defer r.unlock()

	if _, err := r.authorizeLocked(conn); err != nil {
		return err
	}
	v := !r.meta.CodeVisible
	if visible != nil {
		v = *visible
	}
	r.meta.CodeVisible = v
	r.meta.LastActiveAt = r.now()
	r.dirty = true

	r.broadcastLocked(core.RoomUpdated{Type: core.EventRoomUpdated, Key: core.KeyCodeVisible, Value: v})
	return nil
}

// closeByHost evicts everyone. The caller owns the returned connections.
func (r *Room) closeByHost(conn domain.ConnID, reason string) ([]core.SignalConnection, error) {
	r.lock()
	defer r.unlock()

	if _, err := r.authorizeLocked(conn); err != nil {
		return nil, err
	}
	return r.evictLocked(reason), nil
}

// closeIdle evicts everyone if the room saw no activity after cutoff.
func (r *Room) closeIdle(cutoff time.Time, reason string) ([]core.SignalConnection, bool) {
	r.lock()
	defer r.unlock()

	if r.closed || !r.meta.IdleSince(cutoff) {
		return nil, false
	}
	return r.evictLocked(reason), true
}

// shutdown stops the timer without notifying anyone.
func (r *Room) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts.stop()
}
