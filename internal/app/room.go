package app

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

type RoomConfig struct {
	Capacity      int
	GracePeriod   time.Duration
	HistoryLimit  int
	MaxMessageLen int
	MaxNameLen    int
	CodeAttempts  int
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		Capacity:      5,
		GracePeriod:   30 * time.Second,
		MaxMessageLen: 2000,
		MaxNameLen:    64,
		CodeAttempts:  10,
	}
}

// roomSink receives the side effects of a committed transition.
// save runs under the room lock so a later close always queues after it;
// it must not block. dropped runs after the lock is released.
type roomSink interface {
	save(rec *core.RoomRecord)
	dropped(code domain.RoomCode, conns []core.SignalConnection)
}

// Room is the live state of one chat room. Every mutation goes through mu,
// which is the room's single serialization domain: membership, host
// coordination, history and fan-out are applied in one total order.
type Room struct {
	cfg  RoomConfig
	sink roomSink
	now  func() time.Time

	mu       sync.Mutex
	meta     domain.Room
	members  []*domain.Member
	messages []domain.Message
	conns    map[domain.ConnID]core.SignalConnection
	hosts    hostCoordinator
	closed   bool
	version  uint64
	entropy  *ulid.MonotonicEntropy

	// collected during a transition, handed to sink by unlock
	dirty   bool
	dropped []core.SignalConnection
}

func newRoom(meta domain.Room, cfg RoomConfig, sink roomSink) *Room {
	return &Room{
		cfg:     cfg,
		sink:    sink,
		now:     time.Now,
		meta:    meta,
		conns:   make(map[domain.ConnID]core.SignalConnection),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newRoomFromRecord rebuilds a room after a restart. Connections do not
// survive, so the room comes back with its history and no members.
func newRoomFromRecord(rec *core.RoomRecord, cfg RoomConfig, sink roomSink) *Room {
	r := newRoom(domain.Room{
		Code:         rec.Code,
		Name:         rec.Name,
		CodeVisible:  rec.CodeVisible,
		CreatedAt:    rec.CreatedAt,
		LastActiveAt: rec.LastActiveAt,
	}, cfg, sink)
	r.messages = append([]domain.Message(nil), rec.Messages...)
	r.version = rec.Version
	return r
}

func (r *Room) lock() { r.mu.Lock() }

func (r *Room) unlock() {
	var rec *core.RoomRecord
	if r.dirty && !r.closed {
		r.version++
		rec = r.recordLocked()
	}
	r.dirty = false
	if rec != nil && r.sink != nil {
		r.sink.save(rec)
	}
	dropped := r.dropped
	r.dropped = nil
	r.mu.Unlock()

	if len(dropped) > 0 && r.sink != nil {
		r.sink.dropped(r.meta.Code, dropped)
	}
}

// Code is immutable and safe to read without the lock.
func (r *Room) Code() domain.RoomCode { return r.meta.Code }

func (r *Room) Info() domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Occupancy counts the seats in use, including a host seat reserved
// during the grace window.
func (r *Room) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupancyLocked()
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Roster returns the ordered member list as an outside observer sees it.
func (r *Room) Roster() []core.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rosterFor(nil)
}

func (r *Room) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages...)
}

// Host returns the username of the settled host.
func (r *Room) Host() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hosts.host == nil {
		return "", false
	}
	return r.hosts.host.Username, true
}

// InGrace reports whether the host seat is vacant but reserved.
func (r *Room) InGrace() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts.grace != nil
}

func (r *Room) IsMember(conn domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memberByConn(conn) != nil
}

func (r *Room) occupancyLocked() int {
	n := len(r.members)
	if g := r.hosts.grace; g != nil && r.indexOf(g.vacating) < 0 {
		n++
	}
	return n
}

func (r *Room) memberByConn(conn domain.ConnID) *domain.Member {
	if conn == "" {
		return nil
	}
	for _, m := range r.members {
		if m.Conn == conn {
			return m
		}
	}
	return nil
}

func (r *Room) memberByToken(token domain.ClientToken) *domain.Member {
	if token == "" {
		return nil
	}
	for _, m := range r.members {
		if m.Token == token {
			return m
		}
	}
	return nil
}

func (r *Room) indexOf(m *domain.Member) int {
	for i, cur := range r.members {
		if cur == m {
			return i
		}
	}
	return -1
}

func (r *Room) removeMember(m *domain.Member) {
	if i := r.indexOf(m); i >= 0 {
		r.members = append(r.members[:i], r.members[i+1:]...)
	}
}

// insertByJoinTime puts a returning member back at its original position.
func (r *Room) insertByJoinTime(m *domain.Member) {
	i := len(r.members)
	for j, cur := range r.members {
		if cur.JoinedAt.After(m.JoinedAt) {
			i = j
			break
		}
	}
	r.members = append(r.members, nil)
	copy(r.members[i+1:], r.members[i:])
	r.members[i] = m
}

func (r *Room) oldestActiveLocked() *domain.Member {
	var oldest *domain.Member
	for _, m := range r.members {
		if !m.Active() {
			continue
		}
		if oldest == nil || m.JoinedAt.Before(oldest.JoinedAt) {
			oldest = m
		}
	}
	return oldest
}

func (r *Room) nextMessageID(at time.Time) string {
	id, err := ulid.New(ulid.Timestamp(at), r.entropy)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.room").Str("room", string(r.meta.Code)).Msg("monotonic id overflow")
		return ulid.Make().String()
	}
	return id.String()
}

func (r *Room) recordLocked() *core.RoomRecord {
	rec := &core.RoomRecord{
		Code:         r.meta.Code,
		Name:         r.meta.Name,
		CodeVisible:  r.meta.CodeVisible,
		Members:      make([]core.MemberRecord, 0, len(r.members)),
		Messages:     append([]domain.Message(nil), r.messages...),
		CreatedAt:    r.meta.CreatedAt,
		LastActiveAt: r.meta.LastActiveAt,
		Version:      r.version,
	}
	for _, m := range r.members {
		rec.Members = append(rec.Members, core.MemberRecord{
			Token:    m.Token,
			Username: m.Username,
			Status:   m.Status,
			IsHost:   r.hosts.isHost(m),
			JoinedAt: m.JoinedAt,
		})
	}
	return rec
}
