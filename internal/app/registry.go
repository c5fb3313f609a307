package app

import (
	"sync"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Conn  core.SignalConnection
	Token domain.ClientToken
	Room  domain.RoomCode
}

// Registry tracks live connections and the room each one is joined to.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.ConnID]*sessionEntry)}
}

func (r *Registry) Bind(conn core.SignalConnection, token domain.ClientToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conn.ID()] = &sessionEntry{Conn: conn, Token: token}
	log.Info().Str("module", "app.registry").Str("conn", string(conn.ID())).Str("token", string(token)).Msg("bound connection")
}

func (r *Registry) Get(id domain.ConnID) (core.SignalConnection, domain.ClientToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Conn, e.Token, true
	}
	return nil, "", false
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) UpdateRoom(id domain.ConnID, code domain.RoomCode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	e.Room = code
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(code)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.Room = ""
	}
}

// Unbind forgets the connection and returns the room it was joined to.
func (r *Registry) Unbind(id domain.ConnID) (domain.RoomCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	return e.Room, e.Room != ""
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
