package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")

const (
	ReasonNotFound = "not_found"
	ReasonFull     = "full"
)

// Validation is the answer to a pre-flight join check.
type Validation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type CreateRequest struct {
	Name     string
	Username string
	// Conn is optional. Without it the room starts empty and its first
	// joiner becomes host.
	Conn  core.SignalConnection
	Token domain.ClientToken
}

type Option func(*RoomManager)

func WithPersister(p *Persister) Option { return func(m *RoomManager) { m.persister = p } }

func WithNotifier(n core.Notifier) Option { return func(m *RoomManager) { m.notifier = n } }

func WithPolicy(p Policy) Option { return func(m *RoomManager) { m.policy = p } }

// WithCodeGenerator replaces the random code source, mostly for tests.
func WithCodeGenerator(gen func() string) Option { return func(m *RoomManager) { m.newCode = gen } }

// RoomManager is the registry of live rooms. It allocates codes, hydrates
// rooms from the store, and retires rooms on deletion or expiry.
type RoomManager struct {
	cfg       RoomConfig
	store     core.RoomStore
	persister *Persister
	notifier  core.Notifier
	policy    Policy
	newCode   func() string

	mu    sync.RWMutex
	rooms map[domain.RoomCode]*Room
	// reserved codes are being created; tombstoned ones wait for the store delete
	reserved   map[domain.RoomCode]struct{}
	tombstones map[domain.RoomCode]struct{}
	loads      singleflight.Group
}

func NewRoomManager(cfg RoomConfig, store core.RoomStore, opts ...Option) (*RoomManager, error) {
	gen, err := nanoid.CustomASCII(domain.CodeAlphabet, domain.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	m := &RoomManager{
		cfg:        cfg,
		store:      store,
		policy:     SimplePolicy{},
		newCode:    gen,
		rooms:      make(map[domain.RoomCode]*Room),
		reserved:   make(map[domain.RoomCode]struct{}),
		tombstones: make(map[domain.RoomCode]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.persister == nil {
		m.persister = NewPersister(store, 0)
	}
	m.persister.OnDeleted(m.forget)
	return m, nil
}

func (m *RoomManager) Persister() *Persister { return m.persister }

func (m *RoomManager) Config() RoomConfig { return m.cfg }

// Create allocates a unique code, stores the room and joins the creator.
func (m *RoomManager) Create(ctx context.Context, req CreateRequest) (*Room, error) {
	username, err := domain.NormalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}
	name := domain.DefaultRoomName(username)
	if strings.TrimSpace(req.Name) != "" {
		if name, err = domain.NormalizeRoomName(req.Name, m.cfg.MaxNameLen); err != nil {
			return nil, err
		}
	}

	attempts := max(m.cfg.CodeAttempts, 1)
	for range attempts {
		code := domain.RoomCode(m.newCode())
		if !m.reserve(code) {
			continue
		}
		now := time.Now()
		meta := domain.Room{Code: code, Name: name, CodeVisible: true, CreatedAt: now, LastActiveAt: now}
		rec := &core.RoomRecord{
			Code:         code,
			Name:         name,
			CodeVisible:  true,
			CreatedAt:    now,
			LastActiveAt: now,
		}
		if err := m.store.Insert(ctx, rec); err != nil {
			m.release(code)
			if errors.Is(err, core.ErrCodeTaken) {
				log.Debug().Str("module", "app.rooms").Str("room", string(code)).Msg("code collision in store")
				continue
			}
			return nil, fmt.Errorf("insert room %s: %w", code, err)
		}

		room := newRoom(meta, m.cfg, m)
		if req.Conn != nil {
			if _, err := room.Join(req.Conn, req.Token, username); err != nil {
				m.release(code)
				m.persister.Delete(code)
				return nil, err
			}
		}
		m.mu.Lock()
		delete(m.reserved, code)
		m.rooms[code] = room
		m.mu.Unlock()

		log.Info().Str("module", "app.rooms").Str("room", string(code)).Str("name", name).Msg("room created")
		m.publish(ctx, core.LifecycleCreated, meta)
		return room, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, attempts)
}

func (m *RoomManager) reserve(code domain.RoomCode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[code]; ok {
		return false
	}
	if _, ok := m.reserved[code]; ok {
		return false
	}
	if _, ok := m.tombstones[code]; ok {
		return false
	}
	m.reserved[code] = struct{}{}
	return true
}

func (m *RoomManager) release(code domain.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, code)
}

// Live returns the in-memory room without touching the store.
func (m *RoomManager) Live(code domain.RoomCode) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	return r, ok
}

// unavailable reports codes that must read as missing: rooms still being
// created and rooms waiting for their store delete.
func (m *RoomManager) unavailable(code domain.RoomCode) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, pending := m.reserved[code]
	_, dead := m.tombstones[code]
	return pending || dead
}

// Lookup returns the live room, loading it from the store after a restart.
func (m *RoomManager) Lookup(ctx context.Context, code domain.RoomCode) (*Room, error) {
	if !code.Valid() {
		return nil, domain.ErrRoomNotFound
	}
	if r, ok := m.Live(code); ok {
		return r, nil
	}
	if m.unavailable(code) {
		return nil, domain.ErrRoomNotFound
	}
	v, err, _ := m.loads.Do(string(code), func() (any, error) {
		return m.hydrate(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (m *RoomManager) hydrate(ctx context.Context, code domain.RoomCode) (*Room, error) {
	rec, err := m.store.Get(ctx, code)
	if errors.Is(err, core.ErrRecordNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[code]; ok {
		return r, nil
	}
	if _, dead := m.tombstones[code]; dead {
		return nil, domain.ErrRoomNotFound
	}
	r := newRoomFromRecord(rec, m.cfg, m)
	m.rooms[code] = r
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Int("messages", len(rec.Messages)).Msg("room hydrated from store")
	return r, nil
}

// Validate answers whether a join would currently be admitted. It never
// changes state, so a stored but not yet loaded room is read, not hydrated.
func (m *RoomManager) Validate(ctx context.Context, code domain.RoomCode) (Validation, error) {
	if !code.Valid() || m.unavailable(code) {
		return Validation{Reason: ReasonNotFound}, nil
	}
	if r, ok := m.Live(code); ok {
		if r.Closed() {
			return Validation{Reason: ReasonNotFound}, nil
		}
		if r.Occupancy() >= m.cfg.Capacity {
			return Validation{Reason: ReasonFull}, nil
		}
		return Validation{Valid: true}, nil
	}
	_, err := m.store.Get(ctx, code)
	if errors.Is(err, core.ErrRecordNotFound) {
		return Validation{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("validate room %s: %w", code, err)
	}
	return Validation{Valid: true}, nil
}

// Delete closes the room on behalf of its host.
func (m *RoomManager) Delete(ctx context.Context, code domain.RoomCode, by domain.ConnID) error {
	r, ok := m.Live(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	conns, err := r.closeByHost(by, core.ReasonHostClosed)
	if err != nil {
		return err
	}
	m.retire(ctx, r, conns, core.LifecycleDeleted)
	return nil
}

// Expire removes a room idle since cutoff. Live rooms evict their members;
// rooms that only exist in the store are deleted there.
func (m *RoomManager) Expire(ctx context.Context, code domain.RoomCode, cutoff time.Time) (bool, error) {
	if r, ok := m.Live(code); ok {
		conns, idle := r.closeIdle(cutoff, core.ReasonExpired)
		if !idle {
			return false, nil
		}
		m.retire(ctx, r, conns, core.LifecycleExpired)
		return true, nil
	}
	if m.unavailable(code) {
		return false, nil
	}

	rec, err := m.store.Get(ctx, code)
	if errors.Is(err, core.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load room %s: %w", code, err)
	}
	meta := domain.Room{Code: rec.Code, Name: rec.Name, LastActiveAt: rec.LastActiveAt}
	if !meta.IdleSince(cutoff) {
		return false, nil
	}

	m.mu.Lock()
	if _, ok := m.rooms[code]; ok {
		// hydrated meanwhile, leave it to the next sweep
		m.mu.Unlock()
		return false, nil
	}
	m.tombstones[code] = struct{}{}
	m.mu.Unlock()

	m.persister.Delete(code)
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("stored room expired")
	m.publish(ctx, core.LifecycleExpired, meta)
	return true, nil
}

func (m *RoomManager) retire(ctx context.Context, r *Room, conns []core.SignalConnection, kind core.LifecycleKind) {
	code := r.Code()
	m.mu.Lock()
	delete(m.rooms, code)
	m.tombstones[code] = struct{}{}
	m.mu.Unlock()

	m.persister.Delete(code)
	for _, c := range conns {
		c.Close()
	}
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Str("kind", string(kind)).Int("evicted", len(conns)).Msg("room retired")
	m.publish(ctx, kind, r.Info())
}

// forget clears the tombstone once the store no longer has the room.
func (m *RoomManager) forget(code domain.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tombstones, code)
}

func (m *RoomManager) publish(ctx context.Context, kind core.LifecycleKind, meta domain.Room) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(ctx, core.LifecycleEvent{Kind: kind, Code: meta.Code, Name: meta.Name, At: time.Now()})
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Close stops every grace timer. Rooms stay in the store.
func (m *RoomManager) Close() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		r.shutdown()
	}
}

func (m *RoomManager) save(rec *core.RoomRecord) {
	m.persister.Save(rec)
}

func (m *RoomManager) dropped(code domain.RoomCode, conns []core.SignalConnection) {
	for _, c := range conns {
		switch m.policy.OnBackPressure(code, c) {
		case KickMember:
			log.Warn().Str("module", "app.rooms").Str("room", string(code)).Str("conn", string(c.ID())).Msg("slow connection kicked")
			c.Close()
		case DropFrame, NoAction:
		}
	}
}
