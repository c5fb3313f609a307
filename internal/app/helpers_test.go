package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/core/coretest"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/dkeye/scribe/internal/store"
	"github.com/stretchr/testify/require"
)

func testConfig(grace time.Duration) app.RoomConfig {
	cfg := app.DefaultRoomConfig()
	cfg.GracePeriod = grace
	return cfg
}

func newManager(t *testing.T, cfg app.RoomConfig, opts ...app.Option) (*app.RoomManager, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	m, err := app.NewRoomManager(cfg, st, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, st
}

// sequence hands out the given codes in order, then repeats the last one.
func sequence(codes ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c
	}
}

type client struct {
	conn  *coretest.Conn
	token domain.ClientToken
	name  string
}

func newClient(name string) *client {
	return &client{
		conn:  coretest.NewConn("conn-" + name),
		token: domain.ClientToken("token-" + name),
		name:  name,
	}
}

// reconnect returns the same identity on a fresh connection.
func (c *client) reconnect(suffix string) *client {
	return &client{
		conn:  coretest.NewConn("conn-" + c.name + "-" + suffix),
		token: c.token,
		name:  c.name,
	}
}

func createRoom(t *testing.T, m *app.RoomManager, host *client) *app.Room {
	t.Helper()
	room, err := m.Create(context.Background(), app.CreateRequest{Username: host.name, Conn: host.conn, Token: host.token})
	require.NoError(t, err)
	return room
}

func join(t *testing.T, room *app.Room, c *client) core.RoomInfo {
	t.Helper()
	info, err := room.Join(c.conn, c.token, c.name)
	require.NoError(t, err)
	return info
}

func lastRoster(t *testing.T, c *client) []core.RosterEntry {
	t.Helper()
	list, ok := coretest.Last[core.UserList](c.conn, core.EventUserList)
	require.True(t, ok, "%s got no roster", c.name)
	return list.Users
}

func systemTexts(c *client) []string {
	var out []string
	for _, m := range coretest.Of[core.SystemMessage](c.conn, core.EventSystem) {
		out = append(out, m.Text)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.LifecycleEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev core.LifecycleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []core.LifecycleKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []core.LifecycleKind
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

// flakyStore fails the first failPuts writes.
type flakyStore struct {
	*store.Memory

	mu       sync.Mutex
	failPuts int
	puts     []*core.RoomRecord
	deletes  []domain.RoomCode
}

func (s *flakyStore) Put(ctx context.Context, rec *core.RoomRecord) error {
	s.mu.Lock()
	if s.failPuts > 0 {
		s.failPuts--
		s.mu.Unlock()
		return context.DeadlineExceeded
	}
	s.puts = append(s.puts, rec)
	s.mu.Unlock()
	return s.Memory.Put(ctx, rec)
}

func (s *flakyStore) Delete(ctx context.Context, code domain.RoomCode) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, code)
	s.mu.Unlock()
	return s.Memory.Delete(ctx, code)
}

func (s *flakyStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}
