package app_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/core/coretest"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/dkeye/scribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomManager_CreateAllocatesUniqueCodes(t *testing.T) {
	m, st := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()

	seen := make(map[domain.RoomCode]bool)
	for i := 0; i < 25; i++ {
		room, err := m.Create(ctx, app.CreateRequest{Username: "Host"})
		require.NoError(t, err)
		code := room.Code()
		assert.True(t, code.Valid(), code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true

		_, err = st.Get(ctx, code)
		assert.NoError(t, err)
	}
	assert.Equal(t, 25, m.Count())
}

func TestRoomManager_CreateRetriesOnCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("live registry", func(t *testing.T) {
		m, _ := newManager(t, testConfig(30*time.Second), app.WithCodeGenerator(sequence("AAAAAA", "AAAAAA", "BBBBBB")))
		first, err := m.Create(ctx, app.CreateRequest{Username: "One"})
		require.NoError(t, err)
		second, err := m.Create(ctx, app.CreateRequest{Username: "Two"})
		require.NoError(t, err)

		assert.Equal(t, domain.RoomCode("AAAAAA"), first.Code())
		assert.Equal(t, domain.RoomCode("BBBBBB"), second.Code())
	})

	t.Run("backing store", func(t *testing.T) {
		m, st := newManager(t, testConfig(30*time.Second), app.WithCodeGenerator(sequence("CCCCCC", "DDDDDD")))
		require.NoError(t, st.Insert(ctx, &core.RoomRecord{Code: "CCCCCC", Name: "old", LastActiveAt: time.Now()}))

		room, err := m.Create(ctx, app.CreateRequest{Username: "Host"})
		require.NoError(t, err)
		assert.Equal(t, domain.RoomCode("DDDDDD"), room.Code())
	})

	t.Run("exhausted", func(t *testing.T) {
		cfg := testConfig(30 * time.Second)
		cfg.CodeAttempts = 3
		m, _ := newManager(t, cfg, app.WithCodeGenerator(sequence("EEEEEE")))
		_, err := m.Create(ctx, app.CreateRequest{Username: "One"})
		require.NoError(t, err)

		_, err = m.Create(ctx, app.CreateRequest{Username: "Two"})
		assert.ErrorIs(t, err, app.ErrCodeSpaceExhausted)
		assert.Equal(t, 1, m.Count())
	})
}

func TestRoomManager_CreateValidatesInput(t *testing.T) {
	m, _ := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()

	tests := []struct {
		name    string
		req     app.CreateRequest
		wantErr error
		want    string
	}{
		{name: "default name", req: app.CreateRequest{Username: " Alice "}, want: "Alice's Room"},
		{name: "custom name", req: app.CreateRequest{Username: "Alice", Name: " Book Club "}, want: "Book Club"},
		{name: "missing username", req: app.CreateRequest{Username: "  "}, wantErr: domain.ErrUsernameEmpty},
		{name: "long name", req: app.CreateRequest{Username: "Alice", Name: strings.Repeat("x", 65)}, wantErr: domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, err := m.Create(ctx, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, room.Info().Name)
		})
	}
}

func TestRoomManager_EmptyRoomPromotesFirstJoiner(t *testing.T) {
	m, _ := newManager(t, testConfig(30*time.Second))
	room, err := m.Create(context.Background(), app.CreateRequest{Username: "Alice"})
	require.NoError(t, err)
	assert.Zero(t, room.MemberCount())

	alice := newClient("Alice")
	info := join(t, room, alice)
	assert.True(t, info.IsHost)
}

func TestRoomManager_Lookup(t *testing.T) {
	m, _ := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()
	room := createRoom(t, m, newClient("Alice"))

	got, err := m.Lookup(ctx, room.Code())
	require.NoError(t, err)
	assert.Same(t, room, got)

	for _, code := range []domain.RoomCode{"ZZZZZZ", "abc", "", "TOOLONG1"} {
		_, err := m.Lookup(ctx, code)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound, code)
	}
}

func TestRoomManager_DeleteByHostEvictsEveryone(t *testing.T) {
	notifier := &recordingNotifier{}
	m, st := newManager(t, testConfig(30*time.Second), app.WithNotifier(notifier))
	ctx := context.Background()
	alice, bob := newClient("Alice"), newClient("Bob")
	room := createRoom(t, m, alice)
	join(t, room, bob)

	require.NoError(t, m.Delete(ctx, room.Code(), alice.conn.ID()))

	for _, c := range []*client{alice, bob} {
		ev, ok := coretest.Last[core.RoomDeleted](c.conn, core.EventRoomDeleted)
		require.True(t, ok, c.name)
		assert.Equal(t, core.ReasonHostClosed, ev.Message)
		assert.True(t, c.conn.Closed(), c.name)
	}
	assert.True(t, room.Closed())
	assert.Zero(t, m.Count())

	_, err := m.Lookup(ctx, room.Code())
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.Zero(t, m.Persister().Flush(ctx))
	_, err = st.Get(ctx, room.Code())
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	_, err = m.Lookup(ctx, room.Code())
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.Equal(t, []core.LifecycleKind{core.LifecycleCreated, core.LifecycleDeleted}, notifier.kinds())
	assert.ErrorIs(t, m.Delete(ctx, room.Code(), alice.conn.ID()), domain.ErrRoomNotFound)
}

func TestRoomManager_Validate(t *testing.T) {
	m, st := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()
	room := createRoom(t, m, newClient("Alice"))
	require.NoError(t, st.Put(ctx, &core.RoomRecord{Code: "STORE1", Name: "Stored", LastActiveAt: time.Now()}))

	tests := []struct {
		code domain.RoomCode
		want app.Validation
	}{
		{code: room.Code(), want: app.Validation{Valid: true}},
		{code: "STORE1", want: app.Validation{Valid: true}},
		{code: "NOPE00", want: app.Validation{Reason: app.ReasonNotFound}},
		{code: "bad", want: app.Validation{Reason: app.ReasonNotFound}},
	}
	for _, tt := range tests {
		got, err := m.Validate(ctx, tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.code)
	}
	// validation is read only
	assert.Equal(t, 1, m.Count())
}

func TestRoomManager_HydratesStoredRoom(t *testing.T) {
	m, st := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()
	stamp := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, st.Put(ctx, &core.RoomRecord{
		Code:        "HYDR8T",
		Name:        "Before restart",
		CodeVisible: true,
		Members: []core.MemberRecord{
			{Token: "token-Alice", Username: "Alice", Status: domain.StatusActive, IsHost: true, JoinedAt: stamp},
		},
		Messages: []domain.Message{
			{ID: "01", Username: "Alice", Text: "first", Timestamp: stamp, Sender: "token-Alice"},
			{ID: "02", Username: "Alice", Text: "second", Timestamp: stamp, Sender: "token-Alice"},
		},
		CreatedAt:    stamp,
		LastActiveAt: stamp,
		Version:      7,
	}))

	var wg sync.WaitGroup
	rooms := make([]*app.Room, 8)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Lookup(ctx, "HYDR8T")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()
	for _, r := range rooms[1:] {
		assert.Same(t, rooms[0], r)
	}
	room := rooms[0]
	assert.Equal(t, "Before restart", room.Info().Name)
	assert.Zero(t, room.MemberCount())
	assert.Len(t, room.Messages(), 2)

	alice := newClient("Alice")
	info := join(t, room, alice)
	assert.True(t, info.IsHost)
	require.Len(t, info.Messages, 2)
	assert.Equal(t, "first", info.Messages[0].Message)
	assert.True(t, info.Messages[0].IsOwn)

	require.Zero(t, m.Persister().Flush(ctx))
	rec, err := st.Get(ctx, "HYDR8T")
	require.NoError(t, err)
	assert.Greater(t, rec.Version, uint64(7))
}

func TestRoomManager_PersistsCommittedState(t *testing.T) {
	m, st := newManager(t, testConfig(30*time.Second))
	ctx := context.Background()
	alice, bob := newClient("Alice"), newClient("Bob")
	room := createRoom(t, m, alice)
	join(t, room, bob)
	require.NoError(t, room.Send(bob.conn.ID(), "hello"))

	require.Zero(t, m.Persister().Flush(ctx))
	rec, err := st.Get(ctx, room.Code())
	require.NoError(t, err)

	require.Len(t, rec.Members, 2)
	assert.Equal(t, "Alice", rec.Members[0].Username)
	assert.True(t, rec.Members[0].IsHost)
	assert.False(t, rec.Members[1].IsHost)
	require.Len(t, rec.Messages, 1)
	assert.Equal(t, "hello", rec.Messages[0].Text)
	assert.Equal(t, domain.ClientToken("token-Bob"), rec.Messages[0].Sender)
}

func TestRoomManager_StoreFailureDoesNotRevertState(t *testing.T) {
	fs := &flakyStore{Memory: store.NewMemory(), failPuts: 100}
	m, err := app.NewRoomManager(testConfig(30*time.Second), fs)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	ctx := context.Background()
	alice, bob := newClient("Alice"), newClient("Bob")

	room, err := m.Create(ctx, app.CreateRequest{Username: "Alice", Conn: alice.conn, Token: alice.token})
	require.NoError(t, err)
	join(t, room, bob)

	assert.Equal(t, 1, m.Persister().Flush(ctx))
	assert.Equal(t, 2, room.MemberCount())
	assert.Equal(t, 1, m.Persister().Pending())
}

func TestRoomManager_Expire(t *testing.T) {
	ctx := context.Background()

	t.Run("live idle room", func(t *testing.T) {
		notifier := &recordingNotifier{}
		m, _ := newManager(t, testConfig(30*time.Second), app.WithNotifier(notifier))
		alice := newClient("Alice")
		room := createRoom(t, m, alice)

		ok, err := m.Expire(ctx, room.Code(), time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.False(t, ok, "recently active room must survive")

		ok, err = m.Expire(ctx, room.Code(), time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.True(t, ok)

		ev, found := coretest.Last[core.RoomDeleted](alice.conn, core.EventRoomDeleted)
		require.True(t, found)
		assert.Equal(t, core.ReasonExpired, ev.Message)
		assert.True(t, alice.conn.Closed())
		assert.Contains(t, notifier.kinds(), core.LifecycleExpired)
	})

	t.Run("stored only room", func(t *testing.T) {
		m, st := newManager(t, testConfig(30*time.Second))
		old := time.Now().Add(-48 * time.Hour)
		require.NoError(t, st.Put(ctx, &core.RoomRecord{Code: "OLD123", Name: "Old", LastActiveAt: old}))

		ok, err := m.Expire(ctx, "OLD123", time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = m.Lookup(ctx, "OLD123")
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)

		require.Zero(t, m.Persister().Flush(ctx))
		_, err = st.Get(ctx, "OLD123")
		assert.ErrorIs(t, err, core.ErrRecordNotFound)
	})

	t.Run("unknown room", func(t *testing.T) {
		m, _ := newManager(t, testConfig(30*time.Second))
		ok, err := m.Expire(ctx, "NONE00", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
