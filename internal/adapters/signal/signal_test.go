package signal_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/scribe/internal/adapters/signal"
	"github.com/dkeye/scribe/internal/app"
	"github.com/dkeye/scribe/internal/app/orch"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/dkeye/scribe/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url   string
	rooms *app.RoomManager
}

func newTestServer(t *testing.T, limiter *signal.RateLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms, err := app.NewRoomManager(app.DefaultRoomConfig(), store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(rooms.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ctl := signal.NewSignalWSController(orch.New(app.NewRegistry(), rooms), limiter, signal.Options{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("token"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", rooms: rooms}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// next reads frames until one of type typ arrives and decodes it into out.
func next(t *testing.T, ws *websocket.Conn, typ string, out any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == typ {
			if out != nil {
				require.NoError(t, json.Unmarshal(data, out))
			}
			return
		}
	}
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.dial(t, "tok-alice")
	bob := s.dial(t, "tok-bob")

	send(t, alice, map[string]any{"type": "create_room", "username": "Alice", "room_name": "Lounge"})
	var created core.RoomInfo
	next(t, alice, core.EventRoomInfo, &created)
	assert.True(t, created.IsHost)
	assert.Equal(t, "Lounge", created.RoomName)

	send(t, bob, map[string]any{"type": "join_room", "room_code": strings.ToLower(created.RoomCode), "username": "Bob"})
	var joined core.RoomInfo
	next(t, bob, core.EventRoomInfo, &joined)
	assert.False(t, joined.IsHost)
	assert.Len(t, joined.Members, 2)

	var sys core.SystemMessage
	next(t, alice, core.EventSystem, &sys)
	assert.Equal(t, "Bob has joined the chat.", sys.Text)

	send(t, bob, map[string]any{"type": "send_message", "message": "hi alice"})
	var msg core.ChatMessage
	next(t, alice, core.EventMessage, &msg)
	assert.Equal(t, "Bob", msg.Username)
	assert.Equal(t, "hi alice", msg.Message)
	assert.False(t, msg.IsOwn)

	var own core.ChatMessage
	next(t, bob, core.EventMessage, &own)
	assert.True(t, own.IsOwn)

	send(t, alice, map[string]any{"type": "ping"})
	next(t, alice, core.EventPong, nil)
}

func TestWebSocket_DisconnectLeavesRoom(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.dial(t, "tok-alice")
	bob := s.dial(t, "tok-bob")

	send(t, alice, map[string]any{"type": "create_room", "username": "Alice"})
	var info core.RoomInfo
	next(t, alice, core.EventRoomInfo, &info)
	send(t, bob, map[string]any{"type": "join_room", "room_code": info.RoomCode, "username": "Bob"})
	next(t, bob, core.EventRoomInfo, nil)

	require.NoError(t, bob.Close())

	var sys core.SystemMessage
	for sys.Text != "Bob has left the chat." {
		next(t, alice, core.EventSystem, &sys)
	}
	room, ok := s.rooms.Live(domain.RoomCode(info.RoomCode))
	require.True(t, ok)
	assert.Equal(t, 1, room.MemberCount())
}

func TestWebSocket_RejectsBadInput(t *testing.T) {
	s := newTestServer(t, signal.NewRateLimiter(2, time.Minute))
	alice := s.dial(t, "tok-alice")
	var errEv core.ErrorEvent

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	next(t, alice, core.EventError, &errEv)
	assert.Equal(t, "Invalid request", errEv.Message)

	send(t, alice, map[string]any{"type": "disconnect"})
	next(t, alice, core.EventError, &errEv)
	assert.Equal(t, "Unknown action", errEv.Message)

	send(t, alice, map[string]any{"type": "join_room", "room_code": "NOPE00", "username": "Alice"})
	next(t, alice, core.EventError, &errEv)
	assert.Equal(t, "Room not found", errEv.Message)

	send(t, alice, map[string]any{"type": "create_room", "username": "Alice"})
	next(t, alice, core.EventRoomInfo, nil)
	for i := 0; i < 2; i++ {
		send(t, alice, map[string]any{"type": "send_message", "message": "spam"})
		next(t, alice, core.EventMessage, nil)
	}
	send(t, alice, map[string]any{"type": "send_message", "message": "spam"})
	next(t, alice, core.EventError, &errEv)
	assert.Equal(t, "You are sending messages too fast", errEv.Message)
}
