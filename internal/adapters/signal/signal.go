package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/scribe/internal/app/orch"
	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// Dispatcher receives decoded connection events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev orch.Event) error
}

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch    Dispatcher
	Limiter *RateLimiter
	opts    Options
}

func NewSignalWSController(d Dispatcher, limiter *RateLimiter, opts Options) *SignalWSController {
	return &SignalWSController{Orch: d, Limiter: limiter, opts: opts.withDefaults()}
}

// WsSignalConn implements core.SignalConnection over a websocket. Frames are
// queued on send and written by writePump.
type WsSignalConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(id domain.ConnID, ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{id: id, conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) ID() domain.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. writePump drains what is queued and then
// closes the socket, which ends readPump.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := domain.ClientToken(c.GetString("client_token"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(domain.NewConnID(), ws, ctl.opts.SendBuffer)
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("token", string(token)).Msg("new WS connection")

	if err := ctl.Orch.Dispatch(ctx, orch.Event{Kind: orch.EventConnect, Conn: conn.id, Transport: conn, Token: token}); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bind connection")
		_ = ws.Close()
		return
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}
