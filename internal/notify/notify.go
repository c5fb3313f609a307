// Package notify publishes room lifecycle events for outside observers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes every event on "<prefix>.<kind>", e.g. scribe.rooms.created.
type NATS struct {
	conn   publisher
	prefix string
	close  func()
}

func NewNATS(conn publisher, prefix string) *NATS {
	return &NATS{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Dial connects with unlimited reconnects so a restarted broker does not
// silence the publisher.
func Dial(url, prefix string) (*NATS, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("scribe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	n := NewNATS(conn, prefix)
	n.close = conn.Close
	return n, nil
}

func (n *NATS) Subject(kind core.LifecycleKind) string {
	return n.prefix + "." + string(kind)
}

func (n *NATS) Publish(_ context.Context, ev core.LifecycleEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "notify").Msg("encode lifecycle event")
		return
	}
	subject := n.Subject(ev.Kind)
	if err := n.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("module", "notify").Str("subject", subject).Str("room", string(ev.Code)).Msg("publish failed")
		return
	}
	log.Debug().Str("module", "notify").Str("subject", subject).Str("room", string(ev.Code)).Msg("published")
}

func (n *NATS) Close() {
	if n.close != nil {
		n.close()
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, core.LifecycleEvent) {}
