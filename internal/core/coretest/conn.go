// Package coretest provides a recording SignalConnection for tests.
package coretest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
)

var (
	ErrFull   = errors.New("coretest: buffer full")
	ErrClosed = errors.New("coretest: closed")
)

// Conn records every frame it accepts. SetFull makes TrySend fail the way a
// saturated transport would.
type Conn struct {
	id domain.ConnID

	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func NewConn(id string) *Conn {
	return &Conn{id: domain.ConnID(id)}
}

func (c *Conn) ID() domain.ConnID { return c.id }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.full {
		return ErrFull
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

// Types lists the "type" field of every recorded frame in order.
func (c *Conn) Types() []string {
	var out []string
	for _, f := range c.Frames() {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (c *Conn) Count(typ string) int {
	n := 0
	for _, t := range c.Types() {
		if t == typ {
			n++
		}
	}
	return n
}

// Of decodes every recorded frame of the given type into T.
func Of[T any](c *Conn, typ string) []T {
	var out []T
	for _, f := range c.Frames() {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f, &env) != nil || env.Type != typ {
			continue
		}
		var v T
		if json.Unmarshal(f, &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

// Last returns the most recent frame of the given type decoded into T.
func Last[T any](c *Conn, typ string) (T, bool) {
	all := Of[T](c, typ)
	if len(all) == 0 {
		var zero T
		return zero, false
	}
	return all[len(all)-1], true
}
