package store

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
)

// Memory keeps records in process. Rooms do not survive a restart.
type Memory struct {
	mu   sync.RWMutex
	recs map[domain.RoomCode]*core.RoomRecord
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[domain.RoomCode]*core.RoomRecord)}
}

func (m *Memory) Insert(_ context.Context, rec *core.RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.Code]; ok {
		return core.ErrCodeTaken
	}
	m.recs[rec.Code] = clone(rec)
	return nil
}

func (m *Memory) Get(_ context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[code]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	return clone(rec), nil
}

func (m *Memory) Put(_ context.Context, rec *core.RoomRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Code] = clone(rec)
	return nil
}

func (m *Memory) Delete(_ context.Context, code domain.RoomCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, code)
	return nil
}

func (m *Memory) ListIdle(_ context.Context, before time.Time) ([]domain.RoomCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.RoomCode
	for code, rec := range m.recs {
		if !rec.LastActiveAt.After(before) {
			out = append(out, code)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func clone(rec *core.RoomRecord) *core.RoomRecord {
	cp := *rec
	cp.Members = append([]core.MemberRecord(nil), rec.Members...)
	cp.Messages = append([]domain.Message(nil), rec.Messages...)
	return &cp
}
