package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

const storeOpTimeout = 5 * time.Second

// pendingOp is the latest state of one room waiting to reach the store.
// rec == nil means delete.
type pendingOp struct {
	rec *core.RoomRecord
}

func (op pendingOp) isDelete() bool { return op.rec == nil }

// Persister writes room transitions to the store off the room lock.
// Ops for one code coalesce to the newest; a delete supersedes any save.
// Failed ops are retried on the next tick unless something newer arrived.
type Persister struct {
	store    core.RoomStore
	interval time.Duration

	mu        sync.Mutex
	pending   map[domain.RoomCode]pendingOp
	onDeleted func(domain.RoomCode)

	flushMu sync.Mutex
	wake    chan struct{}
}

func NewPersister(store core.RoomStore, retryInterval time.Duration) *Persister {
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}
	return &Persister{
		store:    store,
		interval: retryInterval,
		pending:  make(map[domain.RoomCode]pendingOp),
		wake:     make(chan struct{}, 1),
	}
}

// OnDeleted registers a callback run after a delete reached the store.
func (p *Persister) OnDeleted(fn func(domain.RoomCode)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDeleted = fn
}

func (p *Persister) Save(rec *core.RoomRecord) {
	p.mu.Lock()
	cur, ok := p.pending[rec.Code]
	if ok && (cur.isDelete() || cur.rec.Version >= rec.Version) {
		p.mu.Unlock()
		return
	}
	p.pending[rec.Code] = pendingOp{rec: rec}
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) Delete(code domain.RoomCode) {
	p.mu.Lock()
	p.pending[code] = pendingOp{}
	p.mu.Unlock()
	p.signal()
}

func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run flushes on every wake-up and retries on a ticker until ctx is done,
// then makes one last attempt.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.persister").Dur("retry", p.interval).Msg("persister started")
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			p.Flush(final)
			cancel()
			if n := p.Pending(); n > 0 {
				log.Warn().Str("module", "app.persister").Int("pending", n).Msg("stopped with unsaved rooms")
			}
			return nil
		case <-p.wake:
			p.Flush(ctx)
		case <-ticker.C:
			if p.Pending() > 0 {
				p.Flush(ctx)
			}
		}
	}
}

// Flush applies every pending op once. It reports how many failed.
func (p *Persister) Flush(ctx context.Context) int {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[domain.RoomCode]pendingOp, len(batch))
	onDeleted := p.onDeleted
	p.mu.Unlock()

	failed := 0
	for code, op := range batch {
		if err := p.apply(ctx, code, op); err != nil {
			failed++
			log.Warn().Err(err).Str("module", "app.persister").Str("room", string(code)).Bool("delete", op.isDelete()).Msg("store write failed, will retry")
			p.requeue(code, op)
			continue
		}
		if op.isDelete() && onDeleted != nil {
			onDeleted(code)
		}
	}
	return failed
}

func (p *Persister) apply(ctx context.Context, code domain.RoomCode, op pendingOp) error {
	ctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	if op.isDelete() {
		return p.store.Delete(ctx, code)
	}
	return p.store.Put(ctx, op.rec)
}

func (p *Persister) requeue(code domain.RoomCode, op pendingOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, newer := p.pending[code]; newer {
		return
	}
	p.pending[code] = op
}
