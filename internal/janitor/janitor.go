// Package janitor expires rooms that saw no activity for too long.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/rs/zerolog/log"
)

// Expirer removes one idle room. It reports false when the room turned out
// to be active again or already gone.
type Expirer interface {
	Expire(ctx context.Context, code domain.RoomCode, cutoff time.Time) (bool, error)
}

type Janitor struct {
	store    core.RoomStore
	rooms    Expirer
	interval time.Duration
	maxIdle  time.Duration
	now      func() time.Time
}

func New(store core.RoomStore, rooms Expirer, interval, maxIdle time.Duration) *Janitor {
	return &Janitor{store: store, rooms: rooms, interval: interval, maxIdle: maxIdle, now: time.Now}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Str("module", "janitor").Dur("interval", j.interval).Dur("max_idle", j.maxIdle).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("module", "janitor").Msg("sweep failed")
			}
		}
	}
}

// Sweep expires every room idle for longer than maxIdle and returns how many went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.maxIdle)
	codes, err := j.store.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list idle rooms: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, code := range codes {
		ok, err := j.rooms.Expire(ctx, code, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", code, err))
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 || len(errs) > 0 {
		log.Info().Str("module", "janitor").Int("candidates", len(codes)).Int("expired", expired).Int("failed", len(errs)).Msg("sweep done")
	}
	return expired, errors.Join(errs...)
}

// StoreOnly expires rooms directly in the store. It serves the one-shot
// cleanup command, which runs without live rooms.
type StoreOnly struct {
	Store core.RoomStore
}

func (s StoreOnly) Expire(ctx context.Context, code domain.RoomCode, cutoff time.Time) (bool, error) {
	rec, err := s.Store.Get(ctx, code)
	if errors.Is(err, core.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rec.LastActiveAt.After(cutoff) {
		return false, nil
	}
	if err := s.Store.Delete(ctx, code); err != nil {
		return false, err
	}
	log.Info().Str("module", "janitor").Str("room", string(code)).Str("name", rec.Name).Msg("deleted inactive room")
	return true, nil
}
