// Package store holds the RoomStore implementations behind the room registry.
package store

import (
	"context"
	"fmt"

	"github.com/dkeye/scribe/internal/config"
	"github.com/dkeye/scribe/internal/core"
	"github.com/rs/zerolog/log"
)

var (
	_ core.RoomStore = (*Memory)(nil)
	_ core.RoomStore = (*Redis)(nil)
	_ core.RoomStore = (*SQL)(nil)
)

// Open builds the store selected by store.driver.
func Open(ctx context.Context, cfg config.StoreConfig) (core.RoomStore, error) {
	var (
		s   core.RoomStore
		err error
	)
	switch cfg.Driver {
	case "", "memory":
		s = NewMemory()
	case "redis":
		s, err = DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	case "sql":
		s, err = OpenSQLite(cfg.SQLDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "store").Str("driver", cfg.Driver).Msg("store opened")
	return s, nil
}
