package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dkeye/scribe/internal/core"
	"github.com/dkeye/scribe/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisRoomPrefix  = "scribe:room:"
	redisActiveIndex = "scribe:rooms:active"
)

// Redis stores one JSON document per room and a sorted set of codes scored
// by last activity, which the janitor scans.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis connects and pings before handing the store out.
func DialRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(client), nil
}

func roomKey(code domain.RoomCode) string { return redisRoomPrefix + string(code) }

// insertScript claims the room key and indexes it in one step, so a code is
// never stored without an activity score.
var insertScript = redis.NewScript(`
	if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
	return 1
`)

func (s *Redis) Insert(ctx context.Context, rec *core.RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	claimed, err := insertScript.Run(ctx, s.client,
		[]string{roomKey(rec.Code), redisActiveIndex},
		data, rec.LastActiveAt.UnixMilli(), string(rec.Code),
	).Int()
	if err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	if claimed == 0 {
		return core.ErrCodeTaken
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, code domain.RoomCode) (*core.RoomRecord, error) {
	data, err := s.client.Get(ctx, roomKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var rec core.RoomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", code, err)
	}
	return &rec, nil
}

func (s *Redis) Put(ctx context.Context, rec *core.RoomRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomKey(rec.Code), data, 0)
		pipe.ZAdd(ctx, redisActiveIndex, activeMember(rec))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, code domain.RoomCode) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(code))
		pipe.ZRem(ctx, redisActiveIndex, string(code))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (s *Redis) ListIdle(ctx context.Context, before time.Time) ([]domain.RoomCode, error) {
	codes, err := s.client.ZRangeByScore(ctx, redisActiveIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	out := make([]domain.RoomCode, 0, len(codes))
	for _, c := range codes {
		out = append(out, domain.RoomCode(c))
	}
	return out, nil
}

func (s *Redis) Close() error { return s.client.Close() }

func activeMember(rec *core.RoomRecord) redis.Z {
	return redis.Z{Score: float64(rec.LastActiveAt.UnixMilli()), Member: string(rec.Code)}
}
