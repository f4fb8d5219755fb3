// Package presence tracks which users are online in which room. Entries live
// in one Redis sorted set per room, scored by the last heartbeat in unix
// milliseconds, and are filtered by a liveness window when read.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultWindow = 120 * time.Second

// touchScript raises a member's score but never lowers it, so a late
// heartbeat cannot regress a fresher one written by another instance.
var touchScript = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[2])
if (not cur) or tonumber(cur) < tonumber(ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
end
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

type Store struct {
	rdb    redis.UniversalClient
	window time.Duration
	now    func() time.Time
}

func NewStore(rdb redis.UniversalClient, window time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}

	return &Store{
		rdb:    rdb,
		window: window,
		now:    time.Now,
	}
}

func roomKey(roomId string) string {
	return fmt.Sprintf("room:%s:online", roomId)
}

// SetOnline records userId as present in roomId as of now.
func (s *Store) SetOnline(ctx context.Context, roomId, userId string) error {
	return s.touch(ctx, roomId, userId, s.now())
}

// Heartbeat refreshes an entry. It behaves like SetOnline; the separate name
// keeps call sites readable.
func (s *Store) Heartbeat(ctx context.Context, roomId, userId string) error {
	return s.touch(ctx, roomId, userId, s.now())
}

func (s *Store) touch(ctx context.Context, roomId, userId string, at time.Time) error {
	ttl := int64(s.window / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	err := touchScript.Run(ctx, s.rdb, []string{roomKey(roomId)}, at.UnixMilli(), userId, ttl).Err()
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

func (s *Store) SetOffline(ctx context.Context, roomId, userId string) error {
	if err := s.rdb.ZRem(ctx, roomKey(roomId), userId).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// OnlineUsers drops entries older than the liveness window and returns the
// remaining user ids, oldest heartbeat first.
func (s *Store) OnlineUsers(ctx context.Context, roomId string) ([]string, error) {
	key := roomKey(roomId)
	cutoff := s.now().Add(-s.window).UnixMilli()

	var rng *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		rng = pipe.ZRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	return rng.Val(), nil
}
