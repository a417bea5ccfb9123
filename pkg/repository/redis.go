package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/game"
)

// saveScript writes the snapshot only if it is not older than the stored one
// and keeps the live index in sync
var saveScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'snapshot', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
if ARGV[4] == '1' then
	redis.call('SADD', KEYS[2], ARGV[5])
else
	redis.call('SREM', KEYS[2], ARGV[5])
end
return 1
`)

// RedisStore keeps snapshots as hashes with a TTL and indexes live matches in a set
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to the Redis instance at redisURL
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("redis snapshot store ready", zap.String("addr", opts.Addr))
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Save writes the snapshot, keeping the newest version
func (s *RedisStore) Save(ctx context.Context, snap game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	live := "0"
	if snap.Status != game.StatusCompleted {
		live = "1"
	}

	written, err := saveScript.Run(ctx, s.rdb,
		[]string{snapshotKey(snap.MatchID), liveKey},
		snap.Version, data, s.ttl.Milliseconds(), live, snap.MatchID,
	).Int()
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.MatchID, err)
	}

	if written == 0 {
		s.logger.Debug("skipping stale snapshot",
			zap.String("match_id", snap.MatchID),
			zap.Int64("version", snap.Version))
	}

	return nil
}

// Load reads the stored snapshot of a match
func (s *RedisStore) Load(ctx context.Context, matchID string) (game.Snapshot, error) {
	raw, err := s.rdb.HGet(ctx, snapshotKey(matchID), "snapshot").Bytes()
	if errors.Is(err, redis.Nil) {
		return game.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("load snapshot %s: %w", matchID, err)
	}

	var snap game.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", matchID, err)
	}

	return snap, nil
}

// ListLive returns the IDs of all matches that have not completed. Index
// entries whose snapshot expired are pruned.
func (s *RedisStore) ListLive(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, liveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list live matches: %w", err)
	}

	pipe := s.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, snapshotKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("check live matches: %w", err)
		}
	}

	live := make([]string, 0, len(ids))
	var expired []interface{}
	for i, id := range ids {
		if exists[i].Val() == 0 {
			expired = append(expired, id)
			continue
		}
		live = append(live, id)
	}

	if len(expired) > 0 {
		if err := s.rdb.SRem(ctx, liveKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("prune live index: %w", err)
		}
		s.logger.Info("pruned expired matches from live index", zap.Int("count", len(expired)))
	}

	sort.Strings(live)
	return live, nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

const liveKey = "match:index:live"

func snapshotKey(matchID string) string { return "match:snapshot:" + strings.TrimSpace(matchID) }
