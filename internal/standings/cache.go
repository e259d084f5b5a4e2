package standings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arena-oj/judgeserver/types"
)

// Frozen snapshots are cheap to recompute, so the cache TTL is short.
// It mainly absorbs scoreboard refresh storms near the end of a contest.
const frozenSnapshotTTL = 15 * time.Second

// RedisCache caches frozen scoreboard snapshots in Redis. Cache
// failures degrade to recomputation, never to an error for the viewer.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a snapshot cache on the given client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func frozenKey(contestID int) string {
	return fmt.Sprintf("standings:frozen:%d", contestID)
}

func (c *RedisCache) GetFrozen(ctx context.Context, contestID int) ([]types.StandingsRow, bool) {
	data, err := c.client.Get(ctx, frozenKey(contestID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("read frozen standings for contest %d: %v", contestID, err)
		}
		return nil, false
	}
	var rows []types.StandingsRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *RedisCache) SetFrozen(ctx context.Context, contestID int, rows []types.StandingsRow) {
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, frozenKey(contestID), data, frozenSnapshotTTL).Err(); err != nil {
		log.Printf("cache frozen standings for contest %d: %v", contestID, err)
	}
}
