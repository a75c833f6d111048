package services

import (
	"context"
	"encoding/json"
	"time"

	"subsplit-backend/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GroupCache is an explicit, expiring read-through cache for group summaries.
// Lookups always carry a TTL; there is no ambient shared state to invalidate.
type GroupCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewGroupCache(rdb *redis.Client, ttl time.Duration) *GroupCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &GroupCache{rdb: rdb, ttl: ttl}
}

func (c *GroupCache) Get(ctx context.Context, groupID uuid.UUID) (*models.GroupResponse, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, c.key(groupID)).Bytes()
	if err != nil {
		return nil, false
	}
	var resp models.GroupResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *GroupCache) Put(ctx context.Context, resp *models.GroupResponse) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, c.key(resp.ID), raw, c.ttl)
}

// Invalidate drops the cached summary after any mutation to the group.
func (c *GroupCache) Invalidate(ctx context.Context, groupID uuid.UUID) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Del(ctx, c.key(groupID))
}

func (c *GroupCache) key(groupID uuid.UUID) string {
	return "group-summary:" + groupID.String()
}
