package services

import (
	"context"
	"fmt"
	"time"

	"subsplit-backend/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RoundLocker guards a group's charge round across instances with a Redis
// SetNX lease. A nil client degrades to the database phase guard alone.
type RoundLocker struct {
	rdb *redis.Client
}

func NewRoundLocker(rdb *redis.Client) *RoundLocker {
	return &RoundLocker{rdb: rdb}
}

func (r *RoundLocker) Acquire(ctx context.Context, groupID uuid.UUID, ttl time.Duration) (func(), error) {
	if r == nil || r.rdb == nil {
		return func() {}, nil
	}
	key := "round-lock:" + groupID.String()
	ok, err := r.rdb.SetNX(ctx, key, uuid.NewString(), ttl).Result()
	if err != nil {
		// Redis being down never blocks collection; the phase guard still holds.
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: a charge round is already in flight for this group", store.ErrConflict)
	}
	return func() {
		r.rdb.Del(context.Background(), key)
	}, nil
}
