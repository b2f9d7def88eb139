package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis-backed stores for deployments running more than one instance
// behind a load balancer, where the answer webhook may land on a
// different instance than the prepare-call request. GETDEL gives the
// same atomic read-and-remove the in-memory stores provide.

const (
	pendingKeyPrefix = "callbridge:pending:"
	legKeyPrefix     = "callbridge:leg:"

	// pendingTTL bounds abandoned entries: an operator who prepares a
	// call but never dials should not pin the number forever.
	pendingTTL = 15 * time.Minute

	// legTTL outlives any realistic call so a hangup always finds the
	// correlation while still garbage-collecting crashed calls.
	legTTL = 12 * time.Hour
)

type RedisPendingCalls struct {
	rdb *redis.Client
}

func NewRedisPendingCalls(rdb *redis.Client) *RedisPendingCalls {
	return &RedisPendingCalls{rdb: rdb}
}

func (s *RedisPendingCalls) Put(ctx context.Context, operatorID, customerNumber string) error {
	return s.rdb.Set(ctx, pendingKeyPrefix+operatorID, customerNumber, pendingTTL).Err()
}

func (s *RedisPendingCalls) Take(ctx context.Context, operatorID string) (string, bool, error) {
	number, err := s.rdb.GetDel(ctx, pendingKeyPrefix+operatorID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return number, true, nil
}

type RedisLegLinks struct {
	rdb *redis.Client
}

func NewRedisLegLinks(rdb *redis.Client) *RedisLegLinks {
	return &RedisLegLinks{rdb: rdb}
}

func (s *RedisLegLinks) Link(ctx context.Context, operatorLegID, customerLegID string) error {
	return s.rdb.Set(ctx, legKeyPrefix+operatorLegID, customerLegID, legTTL).Err()
}

func (s *RedisLegLinks) Take(ctx context.Context, operatorLegID string) (string, bool, error) {
	customerLegID, err := s.rdb.GetDel(ctx, legKeyPrefix+operatorLegID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return customerLegID, true, nil
}
