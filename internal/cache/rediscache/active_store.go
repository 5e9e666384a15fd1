package rediscache

import (
	"context"
	"encoding/json"

	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ActiveStore keeps the tracked order of one device. The key has no TTL: tracking
// intent must survive until it is explicitly stopped.
type ActiveStore struct {
	c   *redis.Client
	key string
}

func NewActiveStore(addr, deviceID string) *ActiveStore {
	return &ActiveStore{
		c:   redis.NewClient(&redis.Options{Addr: addr}),
		key: "loadtrack:active:" + deviceID,
	}
}

func (s *ActiveStore) SaveActive(ctx context.Context, st models.ActiveTracking) error {
	b, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal active tracking")
	}
	if err := s.c.Set(ctx, s.key, b, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set active")
	}
	return nil
}

func (s *ActiveStore) LoadActive(ctx context.Context) (*models.ActiveTracking, error) {
	b, err := s.c.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get active")
	}
	var st models.ActiveTracking
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, errors.Wrap(err, "unmarshal active tracking")
	}
	return &st, nil
}

func (s *ActiveStore) ClearActive(ctx context.Context) error {
	if err := s.c.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "redis del active")
	}
	return nil
}

func (s *ActiveStore) Close() error {
	return s.c.Close()
}
