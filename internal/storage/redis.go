package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStorage keeps collections as JSON values under "collection:id"
// keys. Records never expire; the feedback review tooling reads them out
// of band.
type RedisStorage struct {
	rdb *redis.Client
}

func NewRedisStorage(config RedisConfig) (*RedisStorage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}

	return &RedisStorage{rdb: rdb}, nil
}

type redisCollection struct {
	rdb  *redis.Client
	name string
}

func (s *RedisStorage) collection(name string) Collection {
	return &redisCollection{rdb: s.rdb, name: name}
}

func (s *RedisStorage) Feedbacks() Collection   { return s.collection("feedbacks") }
func (s *RedisStorage) Surveys() Collection     { return s.collection("surveys") }
func (s *RedisStorage) Transcripts() Collection { return s.collection("transcripts") }
func (s *RedisStorage) Workspaces() Collection  { return s.collection("workspaces") }

func (c *redisCollection) key(id string) string {
	return c.name + ":" + id
}

func (c *redisCollection) Get(ctx context.Context, id string, out any) error {
	raw, err := c.rdb.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error querying record %s/%s: %v", c.name, id, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decoding record %s/%s: %v", c.name, id, err)
	}
	return nil
}

func (c *redisCollection) Save(ctx context.Context, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding record %s/%s: %v", c.name, id, err)
	}

	if err := c.rdb.Set(ctx, c.key(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("error saving record %s/%s: %v", c.name, id, err)
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
