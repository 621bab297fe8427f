// Package redis implements the Monitor Store (store.Store, store.Batch)
// over Redis, following the key-namespace and connection conventions of the
// teacher's infra/storage/redis package.
package redis

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// client is the Redis-backed store.Store implementation.
type client struct {
	conn *redis.Client
}

// NewClient connects to addr and verifies reachability with a Ping before
// returning, exactly as the teacher's storage client does.
func NewClient(ctx context.Context, addr, username, password string, db int) (*client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &client{conn: conn}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}
