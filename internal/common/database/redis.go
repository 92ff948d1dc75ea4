// Package database opens the connections backing the local override store.
package database

import (
	"context"
	"fmt"
	"time"

	"approval-sync/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisConn is a Redis connection that answered a ping when it was opened.
type RedisConn struct {
	client *redis.Client
	addr   string
}

// ConnectRedis dials cfg.Address and pings it. A connection whose ping fails
// is closed before returning.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*RedisConn, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	conn := &RedisConn{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Address,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}),
		addr: cfg.Address,
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.client.Close()
		return nil, err
	}
	return conn, nil
}

func (c *RedisConn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	return nil
}

// Client returns the underlying *redis.Client.
func (c *RedisConn) Client() *redis.Client {
	return c.client
}

func (c *RedisConn) Close() error {
	return c.client.Close()
}

// Stats reports the connection pool counters as log fields.
func (c *RedisConn) Stats() map[string]interface{} {
	ps := c.client.PoolStats()
	return map[string]interface{}{
		"address":    c.addr,
		"totalConns": ps.TotalConns,
		"idleConns":  ps.IdleConns,
		"hits":       ps.Hits,
		"misses":     ps.Misses,
		"timeouts":   ps.Timeouts,
	}
}
