package overrides

import (
	"context"
	"fmt"

	"approval-sync/internal/common/config"
	"approval-sync/internal/common/database"
)

// Backing is an opened KV together with its connection lifecycle.
type Backing struct {
	KV     KV
	Driver string
	ping   func(ctx context.Context) error
	close  func() error
	stats  func() map[string]interface{}
}

// Ping checks the connection of the backing store.
func (b *Backing) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the connection of the backing store.
func (b *Backing) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Stats returns connection pool fields for logging, tagged with the driver.
func (b *Backing) Stats() map[string]interface{} {
	fields := map[string]interface{}{"driver": b.Driver}
	if b.stats != nil {
		for k, v := range b.stats() {
			fields[k] = v
		}
	}
	return fields
}

// Open connects the KV selected by cfg.Driver and verifies it answers.
func Open(ctx context.Context, cfg config.OverridesConfig, db config.DatabaseConfig) (*Backing, error) {
	switch cfg.Driver {
	case "", "memory":
		return &Backing{KV: NewMemoryKV(), Driver: "memory"}, nil

	case "redis":
		conn, err := database.ConnectRedis(ctx, db.Redis)
		if err != nil {
			return nil, err
		}
		return &Backing{
			KV:     NewRedisKV(conn.Client()),
			Driver: cfg.Driver,
			ping:   conn.Ping,
			close:  conn.Close,
			stats:  conn.Stats,
		}, nil

	case "postgres":
		conn, err := database.ConnectPostgres(ctx, db.Postgres)
		if err != nil {
			return nil, err
		}
		kv, err := NewPostgresKV(conn.DB(), cfg.Table)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("ensure override table: %w", err)
		}
		return &Backing{
			KV:     kv,
			Driver: cfg.Driver,
			ping:   conn.Ping,
			close:  conn.Close,
			stats:  conn.Stats,
		}, nil
	}
	return nil, fmt.Errorf("unknown override driver %q", cfg.Driver)
}
