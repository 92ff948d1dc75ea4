package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"approval-sync/internal/common/config"

	_ "github.com/lib/pq"
)

// PostgresConn is a connection pool that answered a ping when it was opened.
type PostgresConn struct {
	db       *sql.DB
	database string
}

// ConnectPostgres opens a pool sized from cfg and pings it. A pool whose
// ping fails is closed before returning.
func ConnectPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresConn, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	conn := &PostgresConn{db: db, database: cfg.Database}
	if err := conn.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return conn, nil
}

func (c *PostgresConn) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping %s: %w", c.database, err)
	}
	return nil
}

// DB returns the underlying pool.
func (c *PostgresConn) DB() *sql.DB {
	return c.db
}

func (c *PostgresConn) Close() error {
	return c.db.Close()
}

// Stats reports the pool counters as log fields.
func (c *PostgresConn) Stats() map[string]interface{} {
	s := c.db.Stats()
	return map[string]interface{}{
		"database":        c.database,
		"openConnections": s.OpenConnections,
		"inUse":           s.InUse,
		"idle":            s.Idle,
		"waitCount":       s.WaitCount,
	}
}
