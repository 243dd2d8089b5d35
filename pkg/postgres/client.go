// Package postgres opens the PostgreSQL database the question and answer
// records are read from.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ippousyuga/search-lucene/pkg/config"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

// New opens a pooled connection and verifies it with a ping.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}
