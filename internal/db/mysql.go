package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenMySQL opens the transactional store and pings it.
func OpenMySQL(c config.DatabaseConfig) (*sqlx.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	return open("mysql", c, 5*time.Second)
}

// open applies the pool settings of c and pings with pingDefault when
// c.PingTimeout is unset.
func open(driver string, c config.DatabaseConfig, pingDefault time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, c.DSN)
	if err != nil {
		return nil, err
	}

	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = pingDefault
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}
