package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenClickHouse opens the attempt analytics store, e.g.
// clickhouse://default:@localhost:9000/whgw?dial_timeout=5s&compress=true
func OpenClickHouse(c config.ClickHouseConfig) (*sqlx.DB, error) {
	if !c.Enabled {
		return nil, fmt.Errorf("clickhouse is disabled")
	}
	return open("clickhouse", c.DatabaseConfig, 3*time.Second)
}
