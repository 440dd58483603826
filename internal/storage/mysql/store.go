// Package mysql registers a MySQL-backed storage.Store using
// github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"tablesink/internal/storage"
	"tablesink/internal/storage/sqldb"
)

// newStore is a test hook that points to NewStore by default.
// Tests may replace this variable to avoid real DB connections.
var newStore = NewStore

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// driverConfig parses cfg.DSN (go-sql-driver format, e.g.
// "tcp(localhost:3306)/sink?parseTime=true") and applies the configured
// credentials.
func driverConfig(cfg storage.Config) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.User != "" {
		mc.User = cfg.User
	}
	if cfg.Password != "" {
		mc.Passwd = cfg.Password
	}
	return mc, nil
}

// NewStore connects to MySQL and returns a single-connection store.
func NewStore(ctx context.Context, cfg storage.Config) (*sqldb.Store, error) {
	mc, err := driverConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return sqldb.Open(ctx, sql.OpenDB(conn), "mysql", storage.Question)
}
