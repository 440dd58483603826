// Package mssql registers a Microsoft SQL Server storage.Store using
// github.com/microsoft/go-mssqldb. Statements use @pN placeholders.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"tablesink/internal/storage"
	"tablesink/internal/storage/sqldb"
)

// newStore is a test hook that points to NewStore by default.
// Tests may replace this variable to avoid real DB connections.
var newStore = NewStore

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// withCredentials merges user and password into dsn. URL DSNs
// ("sqlserver://host?database=x") get userinfo; ADO DSNs
// ("server=host;database=x") get "user id" and "password" keys.
func withCredentials(dsn, user, password string) (string, error) {
	if user == "" && password == "" {
		return dsn, nil
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("mssql dsn: %w", err)
		}
		u.User = url.UserPassword(user, password)
		return u.String(), nil
	}
	if strings.ContainsAny(user+password, ";") {
		return "", fmt.Errorf("mssql dsn: credentials must not contain ';' in ADO connection strings; use a sqlserver:// URL")
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(dsn, "; "))
	if user != "" {
		b.WriteString(";user id=")
		b.WriteString(user)
	}
	if password != "" {
		b.WriteString(";password=")
		b.WriteString(password)
	}
	return b.String(), nil
}

// NewStore validates the DSN, connects, and returns a single-connection store.
func NewStore(ctx context.Context, cfg storage.Config) (*sqldb.Store, error) {
	dsn, err := withCredentials(cfg.DSN, cfg.User, cfg.Password)
	if err != nil {
		return nil, err
	}
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	conn, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql connector: %w", err)
	}
	return sqldb.Open(ctx, sql.OpenDB(conn), "mssql", storage.AtP)
}
