// Package all wires every built-in storage backend into the storage factory.
//
// The package exists purely for side effects: importing it (as a blank
// import) runs each backend's init, which registers its factory. After that
// the kinds "postgres", "mysql", "mssql" and "sqlite" are available through
// storage.New:
//
//	import _ "tablesink/internal/storage/all"
//
//	store, err := storage.New(ctx, storage.Config{Kind: cfg.Store.Driver, DSN: cfg.Store.DSN})
//
// A binary that needs only a subset of backends can blank-import those
// packages directly instead.
package all

import (
	_ "tablesink/internal/storage/mssql"
	_ "tablesink/internal/storage/mysql"
	_ "tablesink/internal/storage/postgres"
	_ "tablesink/internal/storage/sqlite"
)
