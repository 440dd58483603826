package ddl

import (
	"fmt"
	"strings"

	"tablesink/internal/schema"
)

// ColumnDef describes a single column of a CREATE TABLE statement.
type ColumnDef struct {
	Name    string
	SQLType string
}

// TableDef holds the table name (optionally schema-qualified, dotted) and an
// ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect selects identifier quoting, type mapping and the create guard.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	MSSQL    Dialect = "mssql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a storage kind to a Dialect.
func ParseDialect(kind string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(kind))); d {
	case Postgres, MySQL, MSSQL, SQLite:
		return d, nil
	}
	return "", fmt.Errorf("ddl: unsupported dialect %q", kind)
}

// SQLType returns the column type used for k. Types are chosen so that the
// bind value produced by ColumnSpec.Coerce fits without narrowing.
func (d Dialect) SQLType(k schema.ColumnKind) string {
	switch d {
	case Postgres:
		switch k {
		case schema.KindShort, schema.KindByte:
			return "SMALLINT"
		case schema.KindInt:
			return "INTEGER"
		case schema.KindLong:
			return "BIGINT"
		case schema.KindFloat:
			return "REAL"
		case schema.KindDouble:
			return "DOUBLE PRECISION"
		case schema.KindBool:
			return "BOOLEAN"
		}
		return "TEXT"
	case MySQL:
		switch k {
		case schema.KindShort:
			return "SMALLINT"
		case schema.KindByte:
			return "TINYINT"
		case schema.KindInt:
			return "INT"
		case schema.KindLong:
			return "BIGINT"
		case schema.KindFloat:
			return "FLOAT"
		case schema.KindDouble:
			return "DOUBLE"
		case schema.KindBool:
			return "BOOLEAN"
		}
		return "TEXT"
	case MSSQL:
		switch k {
		// TINYINT is unsigned in SQL Server.
		case schema.KindShort, schema.KindByte:
			return "SMALLINT"
		case schema.KindInt:
			return "INT"
		case schema.KindLong:
			return "BIGINT"
		case schema.KindFloat:
			return "REAL"
		case schema.KindDouble:
			return "FLOAT"
		case schema.KindBool:
			return "BIT"
		}
		return "NVARCHAR(MAX)"
	default:
		switch k {
		case schema.KindString:
			return "TEXT"
		case schema.KindFloat, schema.KindDouble:
			return "REAL"
		case schema.KindBool:
			return "BOOLEAN"
		}
		return "INTEGER"
	}
}

// FromSchema builds the table definition for t in dialect d.
func FromSchema(d Dialect, t *schema.TableSchema) TableDef {
	td := TableDef{FQN: t.Name, Columns: make([]ColumnDef, len(t.Columns))}
	for i, c := range t.Columns {
		td.Columns[i] = ColumnDef{Name: c.Name, SQLType: d.SQLType(c.Kind)}
	}
	return td
}
