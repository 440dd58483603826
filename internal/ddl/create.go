// Package ddl renders CREATE TABLE statements for schema-document tables and
// can create missing destination tables before their inserts are prepared.
//
// Every column is nullable and no keys are declared: the sink only appends
// rows, so the table shape is exactly the document's column list.
package ddl

import (
	"fmt"
	"strings"
)

// BuildCreateTableSQL renders an idempotent CREATE TABLE statement for t.
//
// Postgres, MySQL and SQLite use CREATE TABLE IF NOT EXISTS. SQL Server has
// no such clause, so the statement is wrapped in an OBJECT_ID guard:
//
//	IF OBJECT_ID(N'[dbo].[events]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [dbo].[events] (...);
//	END
func BuildCreateTableSQL(d Dialect, t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: table %s has no columns", fqn)
	}

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}
		cols = append(cols, d.quoteIdent(name)+" "+typ)
	}

	table := d.quoteFQN(fqn)
	if d == MSSQL {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND",
			strings.ReplaceAll(table, "'", "''"),
			table,
			strings.Join(cols, ",\n    "),
		), nil
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		table,
		strings.Join(cols, ",\n  "),
	), nil
}

// quoteFQN quotes each dotted part of name.
func (d Dialect) quoteFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func (d Dialect) quoteIdent(s string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	case MSSQL:
		return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
	case Postgres:
		// Inserts name tables unquoted, which Postgres folds to lower case.
		return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"`
	default:
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}
