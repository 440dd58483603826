package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesink/internal/schema"
)

func eventsTable(t *testing.T, name string) *schema.TableSchema {
	t.Helper()
	ts, err := schema.New(name, []schema.ColumnSpec{
		{Name: "name", Kind: schema.KindString},
		{Name: "n", Kind: schema.KindLong},
		{Name: "ok", Kind: schema.KindBool},
	})
	require.NoError(t, err)
	return ts
}

func TestBuildCreateTableSQL_Dialects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dialect Dialect
		table   string
		want    string
	}{
		{
			dialect: Postgres,
			table:   "public.events",
			want: "CREATE TABLE IF NOT EXISTS \"public\".\"events\" (\n" +
				"  \"name\" TEXT,\n  \"n\" BIGINT,\n  \"ok\" BOOLEAN\n);",
		},
		{
			dialect: MySQL,
			table:   "events",
			want: "CREATE TABLE IF NOT EXISTS `events` (\n" +
				"  `name` TEXT,\n  `n` BIGINT,\n  `ok` BOOLEAN\n);",
		},
		{
			dialect: SQLite,
			table:   "events",
			want: "CREATE TABLE IF NOT EXISTS \"events\" (\n" +
				"  \"name\" TEXT,\n  \"n\" INTEGER,\n  \"ok\" BOOLEAN\n);",
		},
		{
			dialect: MSSQL,
			table:   "dbo.events",
			want: "IF OBJECT_ID(N'[dbo].[events]', N'U') IS NULL\nBEGIN\n" +
				"  CREATE TABLE [dbo].[events] (\n" +
				"    [name] NVARCHAR(MAX),\n    [n] BIGINT,\n    [ok] BIT\n  );\nEND",
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.dialect), func(t *testing.T) {
			t.Parallel()
			got, err := BuildCreateTableSQL(tc.dialect, FromSchema(tc.dialect, eventsTable(t, tc.table)))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBuildCreateTableSQL_Errors(t *testing.T) {
	t.Parallel()

	_, err := BuildCreateTableSQL(Postgres, TableDef{Columns: []ColumnDef{{Name: "a", SQLType: "TEXT"}}})
	assert.ErrorContains(t, err, "FQN")

	_, err = BuildCreateTableSQL(Postgres, TableDef{FQN: "t"})
	assert.ErrorContains(t, err, "no columns")

	_, err = BuildCreateTableSQL(Postgres, TableDef{FQN: "t", Columns: []ColumnDef{{Name: " ", SQLType: "TEXT"}}})
	assert.ErrorContains(t, err, "empty name")

	_, err = BuildCreateTableSQL(Postgres, TableDef{FQN: "t", Columns: []ColumnDef{{Name: "a"}}})
	assert.ErrorContains(t, err, "missing SQLType")
}

func TestQuoteIdent_Escapes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"a""b"`, Postgres.quoteIdent(`a"b`))
	assert.Equal(t, `"events"`, Postgres.quoteIdent("Events"))
	assert.Equal(t, `"Events"`, SQLite.quoteIdent("Events"))
	assert.Equal(t, "`a``b`", MySQL.quoteIdent("a`b"))
	assert.Equal(t, "[a]]b]", MSSQL.quoteIdent("a]b"))
}

func TestSQLType_EveryKindMapped(t *testing.T) {
	t.Parallel()

	kinds := []schema.ColumnKind{
		schema.KindString, schema.KindShort, schema.KindInt, schema.KindLong,
		schema.KindFloat, schema.KindDouble, schema.KindByte, schema.KindBool,
	}
	for _, d := range []Dialect{Postgres, MySQL, MSSQL, SQLite} {
		for _, k := range kinds {
			assert.NotEmpty(t, strings.TrimSpace(d.SQLType(k)), "%s/%s", d, k)
		}
	}
	assert.Equal(t, "SMALLINT", MSSQL.SQLType(schema.KindByte))
	assert.Equal(t, "TINYINT", MySQL.SQLType(schema.KindByte))
	assert.Equal(t, "DOUBLE PRECISION", Postgres.SQLType(schema.KindDouble))
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	d, err := ParseDialect(" Postgres ")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}
