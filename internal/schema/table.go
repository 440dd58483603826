package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrArityMismatch is returned when a row's field count differs from the
// table's column count.
var ErrArityMismatch = errors.New("arity mismatch")

var (
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
	tableIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)
)

// TableSchema is an ordered, non-empty set of columns for one destination
// table. Column order is both the positional bind order and the expected
// arity of incoming rows.
type TableSchema struct {
	Name    string
	Columns []ColumnSpec

	insert string
}

// New validates name and columns and precomputes the insert statement.
// Names must be plain SQL identifiers; the table name may be
// schema-qualified ("public.events").
func New(name string, columns []ColumnSpec) (*TableSchema, error) {
	if !tableIdentRe.MatchString(name) {
		return nil, fmt.Errorf("invalid table name %q", name)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q: no columns", name)
	}
	seen := make(map[string]struct{}, len(columns))
	cols := make([]ColumnSpec, len(columns))
	for i, c := range columns {
		if !identRe.MatchString(c.Name) {
			return nil, fmt.Errorf("table %q: invalid column name %q", name, c.Name)
		}
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("table %q: duplicate column %q", name, c.Name)
		}
		seen[key] = struct{}{}
		if c.Kind < KindString || c.Kind > KindBool {
			return nil, fmt.Errorf("table %q: column %q has invalid kind %d", name, c.Name, int(c.Kind))
		}
		cols[i] = c
	}

	t := &TableSchema{Name: name, Columns: cols}
	t.insert = buildInsert(name, cols)
	return t, nil
}

func buildInsert(table string, cols []ColumnSpec) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.Name)
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
	return b.String()
}

// InsertStatement returns the positional INSERT text with '?' placeholders,
// one per column in column order.
func (t *TableSchema) InsertStatement() string { return t.insert }

// ColumnNames returns the column names in bind order.
func (t *TableSchema) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate reports whether fields has exactly one value per column.
func (t *TableSchema) Validate(fields []string) error {
	if len(fields) != len(t.Columns) {
		return fmt.Errorf("table %q: got %d fields, want %d: %w", t.Name, len(fields), len(t.Columns), ErrArityMismatch)
	}
	return nil
}

// BindRow validates arity and coerces every field positionally. Values are
// never bound by name.
func (t *TableSchema) BindRow(fields []string) ([]any, error) {
	if err := t.Validate(fields); err != nil {
		return nil, err
	}
	row := make([]any, len(fields))
	for i, c := range t.Columns {
		v, err := coerce(c.Kind, fields[i])
		if err != nil {
			return nil, &CoercionError{Column: c.Name, Position: i, Kind: c.Kind, Value: fields[i], Err: err}
		}
		row[i] = v
	}
	return row, nil
}
