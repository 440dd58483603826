// Package schema describes destination tables: their ordered, typed columns
// and the positional INSERT statement derived from them.
//
// A TableSchema is immutable once built. The registry shares the same value
// across goroutines, so nothing here may be mutated after New returns.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ColumnKind is the primitive type of a destination column.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindByte
	KindBool
)

var kindNames = [...]string{
	KindString: "string",
	KindShort:  "short",
	KindInt:    "int",
	KindLong:   "long",
	KindFloat:  "float",
	KindDouble: "double",
	KindByte:   "byte",
	KindBool:   "boolean",
}

// String returns the document name of the kind (e.g. "long").
func (k ColumnKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a schema document kind name to a ColumnKind. Matching is
// case-insensitive and "bool" is accepted as an alias of "boolean".
func ParseKind(s string) (ColumnKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "bool" {
		return KindBool, nil
	}
	for k, n := range kindNames {
		if n == name {
			return ColumnKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown column kind %q", s)
}

// ErrCoercion is matched by every *CoercionError.
var ErrCoercion = errors.New("type coercion failed")

// CoercionError reports a raw text value that does not parse as its column's
// kind.
type CoercionError struct {
	Column   string
	Position int // 0-based position within the row; -1 when not applicable
	Kind     ColumnKind
	Value    string
	Err      error
}

func (e *CoercionError) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("column %q (#%d): cannot coerce %q to %s: %v", e.Column, e.Position, e.Value, e.Kind, e.Err)
	}
	return fmt.Sprintf("column %q: cannot coerce %q to %s: %v", e.Column, e.Value, e.Kind, e.Err)
}

func (e *CoercionError) Unwrap() []error { return []error{ErrCoercion, e.Err} }

// ColumnSpec is one destination column.
type ColumnSpec struct {
	Name string
	Kind ColumnKind
}

// Coerce converts raw text into the bind value for this column. The Go type of
// the result is fixed per kind: string, int16, int32, int64, float32, float64,
// int8 or bool. Text is never trimmed.
func (c ColumnSpec) Coerce(text string) (any, error) {
	v, err := coerce(c.Kind, text)
	if err != nil {
		return nil, &CoercionError{Column: c.Name, Position: -1, Kind: c.Kind, Value: text, Err: err}
	}
	return v, nil
}

func coerce(kind ColumnKind, s string) (any, error) {
	switch kind {
	case KindString:
		return s, nil
	case KindShort:
		n, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return nil, numErr(err)
		}
		return int16(n), nil
	case KindInt:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, numErr(err)
		}
		return int32(n), nil
	case KindLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, numErr(err)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, numErr(err)
		}
		return float32(f), nil
	case KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, numErr(err)
		}
		return f, nil
	case KindByte:
		n, err := strconv.ParseInt(s, 10, 8)
		if err != nil {
			return nil, numErr(err)
		}
		return int8(n), nil
	case KindBool:
		switch {
		case strings.EqualFold(s, "true"):
			return true, nil
		case strings.EqualFold(s, "false"):
			return false, nil
		}
		return nil, errors.New("expected true or false")
	}
	return nil, fmt.Errorf("unsupported kind %d", int(kind))
}

// numErr drops strconv's "strconv.ParseInt: parsing ..." prefix, which repeats
// the value already carried by CoercionError.
func numErr(err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		return ne.Err
	}
	return err
}
