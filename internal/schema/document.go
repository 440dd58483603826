package schema

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a schema source. JSON documents decode
// too since JSON is a subset of YAML. The camelCase keys are accepted for
// compatibility with older sink configs ("tableConfig", "tableName", "type").
type document struct {
	Tables      []tableDoc `yaml:"tables"`
	TableConfig []tableDoc `yaml:"tableConfig"`
}

type tableDoc struct {
	Name      string      `yaml:"name"`
	TableName string      `yaml:"tableName"`
	Columns   []columnDoc `yaml:"columns"`
}

type columnDoc struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Type string `yaml:"type"`
}

// ParseDocument decodes a schema source document into table schemas, in
// document order. The whole document is rejected if any table is invalid.
func ParseDocument(data []byte) ([]*TableSchema, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("schema document is empty")
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema document: %w", err)
	}

	tables := append(append([]tableDoc{}, doc.Tables...), doc.TableConfig...)
	if len(tables) == 0 {
		return nil, errors.New("schema document defines no tables")
	}

	out := make([]*TableSchema, 0, len(tables))
	seen := make(map[string]struct{}, len(tables))
	for i, td := range tables {
		name := first(td.Name, td.TableName)
		if name == "" {
			return nil, fmt.Errorf("tables[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("tables[%d]: duplicate table %q", i, name)
		}
		seen[name] = struct{}{}

		cols := make([]ColumnSpec, 0, len(td.Columns))
		for j, cd := range td.Columns {
			kind, err := ParseKind(first(cd.Kind, cd.Type))
			if err != nil {
				return nil, fmt.Errorf("tables[%d].columns[%d]: %w", i, j, err)
			}
			cols = append(cols, ColumnSpec{Name: cd.Name, Kind: kind})
		}

		t, err := New(name, cols)
		if err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
