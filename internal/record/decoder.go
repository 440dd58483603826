// Package record decodes upstream wire records into a destination table name
// and positional column values.
//
// A record is one line of text: the first field carries the routing prefix
// followed by the table name, the remaining fields are column values in
// column order.
//
//	fl-table:mysqltest,a1,1000
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Defaults applied when a Decoder field is empty.
const (
	DefaultPrefix    = "fl-table:"
	DefaultDelimiter = ","
)

// ErrRejected matches every record the decoder refuses to route.
var ErrRejected = errors.New("record rejected")

// Rejection explains why a record could not be routed.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string        { return "record rejected: " + r.Reason }
func (r *Rejection) Is(target error) bool { return target == ErrRejected }

func reject(format string, args ...any) error {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

// Routed is a decoded record.
type Routed struct {
	Table  string
	Fields []string
}

// Decoder splits raw records. The zero value uses DefaultPrefix and
// DefaultDelimiter and treats input as UTF-8.
type Decoder struct {
	Prefix    string
	Delimiter string
	// Encoding transcodes raw bytes to UTF-8 before splitting. Nil means the
	// input is already UTF-8.
	Encoding encoding.Encoding
}

// NewDecoder builds a Decoder. charset is a WHATWG/IANA name such as
// "windows-1250" or "iso-8859-2"; empty or "utf-8" means no transcoding.
func NewDecoder(prefix, delimiter, charset string) (*Decoder, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return &Decoder{Prefix: prefix, Delimiter: delimiter, Encoding: enc}, nil
}

// LookupCharset resolves a charset name. It returns nil for UTF-8.
func LookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	return enc, nil
}

// Decode routes one raw record. Empty fields are kept as empty strings. The
// returned error is a *Rejection when the record is structurally invalid.
func (d *Decoder) Decode(raw []byte) (Routed, error) {
	if d.Encoding != nil {
		utf, err := d.Encoding.NewDecoder().Bytes(raw)
		if err != nil {
			return Routed{}, reject("charset: %v", err)
		}
		raw = utf
	}
	raw = trimEOL(raw)

	prefix := d.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	delim := d.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}

	fields := strings.Split(string(raw), delim)
	if len(fields) < 2 {
		return Routed{}, reject("want at least 2 fields, got %d", len(fields))
	}
	table, ok := strings.CutPrefix(fields[0], prefix)
	if !ok {
		return Routed{}, reject("first field %q lacks prefix %q", truncate(fields[0], 64), prefix)
	}
	if table == "" {
		return Routed{}, reject("empty table name")
	}
	return Routed{Table: table, Fields: fields[1:]}, nil
}

func trimEOL(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
