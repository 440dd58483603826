package storage

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is a driver's positional parameter syntax.
type PlaceholderStyle int

const (
	// Question is "?" (MySQL, SQLite).
	Question PlaceholderStyle = iota
	// Dollar is "$1, $2, ..." (Postgres).
	Dollar
	// AtP is "@p1, @p2, ..." (SQL Server).
	AtP
)

// Rebind rewrites the '?' placeholders in query to style. Question marks inside
// single-quoted literals are left alone.
func Rebind(style PlaceholderStyle, query string) string {
	if style == Question {
		return query
	}

	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			if style == Dollar {
				b.WriteByte('$')
			} else {
				b.WriteString("@p")
			}
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
