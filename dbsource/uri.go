package dbsource

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidURI is returned when a request URI cannot be parsed.
var ErrInvalidURI = errors.New("invalid uri")

// URI addresses a table, or one column of a table, within a source:
//
//	source:table
//	source:table.column
//	source:"dotted.table"."column"
//
// A backslash escapes the next character in any segment.
type URI struct {
	Source string
	Table  string
	// Column is empty when the whole table is requested.
	Column string
}

type uriState int

const (
	uriBeforeSource uriState = iota
	uriInSource
	uriInTable
	uriInTableQuoted
	uriInField
	uriInFieldQuoted
	uriComplete
)

// ParseURI parses s one character at a time.
func ParseURI(s string) (URI, error) {
	var u URI
	var tok strings.Builder
	state := uriBeforeSource
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			if state == uriComplete {
				return URI{}, errors.Wrapf(ErrInvalidURI, "trailing characters in %q", s)
			}
			if i+1 >= len(s) {
				return URI{}, errors.Wrapf(ErrInvalidURI, "dangling escape in %q", s)
			}
			i++
			if state == uriBeforeSource {
				state = uriInSource
			}
			tok.WriteByte(s[i])
			continue
		}
		switch state {
		case uriBeforeSource, uriInSource:
			if c == ':' {
				u.Source = tok.String()
				tok.Reset()
				state = uriInTable
				continue
			}
			state = uriInSource
			tok.WriteByte(c)
		case uriInTable:
			switch c {
			case '"':
				state = uriInTableQuoted
			case '.':
				u.Table = tok.String()
				tok.Reset()
				state = uriInField
			default:
				tok.WriteByte(c)
			}
		case uriInTableQuoted:
			if c == '"' {
				state = uriInTable
				continue
			}
			tok.WriteByte(c)
		case uriInField:
			if c == '"' {
				state = uriInFieldQuoted
				continue
			}
			tok.WriteByte(c)
		case uriInFieldQuoted:
			if c == '"' {
				state = uriComplete
				continue
			}
			tok.WriteByte(c)
		case uriComplete:
			return URI{}, errors.Wrapf(ErrInvalidURI, "trailing characters in %q", s)
		}
	}

	switch state {
	case uriBeforeSource, uriInSource:
		return URI{}, errors.Wrapf(ErrInvalidURI, "missing table in %q", s)
	case uriInTableQuoted, uriInFieldQuoted:
		return URI{}, errors.Wrapf(ErrInvalidURI, "unterminated quote in %q", s)
	case uriInTable:
		u.Table = tok.String()
	default:
		u.Column = tok.String()
	}
	if u.Table == "" {
		return URI{}, errors.Wrapf(ErrInvalidURI, "empty table name in %q", s)
	}
	return u, nil
}

// String formats the URI so that ParseURI returns it unchanged.
func (u URI) String() string {
	var b strings.Builder
	writeEscaped(&b, u.Source, ":\\")
	b.WriteByte(':')
	writeEscaped(&b, u.Table, ".\"\\")
	if u.Column != "" {
		b.WriteByte('.')
		writeEscaped(&b, u.Column, "\"\\")
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s, special string) {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(special, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
}
