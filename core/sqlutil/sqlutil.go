// Package sqlutil provides dialect-agnostic helpers for handling raw SQL scripts:
// comment stripping, statement splitting and T-SQL batch splitting.
package sqlutil

import (
	"strings"
)

// StripComments removes line (--) and block (/* */) comments from the SQL text.
// Comment markers inside string literals, quoted identifiers and bracketed
// identifiers are left untouched. Line breaks of removed line comments are kept
// so that statement positions stay roughly stable.
func StripComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	s := newScanner(sql)
	for !s.done() {
		switch {
		case s.startsWith("--"):
			s.skipLineComment()
		case s.startsWith("/*"):
			s.skipBlockComment()
			b.WriteByte(' ')
		default:
			b.WriteString(s.nextToken())
		}
	}

	return b.String()
}

// SplitSQLStatements splits a SQL script into individual statements on semicolons
// that are not part of a string literal, quoted identifier or comment.
// Statements are trimmed and empty ones are dropped. The result is never nil.
func SplitSQLStatements(sql string) []string {
	statements := make([]string, 0)

	var current strings.Builder
	flush := func() {
		stmt := strings.TrimSpace(current.String())
		current.Reset()
		if stmt != "" && !isOnlyComments(stmt) {
			statements = append(statements, stmt)
		}
	}

	s := newScanner(sql)
	for !s.done() {
		switch {
		case s.peek() == ';':
			s.pos++
			flush()
		case s.startsWith("--"):
			start := s.pos
			s.skipLineComment()
			current.WriteString(sql[start:s.pos])
		case s.startsWith("/*"):
			start := s.pos
			s.skipBlockComment()
			current.WriteString(sql[start:s.pos])
		default:
			current.WriteString(s.nextToken())
		}
	}
	flush()

	return statements
}

// SplitBatches splits a T-SQL script into batches separated by GO lines.
// A separator line consists of the word GO alone (case-insensitive), optionally
// surrounded by whitespace. Batches are trimmed and empty ones are dropped.
func SplitBatches(sql string) []string {
	batches := make([]string, 0)

	var current strings.Builder
	flush := func() {
		batch := strings.TrimSpace(current.String())
		current.Reset()
		if batch != "" && !isOnlyComments(batch) {
			batches = append(batches, batch)
		}
	}

	for _, line := range strings.Split(sql, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), "GO") {
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()

	return batches
}

func isOnlyComments(sql string) bool {
	return strings.TrimSpace(StripComments(sql)) == ""
}

type scanner struct {
	src string
	pos int
}

func newScanner(src string) *scanner {
	return &scanner{src: src}
}

func (s *scanner) done() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) peek() byte {
	return s.src[s.pos]
}

func (s *scanner) startsWith(prefix string) bool {
	return strings.HasPrefix(s.src[s.pos:], prefix)
}

func (s *scanner) skipLineComment() {
	end := strings.IndexByte(s.src[s.pos:], '\n')
	if end < 0 {
		s.pos = len(s.src)
		return
	}
	// keep the newline itself
	s.pos += end
}

func (s *scanner) skipBlockComment() {
	end := strings.Index(s.src[s.pos+2:], "*/")
	if end < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += end + 4
}

// nextToken consumes either a whole quoted section or a single byte.
func (s *scanner) nextToken() string {
	start := s.pos
	switch c := s.peek(); c {
	case '\'', '"', '`':
		s.skipQuoted(c)
	case '[':
		s.skipQuoted(']')
	case '$':
		if tag, ok := s.dollarTag(); ok {
			end := strings.Index(s.src[s.pos+len(tag):], tag)
			if end < 0 {
				s.pos = len(s.src)
			} else {
				s.pos += len(tag) + end + len(tag)
			}
		} else {
			s.pos++
		}
	default:
		s.pos++
	}
	return s.src[start:s.pos]
}

// skipQuoted consumes a quoted section; a doubled closing quote is an escape.
func (s *scanner) skipQuoted(closing byte) {
	s.pos++ // opening quote
	for s.pos < len(s.src) {
		if s.src[s.pos] == closing {
			if s.pos+1 < len(s.src) && s.src[s.pos+1] == closing {
				s.pos += 2
				continue
			}
			s.pos++
			return
		}
		s.pos++
	}
}

// dollarTag recognises PostgreSQL dollar-quote tags such as $$ or $body$.
func (s *scanner) dollarTag() (string, bool) {
	rest := s.src[s.pos+1:]
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '$' {
			return s.src[s.pos : s.pos+i+2], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' && i > 0) {
			return "", false
		}
	}
	return "", false
}
