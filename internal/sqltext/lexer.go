// Package sqltext is a small lexer for the handful of statement shapes the
// executor has to recognise. It is not a SQL parser.
package sqltext

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenPunct
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

func (t token) is(word string) bool {
	return t.kind == tokenWord && strings.EqualFold(t.text, word)
}

// lex tokenizes s, skipping whitespace and comments.
func lex(s string) []token {
	var tokens []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			i = skipLineComment(s, i)
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipBlockComment(s, i)
		case c == '\'':
			end := skipQuoted(s, i, '\'')
			tokens = append(tokens, token{kind: tokenString, text: s[i:end], start: i, end: end})
			i = end
		case c == '"' || c == '`':
			end := skipQuoted(s, i, c)
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: s[i:end], start: i, end: end})
			i = end
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				end = len(s)
			} else {
				end += i + 1
			}
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: s[i:end], start: i, end: end})
			i = end
		case isWordByte(c):
			start := i
			for i < len(s) && isWordByte(s[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: s[start:i], start: start, end: i})
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: s[i : i+1], start: i, end: i + 1})
			i++
		}
	}
	return tokens
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

func skipLineComment(s string, i int) int {
	end := strings.IndexByte(s[i:], '\n')
	if end < 0 {
		return len(s)
	}
	return i + end
}

func skipBlockComment(s string, i int) int {
	end := strings.Index(s[i+2:], "*/")
	if end < 0 {
		return len(s)
	}
	return i + 2 + end + 2
}

// skipQuoted returns the index just past the closing quote. Doubled quotes and
// backslash escapes stay inside the literal.
func skipQuoted(s string, i int, quote byte) int {
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			if quote == '\'' {
				j += 2
				continue
			}
		case quote:
			if j+1 < len(s) && s[j+1] == quote {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(s)
}

// Split breaks sql into statements on semicolons outside quotes and comments.
// Fragments are trimmed and empty ones dropped.
func Split(sql string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		case c == ';':
			if stmt := strings.TrimSpace(sql[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			i++
			start = i
		default:
			i++
		}
	}
	if stmt := strings.TrimSpace(sql[start:]); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// StripComments removes block comments (an unterminated one swallows the rest
// of the text) and line comments, leaving quoted text untouched.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := skipQuoted(s, i, c)
			b.WriteString(s[i:end])
			i = end
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			i = skipLineComment(s, i)
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			i = skipBlockComment(s, i)
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
