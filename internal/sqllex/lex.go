// Package sqllex splits SQL text into literal runs and bind markers.
//
// Markers are `:name` (named) and `?` (positional). Text inside single-quoted
// literals, double-quoted identifiers, PostgreSQL dollar-quoted bodies and
// comments is copied through untouched, as is the `::` cast operator.
//
// A backslash before `?` or `:` emits the character as plain text, so
// operators such as jsonb `?` can be written as `\?`. Inside square brackets
// `:` followed by a digit is an array slice bound; elsewhere it is an error.
package sqllex

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a Token.
type Kind int

const (
	// Text is raw SQL copied to the output unchanged.
	Text Kind = iota
	// Named is a `:name` marker; Token.Value holds the name without the colon.
	Named
	// Positional is a `?` marker.
	Positional
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Named:
		return "named"
	case Positional:
		return "positional"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Token is one lexical unit of a statement.
type Token struct {
	Kind  Kind
	Value string
	// Pos is the byte offset of the token in the source.
	Pos int
}

// Error reports a malformed statement.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Pos)
}

// Scan tokenizes query. Adjacent raw text is merged into a single Text token.
func Scan(query string) ([]Token, error) {
	var (
		out  []Token
		text strings.Builder
		from int
	)
	flush := func() {
		if text.Len() > 0 {
			out = append(out, Token{Kind: Text, Value: text.String(), Pos: from})
			text.Reset()
		}
	}
	raw := func(start, end int) {
		if text.Len() == 0 {
			from = start
		}
		text.WriteString(query[start:end])
	}

	i, depth := 0, 0
	for i < len(query) {
		c := query[i]
		switch c {
		case '\\':
			if i+1 < len(query) && (query[i+1] == '?' || query[i+1] == ':') {
				raw(i+1, i+2)
				i += 2
				continue
			}
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '\'':
			j, err := skipQuoted(query, i, '\'', "unterminated string literal")
			if err != nil {
				return nil, err
			}
			raw(i, j)
			i = j
			continue
		case '"':
			j, err := skipQuoted(query, i, '"', "unterminated quoted identifier")
			if err != nil {
				return nil, err
			}
			raw(i, j)
			i = j
			continue
		case '-':
			if strings.HasPrefix(query[i:], "--") {
				j := skipLineComment(query, i+2)
				raw(i, j)
				i = j
				continue
			}
		case '/':
			if strings.HasPrefix(query[i:], "/*") {
				j, err := skipBlockComment(query, i)
				if err != nil {
					return nil, err
				}
				raw(i, j)
				i = j
				continue
			}
		case '$':
			j, ok, err := skipDollarQuoted(query, i)
			if err != nil {
				return nil, err
			}
			if ok {
				raw(i, j)
				i = j
				continue
			}
		case '?':
			flush()
			out = append(out, Token{Kind: Positional, Value: "?", Pos: i})
			i++
			continue
		case ':':
			if strings.HasPrefix(query[i:], "::") {
				raw(i, i+2)
				i += 2
				continue
			}
			if i+1 < len(query) && isDigit(query[i+1]) {
				if depth > 0 {
					break
				}
				return nil, &Error{Pos: i, Msg: "numeric bind marker not supported, use ? or :name"}
			}
			if name, end := ident(query, i+1); name != "" {
				flush()
				out = append(out, Token{Kind: Named, Value: name, Pos: i})
				i = end
				continue
			}
		}
		raw(i, i+1)
		i++
	}
	flush()
	return out, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// skipQuoted returns the offset just past the closing quote. A doubled quote
// inside the run is an escaped quote.
func skipQuoted(s string, start int, q byte, msg string) (int, error) {
	i := start + 1
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, &Error{Pos: start, Msg: msg}
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, start int) (int, error) {
	if j := strings.Index(s[start+2:], "*/"); j >= 0 {
		return start + 2 + j + 2, nil
	}
	return 0, &Error{Pos: start, Msg: "unterminated block comment"}
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ bodies. A '$' that does
// not open a tag (for example a $1 parameter) is reported as not ok.
func skipDollarQuoted(s string, start int) (int, bool, error) {
	j := start + 1
	for j < len(s) && s[j] != '$' {
		r, w := utf8.DecodeRuneInString(s[j:])
		if r != '_' && !unicode.IsLetter(r) {
			return 0, false, nil
		}
		j += w
	}
	if j >= len(s) {
		return 0, false, nil
	}
	tag := s[start : j+1]
	end := strings.Index(s[j+1:], tag)
	if end < 0 {
		return 0, true, &Error{Pos: start, Msg: "unterminated dollar-quoted string"}
	}
	return j + 1 + end + len(tag), true, nil
}

// ident reads a bind name starting at i. Names start with a letter or
// underscore and continue with letters, digits, underscores and dots; a
// trailing dot is left in the text.
func ident(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !identRune(r, i > start) {
			break
		}
		i += w
	}
	for i > start && s[i-1] == '.' {
		i--
	}
	return s[start:i], i
}

func identRune(r rune, inner bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return inner && (unicode.IsDigit(r) || r == '.')
}
