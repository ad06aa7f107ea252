package sqlobject

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/internal/sqllex"
)

// DefaultTemplateCacheSize bounds the process-wide parsed template cache.
const DefaultTemplateCacheSize = 512

// Template is a parsed SQL template: literal text plus `:name` and `?` bind
// sites. It is immutable and safe for concurrent use.
type Template struct {
	text       string
	tokens     []sqllex.Token
	names      []string
	positional int
}

// Parse tokenizes text. Markers inside quoted literals, quoted identifiers,
// comments and dollar-quoted bodies are not bind sites. A malformed template
// yields an *Error of KindTemplate.
func Parse(text string) (*Template, error) {
	tokens, err := sqllex.Scan(text)
	if err != nil {
		return nil, newError(KindTemplate, "", err, "cannot parse %q", abbreviate(text))
	}

	t := &Template{text: text, tokens: tokens}
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		switch tok.Kind {
		case sqllex.Named:
			if _, dup := seen[tok.Value]; !dup {
				seen[tok.Value] = struct{}{}
				t.names = append(t.names, tok.Value)
			}
		case sqllex.Positional:
			t.positional++
		}
	}
	return t, nil
}

// Text returns the source text.
func (t *Template) Text() string { return t.text }

// Tokens returns a copy of the token sequence.
func (t *Template) Tokens() []sqllex.Token {
	return append([]sqllex.Token(nil), t.tokens...)
}

// Names returns the distinct named sites in order of first occurrence.
func (t *Template) Names() []string {
	return append([]string(nil), t.names...)
}

// HasName reports whether :name occurs in the template.
func (t *Template) HasName(name string) bool {
	for _, n := range t.names {
		if n == name {
			return true
		}
	}
	return false
}

// HasPrefix reports whether any named site starts with prefix.
func (t *Template) HasPrefix(prefix string) bool {
	for _, n := range t.names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

// Positional returns the number of `?` sites.
func (t *Template) Positional() int { return t.positional }

// Values supplies bind values during rendering. Positions are zero-based.
type Values interface {
	Lookup(name string) (any, bool)
	Position(i int) (any, bool)
}

// Render writes the template in the driver's placeholder style and returns
// the arguments in placeholder order. Numbered styles reuse one placeholder
// for a repeated name; the `?` style repeats the value instead. A site
// without a value fails with an *Error of KindBinding.
func (t *Template) Render(style types.Placeholder, values Values) (string, []any, error) {
	var (
		b        strings.Builder
		args     []any
		ordinals map[string]int
		pos      int
	)
	b.Grow(len(t.text) + 8)
	if style.Numbered() {
		ordinals = make(map[string]int, len(t.names))
	}

	for _, tok := range t.tokens {
		switch tok.Kind {
		case sqllex.Text:
			b.WriteString(tok.Value)
		case sqllex.Named:
			if n, ok := ordinals[tok.Value]; ok {
				writePlaceholder(&b, style, n)
				continue
			}
			v, ok := values.Lookup(tok.Value)
			if !ok {
				return "", nil, bindingError("", "no value bound for :%s", tok.Value)
			}
			args = append(args, v)
			if ordinals != nil {
				ordinals[tok.Value] = len(args)
			}
			writePlaceholder(&b, style, len(args))
		case sqllex.Positional:
			v, ok := values.Position(pos)
			if !ok {
				return "", nil, bindingError("", "no value bound for positional parameter %d", pos)
			}
			pos++
			args = append(args, v)
			writePlaceholder(&b, style, len(args))
		}
	}
	return b.String(), args, nil
}

func writePlaceholder(b *strings.Builder, style types.Placeholder, n int) {
	switch style {
	case types.PlaceholderDollar:
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	case types.PlaceholderColon:
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(n))
	default:
		b.WriteByte('?')
	}
}

func abbreviate(s string) string {
	const limit = 80
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// TemplateCache is a bounded LRU of parsed templates keyed by text.
type TemplateCache struct {
	lru *lru.Cache[string, *Template]
}

// NewTemplateCache creates a cache holding up to size templates. A size of
// zero or less selects DefaultTemplateCacheSize.
func NewTemplateCache(size int) (*TemplateCache, error) {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	c, err := lru.New[string, *Template](size)
	if err != nil {
		return nil, err
	}
	return &TemplateCache{lru: c}, nil
}

// Parse returns the cached template for text, parsing it on a miss. Parse
// failures are not cached.
func (c *TemplateCache) Parse(text string) (*Template, error) {
	if t, ok := c.lru.Get(text); ok {
		return t, nil
	}
	t, err := Parse(text)
	if err != nil {
		return nil, err
	}
	c.lru.Add(text, t)
	return t, nil
}

// Len returns the number of cached templates.
func (c *TemplateCache) Len() int { return c.lru.Len() }

// Resize changes the capacity, evicting the oldest entries when shrinking.
func (c *TemplateCache) Resize(size int) {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	c.lru.Resize(size)
}

var templates = mustTemplateCache()

func mustTemplateCache() *TemplateCache {
	c, err := NewTemplateCache(DefaultTemplateCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}
