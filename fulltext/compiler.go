package fulltext

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	requiredPrefix = "+"
	termSeparator  = " +"
	prefixWildcard = "*"

	defaultCompilerCacheSize = 1024
)

// Query is a compiled search phrase.
// Expr is the boolean-mode expression (eg "+a* +b*"), which is what MySQL consumes verbatim.
// Terms holds the sorted, unique, lower-cased words that Expr was built from, so that
// other dialects can render their own syntax from the same terms.
type Query struct {
	Raw         string
	Expr        string
	Terms       []string
	Transformed bool
}

// Empty is true when a transformed query contains no terms at all.
// Such a query consists of nothing but the required-prefix marker, and cannot match anything meaningful.
func (q Query) Empty() bool {
	return q.Transformed && len(q.Terms) == 0
}

// Compile turns a raw search phrase into a boolean full-text expression.
// If transform is false, the phrase is assumed to already be an engine-native expression, and is returned untouched.
func Compile(raw string, transform bool) string {
	return CompileQuery(raw, transform).Expr
}

func CompileQuery(raw string, transform bool) Query {
	if !transform {
		return Query{
			Raw:  raw,
			Expr: raw,
		}
	}
	terms := queryTerms(raw)
	expr := requiredPrefix
	if len(terms) != 0 {
		expr += strings.Join(terms, prefixWildcard+termSeparator) + prefixWildcard
	}
	return Query{
		Raw:         raw,
		Expr:        expr,
		Terms:       terms,
		Transformed: true,
	}
}

// Returns the lower-cased words of 'raw', without duplicates, in ascending order
func queryTerms(raw string) []string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	seen := map[string]bool{}
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	sort.Strings(terms)
	return terms
}

type compilerKey struct {
	raw       string
	transform bool
}

// Compiler memoizes compiled queries. Output is deterministic, so the cache never needs invalidation.
type Compiler struct {
	cache *lru.Cache[compilerKey, Query]
}

func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = defaultCompilerCacheSize
	}
	cache, _ := lru.New[compilerKey, Query](size)
	return &Compiler{cache: cache}
}

func (c *Compiler) Compile(raw string, transform bool) Query {
	key := compilerKey{raw, transform}
	if q, ok := c.cache.Get(key); ok {
		return q
	}
	q := CompileQuery(raw, transform)
	c.cache.Add(key, q)
	return q
}

func (c *Compiler) Len() int {
	return c.cache.Len()
}
