package route

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// placeholderRe matches a {name} or {name:type} path segment placeholder.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::([a-z]+))?\}`)

// typePatterns maps a placeholder type to the sub-pattern it constrains the
// captured segment to. An unknown or absent type matches any run of
// non-slash characters.
var typePatterns = map[string]string{
	"int":   `[0-9]+`,
	"alpha": `[A-Za-z]+`,
	"alnum": `[A-Za-z0-9]+`,
}

// pattern is a compiled dynamic path template.
type pattern struct {
	re    *regexp.Regexp
	names []string
}

// compilePattern turns a path template into an anchored regular expression
// with one named capture per placeholder.
func compilePattern(path string) (*pattern, error) {
	var (
		b     strings.Builder
		names []string
		last  int
	)
	b.WriteString(`^`)

	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(path, -1) {
		b.WriteString(regexp.QuoteMeta(path[last:loc[0]]))

		name := path[loc[2]:loc[3]]
		sub := `[^/]+`
		if loc[4] >= 0 {
			typ := path[loc[4]:loc[5]]
			p, ok := typePatterns[typ]
			if !ok {
				return nil, fmt.Errorf("route: unknown placeholder type %q in %q", typ, path)
			}
			sub = p
		}

		fmt.Fprintf(&b, `(?P<%s>%s)`, name, sub)
		names = append(names, name)
		last = loc[1]
	}

	b.WriteString(regexp.QuoteMeta(path[last:]))
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("route: compile template %q: %w", path, err)
	}
	return &pattern{re: re, names: names}, nil
}

// match returns the captured named parameters, or false when the path does
// not satisfy the template.
func (p *pattern) match(path string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	params := make(map[string]string, len(p.names))
	for i, name := range p.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = m[i]
	}
	return params, true
}

// patternCache memoizes compiled templates; route paths are few and stable.
type patternCache struct {
	mu       sync.RWMutex
	compiled map[string]*pattern
}

func newPatternCache() *patternCache {
	return &patternCache{compiled: make(map[string]*pattern)}
}

func (c *patternCache) get(path string) (*pattern, error) {
	c.mu.RLock()
	p, ok := c.compiled[path]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := compilePattern(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.compiled[path] = p
	c.mu.Unlock()
	return p, nil
}
