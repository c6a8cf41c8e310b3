// Package route holds the immutable route table and the path matcher.
package route

import (
	"fmt"
	"maps"
	"net/url"
	"strings"

	"edge-proxy-go/internal/model"
)

// Spec is one route as written in the configuration file.
type Spec struct {
	Path    string
	URL     string
	Headers map[string]string
}

// Entry is one compiled route.
type Entry struct {
	Prefix  string
	Target  *url.URL
	Headers map[string]string
}

// Table is an ordered, read-only list of routes. It is safe for concurrent
// use without locking because nothing mutates it after Build.
type Table struct {
	entries []Entry
}

// Build validates specs and compiles them into a Table. Order is preserved:
// it decides which route wins when prefixes overlap.
func Build(specs []Spec) (*Table, error) {
	if len(specs) == 0 {
		return nil, model.ConfigError("build", "", "route table is empty")
	}

	seen := make(map[string]int, len(specs))
	entries := make([]Entry, 0, len(specs))
	for i, s := range specs {
		prefix, err := normalizePrefix(s.Path)
		if err != nil {
			return nil, model.ConfigError("build", s.Path, "routes[%d].path: %v", i, err)
		}
		if j, dup := seen[prefix]; dup {
			return nil, model.ConfigError("build", s.Path, "routes[%d].path %q duplicates routes[%d]", i, prefix, j)
		}
		seen[prefix] = i

		target, err := parseTarget(s.URL)
		if err != nil {
			return nil, model.ConfigError("build", s.URL, "routes[%d].url: %v", i, err)
		}

		headers := make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			if strings.TrimSpace(k) == "" {
				return nil, model.ConfigError("build", s.Path, "routes[%d].headers: empty header name", i)
			}
			headers[k] = v
		}

		entries = append(entries, Entry{Prefix: prefix, Target: target, Headers: headers})
	}

	return &Table{entries: entries}, nil
}

// normalizePrefix adds a missing leading slash and drops trailing slashes.
// The root prefix "/" is kept as is.
func normalizePrefix(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("must not be empty")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "?#") {
		return "", fmt.Errorf("%q must not contain a query or fragment", p)
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/", nil
	}
	return trimmed, nil
}

func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("not a valid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%q must not carry a query or fragment", raw)
	}
	return u, nil
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the routes in registration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		u := *e.Target
		out[i] = Entry{Prefix: e.Prefix, Target: &u, Headers: maps.Clone(e.Headers)}
	}
	return out
}

// Prefixes returns the route prefixes in registration order.
func (t *Table) Prefixes() []string {
	out := make([]string, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Prefix
	}
	return out
}
