package route

import "strings"

// Match returns the first registered route whose prefix covers path, and the
// path with that prefix removed. A prefix covers a path when the path equals
// it or continues with "/". An empty remainder becomes "/".
//
// The first match in registration order wins, not the longest prefix: with
// "/api" listed before "/api/v2", "/api/v2/users" goes to "/api".
func (t *Table) Match(path string) (Entry, string, bool) {
	for _, e := range t.entries {
		if rest, ok := strip(e.Prefix, path); ok {
			return e, rest, true
		}
	}
	return Entry{}, "", false
}

func strip(prefix, path string) (string, bool) {
	if prefix == "/" {
		if path == "" {
			return "/", true
		}
		return path, strings.HasPrefix(path, "/")
	}
	if path == prefix {
		return "/", true
	}
	if strings.HasPrefix(path, prefix) && path[len(prefix)] == '/' {
		return path[len(prefix):], true
	}
	return "", false
}

// Host returns the value the backend should see in its Host header: the
// target host, with the port only when it is not the scheme default.
func (e Entry) Host() string {
	port := e.Target.Port()
	if port == "" {
		return e.Target.Host
	}
	if (e.Target.Scheme == "http" && port == "80") || (e.Target.Scheme == "https" && port == "443") {
		return strings.TrimSuffix(e.Target.Host, ":"+port)
	}
	return e.Target.Host
}
