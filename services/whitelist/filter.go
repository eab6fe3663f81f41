package whitelist

import "strings"

// Filter decides whether a request skips inspection entirely. Matching is by
// exact string on the client identifier or the request path; there are no
// wildcards and paths are not normalized.
type Filter struct {
	clients map[string]struct{}
	paths   map[string]struct{}
}

// New builds a filter from client and path allow-lists. Blank entries are ignored.
func New(clients, paths []string) *Filter {
	return &Filter{
		clients: toSet(clients),
		paths:   toSet(paths),
	}
}

// Bypass reports whether clientID or path is allow-listed.
func (f *Filter) Bypass(clientID, path string) bool {
	if f == nil {
		return false
	}
	if _, ok := f.clients[clientID]; ok {
		return true
	}
	_, ok := f.paths[path]
	return ok
}

// Clients returns the allow-listed client identifiers
func (f *Filter) Clients() []string {
	return keys(f.clients)
}

// Paths returns the allow-listed paths
func (f *Filter) Paths() []string {
	return keys(f.paths)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
