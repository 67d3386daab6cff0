package quota

import (
	"net/url"
	"strings"
)

// Key layout in the shared store:
//
//	ratelimit:<scope>:<identifier>:<window>
//	concurrent:<identifier>
//	tokens:<identifier>:day
//
// Identifiers and resource names are query-escaped, so no segment contains
// ':', '/' or a glob metacharacter. That keeps the layout unambiguous and
// lets identifier-scoped patterns match only that identifier's keys.

// Scope is the scope segment of a window key.
type Scope string

// GlobalScope holds the per-identifier request windows.
const GlobalScope Scope = "global"

// ResourceScope returns the scope holding per-resource execution windows.
func ResourceScope(resource string) Scope {
	return Scope("agent." + escape(resource))
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return s == GlobalScope
}

// Resource returns the unescaped resource name, or "" for the global scope.
func (s Scope) Resource() string {
	name, ok := strings.CutPrefix(string(s), "agent.")
	if !ok {
		return ""
	}
	return unescape(name)
}

func escape(s string) string {
	return url.QueryEscape(s)
}

func unescape(s string) string {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return v
}

// WindowKey returns the key of a sliding window.
func WindowKey(scope Scope, identifier string, window Window) string {
	return "ratelimit:" + string(scope) + ":" + escape(identifier) + ":" + window.Name
}

// ConcurrencyKey returns the key of an identifier's in-flight counter.
func ConcurrencyKey(identifier string) string {
	return "concurrent:" + escape(identifier)
}

// TokenKey returns the key of an identifier's daily token counter.
func TokenKey(identifier string) string {
	return "tokens:" + escape(identifier) + ":day"
}

// IdentifierPatterns returns the glob patterns covering every key owned by
// an identifier.
func IdentifierPatterns(identifier string) []string {
	id := escape(identifier)
	return []string{
		"ratelimit:*:" + id + ":*",
		"concurrent:" + id,
		"tokens:" + id + ":day",
	}
}

// ownedBy reports whether key belongs to identifier. Glob matching alone
// is not enough for window keys because '*' spans segment separators.
func ownedBy(key, identifier string) bool {
	id := escape(identifier)
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 4 && parts[0] == "ratelimit":
		return parts[2] == id
	case len(parts) == 2 && parts[0] == "concurrent":
		return parts[1] == id
	case len(parts) == 3 && parts[0] == "tokens":
		return parts[1] == id
	}
	return false
}
