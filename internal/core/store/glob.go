package store

import (
	"regexp"
	"strings"
)

// compileGlob turns a path pattern with "*" wildcards into an anchored
// regexp. An empty pattern matches everything (nil regexp).
func compileGlob(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
