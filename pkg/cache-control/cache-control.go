// Package cachecontrol parses the Cache-Control header field (RFC 9111, section 5.2).
package cachecontrol

import (
	"net/http"
	"strings"
)

// §  Cache-Control   = #cache-directive
// §
// §  cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	directives map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[strings.ToLower(directive)]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// Parse takes Cache-Control headers as a slice of strings.
// When a directive is repeated, the last one wins.
func Parse(headers []string) CacheControl {
	m := make(map[string]string)
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			// §  [...] to be compared case-insensitively [...]
			name = strings.ToLower(strings.TrimSpace(name))
			// §  [...] argument that can use both token and quoted-string syntax. [...]
			m[name] = strings.Trim(strings.TrimSpace(arg), "\"")
		}
	}
	return CacheControl{m}
}

// FromHeader parses the Cache-Control fields of h.
func FromHeader(h http.Header) CacheControl {
	return Parse(h.Values("Cache-Control"))
}

// NoStore reports whether the response forbids storing it in any cache.
func NoStore(h http.Header) bool {
	return FromHeader(h).HasDirective("no-store")
}
