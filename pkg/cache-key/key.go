package cachekey

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	originSeparator = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	originId = strings.TrimRight(strings.ToLower(originId), "/")
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + strings.ToUpper(method) + methodSeparator
}

// GetKey returns the identity of a request: origin, method and normalized request URI.
// Scheme and host of absolute request URLs are ignored, the keyer is bound to one origin.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.MethodPrefix(r.Method) + NormalizeURI(r.URL)
}

// KeyFor returns the key for a method and a (possibly relative) URL, such as an entry
// of the precache list.
func (c CacheKeyer) KeyFor(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return c.MethodPrefix(method) + NormalizeURI(u), nil
}

// NormalizeURI returns the path and sorted query of u.
// The fragment is dropped and an empty path becomes "/".
// A query that does not parse is kept as is.
func NormalizeURI(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery == "" {
		return path
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return path + "?" + u.RawQuery
	}
	if q := normalizeQuery(query); q != "" {
		return path + "?" + q
	}
	return path
}

// normalizeQuery sorts query parameters for consistent key generation
func normalizeQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}
