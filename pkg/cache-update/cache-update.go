package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CacheUpdate represents a single `Cache-Update` entry.
// An origin sends it with the response to a write, e.g. `Cache-Update: /api/cart; delay=2`,
// to name resources whose cached copies are outdated by that write.
type CacheUpdate struct {
	// Fully resolved relative path to the resource.
	// Equivalent to `url.URL.Path`.
	Path string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayDirective = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates specified by the response header.
// Only responses to unsafe requests carry updates. The request URL is used in
// order to resolve potentially relative update paths.
func GetCacheUpdates(req *http.Request, header http.Header) []CacheUpdate {
	if !UnsafeRequest(req) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	for _, value := range header.Values("Cache-Update") {
		for _, update := range strings.Split(value, ",") {
			update = strings.TrimSpace(update)
			if update == "" {
				continue
			}
			updates = append(updates, CacheUpdate{
				Path:  getURL(req.URL, update).Path,
				Delay: getDelay(update),
			})
		}
	}
	return updates
}

// UnsafeRequest reports whether the request method may change state on the origin.
func UnsafeRequest(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// getURL returns the URL to update the cache for from the `Cache-Update` header parameter.
// The URL is the first parameter in the header value (separated by a semicolon).
func getURL(base *url.URL, update string) *url.URL {
	possiblyRelativeURL, _, _ := strings.Cut(update, ";")
	return base.ResolveReference(&url.URL{Path: strings.TrimSpace(possiblyRelativeURL)})
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayDirective.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
