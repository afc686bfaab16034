package alwaysoffline

import (
	"net/http"
	"net/url"
	"strings"
)

// RequestClass selects the strategy that resolves a request.
type RequestClass int

const (
	ClassOther RequestClass = iota
	ClassNavigation
	ClassImage
	ClassApi
)

func (c RequestClass) String() string {
	switch c {
	case ClassNavigation:
		return "navigation"
	case ClassImage:
		return "image"
	case ClassApi:
		return "api"
	default:
		return "other"
	}
}

// Request modes and destinations as sent by browsers in Sec-Fetch-Mode and Sec-Fetch-Dest.
const (
	ModeNavigate     = "navigate"
	DestinationImage = "image"
)

// DefaultApiPrefixes are the path prefixes classified as API requests.
var DefaultApiPrefixes = []string{"/api/", "/v1/"}

// RequestRecord is the part of a request that classification looks at.
type RequestRecord struct {
	URL         *url.URL
	Method      string
	Mode        string
	Destination string
}

// RecordFromRequest builds the record for an intercepted request.
// Sec-Fetch-Mode and Sec-Fetch-Dest are used when present. Without them a GET
// that accepts HTML is a navigation and one that only accepts images is an image.
func RecordFromRequest(r *http.Request) RequestRecord {
	rec := RequestRecord{
		URL:         r.URL,
		Method:      r.Method,
		Mode:        strings.ToLower(r.Header.Get("Sec-Fetch-Mode")),
		Destination: strings.ToLower(r.Header.Get("Sec-Fetch-Dest")),
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	if rec.Mode == "" && r.Method == http.MethodGet && strings.Contains(accept, "text/html") {
		rec.Mode = ModeNavigate
	}
	if rec.Destination == "" && accept != "" && onlyImages(accept) {
		rec.Destination = DestinationImage
	}
	return rec
}

func onlyImages(accept string) bool {
	images := 0
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if mediaType == "*/*" {
			continue
		}
		if !strings.HasPrefix(mediaType, "image/") {
			return false
		}
		images++
	}
	return images > 0
}

// Classifier maps requests to classes. The zero value uses DefaultApiPrefixes.
type Classifier struct {
	ApiPrefixes []string
}

// Classify is total and deterministic: navigation mode wins over an image
// destination, which wins over an API path prefix. Everything else is ClassOther.
func (c Classifier) Classify(rec RequestRecord) RequestClass {
	if rec.Mode == ModeNavigate {
		return ClassNavigation
	}
	if rec.Destination == DestinationImage {
		return ClassImage
	}
	if rec.URL != nil {
		prefixes := c.ApiPrefixes
		if prefixes == nil {
			prefixes = DefaultApiPrefixes
		}
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(rec.URL.Path, prefix) {
				return ClassApi
			}
		}
	}
	return ClassOther
}
