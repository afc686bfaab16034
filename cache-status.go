package alwaysoffline

import "fmt"

type CacheStatusStatus string

const (
	CacheStatusHit CacheStatusStatus = "hit"
	CacheStatusFwd CacheStatusStatus = "fwd"
)

type CacheStatusFwdReason string

const (
	// The agent was not activated yet, or the request is not handled by a strategy.
	CacheStatusFwdBypass CacheStatusFwdReason = "bypass"

	// The strategy goes to the network before looking at the cache.
	CacheStatusFwdRequest CacheStatusFwdReason = "request"

	// The cache did not contain any response that matched the request URI.
	CacheStatusFwdUriMiss CacheStatusFwdReason = "uri-miss"

	// The request method's semantics require the request to be forwarded.
	CacheStatusFwdMethod CacheStatusFwdReason = "method"
)

// CacheStatus describes how a request was resolved, in the format of the
// Cache-Status response header field (RFC 9211).
type CacheStatus struct {
	status    CacheStatusStatus
	detail    string
	fwdReason CacheStatusFwdReason
	stored    bool
}

func (cs *CacheStatus) Hit() {
	cs.status = CacheStatusHit
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.status = CacheStatusFwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("Always-Offline; %s", cs.status)
	if cs.status == CacheStatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status = status + "; stored"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}
