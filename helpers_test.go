package alwaysoffline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/always-cache/always-offline/cache"
	cachekey "github.com/always-cache/always-offline/pkg/cache-key"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://shop.test"

var errOffline = errors.New("offline")

// fakeOrigin serves canned responses by path and counts the fetches.
type fakeOrigin struct {
	mu        sync.Mutex
	responses map[string]serializer.StoredResponse
	calls     map[string]int
	offline   atomic.Bool
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		responses: make(map[string]serializer.StoredResponse),
		calls:     make(map[string]int),
	}
}

func (o *fakeOrigin) serve(path string, status int, contentType, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses[path] = serializer.StoredResponse{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {contentType}},
		Body:       []byte(body),
	}
}

func (o *fakeOrigin) Fetch(ctx context.Context, r *http.Request) (serializer.StoredResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[r.URL.Path]++
	if o.offline.Load() {
		return serializer.StoredResponse{}, &NetworkError{URL: r.URL.String(), Err: errOffline}
	}
	res, ok := o.responses[r.URL.Path]
	if !ok {
		return serializer.StoredResponse{
			StatusCode: http.StatusNotFound,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       []byte("not found"),
			StoredAt:   time.Now(),
		}, nil
	}
	res = res.Clone()
	res.StoredAt = time.Now()
	return res, nil
}

func (o *fakeOrigin) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.calls {
		n += c
	}
	return n
}

func (o *fakeOrigin) resetCalls() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = make(map[string]int)
}

// inlineExtender runs background tasks synchronously.
type inlineExtender struct {
	errs []error
}

func (x *inlineExtender) WaitUntil(task func(ctx context.Context) error) {
	x.errs = append(x.errs, task(context.Background()))
}

func testKeyer() cachekey.CacheKeyer {
	return cachekey.NewCacheKeyer(testOrigin)
}

func testKey(t *testing.T, path string) string {
	key, err := testKeyer().KeyFor(http.MethodGet, path)
	require.NoError(t, err)
	return key
}

// activeGenerations installs and activates a version with the given precache list.
func activeGenerations(t *testing.T, store cache.CacheStore, version string, origin *fakeOrigin, precache ...string) *Generations {
	gens := NewGenerations(store, testKeyer(), version, zerolog.Nop())
	require.NoError(t, gens.InitializePrecache(context.Background(), precache, origin))
	require.NoError(t, gens.ActivateLatest(context.Background()))
	return gens
}
