package alwaysoffline

import (
	"context"
	"net/http"
	"time"

	cachecontrol "github.com/always-cache/always-offline/pkg/cache-control"
	cachekey "github.com/always-cache/always-offline/pkg/cache-key"
	cacheupdate "github.com/always-cache/always-offline/pkg/cache-update"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// Source tells where a strategy found its response.
type Source int

const (
	SourceNetwork Source = iota
	SourceCache
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceFallback:
		return "fallback"
	default:
		return "network"
	}
}

// Extender takes work that has to finish before an event is complete,
// but that the response does not wait for.
type Extender interface {
	WaitUntil(task func(ctx context.Context) error)
}

// Result is the outcome of a strategy.
type Result struct {
	Class       RequestClass
	Source      Source
	Response    serializer.StoredResponse
	CacheStatus CacheStatus
}

// placeholder served when an image is neither cached nor reachable and no fallback image is stored
var placeholderImage = serializer.StoredResponse{
	StatusCode: http.StatusOK,
	Header: http.Header{
		"Content-Type":  {"image/svg+xml"},
		"Cache-Control": {"no-store"},
	},
	Body: []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"/>`),
}

type StrategyConfig struct {
	// Canonical key for navigations, e.g. "/index.html".
	RootDocument string
	// Served for navigations when neither network nor cache has the root document.
	OfflineDocument string
	// Served for images that are neither cached nor reachable.
	FallbackImage string
}

// Executor resolves a classified request with the strategy of its class.
type Executor struct {
	gens             *Generations
	fetcher          Fetcher
	keyer            cachekey.CacheKeyer
	rootKey          string
	offlineKey       string
	fallbackImageKey string
	log              zerolog.Logger
}

func NewExecutor(gens *Generations, fetcher Fetcher, keyer cachekey.CacheKeyer, config StrategyConfig, logger zerolog.Logger) (*Executor, error) {
	e := &Executor{
		gens:    gens,
		fetcher: fetcher,
		keyer:   keyer,
		log:     logger.With().Str("component", "strategy").Logger(),
	}
	var err error
	if e.rootKey, err = keyer.KeyFor(http.MethodGet, config.RootDocument); err != nil {
		return nil, err
	}
	if e.offlineKey, err = keyer.KeyFor(http.MethodGet, config.OfflineDocument); err != nil {
		return nil, err
	}
	if e.fallbackImageKey, err = keyer.KeyFor(http.MethodGet, config.FallbackImage); err != nil {
		return nil, err
	}
	return e, nil
}

// Execute runs the strategy for class. Cache writes are handed to ext and never
// delay or fail the result.
func (e *Executor) Execute(ctx context.Context, class RequestClass, r *http.Request, ext Extender) (*Result, error) {
	switch class {
	case ClassNavigation:
		return e.navigation(ctx, r, ext)
	case ClassImage:
		return e.image(ctx, r, ext)
	case ClassApi:
		return e.api(ctx, r, ext)
	default:
		return e.other(ctx, r)
	}
}

// Pass forwards the request to the network without touching the cache.
func (e *Executor) Pass(ctx context.Context, class RequestClass, r *http.Request) (*Result, error) {
	res, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	result := &Result{Class: class, Source: SourceNetwork, Response: res}
	result.CacheStatus.Forward(CacheStatusFwdBypass)
	return result, nil
}

type matchResult struct {
	res serializer.StoredResponse
	ok  bool
}

// navigation is network-first with the cached root document and then the
// offline document as fallbacks. The cache lookup runs while the network is
// asked, so the fallback is ready when the network fails.
func (e *Executor) navigation(ctx context.Context, r *http.Request, ext Extender) (*Result, error) {
	lookupCtx := context.WithoutCancel(ctx)
	cached := make(chan matchResult, 1)
	go func() {
		res, ok := e.match(lookupCtx, e.rootKey)
		cached <- matchResult{res, ok}
	}()

	res, err := e.fetcher.Fetch(ctx, r)
	if err == nil {
		result := &Result{Class: ClassNavigation, Source: SourceNetwork, Response: res}
		result.CacheStatus.Forward(CacheStatusFwdRequest)
		if storable(r, res) {
			e.store(ext, e.rootKey, res)
			result.CacheStatus.Stored()
		}
		return result, nil
	}
	e.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Navigation failed, falling back")

	if m := <-cached; m.ok {
		result := &Result{Class: ClassNavigation, Source: SourceCache, Response: m.res}
		result.CacheStatus.Hit()
		result.CacheStatus.Detail("network-fallback")
		return result, nil
	}
	if offline, ok := e.match(lookupCtx, e.offlineKey); ok {
		result := &Result{Class: ClassNavigation, Source: SourceFallback, Response: offline}
		result.CacheStatus.Hit()
		result.CacheStatus.Detail("offline-fallback")
		return result, nil
	}
	return nil, err
}

// image is cache-first with a fallback image. It never fails.
func (e *Executor) image(ctx context.Context, r *http.Request, ext Extender) (*Result, error) {
	key := e.keyer.GetKey(r)
	if r.Method == http.MethodGet {
		if cached, ok := e.match(ctx, key); ok {
			result := &Result{Class: ClassImage, Source: SourceCache, Response: cached}
			result.CacheStatus.Hit()
			return result, nil
		}
	}

	res, err := e.fetcher.Fetch(ctx, r)
	if err == nil {
		result := &Result{Class: ClassImage, Source: SourceNetwork, Response: res}
		result.CacheStatus.Forward(CacheStatusFwdUriMiss)
		if storable(r, res) {
			e.store(ext, key, res)
			result.CacheStatus.Stored()
		}
		return result, nil
	}
	e.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Image fetch failed, serving fallback")

	result := &Result{Class: ClassImage, Source: SourceFallback}
	result.CacheStatus.Hit()
	if fallback, ok := e.match(context.WithoutCancel(ctx), e.fallbackImageKey); ok {
		result.Response = fallback
		result.CacheStatus.Detail("image-fallback")
	} else {
		result.Response = placeholderImage.Clone()
		result.CacheStatus.Detail("placeholder")
	}
	return result, nil
}

// api is network-first. Offline, the cached copy of the exact request is served;
// without one the network error is returned.
func (e *Executor) api(ctx context.Context, r *http.Request, ext Extender) (*Result, error) {
	key := e.keyer.GetKey(r)
	res, err := e.fetcher.Fetch(ctx, r)
	if err == nil {
		result := &Result{Class: ClassApi, Source: SourceNetwork, Response: res}
		result.CacheStatus.Forward(CacheStatusFwdRequest)
		if storable(r, res) {
			e.store(ext, key, res)
			result.CacheStatus.Stored()
		}
		if res.OK() {
			for _, update := range cacheupdate.GetCacheUpdates(r, res.Header) {
				e.refresh(ext, r, update)
			}
		}
		return result, nil
	}
	if r.Method == http.MethodGet {
		if cached, ok := e.match(context.WithoutCancel(ctx), key); ok {
			e.log.Debug().Err(err).Str("key", key).Msg("API offline, serving cached copy")
			result := &Result{Class: ClassApi, Source: SourceCache, Response: cached}
			result.CacheStatus.Hit()
			result.CacheStatus.Detail("network-fallback")
			return result, nil
		}
	}
	return nil, err
}

// other is cache-first, then network. Network responses are not stored.
func (e *Executor) other(ctx context.Context, r *http.Request) (*Result, error) {
	reason := CacheStatusFwdMethod
	if r.Method == http.MethodGet {
		if cached, ok := e.match(ctx, e.keyer.GetKey(r)); ok {
			result := &Result{Class: ClassOther, Source: SourceCache, Response: cached}
			result.CacheStatus.Hit()
			return result, nil
		}
		reason = CacheStatusFwdUriMiss
	}
	res, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	result := &Result{Class: ClassOther, Source: SourceNetwork, Response: res}
	result.CacheStatus.Forward(reason)
	return result, nil
}

// match treats storage errors as a miss.
func (e *Executor) match(ctx context.Context, key string) (serializer.StoredResponse, bool) {
	res, ok, err := e.gens.Match(ctx, key)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return serializer.StoredResponse{}, false
	}
	return res, ok
}

// store writes a copy of the response to the runtime generation in the background.
func (e *Executor) store(ext Extender, key string, res serializer.StoredResponse) {
	clone := res.Clone()
	ext.WaitUntil(func(ctx context.Context) error {
		if err := e.gens.Put(ctx, Runtime, key, clone); err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
			return nil
		}
		e.log.Trace().Str("key", key).Msg("Cache write")
		return nil
	})
}

// refresh fetches a resource named in a Cache-Update header of a write and replaces its
// runtime copy, so that an offline read after the write does not serve the old state.
func (e *Executor) refresh(ext Extender, r *http.Request, update cacheupdate.CacheUpdate) {
	header := r.Header.Clone()
	ext.WaitUntil(func(ctx context.Context) error {
		if update.Delay > 0 {
			select {
			case <-time.After(update.Delay):
			case <-ctx.Done():
				return nil
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, update.Path, nil)
		if err != nil {
			e.log.Warn().Err(err).Str("path", update.Path).Msg("Invalid cache update")
			return nil
		}
		for _, name := range []string{"Accept", "Accept-Language", "Authorization", "Cookie"} {
			if v := header.Values(name); len(v) > 0 {
				req.Header[name] = v
			}
		}
		res, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			e.log.Debug().Err(err).Str("path", update.Path).Msg("Cache update fetch failed")
			return nil
		}
		if !storable(req, res) {
			return nil
		}
		key := e.keyer.GetKey(req)
		if err := e.gens.Put(ctx, Runtime, key, res); err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
			return nil
		}
		e.log.Debug().Str("key", key).Msg("Cache updated after write")
		return nil
	})
}

// storable responses are 2xx responses to GET requests that do not forbid storing.
func storable(r *http.Request, res serializer.StoredResponse) bool {
	return r.Method == http.MethodGet && res.OK() && !cachecontrol.NoStore(res.Header)
}
