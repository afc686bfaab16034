package alwaysoffline

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/always-cache/always-offline/cache"
	cachekey "github.com/always-cache/always-offline/pkg/cache-key"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// GenerationKind is either precache or runtime.
type GenerationKind string

const (
	Precache GenerationKind = "precache"
	Runtime  GenerationKind = "runtime"
)

// GenerationName returns the store name of a generation, e.g. "pwa-shop-v2-precache".
func GenerationName(version string, kind GenerationKind) string {
	return version + "-" + string(kind)
}

// Generations manages the precache and runtime generations of one agent version.
// Before activation no generation is current and lookups miss.
type Generations struct {
	store   cache.CacheStore
	keyer   cachekey.CacheKeyer
	version string
	log     zerolog.Logger

	mu      sync.RWMutex
	current map[GenerationKind]string
	// generations marked for deletion, they take no new writes
	doomed map[string]struct{}
}

func NewGenerations(store cache.CacheStore, keyer cachekey.CacheKeyer, version string, logger zerolog.Logger) *Generations {
	return &Generations{
		store:   store,
		keyer:   keyer,
		version: version,
		log:     logger.With().Str("component", "generations").Logger(),
		current: make(map[GenerationKind]string),
		doomed:  make(map[string]struct{}),
	}
}

// Name returns the name of this version's generation of the given kind.
func (g *Generations) Name(kind GenerationKind) string {
	return GenerationName(g.version, kind)
}

// Current returns the current generation names, empty before activation.
func (g *Generations) Current() map[GenerationKind]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	current := make(map[GenerationKind]string, len(g.current))
	for k, v := range g.current {
		current[k] = v
	}
	return current
}

// InitializePrecache fetches every URL and stores the responses in a fresh precache
// generation. It is all-or-nothing: if any fetch fails or returns a non-2xx status,
// nothing is written; if a write fails, the partially written generation is removed.
// Both cases return a *StorageError.
func (g *Generations) InitializePrecache(ctx context.Context, urls []string, fetcher Fetcher) error {
	name := g.Name(Precache)
	type fetched struct {
		key string
		res serializer.StoredResponse
	}
	results := make([]fetched, len(urls))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, rawURL := range urls {
		i, rawURL := i, rawURL
		eg.Go(func() error {
			key, err := g.keyer.KeyFor(http.MethodGet, rawURL)
			if err != nil {
				return &StorageError{Op: "precache", Generation: name, Key: rawURL, Err: err}
			}
			req, err := http.NewRequestWithContext(egCtx, http.MethodGet, rawURL, nil)
			if err != nil {
				return &StorageError{Op: "precache", Generation: name, Key: key, Err: err}
			}
			res, err := fetcher.Fetch(egCtx, req)
			if err != nil {
				return &StorageError{Op: "precache", Generation: name, Key: key, Err: err}
			}
			if !res.OK() {
				return &StorageError{Op: "precache", Generation: name, Key: key,
					Err: fmt.Errorf("bad response status %d", res.StatusCode)}
			}
			results[i] = fetched{key: key, res: res}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Error().Err(err).Str("generation", name).Msg("Precache aborted, nothing stored")
		return err
	}

	// overwrite whatever an earlier install of this version left behind
	if _, err := g.store.Delete(ctx, name); err != nil {
		return &StorageError{Op: "reset", Generation: name, Err: err}
	}
	if err := g.store.Open(ctx, name); err != nil {
		return &StorageError{Op: "open", Generation: name, Err: err}
	}
	for _, f := range results {
		if err := g.putEntry(ctx, name, f.key, f.res); err != nil {
			if _, delErr := g.store.Delete(ctx, name); delErr != nil {
				g.log.Error().Err(delErr).Str("generation", name).Msg("Could not remove incomplete precache")
			}
			g.log.Error().Err(err).Str("generation", name).Msg("Precache write failed")
			return err
		}
	}
	g.log.Info().Str("generation", name).Int("entries", len(results)).Msg("Precache stored")
	return nil
}

// ActivateLatest makes this version's precache and runtime generations current and
// deletes every other generation in the store.
func (g *Generations) ActivateLatest(ctx context.Context) error {
	keep := map[string]struct{}{
		g.Name(Precache): {},
		g.Name(Runtime):  {},
	}
	names, err := g.store.Generations(ctx)
	if err != nil {
		return &StorageError{Op: "list", Err: err}
	}
	stale := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := keep[name]; !ok {
			stale = append(stale, name)
		}
	}

	// barrier: once marked, stale generations take no new writes
	g.mu.Lock()
	for _, name := range stale {
		g.doomed[name] = struct{}{}
	}
	g.current[Precache] = g.Name(Precache)
	g.current[Runtime] = g.Name(Runtime)
	g.mu.Unlock()

	if err := g.store.Open(ctx, g.Name(Runtime)); err != nil {
		return &StorageError{Op: "open", Generation: g.Name(Runtime), Err: err}
	}
	for _, name := range stale {
		if _, err := g.store.Delete(ctx, name); err != nil {
			// retried on the next activation
			g.log.Error().Err(err).Str("generation", name).Msg("Could not delete stale generation")
			continue
		}
		g.log.Debug().Str("generation", name).Msg("Deleted stale generation")
	}
	g.logActivated(ctx)
	return nil
}

func (g *Generations) logActivated(ctx context.Context) {
	event := g.log.Info().Str("version", g.version)
	for _, kind := range []GenerationKind{Precache, Runtime} {
		keys, err := g.store.Keys(ctx, g.Name(kind))
		if err != nil {
			g.log.Warn().Err(err).Str("generation", g.Name(kind)).Msg("Could not count entries")
			continue
		}
		event = event.Int(string(kind), len(keys))
	}
	event.Msg("Generations activated")
}

// Put upserts a response into the current generation of the given kind.
func (g *Generations) Put(ctx context.Context, kind GenerationKind, key string, res serializer.StoredResponse) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, ok := g.current[kind]
	if !ok {
		return &StorageError{Op: "put", Generation: g.Name(kind), Key: key, Err: ErrNotActivated}
	}
	if _, doomed := g.doomed[name]; doomed {
		return &StorageError{Op: "put", Generation: name, Key: key, Err: fmt.Errorf("generation is being deleted")}
	}
	return g.putEntry(ctx, name, key, res)
}

func (g *Generations) putEntry(ctx context.Context, name, key string, res serializer.StoredResponse) error {
	b, err := serializer.StoredResponseToBytes(res)
	if err != nil {
		return &StorageError{Op: "encode", Generation: name, Key: key, Err: err}
	}
	if err := g.store.Put(ctx, name, cache.CacheEntry{Key: key, StoredAt: res.StoredAt, Bytes: b}); err != nil {
		return &StorageError{Op: "put", Generation: name, Key: key, Err: err}
	}
	return nil
}

// MatchIn looks the key up in the current generation of the given kind.
func (g *Generations) MatchIn(ctx context.Context, kind GenerationKind, key string) (serializer.StoredResponse, bool, error) {
	g.mu.RLock()
	name, ok := g.current[kind]
	g.mu.RUnlock()
	if !ok {
		return serializer.StoredResponse{}, false, nil
	}
	ce, ok, err := g.store.Match(ctx, name, key)
	if err != nil {
		return serializer.StoredResponse{}, false, &StorageError{Op: "match", Generation: name, Key: key, Err: err}
	}
	if !ok {
		return serializer.StoredResponse{}, false, nil
	}
	res, err := serializer.BytesToStoredResponse(ce.Bytes)
	if err != nil {
		return serializer.StoredResponse{}, false, &StorageError{Op: "decode", Generation: name, Key: key, Err: err}
	}
	return res, true, nil
}

// Match looks the key up in the current runtime generation, then in the current precache.
func (g *Generations) Match(ctx context.Context, key string) (serializer.StoredResponse, bool, error) {
	for _, kind := range []GenerationKind{Runtime, Precache} {
		res, ok, err := g.MatchIn(ctx, kind, key)
		if err != nil || ok {
			return res, ok, err
		}
	}
	return serializer.StoredResponse{}, false, nil
}
