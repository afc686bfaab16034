package alwaysoffline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/always-cache/always-offline/cache"
	serializer "github.com/always-cache/always-offline/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationName(t *testing.T) {
	assert.Equal(t, "pwa-shop-v2-precache", GenerationName("pwa-shop-v2", Precache))
	assert.Equal(t, "pwa-shop-v2-runtime", GenerationName("pwa-shop-v2", Runtime))
}

func TestPrecacheStoresEveryURL(t *testing.T) {
	origin := shopOrigin()
	store := cache.NewMemCache()
	gens := NewGenerations(store, testKeyer(), "v1", zerolog.Nop())

	require.NoError(t, gens.InitializePrecache(context.Background(), []string{"/index.html", "/styles.css", "/app.js"}, origin))
	keys, err := store.Keys(context.Background(), "v1-precache")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		testKey(t, "/index.html"),
		testKey(t, "/styles.css"),
		testKey(t, "/app.js"),
	}, keys)
}

func TestPrecacheIsAllOrNothing(t *testing.T) {
	t.Run("network failure", func(t *testing.T) {
		origin := shopOrigin()
		origin.offline.Store(true)
		store := cache.NewMemCache()
		gens := NewGenerations(store, testKeyer(), "v1", zerolog.Nop())

		err := gens.InitializePrecache(context.Background(), []string{"/index.html", "/styles.css"}, origin)
		require.Error(t, err)
		var se *StorageError
		assert.True(t, errors.As(err, &se))

		names, err := store.Generations(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("bad status", func(t *testing.T) {
		origin := shopOrigin()
		store := cache.NewMemCache()
		gens := NewGenerations(store, testKeyer(), "v1", zerolog.Nop())

		err := gens.InitializePrecache(context.Background(), []string{"/index.html", "/missing.css"}, origin)
		require.Error(t, err)
		names, err := store.Generations(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestPrecacheReinstallReplacesEntries(t *testing.T) {
	origin := shopOrigin()
	store := cache.NewMemCache()
	gens := NewGenerations(store, testKeyer(), "v1", zerolog.Nop())

	require.NoError(t, gens.InitializePrecache(context.Background(), []string{"/index.html", "/styles.css"}, origin))
	require.NoError(t, gens.InitializePrecache(context.Background(), []string{"/index.html"}, origin))
	keys, err := store.Keys(context.Background(), "v1-precache")
	require.NoError(t, err)
	assert.Equal(t, []string{testKey(t, "/index.html")}, keys)
}

func TestActivationDeletesStaleGenerations(t *testing.T) {
	origin := shopOrigin()
	store := cache.NewMemCache()
	ctx := context.Background()

	old := activeGenerations(t, store, "pwa-shop-v1", origin, "/index.html")
	require.NoError(t, old.Put(ctx, Runtime, testKey(t, "/api/products"), serializer.StoredResponse{StatusCode: 200, Body: []byte("old")}))
	require.NoError(t, store.Open(ctx, "unrelated"))

	next := NewGenerations(store, testKeyer(), "pwa-shop-v2", zerolog.Nop())
	require.NoError(t, next.InitializePrecache(ctx, []string{"/index.html"}, origin))

	// installed but waiting: the old generations are untouched
	names, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "pwa-shop-v1-runtime")

	require.NoError(t, next.ActivateLatest(ctx))
	names, err = store.Generations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pwa-shop-v2-precache", "pwa-shop-v2-runtime"}, names)

	_, ok, err := next.Match(ctx, testKey(t, "/api/products"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, map[GenerationKind]string{
		Precache: "pwa-shop-v2-precache",
		Runtime:  "pwa-shop-v2-runtime",
	}, next.Current())
}

func TestActivationLogsEntryCounts(t *testing.T) {
	origin := shopOrigin()
	var buf bytes.Buffer
	gens := NewGenerations(cache.NewMemCache(), testKeyer(), "v1", zerolog.New(&buf))
	require.NoError(t, gens.InitializePrecache(context.Background(), []string{"/index.html", "/styles.css"}, origin))
	buf.Reset()
	require.NoError(t, gens.ActivateLatest(context.Background()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "Generations activated", line["message"])
	assert.Equal(t, float64(2), line["precache"])
	assert.Equal(t, float64(0), line["runtime"])
}

func TestPutBeforeActivationFails(t *testing.T) {
	gens := NewGenerations(cache.NewMemCache(), testKeyer(), "v1", zerolog.Nop())
	err := gens.Put(context.Background(), Runtime, testKey(t, "/"), serializer.StoredResponse{StatusCode: 200})
	assert.ErrorIs(t, err, ErrNotActivated)

	_, ok, err := gens.Match(context.Background(), testKey(t, "/"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, gens.Current())
}

func TestMatchPrefersRuntime(t *testing.T) {
	origin := shopOrigin()
	gens := activeGenerations(t, cache.NewMemCache(), "v1", origin, "/index.html")
	ctx := context.Background()
	key := testKey(t, "/index.html")

	res, ok, err := gens.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<h1>shop</h1>"), res.Body)

	require.NoError(t, gens.Put(ctx, Runtime, key, serializer.StoredResponse{StatusCode: 200, Body: []byte("fresh")}))
	res, ok, err = gens.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), res.Body)

	res, ok, err = gens.MatchIn(ctx, Precache, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<h1>shop</h1>"), res.Body)
}
