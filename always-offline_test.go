package alwaysoffline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/always-cache/always-offline/cache"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, config Config) *Agent {
	logger := zerolog.Nop()
	if config.Logger == nil {
		config.Logger = &logger
	}
	if config.OriginURL.Host == "" {
		u, err := url.Parse(testOrigin)
		require.NoError(t, err)
		config.OriginURL = *u
	}
	a, err := CreateAgent(config)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func serve(a http.Handler, method, target string, header map[string]string) *http.Response {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, req)
	return rr.Result()
}

func readBody(t *testing.T, res *http.Response) string {
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(body)
}

var navigate = map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"}

func TestAgentPassesThroughBeforeActivation(t *testing.T) {
	origin := shopOrigin()
	a := newTestAgent(t, Config{Fetcher: origin, Host: &fakeHost{}})

	res := serve(a, "GET", "/styles.css", nil)
	assert.Equal(t, StateParsed, a.State())
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "body{}", readBody(t, res))
	assert.Equal(t, "Always-Offline; fwd=bypass", res.Header.Get("Cache-Status"))
}

func TestAgentStartServesOffline(t *testing.T) {
	origin := shopOrigin()
	origin.serve("/", 200, "text/html", "<h1>shop</h1>")
	origin.serve("/manifest.json", 200, "application/json", "{}")
	host := &fakeHost{}
	a := newTestAgent(t, Config{Fetcher: origin, Host: host})

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StateActivated, a.State())
	assert.Equal(t, 1, host.claimed)

	origin.offline.Store(true)
	res := serve(a, "GET", "/products/1", navigate)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "<h1>shop</h1>", readBody(t, res))
	assert.Equal(t, "Always-Offline; hit; detail=network-fallback", res.Header.Get("Cache-Status"))

	res = serve(a, "GET", "/assets/unknown.png", map[string]string{"Sec-Fetch-Dest": "image"})
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "fallback", readBody(t, res))

	res = serve(a, "GET", "/api/products", nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestAgentInstallFailureMakesItRedundant(t *testing.T) {
	origin := shopOrigin()
	a := newTestAgent(t, Config{Fetcher: origin, Host: &fakeHost{}, Precache: []string{"/index.html", "/missing.js"}})

	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateRedundant, a.State())

	// activation needs a successful install
	assert.Error(t, a.Dispatch(context.Background(), ActivateEvent{}).Wait(context.Background()))

	res := serve(a, "GET", "/index.html", navigate)
	assert.Equal(t, "Always-Offline; fwd=bypass", res.Header.Get("Cache-Status"))
}

func TestAgentUpgradeDeletesOldGenerations(t *testing.T) {
	origin := shopOrigin()
	store := cache.NewMemCache()
	precache := []string{"/index.html"}

	v1 := newTestAgent(t, Config{Version: "pwa-shop-v1", Cache: store, Fetcher: origin, Host: &fakeHost{}, Precache: precache})
	require.NoError(t, v1.Start(context.Background()))
	serve(v1, "GET", "/api/products", nil)
	require.NoError(t, v1.Close())

	v2 := newTestAgent(t, Config{Version: "pwa-shop-v2", Cache: store, Fetcher: origin, Host: &fakeHost{}, Precache: precache})
	require.NoError(t, v2.Start(context.Background()))

	names, err := store.Generations(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pwa-shop-v2-precache", "pwa-shop-v2-runtime"}, names)
}

func TestAgentWithOriginServer(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>shop</h1>"))
	})
	r.Get("/api/products", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":1}]`))
	})
	ts := httptest.NewServer(r)
	originURL, err := url.Parse(ts.URL)
	require.NoError(t, err)

	a := newTestAgent(t, Config{OriginURL: *originURL, Host: &fakeHost{}, Precache: []string{"/index.html"}})
	require.NoError(t, a.Start(context.Background()))

	res := serve(a, "GET", "/api/products", nil)
	assert.Equal(t, "Always-Offline; fwd=request; stored", res.Header.Get("Cache-Status"))
	assert.Equal(t, `[{"id":1}]`, readBody(t, res))
	require.NoError(t, a.Close())

	ts.Close()
	res = serve(a, "GET", "/api/products", nil)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.Equal(t, `[{"id":1}]`, readBody(t, res))
	assert.Equal(t, "Always-Offline; hit; detail=network-fallback", res.Header.Get("Cache-Status"))
}

func TestAgentHandlerFetcher(t *testing.T) {
	var calls int
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})
	a := newTestAgent(t, Config{Fetcher: HandlerFetcher{Handler: app}, Host: &fakeHost{}, Precache: []string{}})
	require.NoError(t, a.Start(context.Background()))

	image := map[string]string{"Sec-Fetch-Dest": "image"}
	serve(a, "GET", "/assets/p1.png", image)
	require.NoError(t, a.Close())
	res := serve(a, "GET", "/assets/p1.png", image)

	assert.Equal(t, 1, calls)
	assert.Equal(t, "png", readBody(t, res))
	assert.Equal(t, "Always-Offline; hit", res.Header.Get("Cache-Status"))
}

func TestAgentNotificationEvents(t *testing.T) {
	host := &fakeHost{}
	a := newTestAgent(t, Config{Fetcher: shopOrigin(), Host: host})
	ctx := context.Background()

	require.NoError(t, a.Dispatch(ctx, PushEvent{Data: []byte(`{"title":"Sale","body":"Today only","url":"/products/3"}`)}).Wait(ctx))
	require.Len(t, host.shown, 1)
	assert.Equal(t, "Sale", host.shown[0].Title)

	p := a.Dispatch(ctx, NotificationClickEvent{Notification: host.shown[0]})
	require.NoError(t, p.Wait(ctx))
	result, err := p.Response(ctx)
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, []string{testOrigin + "/products/3"}, host.opened)
}

func TestCreateAgentNeedsOrigin(t *testing.T) {
	logger := zerolog.Nop()
	_, err := CreateAgent(Config{Logger: &logger})
	assert.Error(t, err)
}
