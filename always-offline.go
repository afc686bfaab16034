package alwaysoffline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/always-offline/cache"
	cachekey "github.com/always-cache/always-offline/pkg/cache-key"

	"github.com/rs/zerolog"
)

// DefaultVersion names the cache generations when no version is configured.
const DefaultVersion = "pwa-shop-v2"

// DefaultPrecache is the application shell stored on install.
var DefaultPrecache = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/manifest.json",
	"/offline.html",
	"/assets/fallback-image.png",
}

var DefaultStrategyConfig = StrategyConfig{
	RootDocument:    "/index.html",
	OfflineDocument: "/offline.html",
	FallbackImage:   "/assets/fallback-image.png",
}

type Config struct {
	// Version of the application, names the cache generations.
	// DefaultVersion if empty.
	Version string
	// Storage for cache generations.
	// An in-memory store is used if nil.
	Cache cache.CacheStore
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Timeout for network requests. Zero means no timeout.
	NetworkTimeout time.Duration
	// Network side of the agent. An OriginFetcher for OriginURL is used if nil.
	Fetcher Fetcher
	// URLs stored on install. DefaultPrecache if nil.
	Precache []string
	// Path prefixes of API requests. DefaultApiPrefixes if nil.
	ApiPrefixes []string
	// Documents used by the strategies. Empty fields take the value of DefaultStrategyConfig.
	Strategy StrategyConfig
	// Shows notifications and manages windows. A DesktopHost is used if nil.
	Host Host
	// Notification appearance. DefaultNotificationOptions if nil.
	Notifications *NotificationOptions
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// State is the lifecycle state of an agent.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "parsed"
	}
}

// Agent intercepts requests of one application and answers them from the
// network or its cache generations, depending on the request class.
type Agent struct {
	version     string
	precache    []string
	keyer       cachekey.CacheKeyer
	classifier  Classifier
	generations *Generations
	fetcher     Fetcher
	executor    *Executor
	host        Host
	dispatcher  *NotificationDispatcher
	log         zerolog.Logger

	stateMu sync.Mutex
	state   State

	inflight sync.WaitGroup
}

// CreateAgent initializes the agent. It has to be installed and activated
// before it serves from the cache, see Start.
func CreateAgent(config Config) (*Agent, error) {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	version := config.Version
	if version == "" {
		version = DefaultVersion
	}
	if strings.ContainsRune(version, 0) {
		return nil, fmt.Errorf("invalid version %q", version)
	}

	logger = logger.With().
		Str("version", version).
		Logger()

	store := config.Cache
	if store == nil {
		store = cache.NewMemCache()
	}
	fetcher := config.Fetcher
	if fetcher == nil {
		if config.OriginURL.Host == "" {
			return nil, errors.New("origin URL or fetcher required")
		}
		fetcher = NewOriginFetcher(OriginConfig{
			OriginURL:  config.OriginURL,
			OriginHost: config.OriginHost,
			Timeout:    config.NetworkTimeout,
			Logger:     &logger,
		})
	}
	precache := config.Precache
	if precache == nil {
		precache = DefaultPrecache
	}
	apiPrefixes := config.ApiPrefixes
	if apiPrefixes == nil {
		apiPrefixes = DefaultApiPrefixes
	}
	strategy := config.Strategy
	if strategy.RootDocument == "" {
		strategy.RootDocument = DefaultStrategyConfig.RootDocument
	}
	if strategy.OfflineDocument == "" {
		strategy.OfflineDocument = DefaultStrategyConfig.OfflineDocument
	}
	if strategy.FallbackImage == "" {
		strategy.FallbackImage = DefaultStrategyConfig.FallbackImage
	}
	host := config.Host
	if host == nil {
		host = NewDesktopHost(logger)
	}
	notifications := DefaultNotificationOptions
	if config.Notifications != nil {
		notifications = *config.Notifications
	}

	keyer := cachekey.NewCacheKeyer(config.OriginURL.String())
	generations := NewGenerations(store, keyer, version, logger)
	executor, err := NewExecutor(generations, fetcher, keyer, strategy, logger)
	if err != nil {
		return nil, err
	}
	origin := config.OriginURL
	return &Agent{
		version:     version,
		precache:    precache,
		keyer:       keyer,
		classifier:  Classifier{ApiPrefixes: apiPrefixes},
		generations: generations,
		fetcher:     fetcher,
		executor:    executor,
		host:        host,
		dispatcher:  NewNotificationDispatcher(host, &origin, notifications, logger),
		log:         logger,
	}, nil
}

func (a *Agent) State() State {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *Agent) Generations() *Generations {
	return a.generations
}

// transition moves to the next state if the agent is in one of from.
func (a *Agent) transition(to State, from ...State) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	for _, f := range from {
		if a.state == f {
			a.log.Debug().Stringer("from", a.state).Stringer("to", to).Msg("Lifecycle")
			a.state = to
			return nil
		}
	}
	return fmt.Errorf("cannot move from %s to %s", a.state, to)
}

func (a *Agent) setState(s State) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.log.Debug().Stringer("from", a.state).Stringer("to", s).Msg("Lifecycle")
	a.state = s
}

// Start installs and activates the agent right away, without waiting for
// agents of older versions to let go.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Dispatch(ctx, InstallEvent{}).Wait(ctx); err != nil {
		return err
	}
	return a.Dispatch(ctx, ActivateEvent{}).Wait(ctx)
}

// Dispatch hands an event to the agent. The event is handled in the background,
// the returned handle resolves when it is done.
func (a *Agent) Dispatch(ctx context.Context, ev Event) *Pending {
	p := newPending(ctx)
	a.inflight.Add(1)
	var handler func(ctx context.Context, ext Extender) error
	switch ev := ev.(type) {
	case InstallEvent:
		handler = func(ctx context.Context, ext Extender) error {
			return a.install(ctx)
		}
	case ActivateEvent:
		handler = func(ctx context.Context, ext Extender) error {
			return a.activate(ctx)
		}
	case FetchEvent:
		// the response is bound to the request, its background work is not
		reqCtx := ctx
		handler = func(_ context.Context, ext Extender) error {
			p.respondWith(a.fetch(reqCtx, ev.Request, ext))
			return nil
		}
	case PushEvent:
		handler = func(ctx context.Context, ext Extender) error {
			return a.dispatcher.HandlePush(ctx, ev.Data)
		}
	case NotificationClickEvent:
		handler = func(ctx context.Context, ext Extender) error {
			return a.dispatcher.HandleClick(ctx, ev.Notification)
		}
	default:
		handler = func(ctx context.Context, ext Extender) error {
			return fmt.Errorf("unknown event %T", ev)
		}
	}
	p.start(handler, a.inflight.Done)
	return p
}

func (a *Agent) install(ctx context.Context) error {
	if err := a.transition(StateInstalling, StateParsed, StateRedundant); err != nil {
		return err
	}
	if err := a.generations.InitializePrecache(ctx, a.precache, a.fetcher); err != nil {
		a.setState(StateRedundant)
		return err
	}
	a.setState(StateInstalled)
	a.log.Info().Int("precached", len(a.precache)).Msg("Installed")
	return nil
}

func (a *Agent) activate(ctx context.Context) error {
	if err := a.transition(StateActivating, StateInstalled, StateActivated); err != nil {
		return err
	}
	if err := a.generations.ActivateLatest(ctx); err != nil {
		a.setState(StateInstalled)
		return err
	}
	a.setState(StateActivated)
	if err := a.host.Claim(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Could not claim clients")
	}
	a.log.Info().Msg("Activated")
	return nil
}

func (a *Agent) fetch(ctx context.Context, r *http.Request, ext Extender) (*Result, error) {
	class := a.classifier.Classify(RecordFromRequest(r))
	if a.State() != StateActivated {
		return a.executor.Pass(ctx, class, r)
	}
	return a.executor.Execute(ctx, class, r, ext)
}

// ServeHTTP implements the http.Handler interface.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := a.Dispatch(r.Context(), FetchEvent{Request: r})
	result, err := p.Response(r.Context())
	if err != nil {
		cs := CacheStatus{}
		cs.Forward(CacheStatusFwdRequest)
		cs.Detail("network-error")
		w.Header().Set("Cache-Status", cs.String())
		if IsNetworkError(err) {
			http.Error(w, "Bad gateway", http.StatusBadGateway)
		} else {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		a.log.Warn().Err(err).Str("method", r.Method).Str("url", r.URL.String()).Msg("Request failed")
		return
	}

	res := result.Response
	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Cache-Status", result.CacheStatus.String())
	w.WriteHeader(res.StatusCode)
	if r.Method != http.MethodHead {
		if _, err := w.Write(res.Body); err != nil {
			a.log.Error().Err(err).Msg("Could not write response body to client")
		}
	}
	a.logRequest(r, result)
}

// Close waits for the background work of all dispatched events.
func (a *Agent) Close() error {
	a.inflight.Wait()
	return nil
}

func (a *Agent) logRequest(r *http.Request, result *Result) {
	a.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Stringer("class", result.Class).
		Stringer("source", result.Source).
		Int("status", result.Response.StatusCode).
		Str("cacheStatus", result.CacheStatus.String()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
