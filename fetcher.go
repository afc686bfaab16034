package alwaysoffline

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	serializer "github.com/always-cache/always-offline/pkg/response-serializer"
	tee "github.com/always-cache/always-offline/pkg/response-writer-tee"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Fetcher is the network side of the agent.
// Any returned error counts as a network failure; a response with any status
// code is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (serializer.StoredResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (serializer.StoredResponse, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (serializer.StoredResponse, error) {
	return f(ctx, r)
}

// OriginFetcher fetches requests from an origin server over HTTP.
type OriginFetcher struct {
	origin string
	host   string
	client *http.Client
	log    zerolog.Logger
}

type OriginConfig struct {
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Timeout for a complete fetch. Zero means no timeout.
	Timeout time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

func NewOriginFetcher(config OriginConfig) *OriginFetcher {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	transport := http.DefaultTransport
	if config.OriginHost != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}
	return &OriginFetcher{
		origin: strings.TrimRight(config.OriginURL.String(), "/"),
		host:   config.OriginHost,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			// do not follow redirects, the client does that
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: logger.With().Str("origin", config.OriginURL.String()).Logger(),
	}
}

func (f *OriginFetcher) Fetch(ctx context.Context, r *http.Request) (serializer.StoredResponse, error) {
	target := f.origin + r.URL.RequestURI()
	var body = r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return serializer.StoredResponse{}, &NetworkError{URL: target, Err: err}
	}
	copyHeader(req.Header, r.Header)
	if f.host != "" {
		req.Host = f.host
	}
	f.log.Trace().Str("method", req.Method).Str("url", target).Msg("Fetching from origin")
	res, err := f.client.Do(req)
	if err != nil {
		return serializer.StoredResponse{}, &NetworkError{URL: target, Err: err}
	}
	sRes, err := serializer.FromResponse(res)
	if err != nil {
		return serializer.StoredResponse{}, &NetworkError{URL: target, Err: err}
	}
	return sRes, nil
}

// HandlerFetcher fetches requests from an in-process http.Handler.
// Use it to put the agent in front of an application as a middleware.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (serializer.StoredResponse, error) {
	if err := ctx.Err(); err != nil {
		return serializer.StoredResponse{}, &NetworkError{URL: r.URL.String(), Err: err}
	}
	rs := tee.NewResponseSaver(nil)
	f.Handler.ServeHTTP(rs, r.WithContext(ctx))
	if err := ctx.Err(); err != nil {
		return serializer.StoredResponse{}, &NetworkError{URL: r.URL.String(), Err: err}
	}
	return serializer.StoredResponse{
		StatusCode: rs.StatusCode(),
		Header:     rs.Header().Clone(),
		Body:       append([]byte(nil), rs.Body()...),
		StoredAt:   rs.CreatedAt,
	}, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
