package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/always-cache/always-offline/push"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodyBytes limits request bodies of the JSON endpoints.
const DefaultMaxBodyBytes = 64 << 10

type Config struct {
	Registry    push.Registry
	Broadcaster *push.Broadcaster
	// Returned by GET /vapidPublicKey.
	VAPIDPublicKey string
	// Directory with the frontend, served for all other GET requests. Nothing is served if empty.
	StaticDir string
	// DefaultMaxBodyBytes if zero.
	MaxBodyBytes int64
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type server struct {
	registry     push.Registry
	broadcaster  *push.Broadcaster
	publicKey    string
	maxBodyBytes int64
}

type response struct {
	Ok     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Sent   *int   `json:"sent,omitempty"`
	Status string `json:"status,omitempty"`
}

// New returns the handler of the push server.
func New(config Config) http.Handler {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	s := &server{
		registry:     config.Registry,
		broadcaster:  config.Broadcaster,
		publicKey:    config.VAPIDPublicKey,
		maxBodyBytes: config.MaxBodyBytes,
	}
	if s.maxBodyBytes == 0 {
		s.maxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger.With().Str("component", "server").Logger()))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/vapidPublicKey", s.vapidPublicKey)
	r.Post("/subscribe", s.subscribe)
	r.Post("/send-notification", s.sendNotification)
	r.Get("/health", s.health)

	if config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(config.StaticDir)))
	}
	return r
}

func (s *server) vapidPublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, s.publicKey)
}

func (s *server) subscribe(w http.ResponseWriter, r *http.Request) {
	var sub push.Subscription
	if err := s.decode(w, r, &sub); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Could not decode subscription")
		writeJSON(w, r, http.StatusBadRequest, response{Error: push.ErrInvalidSubscription.Error()})
		return
	}
	if err := s.registry.Add(r.Context(), sub); err != nil {
		if errors.Is(err, push.ErrInvalidSubscription) {
			writeJSON(w, r, http.StatusBadRequest, response{Error: err.Error()})
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Could not store subscription")
		writeJSON(w, r, http.StatusInternalServerError, response{Error: "Could not store subscription"})
		return
	}
	hlog.FromRequest(r).Info().Str("endpoint", sub.Endpoint).Msg("New subscription added")
	writeJSON(w, r, http.StatusCreated, response{Ok: true})
}

func (s *server) sendNotification(w http.ResponseWriter, r *http.Request) {
	var payload push.Payload
	if err := s.decode(w, r, &payload); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("Could not decode payload")
		writeJSON(w, r, http.StatusBadRequest, response{Error: push.ErrInvalidPayload.Error()})
		return
	}
	result, err := s.broadcaster.Broadcast(r.Context(), payload)
	if err != nil {
		if errors.Is(err, push.ErrInvalidPayload) {
			writeJSON(w, r, http.StatusBadRequest, response{Error: err.Error()})
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Broadcast failed")
		writeJSON(w, r, http.StatusInternalServerError, response{Error: "Broadcast failed"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{Ok: true, Sent: &result.Delivered})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, response{Ok: true, Status: "Server running"})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}

// StaticDirExists reports whether dir can be served.
func StaticDirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
