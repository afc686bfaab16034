package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidPayload = errors.New("Title and body are required")

// Payload is the notification content sent to every subscription.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Normalize validates the payload and fills in the default URL.
func (p Payload) Normalize() (Payload, error) {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Body) == "" {
		return p, ErrInvalidPayload
	}
	if p.URL == "" {
		p.URL = "/"
	}
	return p, nil
}

// DeliveryError is a failed delivery to one endpoint.
type DeliveryError struct {
	Endpoint string
	// Status returned by the push service, 0 if none was received.
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to %s failed with status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed: %v", e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Gone reports whether the push service says the subscription no longer exists.
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// Pusher delivers one message to one subscription.
type Pusher interface {
	Push(ctx context.Context, sub Subscription, message []byte) error
}

// Result counts the outcome of a broadcast.
type Result struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
}

const DefaultConcurrency = 16

type BroadcasterConfig struct {
	Registry Registry
	Pusher   Pusher
	// Maximum number of deliveries in flight. DefaultConcurrency if zero.
	Concurrency int
	// Remove subscriptions the push service reports as gone.
	PruneGone bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Broadcaster sends a payload to every registered subscription.
type Broadcaster struct {
	registry    Registry
	pusher      Pusher
	concurrency int
	pruneGone   bool
	log         zerolog.Logger
}

func NewBroadcaster(config BroadcasterConfig) *Broadcaster {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Broadcaster{
		registry:    config.Registry,
		pusher:      config.Pusher,
		concurrency: concurrency,
		pruneGone:   config.PruneGone,
		log:         logger.With().Str("component", "broadcast").Logger(),
	}
}

// Broadcast delivers the payload to all subscriptions concurrently and waits for
// every attempt. Failed deliveries are logged and only reduce the delivered count;
// the returned error is for an invalid payload or an unreadable registry.
func (b *Broadcaster) Broadcast(ctx context.Context, payload Payload) (Result, error) {
	payload, err := payload.Normalize()
	if err != nil {
		return Result{}, err
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	subs, err := b.registry.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read subscriptions: %w", err)
	}

	logger := b.log.With().Str("broadcast", uuid.NewString()).Logger()
	var delivered atomic.Int64
	// no error is returned from the tasks, so no attempt cancels the others
	var eg errgroup.Group
	eg.SetLimit(b.concurrency)
	for _, sub := range subs {
		sub := sub
		eg.Go(func() error {
			if err := b.pusher.Push(ctx, sub, message); err != nil {
				b.failed(ctx, logger, sub, err)
				return nil
			}
			delivered.Add(1)
			logger.Trace().Str("endpoint", sub.Endpoint).Msg("Delivered")
			return nil
		})
	}
	eg.Wait()

	result := Result{Attempted: len(subs), Delivered: int(delivered.Load())}
	logger.Info().
		Int("attempted", result.Attempted).
		Int("delivered", result.Delivered).
		Str("title", payload.Title).
		Msg("Broadcast done")
	return result, nil
}

func (b *Broadcaster) failed(ctx context.Context, logger zerolog.Logger, sub Subscription, err error) {
	var de *DeliveryError
	gone := errors.As(err, &de) && de.Gone()
	event := logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Bool("gone", gone)
	if de != nil {
		event = event.Int("status", de.StatusCode)
	}
	event.Msg("Failed to send notification")
	if !gone || !b.pruneGone {
		return
	}
	if _, err := b.registry.Remove(ctx, sub.Endpoint); err != nil {
		logger.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("Could not remove subscription")
		return
	}
	logger.Info().Str("endpoint", sub.Endpoint).Msg("Removed gone subscription")
}
