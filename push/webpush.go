package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const DefaultTTL = 24 * time.Hour

// VAPID identifies the application server to push services.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	// Contact of the sender, a mailto: or https: URL.
	Subject string
}

// GenerateVAPID creates a new VAPID key pair.
func GenerateVAPID(subject string) (VAPID, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPID{}, err
	}
	return VAPID{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}, nil
}

type WebPusherConfig struct {
	VAPID VAPID
	// How long the push service keeps undelivered messages. DefaultTTL if zero.
	TTL time.Duration
	// One of "very-low", "low", "normal" and "high". Empty leaves it to the push service.
	Urgency string
	// Client for requests to push services. http.DefaultClient if nil.
	HTTPClient *http.Client
}

// WebPusher delivers encrypted messages with the Web Push protocol.
type WebPusher struct {
	options webpush.Options
}

func NewWebPusher(config WebPusherConfig) (*WebPusher, error) {
	if config.VAPID.PublicKey == "" || config.VAPID.PrivateKey == "" {
		return nil, errors.New("VAPID keys are required")
	}
	ttl := config.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	switch config.Urgency {
	case "", string(webpush.UrgencyVeryLow), string(webpush.UrgencyLow), string(webpush.UrgencyNormal), string(webpush.UrgencyHigh):
	default:
		return nil, fmt.Errorf("invalid urgency %q", config.Urgency)
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPusher{
		options: webpush.Options{
			HTTPClient: client,
			// the library adds the mailto: scheme to plain addresses
			Subscriber:      strings.TrimPrefix(config.VAPID.Subject, "mailto:"),
			VAPIDPublicKey:  config.VAPID.PublicKey,
			VAPIDPrivateKey: config.VAPID.PrivateKey,
			TTL:             int(ttl / time.Second),
			Urgency:         webpush.Urgency(config.Urgency),
		},
	}, nil
}

func (p *WebPusher) Push(ctx context.Context, sub Subscription, message []byte) error {
	options := p.options
	res, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &options)
	if err != nil {
		return &DeliveryError{Endpoint: sub.Endpoint, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &DeliveryError{
			Endpoint:   sub.Endpoint,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("push service responded %q", strings.TrimSpace(string(body))),
		}
	}
	return nil
}
