package alwaysoffline

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Payload is the content of a push message.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// DefaultPayload is shown for pushes without data.
var DefaultPayload = Payload{
	Title: "PWA Shop",
	Body:  "New notification",
	URL:   "/",
}

// ParsePayload reads a push message. Missing or empty fields, and data that is
// not a JSON object, fall back to the fields of def.
func ParsePayload(data []byte, def Payload) Payload {
	p := def
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return p
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return p
	}
	if v := parsed.Get("title"); v.Type == gjson.String && v.Str != "" {
		p.Title = v.Str
	}
	if v := parsed.Get("body"); v.Type == gjson.String && v.Str != "" {
		p.Body = v.Str
	}
	if v := parsed.Get("url"); v.Type == gjson.String && v.Str != "" {
		p.URL = v.Str
	}
	return p
}

type NotificationData struct {
	URL string `json:"url"`
}

// Notification is what the host shows to the user.
type Notification struct {
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Icon    string           `json:"icon,omitempty"`
	Badge   string           `json:"badge,omitempty"`
	Vibrate []int            `json:"vibrate,omitempty"`
	Data    NotificationData `json:"data"`
}

// Client is a window controlled by the host.
type Client interface {
	URL() string
	Focus(ctx context.Context) error
}

// Host is the environment the agent runs in. It shows notifications and
// manages the windows of the application.
type Host interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, n Notification) error
	// Clients returns all open windows of the origin, controlled or not.
	Clients(ctx context.Context) ([]Client, error)
	OpenWindow(ctx context.Context, url string) (Client, error)
	// Claim takes control of the open windows.
	Claim(ctx context.Context) error
}

type NotificationOptions struct {
	Icon    string
	Badge   string
	Vibrate []int
	// Used for pushes without data and for missing fields.
	Default Payload
}

var DefaultNotificationOptions = NotificationOptions{
	Icon:    "/icons/icon-192.png",
	Badge:   "/icons/icon-192.png",
	Vibrate: []int{100, 50, 100},
	Default: DefaultPayload,
}

// NotificationDispatcher turns push messages into notifications and
// notification clicks into focused or opened windows.
type NotificationDispatcher struct {
	host    Host
	origin  *url.URL
	options NotificationOptions
	log     zerolog.Logger
}

func NewNotificationDispatcher(host Host, origin *url.URL, options NotificationOptions, logger zerolog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		host:    host,
		origin:  origin,
		options: options,
		log:     logger.With().Str("component", "notifications").Logger(),
	}
}

// Notification builds the notification for a push message.
func (d *NotificationDispatcher) Notification(data []byte) Notification {
	p := ParsePayload(data, d.options.Default)
	return Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    d.options.Icon,
		Badge:   d.options.Badge,
		Vibrate: append([]int(nil), d.options.Vibrate...),
		Data:    NotificationData{URL: p.URL},
	}
}

// HandlePush shows the notification for a push message.
func (d *NotificationDispatcher) HandlePush(ctx context.Context, data []byte) error {
	n := d.Notification(data)
	if err := d.host.ShowNotification(ctx, n); err != nil {
		return err
	}
	d.log.Debug().Str("title", n.Title).Str("url", n.Data.URL).Msg("Notification shown")
	return nil
}

// HandleClick closes the notification, then focuses the first window showing its
// target or, if there is none, opens a new one.
func (d *NotificationDispatcher) HandleClick(ctx context.Context, n Notification) error {
	if err := d.host.CloseNotification(ctx, n); err != nil {
		d.log.Warn().Err(err).Msg("Could not close notification")
	}
	target := n.Data.URL
	if target == "" {
		target = d.options.Default.URL
	}
	if target == "" {
		target = "/"
	}
	resolved := d.resolve(target)

	clients, err := d.host.Clients(ctx)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if d.resolve(c.URL()) != resolved {
			continue
		}
		if err := c.Focus(ctx); err != nil {
			d.log.Warn().Err(err).Str("url", resolved).Msg("Could not focus window")
			continue
		}
		d.log.Debug().Str("url", resolved).Msg("Focused window")
		return nil
	}
	if _, err := d.host.OpenWindow(ctx, resolved); err != nil {
		return err
	}
	d.log.Debug().Str("url", resolved).Msg("Opened window")
	return nil
}

// resolve makes a URL absolute against the origin.
func (d *NotificationDispatcher) resolve(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if d.origin != nil {
		u = d.origin.ResolveReference(u)
	}
	return u.String()
}
