package alwaysoffline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/skratchdot/open-golang/open"
)

// DesktopHost runs the agent outside a browser. Notifications go to the log and
// windows are opened in the default browser of the desktop.
type DesktopHost struct {
	log zerolog.Logger
	// opens a URL in a browser, open.Run by default
	opener func(url string) error

	mu      sync.Mutex
	windows []*desktopWindow
	shown   []Notification
}

func NewDesktopHost(logger zerolog.Logger) *DesktopHost {
	return &DesktopHost{
		log:    logger.With().Str("component", "host").Logger(),
		opener: open.Run,
	}
}

type desktopWindow struct {
	host *DesktopHost
	url  string
}

func (w *desktopWindow) URL() string {
	return w.url
}

// Focus opens the URL again, browsers switch to the existing tab where they can.
func (w *desktopWindow) Focus(ctx context.Context) error {
	return w.host.opener(w.url)
}

func (h *DesktopHost) ShowNotification(ctx context.Context, n Notification) error {
	h.mu.Lock()
	h.shown = append(h.shown, n)
	h.mu.Unlock()
	h.log.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("url", n.Data.URL).
		Msg("Notification")
	return nil
}

func (h *DesktopHost) CloseNotification(ctx context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.shown {
		if s.Title == n.Title && s.Body == n.Body && s.Data == n.Data {
			h.shown = append(h.shown[:i], h.shown[i+1:]...)
			break
		}
	}
	return nil
}

// Notifications returns the notifications that are shown and not closed yet.
func (h *DesktopHost) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.shown...)
}

func (h *DesktopHost) Clients(ctx context.Context) ([]Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]Client, 0, len(h.windows))
	for _, w := range h.windows {
		clients = append(clients, w)
	}
	return clients, nil
}

func (h *DesktopHost) OpenWindow(ctx context.Context, url string) (Client, error) {
	if err := h.opener(url); err != nil {
		return nil, err
	}
	w := &desktopWindow{host: h, url: url}
	h.mu.Lock()
	h.windows = append(h.windows, w)
	h.mu.Unlock()
	return w, nil
}

func (h *DesktopHost) Claim(ctx context.Context) error {
	h.log.Debug().Msg("Agent controls all windows")
	return nil
}
