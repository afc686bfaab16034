package push

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrInvalidSubscription = errors.New("Invalid subscription object")

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a push endpoint registered by a client, as produced by
// PushManager.subscribe() in the browser.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	// Milliseconds since the epoch, nil if the subscription does not expire.
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           Keys   `json:"keys"`
}

// Validate checks that the subscription has an endpoint.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return ErrInvalidSubscription
	}
	return nil
}

// normalized returns the subscription with surrounding whitespace removed from the
// endpoint, the form registries store it in.
func (s Subscription) normalized() Subscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	return s
}

// Registry stores subscriptions, keyed by endpoint.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Add stores the subscription. Adding a known endpoint replaces its keys.
	Add(ctx context.Context, sub Subscription) error
	// All returns the subscriptions in the order they were first added.
	All(ctx context.Context) ([]Subscription, error)
	// Remove deletes the subscription of the endpoint and reports whether it existed.
	Remove(ctx context.Context, endpoint string) (bool, error)
}

// MemRegistry keeps subscriptions in memory for the lifetime of the process.
type MemRegistry struct {
	mutex *sync.RWMutex
	order []string
	subs  map[string]Subscription
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		mutex: &sync.RWMutex{},
		subs:  make(map[string]Subscription),
	}
}

func (m *MemRegistry) Add(ctx context.Context, sub Subscription) error {
	sub = sub.normalized()
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.subs[sub.Endpoint]; !ok {
		m.order = append(m.order, sub.Endpoint)
	}
	m.subs[sub.Endpoint] = sub
	return nil
}

func (m *MemRegistry) All(ctx context.Context) ([]Subscription, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	subs := make([]Subscription, 0, len(m.order))
	for _, endpoint := range m.order {
		subs = append(subs, m.subs[endpoint])
	}
	return subs, nil
}

func (m *MemRegistry) Remove(ctx context.Context, endpoint string) (bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.subs[endpoint]; !ok {
		return false, nil
	}
	delete(m.subs, endpoint)
	for i, e := range m.order {
		if e == endpoint {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}
