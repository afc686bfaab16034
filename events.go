package alwaysoffline

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

type EventType string

const (
	EventInstall           EventType = "install"
	EventActivate          EventType = "activate"
	EventFetch             EventType = "fetch"
	EventPush              EventType = "push"
	EventNotificationClick EventType = "notificationclick"
)

// Event is something the host asks the agent to handle.
type Event interface {
	Type() EventType
}

type InstallEvent struct{}

type ActivateEvent struct{}

type FetchEvent struct {
	Request *http.Request
}

type PushEvent struct {
	// Raw push message data, nil when the push carried none.
	Data []byte
}

type NotificationClickEvent struct {
	Notification Notification
}

func (InstallEvent) Type() EventType           { return EventInstall }
func (ActivateEvent) Type() EventType          { return EventActivate }
func (FetchEvent) Type() EventType             { return EventFetch }
func (PushEvent) Type() EventType              { return EventPush }
func (NotificationClickEvent) Type() EventType { return EventNotificationClick }

// extendable collects the work an event has to finish before it is complete.
// Tasks run on a context that is not canceled with the request.
type extendable struct {
	ctx context.Context
	eg  errgroup.Group
}

func (e *extendable) WaitUntil(task func(ctx context.Context) error) {
	e.eg.Go(func() error {
		return task(e.ctx)
	})
}

// Pending is the completion handle of a dispatched event.
// For fetch events Response resolves as soon as the strategy produced a
// response, Wait resolves when every task of the event settled.
type Pending struct {
	ext *extendable

	respondOnce sync.Once
	responded   chan struct{}
	result      *Result
	resultErr   error

	done    chan struct{}
	waitErr error
}

func newPending(ctx context.Context) *Pending {
	return &Pending{
		ext:       &extendable{ctx: context.WithoutCancel(ctx)},
		responded: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *Pending) respondWith(result *Result, err error) {
	p.respondOnce.Do(func() {
		p.result = result
		p.resultErr = err
		close(p.responded)
	})
}

// start runs the handler as the first task and settles the handle
// once all tasks are finished.
func (p *Pending) start(handler func(ctx context.Context, ext Extender) error, onSettled func()) {
	p.ext.WaitUntil(func(ctx context.Context) error {
		return handler(ctx, p.ext)
	})
	go func() {
		p.waitErr = p.ext.eg.Wait()
		// events without a response settle it with the handler outcome
		p.respondWith(nil, p.waitErr)
		close(p.done)
		if onSettled != nil {
			onSettled()
		}
	}()
}

// Response waits for the response of a fetch event.
func (p *Pending) Response(ctx context.Context) (*Result, error) {
	select {
	case <-p.responded:
		return p.result, p.resultErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait waits until every task of the event settled and returns the first error.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the event settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}
