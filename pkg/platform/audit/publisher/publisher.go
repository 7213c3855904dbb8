// Package publisher fans moderation audit events out to a primary store and
// optional forwarding sinks, synchronously or through a bounded buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "warden/pkg/platform/audit"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

// Publisher captures structured audit events. The primary store is the one
// List reads from; forward sinks receive a copy and their failures are only
// logged.
type Publisher struct {
	primary audit.Store
	forward []audit.Store
	logger  *slog.Logger
	clock   func() time.Time

	bufferSize int
	inbox      chan audit.Event
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue into a buffer of the given size that a
// background goroutine drains. When the buffer is full the event is written
// synchronously so nothing is dropped.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

// WithForward adds sinks that receive every event after the primary store.
func WithForward(sinks ...audit.Store) Option {
	return func(p *Publisher) {
		for _, sink := range sinks {
			if sink != nil {
				p.forward = append(p.forward, sink)
			}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPublisher(primary audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		primary: primary,
		logger:  slog.New(slog.DiscardHandler),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records an event. Timestamp and category are filled in when missing.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.clock()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.inbox != nil {
		select {
		case p.inbox <- event:
			return nil
		default:
		}
	}
	return p.write(ctx, event)
}

// List returns the newest events from the primary store when it supports it.
func (p *Publisher) List(ctx context.Context, limit int) ([]audit.Event, error) {
	lister, ok := p.primary.(audit.Lister)
	if !ok {
		return nil, nil
	}
	return lister.ListRecent(ctx, limit)
}

// Close drains the buffer and stops the background writer.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.inbox {
		if err := p.write(context.Background(), event); err != nil {
			p.logger.Warn("failed to store audit event", "action", event.Action, "error", err)
		}
	}
}

func (p *Publisher) write(ctx context.Context, event audit.Event) error {
	err := p.primary.Append(ctx, event)
	for _, sink := range p.forward {
		if ferr := sink.Append(ctx, event); ferr != nil {
			p.logger.WarnContext(ctx, "failed to forward audit event", "action", event.Action, "error", ferr)
		}
	}
	return err
}
