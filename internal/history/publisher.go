package history

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives flow summaries. Sinks are best-effort: the store write that
// created the entry has already committed, so a sink failure is logged and
// dropped rather than surfaced to the registrar.
type Sink interface {
	Deliver(ctx context.Context, entry *Entry) error
}

// Publisher fans committed history entries out to a sink, synchronously by
// default or through a buffered channel with WithAsyncBuffer.
type Publisher struct {
	sink   Sink
	logger *slog.Logger

	inbox chan *Entry
	done  chan struct{}
	once  sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous delivery through a
// channel of the given capacity. Close drains the channel before returning.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan *Entry, size)
	}
}

// WithPublisherLogger attaches a structured logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher constructs a publisher over the sink.
func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.done = make(chan struct{})
		go p.run()
	}
	return p
}

// Publish hands an entry to the sink. In async mode a full buffer drops the
// entry rather than blocking the flow that just committed.
func (p *Publisher) Publish(ctx context.Context, entry *Entry) {
	if entry == nil {
		return
	}
	if p.inbox == nil {
		p.deliver(ctx, entry)
		return
	}
	select {
	case p.inbox <- entry.Clone():
	default:
		p.logger.Warn("history publisher buffer full, dropping entry",
			slog.String("entry_key", entry.Key.String()),
			slog.String("type", string(entry.Type)),
		)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for entry := range p.inbox {
		p.deliver(context.Background(), entry)
	}
}

func (p *Publisher) deliver(ctx context.Context, entry *Entry) {
	if err := p.sink.Deliver(ctx, entry); err != nil {
		p.logger.Warn("history sink delivery failed",
			slog.String("entry_key", entry.Key.String()),
			slog.String("type", string(entry.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Close drains pending entries in async mode and waits for delivery.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.inbox == nil {
			return
		}
		close(p.inbox)
		<-p.done
	})
}
