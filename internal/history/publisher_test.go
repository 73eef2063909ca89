package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	id "registryd/pkg/domain"
)

type captureSink struct {
	mu      sync.Mutex
	entries []*Entry
	err     error
}

func (s *captureSink) Deliver(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) delivered() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry(nil), s.entries...)
}

func newEntry() *Entry {
	return NewEntry(TypeDomainTransferRequest, "sld.example", "NewRegistrar",
		id.NewTRID("ABC-12345"), time.Date(2000, time.June, 6, 22, 0, 0, 0, time.UTC))
}

func TestPublisherSync(t *testing.T) {
	sink := &captureSink{}
	publisher := NewPublisher(sink)
	defer publisher.Close()

	entry := newEntry()
	publisher.Publish(context.Background(), entry)

	delivered := sink.delivered()
	require.Len(t, delivered, 1)
	require.Equal(t, entry.Key, delivered[0].Key)
}

func TestPublisherIgnoresNil(t *testing.T) {
	sink := &captureSink{}
	publisher := NewPublisher(sink)
	defer publisher.Close()

	publisher.Publish(context.Background(), nil)
	require.Empty(t, sink.delivered())
}

func TestPublisherSwallowsSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	publisher := NewPublisher(sink)
	defer publisher.Close()

	// Must not panic or surface the error.
	publisher.Publish(context.Background(), newEntry())
}

func TestPublisherAsyncDrainsOnClose(t *testing.T) {
	sink := &captureSink{}
	publisher := NewPublisher(sink, WithAsyncBuffer(16))

	for i := 0; i < 10; i++ {
		publisher.Publish(context.Background(), newEntry())
	}
	publisher.Close()

	require.Len(t, sink.delivered(), 10)
}

func TestPublisherAsyncDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	publisher := NewPublisher(sink, WithAsyncBuffer(1))

	// First entry occupies the worker, second fills the buffer, the rest are
	// dropped instead of blocking the caller.
	for i := 0; i < 5; i++ {
		publisher.Publish(context.Background(), newEntry())
	}
	close(block)
	publisher.Close()

	require.LessOrEqual(t, sink.count(), 2)
}

func TestPublisherCloseIsIdempotent(t *testing.T) {
	publisher := NewPublisher(&captureSink{}, WithAsyncBuffer(1))
	publisher.Close()
	publisher.Close()
}

type blockingSink struct {
	release   chan struct{}
	mu        sync.Mutex
	delivered int
}

func (s *blockingSink) Deliver(context.Context, *Entry) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered++
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}
