// Package service implements the poll queue commands: retrieving the next
// visible message and acknowledging one.
//
// Visibility is pure projection: a message exists from the moment a flow
// creates it, but it is served only once the request time reaches its event
// time. Deadline-dated messages therefore appear exactly when the transfer
// deadline passes, without any scheduler having run.
package service

import (
	"context"
	"errors"
	"log/slog"

	"registryd/internal/poll"
	"registryd/internal/resource/store"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/platform/sentinel"
	"registryd/pkg/requestcontext"
)

// Service serves a registrar's poll queue.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

// Option configures the service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs the poll service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the oldest visible message for the requesting registrar and
// the number of visible messages, including the returned one. A nil message
// with a zero count means the queue is empty.
func (s *Service) Next(ctx context.Context) (*poll.Message, int, error) {
	registrar := requestcontext.RegistrarID(ctx)
	if registrar.IsNil() {
		return nil, 0, dErrors.New(dErrors.CodeUnauthorized, "no registrar identity on request")
	}

	visible, err := s.visibleMessages(ctx, registrar)
	if err != nil {
		return nil, 0, err
	}
	if len(visible) == 0 {
		return nil, 0, nil
	}
	return visible[0], len(visible), nil
}

// Ack removes a delivered message from the queue and returns how many
// visible messages remain. Autorenew reminders recur: acknowledging one
// rolls it forward a year instead of removing it.
func (s *Service) Ack(ctx context.Context, key id.EntityKey) (int, error) {
	registrar := requestcontext.RegistrarID(ctx)
	if registrar.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "no registrar identity on request")
	}
	now := requestcontext.Now(ctx)

	message, err := s.store.GetPollMessage(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "no such message in the queue")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "loading poll message")
	}
	if message.ClientID != registrar {
		return 0, dErrors.New(dErrors.CodeForbidden, "message belongs to another registrar")
	}
	// A message the registrar cannot see yet cannot be acknowledged.
	if !message.VisibleAt(now) {
		return 0, dErrors.New(dErrors.CodeNotFound, "no such message in the queue")
	}

	if message.Kind == poll.KindAutorenew {
		message.EventTime = message.EventTime.AddDate(1, 0, 0)
		if err := s.store.PutPollMessage(ctx, message); err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "rescheduling autorenew reminder")
		}
	} else if err := s.store.DeletePollMessage(ctx, key); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "removing poll message")
	}

	visible, err := s.visibleMessages(ctx, registrar)
	if err != nil {
		return 0, err
	}
	return len(visible), nil
}

func (s *Service) visibleMessages(ctx context.Context, registrar id.RegistrarID) ([]*poll.Message, error) {
	messages, err := s.store.ListPollMessagesByRegistrar(ctx, registrar)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "listing poll messages")
	}
	now := requestcontext.Now(ctx)
	visible := messages[:0]
	for _, message := range messages {
		if message.VisibleAt(now) {
			visible = append(visible, message)
		}
	}
	return visible, nil
}
