package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"registryd/internal/poll"
	"registryd/internal/resource/store"
	id "registryd/pkg/domain"
	dErrors "registryd/pkg/domain-errors"
	"registryd/pkg/requestcontext"
)

const registrar = id.RegistrarID("TheRegistrar")

type PollServiceSuite struct {
	suite.Suite
	store *store.InMemory
	svc   *Service
	now   time.Time
}

func TestPollServiceSuite(t *testing.T) {
	suite.Run(t, new(PollServiceSuite))
}

func (s *PollServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.svc = NewService(s.store)
	s.now = time.Date(2000, time.June, 6, 22, 0, 0, 0, time.UTC)
}

func (s *PollServiceSuite) ctxAt(asOf time.Time) context.Context {
	ctx := requestcontext.WithRegistrarID(context.Background(), registrar)
	return requestcontext.WithTime(ctx, asOf)
}

func (s *PollServiceSuite) put(message *poll.Message) *poll.Message {
	s.Require().NoError(s.store.PutPollMessage(context.Background(), message))
	return message
}

func (s *PollServiceSuite) TestNextEmptyQueue() {
	message, count, err := s.svc.Next(s.ctxAt(s.now))
	s.Require().NoError(err)
	s.Nil(message)
	s.Zero(count)
}

func (s *PollServiceSuite) TestNextRequiresIdentity() {
	_, _, err := s.svc.Next(requestcontext.WithTime(context.Background(), s.now))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *PollServiceSuite) TestVisibilityGating() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	visible := s.put(poll.NewOneTime(registrar, s.now.Add(-time.Hour), "Transfer requested.", parent))
	s.put(poll.NewOneTime(registrar, s.now.Add(5*24*time.Hour), "Transfer approved.", parent))

	s.Run("future messages are hidden", func() {
		message, count, err := s.svc.Next(s.ctxAt(s.now))
		s.Require().NoError(err)
		s.Require().NotNil(message)
		s.Equal(visible.Key, message.Key)
		s.Equal(1, count)
	})

	s.Run("they surface when their event time passes", func() {
		message, count, err := s.svc.Next(s.ctxAt(s.now.Add(5 * 24 * time.Hour)))
		s.Require().NoError(err)
		s.Require().NotNil(message)
		s.Equal(visible.Key, message.Key)
		s.Equal(2, count)
	})
}

func (s *PollServiceSuite) TestOldestFirst() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	oldest := s.put(poll.NewOneTime(registrar, s.now.Add(-48*time.Hour), "first", parent))
	s.put(poll.NewOneTime(registrar, s.now.Add(-time.Hour), "second", parent))

	message, count, err := s.svc.Next(s.ctxAt(s.now))
	s.Require().NoError(err)
	s.Equal(oldest.Key, message.Key)
	s.Equal(2, count)
}

func (s *PollServiceSuite) TestAck() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	first := s.put(poll.NewOneTime(registrar, s.now.Add(-time.Hour), "first", parent))
	s.put(poll.NewOneTime(registrar, s.now, "second", parent))

	remaining, err := s.svc.Ack(s.ctxAt(s.now), first.Key)
	s.Require().NoError(err)
	s.Equal(1, remaining)

	s.Run("acked message is gone", func() {
		_, err := s.svc.Ack(s.ctxAt(s.now), first.Key)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *PollServiceSuite) TestAckOwnership() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	foreign := s.put(poll.NewOneTime("NewRegistrar", s.now.Add(-time.Hour), "not yours", parent))

	_, err := s.svc.Ack(s.ctxAt(s.now), foreign.Key)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *PollServiceSuite) TestAckInvisibleMessage() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	future := s.put(poll.NewOneTime(registrar, s.now.Add(time.Hour), "not yet", parent))

	_, err := s.svc.Ack(s.ctxAt(s.now), future.Key)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PollServiceSuite) TestAckReschedulesAutorenewReminder() {
	parent := id.NewEntityKey(id.KindHistoryEntry)
	reminder := s.put(poll.NewAutorenew(registrar, "sld.example", s.now.Add(-time.Hour), parent))

	remaining, err := s.svc.Ack(s.ctxAt(s.now), reminder.Key)
	s.Require().NoError(err)
	s.Zero(remaining)

	stored, err := s.store.GetPollMessage(context.Background(), reminder.Key)
	s.Require().NoError(err)
	s.Equal(reminder.EventTime.AddDate(1, 0, 0), stored.EventTime)

	s.Run("it surfaces again next year", func() {
		message, count, err := s.svc.Next(s.ctxAt(s.now.AddDate(1, 0, 0)))
		s.Require().NoError(err)
		s.Require().NotNil(message)
		s.Equal(reminder.Key, message.Key)
		s.Equal(1, count)
	})
}
