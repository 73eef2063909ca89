package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"registryd/internal/billing"
	"registryd/internal/history"
	"registryd/internal/poll"
	"registryd/internal/resource/models"
	id "registryd/pkg/domain"
	"registryd/pkg/platform/sentinel"
)

// InMemory is a map-backed Store. Values are deep-copied on the way in and
// out so callers can never alias stored state.
type InMemory struct {
	mu        sync.RWMutex
	resources map[id.ResourceID]models.Resource
	billing   map[id.EntityKey]*billing.Event
	polls     map[id.EntityKey]*poll.Message
	histories map[id.EntityKey]*history.Entry
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		resources: make(map[id.ResourceID]models.Resource),
		billing:   make(map[id.EntityKey]*billing.Event),
		polls:     make(map[id.EntityKey]*poll.Message),
		histories: make(map[id.EntityKey]*history.Entry),
	}
}

func (s *InMemory) GetResource(_ context.Context, resourceID id.ResourceID) (models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", resourceID, sentinel.ErrNotFound)
	}
	return res.Clone(), nil
}

func (s *InMemory) PutResource(_ context.Context, resource models.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resource.Base().RepoID] = resource.Clone()
	return nil
}

func (s *InMemory) GetBillingEvent(_ context.Context, key id.EntityKey) (*billing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.billing[key]
	if !ok {
		return nil, fmt.Errorf("billing event %s: %w", key, sentinel.ErrNotFound)
	}
	return event.Clone(), nil
}

func (s *InMemory) PutBillingEvent(_ context.Context, event *billing.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.billing[event.Key] = event.Clone()
	return nil
}

func (s *InMemory) DeleteBillingEvent(_ context.Context, key id.EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.billing[key]; !ok {
		return fmt.Errorf("billing event %s: %w", key, sentinel.ErrNotFound)
	}
	delete(s.billing, key)
	return nil
}

func (s *InMemory) ListBillingEventsByTarget(_ context.Context, targetID id.ResourceID) ([]*billing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Event
	for _, event := range s.billing {
		if event.TargetID == targetID {
			out = append(out, event.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (s *InMemory) GetPollMessage(_ context.Context, key id.EntityKey) (*poll.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	message, ok := s.polls[key]
	if !ok {
		return nil, fmt.Errorf("poll message %s: %w", key, sentinel.ErrNotFound)
	}
	return message.Clone(), nil
}

func (s *InMemory) PutPollMessage(_ context.Context, message *poll.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[message.Key] = message.Clone()
	return nil
}

func (s *InMemory) DeletePollMessage(_ context.Context, key id.EntityKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[key]; !ok {
		return fmt.Errorf("poll message %s: %w", key, sentinel.ErrNotFound)
	}
	delete(s.polls, key)
	return nil
}

func (s *InMemory) ListPollMessagesByRegistrar(_ context.Context, clientID id.RegistrarID) ([]*poll.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*poll.Message
	for _, message := range s.polls {
		if message.ClientID == clientID {
			out = append(out, message.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	return out, nil
}

func (s *InMemory) PutHistoryEntry(_ context.Context, entry *history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.histories[entry.Key]; ok {
		return fmt.Errorf("history entry %s: %w", entry.Key, sentinel.ErrConflict)
	}
	s.histories[entry.Key] = entry.Clone()
	return nil
}

func (s *InMemory) ListHistoryByResource(_ context.Context, resourceID id.ResourceID) ([]*history.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*history.Entry
	for _, entry := range s.histories {
		if entry.ParentResource == resourceID {
			out = append(out, entry.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModificationTime.Before(out[j].ModificationTime) })
	return out, nil
}
