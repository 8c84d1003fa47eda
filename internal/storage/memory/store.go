// Package memory provides an in-process Store for tests and embedded use.
package memory

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// Store keeps channels and the device record behind a single mutex, which
// gives the required serialisation of mutations for free: a channel can never
// be written while a device rotation is in flight.
type Store struct {
	mu       sync.RWMutex
	channels map[string]push.Channel
	device   *push.DeviceRecord
}

func NewStore() *Store {
	return &Store{channels: make(map[string]push.Channel)}
}

func (s *Store) GetChannel(_ context.Context, channelID string) (*push.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return nil, push.ErrChannelNotFound
	}
	return &ch, nil
}

func (s *Store) PutChannel(_ context.Context, ch *push.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ChannelID]; ok {
		return push.ErrDuplicateChannel
	}
	s.channels[ch.ChannelID] = *ch
	return nil
}

func (s *Store) DeleteChannel(_ context.Context, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return false, nil
	}
	delete(s.channels, channelID)
	return true, nil
}

func (s *Store) ListChannels(_ context.Context, bridgeType push.BridgeType) ([]push.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]push.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if bridgeType != "" && ch.BridgeType != bridgeType {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

func (s *Store) GetDeviceRecord(_ context.Context) (*push.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.device == nil {
		return nil, push.ErrNoDeviceRecord
	}
	rec := *s.device
	return &rec, nil
}

func (s *Store) SetDeviceRecord(_ context.Context, rec *push.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.device = &copied
	return nil
}

func (s *Store) ReplaceDeviceRecord(_ context.Context, rec *push.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]push.Channel)
	copied := *rec
	s.device = &copied
	return nil
}

func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]push.Channel)
	s.device = nil
	return nil
}
