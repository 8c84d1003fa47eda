// Package cache adds read-aside caching to any push.Store. Decryption does a
// channel lookup per inbound message, so hot channels are worth keeping out
// of the durable backend.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// CachedStore is a decorator that caches channel and device-record reads.
// The durable store stays the source of truth; cache failures on the write
// path surface because a stale channel after an unsubscribe or rotation would
// break the invalidation invariants.
type CachedStore struct {
	realStore push.Store
	cache     CacheClient
	ttl       time.Duration

	// mu orders cache populates against invalidations. gen counts the
	// invalidations seen per key: a read-aside populate only lands if no
	// invalidation arrived between the cache miss and the durable read
	// completing, so a concurrent delete can never be resurrected into the
	// cache for a full TTL.
	mu  sync.Mutex
	gen map[string]uint64
}

func NewCachedStore(realStore push.Store, cache CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		gen:       make(map[string]uint64),
	}
}

// --- READ PATHS (Read-Aside) ---

func (s *CachedStore) GetChannel(ctx context.Context, channelID string) (*push.Channel, error) {
	key := channelKey(channelID)
	var cached push.Channel
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	gen := s.generation(key)
	ch, err := s.realStore.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	// Populate is fire and forget: if the cache is down we serve from the
	// durable store.
	s.populate(ctx, key, gen, ch)
	return ch, nil
}

func (s *CachedStore) GetDeviceRecord(ctx context.Context) (*push.DeviceRecord, error) {
	var cached push.DeviceRecord
	if err := s.cache.Get(ctx, deviceKey, &cached); err == nil {
		return &cached, nil
	}

	gen := s.generation(deviceKey)
	rec, err := s.realStore.GetDeviceRecord(ctx)
	if err != nil {
		return nil, err
	}
	s.populate(ctx, deviceKey, gen, rec)
	return rec, nil
}

// ListChannels always goes to the source of truth; it feeds connection
// verification, which must not act on stale sets.
func (s *CachedStore) ListChannels(ctx context.Context, bridgeType push.BridgeType) ([]push.Channel, error) {
	return s.realStore.ListChannels(ctx, bridgeType)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedStore) PutChannel(ctx context.Context, ch *push.Channel) error {
	if err := s.realStore.PutChannel(ctx, ch); err != nil {
		return err
	}
	return s.invalidate(ctx, channelKey(ch.ChannelID))
}

func (s *CachedStore) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	existed, err := s.realStore.DeleteChannel(ctx, channelID)
	if err != nil {
		return existed, err
	}
	// Even when the durable delete was a no-op the cached copy must go: a
	// decrypt after unsubscribe may never see a stale channel.
	return existed, s.invalidate(ctx, channelKey(channelID))
}

func (s *CachedStore) SetDeviceRecord(ctx context.Context, rec *push.DeviceRecord) error {
	if err := s.realStore.SetDeviceRecord(ctx, rec); err != nil {
		return err
	}
	return s.invalidate(ctx, deviceKey)
}

func (s *CachedStore) ReplaceDeviceRecord(ctx context.Context, rec *push.DeviceRecord) error {
	// Snapshot the channel set before the purge so every cached copy can be
	// dropped afterwards.
	channels, err := s.realStore.ListChannels(ctx, "")
	if err != nil {
		return err
	}
	if err := s.realStore.ReplaceDeviceRecord(ctx, rec); err != nil {
		return err
	}
	return s.invalidate(ctx, allKeys(channels)...)
}

func (s *CachedStore) ClearAll(ctx context.Context) error {
	channels, err := s.realStore.ListChannels(ctx, "")
	if err != nil {
		return err
	}
	if err := s.realStore.ClearAll(ctx); err != nil {
		return err
	}
	return s.invalidate(ctx, allKeys(channels)...)
}

// --- Helpers ---

// invalidate bumps the generation of each key and drops it from the cache,
// both under the populate lock so an in-flight read-aside populate either
// lands before the Del or is rejected by the generation check.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.gen[k]++
	}
	return s.cache.Del(ctx, keys...)
}

func (s *CachedStore) generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[key]
}

// populate writes a read-aside value only if the key saw no invalidation
// since gen was sampled. A delete that landed while the durable read was in
// flight must win; caching the stale copy would keep it alive for a full TTL.
func (s *CachedStore) populate(ctx context.Context, key string, gen uint64, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen[key] != gen {
		return
	}
	_ = s.cache.Set(ctx, key, value, s.ttl)
}

const deviceKey = "pushclient:device"

func channelKey(channelID string) string {
	return fmt.Sprintf("pushclient:channel:%s", channelID)
}

func allKeys(channels []push.Channel) []string {
	keys := make([]string, 0, len(channels)+1)
	for _, ch := range channels {
		keys = append(keys, channelKey(ch.ChannelID))
	}
	return append(keys, deviceKey)
}
