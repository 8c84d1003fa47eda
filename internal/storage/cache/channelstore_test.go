package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-client/internal/storage/cache"
	"github.com/tinywideclouds/go-push-client/internal/storage/memory"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

// --- Mocks ---

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

// interceptStore lets a test run a callback between the durable read
// returning and the cache populate that follows it.
type interceptStore struct {
	push.Store
	onGet func()
}

func (s *interceptStore) GetChannel(ctx context.Context, channelID string) (*push.Channel, error) {
	ch, err := s.Store.GetChannel(ctx, channelID)
	if s.onGet != nil {
		s.onGet()
	}
	return ch, err
}

func testChannel(id string) *push.Channel {
	return &push.Channel{
		ChannelID:  id,
		Scope:      "app:" + id,
		Endpoint:   "https://push.example.com/wpush/v1/" + id,
		PublicKey:  []byte{0x04},
		PrivateKey: []byte{0x01},
		AuthSecret: []byte("0123456789abcdef"),
		BridgeType: push.BridgeTest,
	}
}

func TestCachedStore_ReadAside(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	realStore := memory.NewStore()
	store := cache.NewCachedStore(realStore, mockCache, time.Hour)

	ch := testChannel("chan-1")
	key := "pushclient:channel:chan-1"

	t.Run("Put invalidates then Get populates", func(t *testing.T) {
		mockCache.On("Del", ctx, []string{key}).Return(nil).Once()
		require.NoError(t, store.PutChannel(ctx, ch))

		// Miss, then fill.
		mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError).Once()
		mockCache.On("Set", ctx, key, mock.Anything, time.Hour).Return(nil).Once()

		got, err := store.GetChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.Equal(t, ch.Endpoint, got.Endpoint)
		mockCache.AssertExpectations(t)
	})

	t.Run("Hit skips the real store", func(t *testing.T) {
		mockCache.On("Get", ctx, key, mock.Anything).Run(func(args mock.Arguments) {
			dest := args.Get(2).(*push.Channel)
			*dest = *ch
		}).Return(nil).Once()

		got, err := store.GetChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.Equal(t, ch.ChannelID, got.ChannelID)
		mockCache.AssertExpectations(t)
	})
}

func TestCachedStore_DeleteInvalidatesImmediately(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	realStore := memory.NewStore()
	store := cache.NewCachedStore(realStore, mockCache, time.Hour)

	key := "pushclient:channel:chan-1"
	mockCache.On("Del", ctx, []string{key}).Return(nil)
	require.NoError(t, store.PutChannel(ctx, testChannel("chan-1")))

	existed, err := store.DeleteChannel(ctx, "chan-1")
	require.NoError(t, err)
	assert.True(t, existed)
	mockCache.AssertNumberOfCalls(t, "Del", 2)
}

// A delete that lands while a read-aside populate is mid-flight must win: the
// stale channel may not be written back into the cache afterwards, or a
// decrypt after unsubscribe would keep succeeding for a full TTL.
func TestCachedStore_DeleteDuringPopulateIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	intercept := &interceptStore{Store: memory.NewStore()}
	store := cache.NewCachedStore(intercept, mockCache, time.Hour)

	key := "pushclient:channel:chan-1"
	mockCache.On("Del", ctx, []string{key}).Return(nil)
	require.NoError(t, store.PutChannel(ctx, testChannel("chan-1")))

	// The unsubscribe fires after the durable read returned the channel but
	// before the populate.
	intercept.onGet = func() {
		intercept.onGet = nil
		existed, err := store.DeleteChannel(ctx, "chan-1")
		require.NoError(t, err)
		require.True(t, existed)
	}
	mockCache.On("Get", ctx, key, mock.Anything).Return(assert.AnError)

	got, err := store.GetChannel(ctx, "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", got.ChannelID)

	// The populate was rejected, so the next lookup sees the delete.
	_, err = store.GetChannel(ctx, "chan-1")
	assert.ErrorIs(t, err, push.ErrChannelNotFound)
	mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedStore_ReplacePurgesEveryKey(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	realStore := memory.NewStore()
	store := cache.NewCachedStore(realStore, mockCache, time.Hour)

	mockCache.On("Del", ctx, mock.Anything).Return(nil)
	require.NoError(t, store.PutChannel(ctx, testChannel("chan-a")))
	require.NoError(t, store.PutChannel(ctx, testChannel("chan-b")))

	require.NoError(t, store.ReplaceDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-2"}))

	channels, err := realStore.ListChannels(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, channels)

	// The rotation drops every channel key plus the device key in one call.
	calls := mockCache.Calls
	last := calls[len(calls)-1]
	require.Equal(t, "Del", last.Method)
	keys := last.Arguments.Get(1).([]string)
	assert.ElementsMatch(t, []string{
		"pushclient:channel:chan-a",
		"pushclient:channel:chan-b",
		"pushclient:device",
	}, keys)
}
