package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-client/internal/storage/memory"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

func testChannel(id string, bridge push.BridgeType) *push.Channel {
	return &push.Channel{
		ChannelID:  id,
		Scope:      "app:" + id,
		Endpoint:   "https://push.example.com/wpush/v1/" + id,
		PublicKey:  []byte{0x04, 0x01},
		PrivateKey: []byte{0x01},
		AuthSecret: []byte("0123456789abcdef"),
		BridgeType: bridge,
		CreatedAt:  time.Now(),
	}
}

func TestChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	t.Run("get missing channel", func(t *testing.T) {
		_, err := store.GetChannel(ctx, "nope")
		assert.ErrorIs(t, err, push.ErrChannelNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		ch := testChannel("chan-1", push.BridgeFCM)
		require.NoError(t, store.PutChannel(ctx, ch))

		got, err := store.GetChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.Equal(t, ch.Endpoint, got.Endpoint)
	})

	t.Run("duplicate put rejected", func(t *testing.T) {
		err := store.PutChannel(ctx, testChannel("chan-1", push.BridgeFCM))
		assert.ErrorIs(t, err, push.ErrDuplicateChannel)
	})

	t.Run("delete twice", func(t *testing.T) {
		existed, err := store.DeleteChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = store.DeleteChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestListChannels_FilterByBridge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.PutChannel(ctx, testChannel("a", push.BridgeFCM)))
	require.NoError(t, store.PutChannel(ctx, testChannel("b", push.BridgeFCM)))
	require.NoError(t, store.PutChannel(ctx, testChannel("c", push.BridgeAPNS)))

	all, err := store.ListChannels(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	fcm, err := store.ListChannels(ctx, push.BridgeFCM)
	require.NoError(t, err)
	assert.Len(t, fcm, 2)
}

func TestReplaceDeviceRecord_PurgesChannels(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	_, err := store.GetDeviceRecord(ctx)
	assert.ErrorIs(t, err, push.ErrNoDeviceRecord)

	require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-1", BridgeType: push.BridgeTest}))
	require.NoError(t, store.PutChannel(ctx, testChannel("a", push.BridgeTest)))
	require.NoError(t, store.PutChannel(ctx, testChannel("b", push.BridgeTest)))

	require.NoError(t, store.ReplaceDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-2", BridgeType: push.BridgeTest}))

	rec, err := store.GetDeviceRecord(ctx)
	require.NoError(t, err)
	assert.Equal(t, "uaid-2", rec.UAID)

	channels, err := store.ListChannels(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestSetDeviceRecord_KeepsChannels(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-1", BridgeToken: "tok-1"}))
	require.NoError(t, store.PutChannel(ctx, testChannel("a", push.BridgeTest)))

	require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-1", BridgeToken: "tok-2"}))

	channels, err := store.ListChannels(ctx, "")
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-1"}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.PutChannel(ctx, testChannel(fmt.Sprintf("chan-%d", i), push.BridgeTest))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.ReplaceDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-2"})
	}()
	wg.Wait()

	// Whatever the interleaving, every surviving channel was written after
	// the rotation completed; the store itself must stay consistent.
	rec, err := store.GetDeviceRecord(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.UAID)
	_, err = store.ListChannels(ctx, "")
	require.NoError(t, err)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{UAID: "uaid-1"}))
	require.NoError(t, store.PutChannel(ctx, testChannel("a", push.BridgeTest)))

	require.NoError(t, store.ClearAll(ctx))

	_, err := store.GetDeviceRecord(ctx)
	assert.ErrorIs(t, err, push.ErrNoDeviceRecord)
	channels, err := store.ListChannels(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, channels)
}
