//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-client/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-client/pkg/push"
)

func setupSuite(t *testing.T) (context.Context, *fs.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-push-client"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewStore(client, "installation-1")
}

func testChannel(id string) *push.Channel {
	return &push.Channel{
		ChannelID:  id,
		Scope:      "app:" + id,
		Endpoint:   "https://push.example.com/wpush/v1/" + id,
		PublicKey:  []byte{0x04, 0xAA},
		PrivateKey: []byte{0x01, 0xBB},
		AuthSecret: []byte("0123456789abcdef"),
		BridgeType: push.BridgeFCM,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Channel Lifecycle", func(t *testing.T) {
		ch := testChannel("chan-1")
		require.NoError(t, store.PutChannel(ctx, ch))

		// Duplicate rejected.
		err := store.PutChannel(ctx, ch)
		assert.ErrorIs(t, err, push.ErrDuplicateChannel)

		got, err := store.GetChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.Equal(t, ch.Endpoint, got.Endpoint)
		assert.Equal(t, ch.PrivateKey, got.PrivateKey)

		existed, err := store.DeleteChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = store.DeleteChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.False(t, existed)

		_, err = store.GetChannel(ctx, "chan-1")
		assert.ErrorIs(t, err, push.ErrChannelNotFound)
	})

	t.Run("Device Record Rotation", func(t *testing.T) {
		require.NoError(t, store.SetDeviceRecord(ctx, &push.DeviceRecord{
			UAID:        "uaid-1",
			AuthToken:   "secret-1",
			BridgeType:  push.BridgeFCM,
			BridgeToken: "native-token",
			UpdatedAt:   time.Now().UTC(),
		}))
		require.NoError(t, store.PutChannel(ctx, testChannel("chan-a")))
		require.NoError(t, store.PutChannel(ctx, testChannel("chan-b")))

		// Rotation replaces the record and purges every channel atomically.
		require.NoError(t, store.ReplaceDeviceRecord(ctx, &push.DeviceRecord{
			UAID:       "uaid-2",
			AuthToken:  "secret-2",
			BridgeType: push.BridgeFCM,
			UpdatedAt:  time.Now().UTC(),
		}))

		rec, err := store.GetDeviceRecord(ctx)
		require.NoError(t, err)
		assert.Equal(t, "uaid-2", rec.UAID)

		channels, err := store.ListChannels(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, channels)
	})

	t.Run("ClearAll", func(t *testing.T) {
		require.NoError(t, store.PutChannel(ctx, testChannel("chan-c")))
		require.NoError(t, store.ClearAll(ctx))

		_, err := store.GetDeviceRecord(ctx)
		assert.ErrorIs(t, err, push.ErrNoDeviceRecord)
		channels, err := store.ListChannels(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, channels)
	})
}
