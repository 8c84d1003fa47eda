// Package pushclient exposes the push subscription manager: the public
// subscribe/unsubscribe/decrypt surface over the key generator, crypto
// engine, subscription store and bridge registration service.
package pushclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-client/internal/ece"
	"github.com/tinywideclouds/go-push-client/internal/keycodec"
	"github.com/tinywideclouds/go-push-client/internal/keys"
	"github.com/tinywideclouds/go-push-client/internal/registration"
	"github.com/tinywideclouds/go-push-client/pkg/push"
	"github.com/tinywideclouds/go-push-client/pushclient/config"
)

// Manager composes the client. Mutating operations are serialised on a single
// mutex so a subscribe can never complete under a device identifier that is
// concurrently being rotated out; decryption is a pure read path and runs in
// parallel.
type Manager struct {
	mu          sync.Mutex
	bridgeType  push.BridgeType
	bridgeToken string

	store     push.Store
	reg       *registration.Service
	engine    *ece.Engine
	generator *keys.Generator
	logger    *slog.Logger
}

// New assembles the manager. The store and connection are injected so tests
// and embedded deployments can substitute their own backends.
func New(cfg *config.Config, store push.Store, conn push.Connection, logger *slog.Logger) (*Manager, error) {
	if !cfg.BridgeType.Valid() {
		return nil, fmt.Errorf("pushclient: unsupported bridge type %q", cfg.BridgeType)
	}
	generator := keys.NewGenerator()
	return &Manager{
		bridgeType:  cfg.BridgeType,
		bridgeToken: cfg.BridgeToken,
		store:       store,
		reg:         registration.NewService(store, conn, generator, cfg.MaxRetries, logger),
		engine:      ece.NewEngineWithCurve(generator.Curve()),
		generator:   generator,
		logger:      logger.With("component", "PushManager"),
	}, nil
}

// Subscribe ensures a device identifier exists, then registers and persists a
// channel for scope. Subscribing twice with the same scope is idempotent and
// returns the existing channel's subscription info unchanged.
func (m *Manager) Subscribe(ctx context.Context, scope string, appServerKey *string) (*push.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.reg.EnsureDevice(ctx, m.bridgeType, m.bridgeToken)
	if err != nil {
		return nil, err
	}

	existing, err := m.channelForScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return subscriptionInfo(existing), nil
	}

	ch, err := m.reg.RegisterChannel(ctx, rec, scope, appServerKey)
	if errors.Is(err, push.ErrUAIDGone) {
		// The bridge disowned our identifier between EnsureDevice and the
		// subscribe call. Rotate once and retry against the fresh record.
		rec, err = m.reg.Rotate(ctx, m.bridgeType, m.bridgeToken)
		if err != nil {
			return nil, err
		}
		ch, err = m.reg.RegisterChannel(ctx, rec, scope, appServerKey)
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.PutChannel(ctx, ch); err != nil {
		return nil, err
	}
	m.logger.Info("Subscribed", "channel_id", ch.ChannelID, "scope", scope)
	return subscriptionInfo(ch), nil
}

// Unsubscribe removes the channel locally and attempts the remote removal.
// The return value reports whether a channel existed; a failed remote call
// never blocks the local delete.
func (m *Manager) Unsubscribe(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetDeviceRecord(ctx)
	switch {
	case errors.Is(err, push.ErrNoDeviceRecord):
		// Nothing registered remotely; still honour the local delete.
	case err != nil:
		return false, err
	default:
		if err := m.reg.UnregisterChannel(ctx, rec, channelID); err != nil {
			m.logger.Warn("Remote unsubscribe failed, deleting locally anyway",
				"channel_id", channelID, "err", err)
		}
	}

	return m.store.DeleteChannel(ctx, channelID)
}

// UnsubscribeAll drops the device registration on the bridge and wipes all
// local state.
func (m *Manager) UnsubscribeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetDeviceRecord(ctx)
	if err != nil && !errors.Is(err, push.ErrNoDeviceRecord) {
		return err
	}
	if rec != nil {
		if err := m.reg.UnregisterDevice(ctx, rec); err != nil {
			m.logger.Warn("Remote device unregister failed, clearing locally anyway", "err", err)
		}
	}
	return m.store.ClearAll(ctx)
}

// Decrypt looks up the channel and recovers the plaintext of an inbound
// payload. ErrUnknownChannel is a normal outcome: a message can arrive after
// a local unsubscribe.
func (m *Manager) Decrypt(ctx context.Context, channelID string, payload []byte, encoding push.Encoding, headers push.Headers) (*push.DecryptedMessage, error) {
	ch, err := m.store.GetChannel(ctx, channelID)
	if errors.Is(err, push.ErrChannelNotFound) {
		return nil, push.ErrUnknownChannel
	}
	if err != nil {
		return nil, err
	}

	material, err := keycodec.Decode(ch.PrivateKey)
	if err != nil {
		return nil, push.NewStorageError("decode_key_material", err)
	}
	priv, err := material.ECDHPrivateKey(m.generator.Curve())
	if err != nil {
		return nil, push.NewStorageError("decode_key_material", err)
	}

	plaintext, err := m.engine.Decrypt(payload, encoding, priv, ch.AuthSecret, headers)
	if err != nil {
		return nil, err
	}
	return &push.DecryptedMessage{
		ChannelID: channelID,
		Encoding:  encoding,
		Plaintext: plaintext,
	}, nil
}

// DispatchInfoForChannel returns the routing block for a persisted channel so
// a dispatcher can map an inbound channel id back to the scope and endpoint it
// was subscribed under. Unknown channels report ErrUnknownChannel.
func (m *Manager) DispatchInfoForChannel(ctx context.Context, channelID string) (*push.DispatchInfo, error) {
	ch, err := m.store.GetChannel(ctx, channelID)
	if errors.Is(err, push.ErrChannelNotFound) {
		return nil, push.ErrUnknownChannel
	}
	if err != nil {
		return nil, err
	}
	return &push.DispatchInfo{
		ChannelID:    ch.ChannelID,
		Scope:        ch.Scope,
		Endpoint:     ch.Endpoint,
		AppServerKey: ch.AppServerKey,
	}, nil
}

// UpdateBridgeToken re-runs device registration with the new native token.
// Returns false when no device record exists yet; the token is still kept for
// the next subscribe.
func (m *Manager) UpdateBridgeToken(ctx context.Context, newToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if newToken == "" {
		return false, push.ErrMissingBridgeToken
	}
	m.bridgeToken = newToken

	_, err := m.store.GetDeviceRecord(ctx)
	if errors.Is(err, push.ErrNoDeviceRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := m.reg.EnsureDevice(ctx, m.bridgeType, newToken); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyConnection checks that the bridge's view of our channels matches the
// local store. On a disowned identifier or a mismatched channel set the
// device is rotated — all channels are purged and a fresh identifier
// installed — and false is returned so the caller knows subscribers must
// re-subscribe.
func (m *Manager) VerifyConnection(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetDeviceRecord(ctx)
	if errors.Is(err, push.ErrNoDeviceRecord) {
		// Nothing registered; nothing to verify.
		return true, nil
	}
	if err != nil {
		return false, err
	}

	remote, err := m.reg.ChannelList(ctx, rec)
	if errors.Is(err, push.ErrUAIDGone) {
		return false, m.rotate(ctx, rec)
	}
	if err != nil {
		return false, err
	}

	local, err := m.store.ListChannels(ctx, "")
	if err != nil {
		return false, err
	}
	if sameChannelSet(local, remote) {
		return true, nil
	}

	m.logger.Warn("Channel sets out of sync with bridge, rotating",
		"local", len(local), "remote", len(remote))
	return false, m.rotate(ctx, rec)
}

// ListChannels is read-only introspection over the local store.
func (m *Manager) ListChannels(ctx context.Context) ([]push.Channel, error) {
	return m.store.ListChannels(ctx, "")
}

func (m *Manager) rotate(ctx context.Context, rec *push.DeviceRecord) error {
	_, err := m.reg.Rotate(ctx, rec.BridgeType, rec.BridgeToken)
	return err
}

func (m *Manager) channelForScope(ctx context.Context, scope string) (*push.Channel, error) {
	channels, err := m.store.ListChannels(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if channels[i].Scope == scope {
			return &channels[i], nil
		}
	}
	return nil, nil
}

func subscriptionInfo(ch *push.Channel) *push.Subscription {
	return &push.Subscription{
		ChannelID:  ch.ChannelID,
		Endpoint:   ch.Endpoint,
		PublicKey:  ch.PublicKey,
		AuthSecret: ch.AuthSecret,
	}
}

func sameChannelSet(local []push.Channel, remote []string) bool {
	if len(local) != len(remote) {
		return false
	}
	seen := make(map[string]struct{}, len(remote))
	for _, id := range remote {
		seen[id] = struct{}{}
	}
	for _, ch := range local {
		if _, ok := seen[ch.ChannelID]; !ok {
			return false
		}
	}
	return true
}
